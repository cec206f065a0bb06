package zen

import "time"

// MethodPrefix is prepended to a command name to form the remote method.
const MethodPrefix = "zen__"

const (
	CommandChat       = "chat"
	CommandAnalyze    = "analyze"
	CommandDebug      = "debug"
	CommandThinkDeep  = "thinkdeep"
	CommandPlanner    = "planner"
	CommandCodeReview = "codereview"
	CommandRefactor   = "refactor"
	CommandTestGen    = "testgen"
	CommandDocGen     = "docgen"
	CommandChallenge  = "challenge"
	CommandConsensus  = "consensus"
	CommandPreCommit  = "precommit"
	CommandTracer     = "tracer"
	CommandSecAudit   = "secaudit"
	CommandListModels = "listmodels"
	CommandVersion    = "version"
)

const (
	ModelPro   = "gemini-2.5-pro"
	ModelFlash = "gemini-2.5-flash"
	ModelMini  = "o3-mini"
)

// DefaultTimeout applies to commands without an entry in the timeout table.
const DefaultTimeout = 60 * time.Second

// Commands lists the catalog in a stable order.
var Commands = []string{
	CommandChat, CommandAnalyze, CommandDebug, CommandThinkDeep,
	CommandPlanner, CommandCodeReview, CommandRefactor, CommandTestGen,
	CommandDocGen, CommandChallenge, CommandConsensus, CommandPreCommit,
	CommandTracer, CommandSecAudit, CommandListModels, CommandVersion,
}

// DefaultTimeouts is the built-in per-command timeout table.
func DefaultTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		CommandChat:       60 * time.Second,
		CommandThinkDeep:  300 * time.Second,
		CommandChallenge:  120 * time.Second,
		CommandPlanner:    180 * time.Second,
		CommandConsensus:  240 * time.Second,
		CommandCodeReview: 180 * time.Second,
		CommandPreCommit:  120 * time.Second,
		CommandDebug:      180 * time.Second,
		CommandAnalyze:    150 * time.Second,
		CommandRefactor:   180 * time.Second,
		CommandTracer:     120 * time.Second,
		CommandTestGen:    180 * time.Second,
		CommandSecAudit:   240 * time.Second,
		CommandDocGen:     150 * time.Second,
		CommandListModels: 30 * time.Second,
		CommandVersion:    10 * time.Second,
	}
}

// IsKnownCommand reports whether name is part of the catalog. Unknown names
// are still forwarded by Execute.
func IsKnownCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// DefaultModel picks the model injected when a request carries none.
func DefaultModel(command string) string {
	switch command {
	case CommandThinkDeep, CommandSecAudit, CommandConsensus:
		return ModelPro
	case CommandChat, CommandListModels, CommandVersion:
		return ModelFlash
	default:
		return ModelMini
	}
}
