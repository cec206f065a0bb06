package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"miszen/internal/events"
	"miszen/internal/mis"
	"miszen/internal/zen"
)

const (
	historyWindow      = 5
	keywordLimit       = 3
	memoriesPerKeyword = 2
	memoryLimit        = 5
	kgEntityLimit      = 3
	kgRelationLimit    = 5
	previewLength      = 100
	defaultTemperature = 0.7
)

var memoryStopWords = map[string]bool{"about": true, "please": true, "could": true, "would": true}

var topicStopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true, "and": true, "a": true,
	"an": true, "as": true, "are": true, "was": true, "were": true, "of": true, "for": true,
	"in": true, "to": true, "with": true,
}

// Store is the MIS surface chat needs. *mis.Client implements it.
type Store interface {
	CreateEntities(ctx context.Context, entities []mis.Entity) (json.RawMessage, error)
	AddObservations(ctx context.Context, entityName string, observations []string) (json.RawMessage, error)
	CreateMemory(ctx context.Context, key string, value any, tags []string) (json.RawMessage, error)
	SearchMemories(ctx context.Context, query string, tags []string) ([]mis.Memory, error)
	SearchKnowledge(ctx context.Context, query, mode string) (*mis.SearchResult, error)
	GetCommandContext(ctx context.Context, command string) (*mis.CommandContext, error)
}

// Chatter runs the zen chat command. *zen.Adapter implements it.
type Chatter interface {
	Chat(ctx context.Context, prompt string, extra map[string]any) zen.CommandResult
}

// Turn is one prompt and its answer.
type Turn struct {
	UserPrompt        string    `json:"user_prompt"`
	AssistantResponse string    `json:"assistant_response"`
	Timestamp         time.Time `json:"timestamp"`
	Success           bool      `json:"success"`
	ExecutionTime     float64   `json:"execution_time"`
	ContextUsed       bool      `json:"context_used"`
}

// KnowledgeContext is the trimmed knowledge-graph search result.
type KnowledgeContext struct {
	Entities   []mis.Entity   `json:"entities"`
	Relations  []mis.Relation `json:"relations"`
	TotalFound int            `json:"total_found"`
}

// Context is everything gathered before a chat request.
type Context struct {
	Timestamp          time.Time           `json:"timestamp"`
	SessionID          string              `json:"session_id,omitempty"`
	History            []Turn              `json:"conversation_history"`
	TriggeringEvent    map[string]any      `json:"triggering_event,omitempty"`
	PreviousExecutions *mis.CommandContext `json:"previous_executions,omitempty"`
	RelevantMemories   []mis.Memory        `json:"relevant_memories,omitempty"`
	KnowledgeGraph     *KnowledgeContext   `json:"knowledge_graph,omitempty"`
}

// Options tune one chat request.
type Options struct {
	ContinuationID   string
	Model            string
	Temperature      float64 // 0 means 0.7
	DisableWebSearch bool
	SkipMemory       bool
	Event            *events.Event
}

// Summary is stored when a session with at least one turn ends.
type Summary struct {
	SessionID           string    `json:"session_id"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	TotalTurns          int       `json:"total_turns"`
	TopicsDiscussed     []string  `json:"topics_discussed"`
	AverageResponseTime float64   `json:"average_response_time"`
}

// Integration wraps zen chat with MIS-backed context and session tracking.
type Integration struct {
	chatter Chatter
	store   Store
	logger  *slog.Logger

	mu        sync.Mutex
	sessionID string
	history   []Turn
}

func New(chatter Chatter, store Store, logger *slog.Logger) *Integration {
	if logger == nil {
		logger = slog.Default()
	}
	return &Integration{chatter: chatter, store: store, logger: logger}
}

// SessionID is empty when no session is active.
func (in *Integration) SessionID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sessionID
}

// History returns a copy of the current session's turns.
func (in *Integration) History() []Turn {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Turn(nil), in.history...)
}

// StartSession begins a session, generating an id when sessionID is empty,
// and records it in the knowledge graph.
func (in *Integration) StartSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = "chat_session_" + uuid.NewString()
	}

	in.mu.Lock()
	in.sessionID = sessionID
	in.history = nil
	in.mu.Unlock()

	entity := mis.Entity{
		Name:       sessionID,
		EntityType: "chat_session",
		Observations: []string{
			"Session started at " + time.Now().Format(time.RFC3339),
			"Type: MIS-zen-MCP integrated chat",
			"Status: active",
		},
		Tags: []string{"chat", "session", "active"},
	}
	if _, err := in.store.CreateEntities(ctx, []mis.Entity{entity}); err != nil {
		return sessionID, fmt.Errorf("record session %s: %w", sessionID, err)
	}

	in.logger.Info("chat_session_started", "session_id", sessionID)
	return sessionID, nil
}

// ChatWithContext sends prompt enriched with session history, the optional
// triggering event and MIS context. MIS failures degrade the context and
// never fail the chat.
func (in *Integration) ChatWithContext(ctx context.Context, prompt string, opts Options) zen.CommandResult {
	cctx := in.buildContext(ctx, prompt, opts)

	params := map[string]any{
		"temperature":   defaultTemperature,
		"use_websearch": !opts.DisableWebSearch,
	}
	if opts.Temperature > 0 {
		params["temperature"] = opts.Temperature
	}
	if opts.ContinuationID != "" {
		params["continuation_id"] = opts.ContinuationID
	}
	if opts.Model != "" {
		params["model"] = opts.Model
	}

	result := in.chatter.Chat(ctx, EnhancePrompt(prompt, cctx), params)

	turn, n, sessionID := in.recordTurn(prompt, result, cctx)
	if sessionID == "" {
		return result
	}

	key := fmt.Sprintf("%s_turn_%d", sessionID, n)
	if _, err := in.store.CreateMemory(ctx, key, turn, []string{"chat", "conversation", sessionID}); err != nil {
		in.logger.Warn("chat_turn_record_failed", "session_id", sessionID, "error", err)
	}

	observations := []string{
		fmt.Sprintf("Turn %d: User asked about '%s...'", n, truncate(prompt, 50)),
		fmt.Sprintf("Response success: %t", result.Success),
		fmt.Sprintf("Execution time: %.2fs", result.ExecutionTime.Seconds()),
	}
	if _, err := in.store.AddObservations(ctx, sessionID, observations); err != nil {
		in.logger.Warn("chat_session_update_failed", "session_id", sessionID, "error", err)
	}
	return result
}

// EndSession closes the active session and stores its summary. It returns
// the ended session id, or "" when none was active.
func (in *Integration) EndSession(ctx context.Context) (string, error) {
	in.mu.Lock()
	sessionID := in.sessionID
	history := in.history
	in.sessionID = ""
	in.history = nil
	in.mu.Unlock()

	if sessionID == "" {
		return "", nil
	}

	observations := []string{
		"Session ended at " + time.Now().Format(time.RFC3339),
		fmt.Sprintf("Total turns: %d", len(history)),
		"Status: completed",
	}
	if _, err := in.store.AddObservations(ctx, sessionID, observations); err != nil {
		return sessionID, fmt.Errorf("close session %s: %w", sessionID, err)
	}

	if len(history) > 0 {
		summary := summarize(sessionID, history)
		if _, err := in.store.CreateMemory(ctx, sessionID+"_summary", summary, []string{"chat", "session_summary", "completed"}); err != nil {
			return sessionID, fmt.Errorf("store summary for %s: %w", sessionID, err)
		}
	}

	in.logger.Info("chat_session_ended", "session_id", sessionID, "turns", len(history))
	return sessionID, nil
}

func (in *Integration) buildContext(ctx context.Context, prompt string, opts Options) Context {
	in.mu.Lock()
	cctx := Context{
		Timestamp: time.Now(),
		SessionID: in.sessionID,
		History:   lastTurns(in.history, historyWindow),
	}
	in.mu.Unlock()

	if opts.Event != nil {
		cctx.TriggeringEvent = map[string]any{
			"type":     opts.Event.Type,
			"data":     opts.Event.Data,
			"metadata": opts.Event.Metadata.ToMap(),
		}
	}
	if opts.SkipMemory {
		return cctx
	}

	if prev, err := in.store.GetCommandContext(ctx, zen.CommandChat); err != nil {
		in.logger.Warn("chat_command_context_failed", "error", err)
	} else {
		cctx.PreviousExecutions = prev
	}

	cctx.RelevantMemories = in.searchMemories(ctx, prompt)
	cctx.KnowledgeGraph = in.searchKnowledge(ctx, prompt)
	return cctx
}

func (in *Integration) searchMemories(ctx context.Context, prompt string) []mis.Memory {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		if len(w) > 4 && !memoryStopWords[w] {
			keywords = append(keywords, w)
		}
		if len(keywords) == keywordLimit {
			break
		}
	}

	seen := map[string]bool{}
	var out []mis.Memory
	for _, kw := range keywords {
		found, err := in.store.SearchMemories(ctx, kw, nil)
		if err != nil {
			in.logger.Warn("chat_memory_search_failed", "keyword", kw, "error", err)
			continue
		}
		if len(found) > memoriesPerKeyword {
			found = found[:memoriesPerKeyword]
		}
		for _, m := range found {
			if m.Key == "" || seen[m.Key] {
				continue
			}
			seen[m.Key] = true
			out = append(out, m)
		}
	}
	if len(out) > memoryLimit {
		out = out[:memoryLimit]
	}
	return out
}

func (in *Integration) searchKnowledge(ctx context.Context, prompt string) *KnowledgeContext {
	found, err := in.store.SearchKnowledge(ctx, prompt, "fuzzy")
	if err != nil {
		in.logger.Warn("chat_knowledge_search_failed", "error", err)
		return nil
	}
	kc := &KnowledgeContext{
		Entities:   found.Entities,
		Relations:  found.Relations,
		TotalFound: len(found.Entities),
	}
	if len(kc.Entities) > kgEntityLimit {
		kc.Entities = kc.Entities[:kgEntityLimit]
	}
	if len(kc.Relations) > kgRelationLimit {
		kc.Relations = kc.Relations[:kgRelationLimit]
	}
	return kc
}

// recordTurn appends the turn and returns it with its 1-based number and
// the active session id.
func (in *Integration) recordTurn(prompt string, result zen.CommandResult, cctx Context) (Turn, int, string) {
	response := string(result.Result)
	if !result.Success {
		response = "Error: " + result.Error
	}
	turn := Turn{
		UserPrompt:        prompt,
		AssistantResponse: response,
		Timestamp:         time.Now(),
		Success:           result.Success,
		ExecutionTime:     result.ExecutionTime.Seconds(),
		ContextUsed:       len(cctx.RelevantMemories) > 0 || cctx.KnowledgeGraph != nil,
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.history = append(in.history, turn)
	return turn, len(in.history), in.sessionID
}

// EnhancePrompt appends the gathered context to prompt as bracketed sections.
func EnhancePrompt(prompt string, cctx Context) string {
	parts := []string{prompt}

	if cctx.TriggeringEvent != nil {
		data, _ := json.Marshal(cctx.TriggeringEvent["data"])
		parts = append(parts, fmt.Sprintf("\n\n[Event Context: %v event with data: %s]", cctx.TriggeringEvent["type"], data))
	}

	if len(cctx.History) > 0 {
		var b strings.Builder
		b.WriteString("\n\n[Recent Conversation History:]")
		for _, t := range cctx.History {
			fmt.Fprintf(&b, "\nUser: %s...", truncate(t.UserPrompt, previewLength))
			fmt.Fprintf(&b, "\nAssistant: %s...", truncate(t.AssistantResponse, previewLength))
		}
		parts = append(parts, b.String())
	}

	if len(cctx.RelevantMemories) > 0 {
		var b strings.Builder
		b.WriteString("\n\n[Relevant Context from Memory:]")
		for _, m := range firstN(cctx.RelevantMemories, 3) {
			key := m.Key
			if key == "" {
				key = "Unknown"
			}
			fmt.Fprintf(&b, "\n- %s: %s...", key, truncate(string(m.Value), previewLength))
		}
		parts = append(parts, b.String())
	}

	if cctx.KnowledgeGraph != nil && len(cctx.KnowledgeGraph.Entities) > 0 {
		var b strings.Builder
		b.WriteString("\n\n[Related Knowledge:]")
		for _, e := range firstN(cctx.KnowledgeGraph.Entities, 2) {
			first := ""
			if len(e.Observations) > 0 {
				first = e.Observations[0]
			}
			fmt.Fprintf(&b, "\n- %s (%s): %s", e.Name, e.EntityType, first)
		}
		parts = append(parts, b.String())
	}

	return strings.Join(parts, "\n")
}

func summarize(sessionID string, history []Turn) Summary {
	var total float64
	for _, t := range history {
		total += t.ExecutionTime
	}
	return Summary{
		SessionID:           sessionID,
		StartTime:           history[0].Timestamp,
		EndTime:             history[len(history)-1].Timestamp,
		TotalTurns:          len(history),
		TopicsDiscussed:     extractTopics(history),
		AverageResponseTime: total / float64(len(history)),
	}
}

// extractTopics returns up to five words longer than four letters that
// appear more than once across the user prompts, most frequent first.
func extractTopics(history []Turn) []string {
	counts := map[string]int{}
	for _, t := range history {
		for _, w := range strings.Fields(strings.ToLower(t.UserPrompt)) {
			if len(w) > 4 && !topicStopWords[w] {
				counts[w]++
			}
		}
	}

	words := make([]string, 0, len(counts))
	for w, n := range counts {
		if n > 1 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	return firstN(words, 5)
}

func lastTurns(history []Turn, n int) []Turn {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]Turn(nil), history...)
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
