package zen

import "context"

// typed helpers for the command catalog; extra is merged over the required fields

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (a *Adapter) Chat(ctx context.Context, prompt string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandChat, merge(map[string]any{"prompt": prompt}, extra))
}

func (a *Adapter) Analyze(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandAnalyze, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) Debug(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandDebug, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) ThinkDeep(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandThinkDeep, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) Planner(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandPlanner, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) CodeReview(ctx context.Context, step string, files []string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandCodeReview, merge(map[string]any{"step": step, "relevant_files": files}, extra))
}

func (a *Adapter) Refactor(ctx context.Context, step string, files []string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandRefactor, merge(map[string]any{"step": step, "relevant_files": files}, extra))
}

func (a *Adapter) TestGen(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandTestGen, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) DocGen(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandDocGen, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) Challenge(ctx context.Context, prompt string) CommandResult {
	return a.Execute(ctx, CommandChallenge, map[string]any{"prompt": prompt})
}

// Consensus asks several models; each entry names a model and optionally a stance.
func (a *Adapter) Consensus(ctx context.Context, step string, models []map[string]string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandConsensus, merge(map[string]any{"step": step, "models": models}, extra))
}

func (a *Adapter) PreCommit(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandPreCommit, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) Tracer(ctx context.Context, targetDescription string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandTracer, merge(map[string]any{"target_description": targetDescription}, extra))
}

func (a *Adapter) SecAudit(ctx context.Context, step string, extra map[string]any) CommandResult {
	return a.Execute(ctx, CommandSecAudit, merge(map[string]any{"step": step}, extra))
}

func (a *Adapter) ListModels(ctx context.Context) CommandResult {
	return a.Execute(ctx, CommandListModels, map[string]any{})
}

func (a *Adapter) Version(ctx context.Context) CommandResult {
	return a.Execute(ctx, CommandVersion, map[string]any{})
}
