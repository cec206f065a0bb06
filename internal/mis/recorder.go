package mis

import (
	"context"
	"log/slog"

	"miszen/internal/dispatcher"
	"miszen/internal/zen"
)

// ExecutionWriter persists processing outcomes. *Client implements it.
type ExecutionWriter interface {
	RecordCommandExecution(ctx context.Context, params map[string]any, res zen.CommandResult) error
	RecordEventProcessing(ctx context.Context, eventID, eventType string, commands []string, success bool) error
}

// Recorder writes dispatcher results to MIS on a worker pool so the
// dispatcher worker never waits on HTTP.
type Recorder struct {
	writer ExecutionWriter
	pool   *WorkerPool
	logger *slog.Logger
}

func NewRecorder(writer ExecutionWriter, pool *WorkerPool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{writer: writer, pool: pool, logger: logger}
}

// PostProcessor is registered with dispatcher.AddPostProcessor. Results that
// triggered no command are not recorded. A full queue drops the result.
func (r *Recorder) PostProcessor(result dispatcher.ProcessingResult) {
	if len(result.TriggeredCommands) == 0 {
		return
	}

	ok := r.pool.TrySubmit(func(ctx context.Context) error {
		return r.record(ctx, result)
	})
	if !ok {
		r.logger.Warn("mis_record_dropped",
			"event_id", result.Event.ID,
			"event_type", result.Event.Type,
		)
	}
}

func (r *Recorder) record(ctx context.Context, result dispatcher.ProcessingResult) error {
	for _, res := range result.CommandResults {
		params := dispatcher.BuildParams(res.Command, result.Event)
		if err := r.writer.RecordCommandExecution(ctx, params, res); err != nil {
			r.logger.Warn("mis_command_record_failed", "command", res.Command, "error", err)
		}
	}
	return r.writer.RecordEventProcessing(ctx,
		result.Event.ID,
		result.Event.Type,
		result.TriggeredCommands,
		result.Success,
	)
}
