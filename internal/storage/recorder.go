package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"miszen/internal/dispatcher"
)

// ResultRecorder persists dispatcher results. Either repository may be nil.
type ResultRecorder struct {
	results *HybridResultRepository
	events  EventRecordRepository
	timeout time.Duration
	logger  *slog.Logger
}

func NewResultRecorder(results *HybridResultRepository, events EventRecordRepository, logger *slog.Logger) *ResultRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultRecorder{
		results: results,
		events:  events,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// NewEventRecord summarises a processing result.
func NewEventRecord(result dispatcher.ProcessingResult) *EventRecord {
	return &EventRecord{
		EventID:           result.Event.ID,
		EventType:         result.Event.Type,
		Source:            result.Event.Metadata.Source,
		Priority:          string(result.Event.Metadata.Priority),
		Category:          string(result.Event.Metadata.Category),
		TriggeredCommands: strings.Join(result.TriggeredCommands, ","),
		Success:           result.Success,
		Error:             result.Error,
		ProcessingMS:      result.ProcessingTime.Milliseconds(),
	}
}

// PostProcessor is registered with dispatcher.AddPostProcessor.
func (r *ResultRecorder) PostProcessor(result dispatcher.ProcessingResult) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.results != nil {
		for _, res := range result.CommandResults {
			if err := r.results.Save(ctx, NewStoredResult(result.Event.ID, res)); err != nil {
				r.logger.Warn("result_save_failed",
					"event_id", result.Event.ID,
					"command", res.Command,
					"error", err,
				)
			}
		}
	}

	if r.events != nil {
		if err := r.events.Create(ctx, NewEventRecord(result)); err != nil {
			r.logger.Warn("event_record_save_failed", "event_id", result.Event.ID, "error", err)
		}
	}
}
