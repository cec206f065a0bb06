package dispatcher

import (
	"encoding/json"
	"fmt"

	"miszen/internal/events"
	"miszen/internal/zen"
)

// BuildParams synthesises request params for command from the event. Every
// command gets a context object carrying the raw event.
func BuildParams(command string, ev events.Event) map[string]any {
	params := map[string]any{}

	switch command {
	case zen.CommandAnalyze, zen.CommandDebug, zen.CommandCodeReview,
		zen.CommandRefactor, zen.CommandTestGen, zen.CommandDocGen:
		params["step"] = stepDescription(command, ev)
		if path, ok := ev.Data["file_path"]; ok {
			params["relevant_files"] = []any{path}
		}
	case zen.CommandChat:
		params["prompt"] = chatPrompt(ev)
	case zen.CommandThinkDeep:
		params["step"] = fmt.Sprintf("Deep analysis required for %s event. Context: %s. Priority: %s",
			ev.Type, renderData(ev.Data), ev.Metadata.Priority)
		params["thinking_mode"] = "high"
	case zen.CommandTracer:
		params["target_description"] = traceTarget(ev)
	case zen.CommandSecAudit:
		params["step"] = fmt.Sprintf("Security audit triggered by %s. Alert: %s",
			ev.Type, ev.String("description", "Security concern detected"))
		params["audit_focus"] = "comprehensive"
	}

	params["context"] = map[string]any{
		"event_type":     ev.Type,
		"event_data":     ev.Data,
		"event_metadata": ev.Metadata.ToMap(),
	}
	return params
}

func stepDescription(command string, ev events.Event) string {
	file := ev.String("file_path", "unknown file")
	switch command {
	case zen.CommandAnalyze:
		return fmt.Sprintf("Analyze %s event: %s", ev.Type, renderData(ev.Data))
	case zen.CommandDebug:
		return fmt.Sprintf("Debug issue from %s: %s", ev.Type, ev.String("error_message", "Unknown error"))
	case zen.CommandCodeReview:
		return "Review code changes in " + file
	case zen.CommandRefactor:
		return "Refactor code in " + file
	case zen.CommandTestGen:
		return "Generate tests for " + file
	case zen.CommandDocGen:
		return "Generate documentation for " + file
	}
	return fmt.Sprintf("Process %s event", ev.Type)
}

func chatPrompt(ev events.Event) string {
	switch ev.Type {
	case events.TypeErrorDetected:
		return "Help me understand this error: " + ev.String("error_message", "Unknown error")
	case events.TypeFileCreated:
		return fmt.Sprintf("What should I consider for the new file: %s?", ev.String("file_path", "unknown file"))
	}
	return fmt.Sprintf("Process event %s with data: %s", ev.Type, renderData(ev.Data))
}

// traceTarget prefers error plus stack trace, then a file path, then the
// bare event type.
func traceTarget(ev events.Event) string {
	_, hasMsg := ev.Data["error_message"]
	_, hasTrace := ev.Data["stack_trace"]
	if hasMsg && hasTrace {
		return fmt.Sprintf("Trace error: %v from stack trace", ev.Data["error_message"])
	}
	if path, ok := ev.Data["file_path"]; ok {
		return fmt.Sprintf("Trace execution flow in %v", path)
	}
	return "Trace event flow for " + ev.Type
}

func renderData(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(b)
}
