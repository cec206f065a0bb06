package events

import (
	"path/filepath"
	"strings"
)

// Well-known event types produced by the factories.
const (
	TypeFileCreated   = "file_created"
	TypeFileModified  = "file_modified"
	TypeErrorDetected = "error_detected"
	TypeCodeChanged   = "code_changed"
	TypeTestPassed    = "test_passed"
	TypeTestFailed    = "test_failed"
	TypeSecurityAlert = "security_alert"
)

func withExtra(base, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// NewFileEvent builds a file-system event. file_name and extension are
// derived from path.
func NewFileEvent(eventType, path string, extra map[string]any) Event {
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}

	meta := NewMetadata("file_system")
	meta.Priority = PriorityLow
	meta.Category = CategoryFileSystem
	meta.Tags = []string{"file", eventType}

	return New(eventType, withExtra(map[string]any{
		"file_path": path,
		"file_name": name,
		"extension": filepath.Ext(name),
	}, extra), meta)
}

var severityPriority = map[string]Priority{
	"warning":  PriorityLow,
	"error":    PriorityHigh,
	"critical": PriorityCritical,
}

// NewErrorEvent builds an error_detected event with priority from severity.
func NewErrorEvent(message, severity string, extra map[string]any) Event {
	if severity == "" {
		severity = "error"
	}
	meta := NewMetadata("error_handler")
	meta.Category = CategoryError
	meta.Tags = []string{"error", severity}
	if p, ok := severityPriority[severity]; ok {
		meta.Priority = p
	}

	return New(TypeErrorDetected, withExtra(map[string]any{
		"error_message": message,
		"severity":      severity,
	}, extra), meta)
}

// NewCodeChangeEvent builds a code_changed event. change_type defaults to
// "modification" unless extra sets it.
func NewCodeChangeEvent(path string, linesChanged int, extra map[string]any) Event {
	meta := NewMetadata("code_monitor")
	meta.Category = CategoryCodeChange
	meta.Tags = []string{"code", "change"}

	return New(TypeCodeChanged, withExtra(map[string]any{
		"file_path":     path,
		"lines_changed": linesChanged,
		"change_type":   "modification",
	}, extra), meta)
}

// NewTestEvent builds test_passed for status "passed" and test_failed for
// anything else. Only "failed" is high priority.
func NewTestEvent(testName, status string, extra map[string]any) Event {
	eventType := TypeTestFailed
	if status == "passed" {
		eventType = TypeTestPassed
	}

	meta := NewMetadata("test_runner")
	meta.Category = CategoryTest
	meta.Priority = PriorityLow
	if status == "failed" {
		meta.Priority = PriorityHigh
	}
	meta.Tags = []string{"test", status}

	return New(eventType, withExtra(map[string]any{
		"test_name": testName,
		"status":    status,
	}, extra), meta)
}

// NewSecurityEvent builds a critical security_alert event.
func NewSecurityEvent(alertType, description string, extra map[string]any) Event {
	meta := NewMetadata("security_monitor")
	meta.Category = CategorySecurity
	meta.Priority = PriorityCritical
	meta.Tags = []string{"security", alertType}

	return New(TypeSecurityAlert, withExtra(map[string]any{
		"alert_type":  alertType,
		"description": description,
	}, extra), meta)
}
