package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesConditions(t *testing.T) {
	py := NewFileEvent(TypeFileCreated, "src/app/main.py", nil)
	goFile := NewFileEvent(TypeFileCreated, "src/app/main.go", nil)
	critical := NewErrorEvent("boom", "critical", nil)
	small := NewCodeChangeEvent("a.go", 5, nil)
	big := NewCodeChangeEvent("a.go", 12, nil)
	noLines := New(TypeCodeChanged, map[string]any{"file_path": "a.go"}, NewMetadata("test"))

	tests := []struct {
		name       string
		event      Event
		conditions map[string]any
		want       bool
	}{
		{"empty conditions", py, map[string]any{}, true},
		{"nil conditions", py, nil, true},
		{"extension match", py, map[string]any{"extensions": []any{".py", ".js", ".ts"}}, true},
		{"extension miss", goFile, map[string]any{"extensions": []any{".py", ".js", ".ts"}}, false},
		{"extension as string slice", goFile, map[string]any{"extensions": []string{".go"}}, true},
		{"severity match", critical, map[string]any{"severity": []any{"error", "critical"}}, true},
		{"severity miss", NewErrorEvent("w", "warning", nil), map[string]any{"severity": []any{"error", "critical"}}, false},
		{"min lines below", small, map[string]any{"min_lines": 10}, false},
		{"min lines above", big, map[string]any{"min_lines": float64(10)}, true},
		{"min lines json number", big, map[string]any{"min_lines": json.Number("12")}, true},
		{"min lines missing counts as zero", noLines, map[string]any{"min_lines": 1}, false},
		{"direct equality", critical, map[string]any{"error_message": "boom"}, true},
		{"direct inequality", critical, map[string]any{"error_message": "other"}, false},
		{"absent key ignored", critical, map[string]any{"not_there": "x"}, true},
		{"numeric equality across types", big, map[string]any{"lines_changed": float64(12)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.MatchesConditions(tt.conditions); got != tt.want {
				t.Errorf("MatchesConditions(%v) = %v, want %v", tt.conditions, got, tt.want)
			}
		})
	}
}

func TestFactories(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		e := NewFileEvent(TypeFileCreated, "src/pkg/handler.ts", map[string]any{"size": 10})
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "handler.ts", e.Data["file_name"])
		assert.Equal(t, ".ts", e.Data["extension"])
		assert.Equal(t, 10, e.Data["size"])
		assert.Equal(t, PriorityLow, e.Metadata.Priority)
		assert.Equal(t, CategoryFileSystem, e.Metadata.Category)
		assert.Equal(t, []string{"file", TypeFileCreated}, e.Metadata.Tags)
	})

	t.Run("error priorities", func(t *testing.T) {
		want := map[string]Priority{
			"warning":  PriorityLow,
			"error":    PriorityHigh,
			"critical": PriorityCritical,
			"info":     PriorityMedium,
		}
		for severity, p := range want {
			e := NewErrorEvent("msg", severity, nil)
			assert.Equal(t, p, e.Metadata.Priority, severity)
			assert.Equal(t, TypeErrorDetected, e.Type)
			assert.Equal(t, severity, e.Severity())
		}
	})

	t.Run("code change", func(t *testing.T) {
		e := NewCodeChangeEvent("main.go", 42, nil)
		assert.Equal(t, "modification", e.Data["change_type"])
		assert.Equal(t, 42, e.LinesChanged())

		e = NewCodeChangeEvent("main.go", 1, map[string]any{"change_type": "deletion"})
		assert.Equal(t, "deletion", e.Data["change_type"])
	})

	t.Run("tests", func(t *testing.T) {
		passed := NewTestEvent("TestA", "passed", nil)
		failed := NewTestEvent("TestB", "failed", nil)
		assert.Equal(t, TypeTestPassed, passed.Type)
		assert.Equal(t, PriorityLow, passed.Metadata.Priority)
		assert.Equal(t, TypeTestFailed, failed.Type)
		assert.Equal(t, PriorityHigh, failed.Metadata.Priority)
	})

	t.Run("security", func(t *testing.T) {
		e := NewSecurityEvent("sql_injection", "unsanitised input", nil)
		assert.Equal(t, PriorityCritical, e.Metadata.Priority)
		assert.Equal(t, CategorySecurity, e.Metadata.Category)
	})

	if NewFileEvent("x", "a", nil).ID == NewFileEvent("x", "a", nil).ID {
		t.Error("Expected distinct generated ids")
	}
}

func TestEventJSON(t *testing.T) {
	e := NewErrorEvent("disk full", "critical", map[string]any{"host": "db1"})
	e.Metadata.CorrelationID = "corr-1"

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Type, decoded.Type)
	assert.Equal(t, "db1", decoded.Data["host"])
	assert.Equal(t, PriorityCritical, decoded.Metadata.Priority)
	assert.Equal(t, CategoryError, decoded.Metadata.Category)
	assert.Equal(t, "corr-1", decoded.Metadata.CorrelationID)
	assert.Empty(t, decoded.Metadata.ParentEventID)
	assert.True(t, e.Metadata.Timestamp.Equal(decoded.Metadata.Timestamp))
}

func TestEventJSON_Defaults(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"file_path":"a.py"}}`), &e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "unknown", e.Type)
	assert.Equal(t, "unknown", e.Metadata.Source)
	assert.Equal(t, PriorityMedium, e.Metadata.Priority)
	assert.Equal(t, CategorySystem, e.Metadata.Category)
	assert.WithinDuration(t, time.Now(), e.Metadata.Timestamp, time.Minute)
	assert.Equal(t, "a.py", e.FilePath())
}

func TestEventJSON_NaiveTimestamp(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"event_type":"x","metadata":{"timestamp":"2024-03-01T12:30:00.123456"}}`), &e)
	require.NoError(t, err)
	assert.Equal(t, 2024, e.Metadata.Timestamp.Year())
}

func TestEventJSON_Rejects(t *testing.T) {
	cases := []string{
		`{"metadata":{"priority":"urgent"}}`,
		`{"metadata":{"category":"finance"}}`,
		`{"metadata":{"timestamp":"yesterday"}}`,
	}
	for _, c := range cases {
		var e Event
		if err := json.Unmarshal([]byte(c), &e); err == nil {
			t.Errorf("Expected error for %s", c)
		}
	}
}

func TestClone(t *testing.T) {
	e := NewFileEvent(TypeFileModified, "a.go", nil)
	c := e.Clone()
	c.Data["file_path"] = "b.go"
	c.Metadata.Tags[0] = "changed"

	if e.FilePath() != "a.go" {
		t.Errorf("Clone shares data with original")
	}
	if e.Metadata.Tags[0] != "file" {
		t.Errorf("Clone shares tags with original")
	}
	if c.ID != e.ID {
		t.Errorf("Clone should keep the id")
	}
}

func TestMetadataToMap(t *testing.T) {
	m := NewMetadata("svc").ToMap()
	if m["correlation_id"] != nil {
		t.Errorf("Expected nil correlation_id, got %v", m["correlation_id"])
	}
	if m["priority"] != "medium" {
		t.Errorf("Expected medium priority, got %v", m["priority"])
	}
	if _, err := time.Parse(time.RFC3339Nano, m["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}
