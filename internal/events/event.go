package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	}
	return "", fmt.Errorf("unknown event priority %q", s)
}

type Category string

const (
	CategoryFileSystem Category = "file_system"
	CategoryCodeChange Category = "code_change"
	CategoryError      Category = "error"
	CategoryTest       Category = "test"
	CategorySecurity   Category = "security"
	CategoryWorkflow   Category = "workflow"
	CategorySystem     Category = "system"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryFileSystem, CategoryCodeChange, CategoryError, CategoryTest,
		CategorySecurity, CategoryWorkflow, CategorySystem:
		return c, nil
	}
	return "", fmt.Errorf("unknown event category %q", s)
}

// Metadata describes where an event came from and how urgent it is.
type Metadata struct {
	Source        string
	Timestamp     time.Time
	Priority      Priority
	Category      Category
	Tags          []string
	CorrelationID string
	ParentEventID string
}

// NewMetadata returns metadata stamped now with medium priority in the
// system category.
func NewMetadata(source string) Metadata {
	return Metadata{
		Source:    source,
		Timestamp: time.Now(),
		Priority:  PriorityMedium,
		Category:  CategorySystem,
		Tags:      []string{},
	}
}

// ToMap renders the metadata the same way it is serialised.
func (m Metadata) ToMap() map[string]any {
	tags := make([]any, 0, len(m.Tags))
	for _, t := range m.Tags {
		tags = append(tags, t)
	}
	return map[string]any{
		"source":          m.Source,
		"timestamp":       m.Timestamp.Format(time.RFC3339Nano),
		"priority":        string(m.Priority),
		"category":        string(m.Category),
		"tags":            tags,
		"correlation_id":  nullable(m.CorrelationID),
		"parent_event_id": nullable(m.ParentEventID),
	}
}

// Event is an immutable envelope. Pre-processors that need a different event
// build a new one, typically through Clone.
type Event struct {
	ID       string
	Type     string
	Data     map[string]any
	Metadata Metadata
}

// New builds an event with a fresh id.
func New(eventType string, data map[string]any, meta Metadata) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Data:     data,
		Metadata: meta,
	}
}

// Clone copies the event including its data map and tags.
func (e Event) Clone() Event {
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	e.Data = data
	e.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	return e
}

// ToMap is the generic map form used for command context and MIS records.
func (e Event) ToMap() map[string]any {
	return map[string]any{
		"event_id":   e.ID,
		"event_type": e.Type,
		"data":       e.Data,
		"metadata":   e.Metadata.ToMap(),
	}
}

// FilePath returns data.file_path, or "" when absent or not a string.
func (e Event) FilePath() string {
	s, _ := e.Data["file_path"].(string)
	return s
}

// Severity returns data.severity, or "" when absent.
func (e Event) Severity() string {
	s, _ := e.Data["severity"].(string)
	return s
}

// LinesChanged returns data.lines_changed, treating a missing value as 0.
func (e Event) LinesChanged() int {
	f, _ := toFloat(e.Data["lines_changed"])
	return int(f)
}

// String returns data[key] as a string when it is one, else def.
func (e Event) String(key, def string) string {
	if s, ok := e.Data[key].(string); ok && s != "" {
		return s
	}
	return def
}

type wireMetadata struct {
	Source        string   `json:"source"`
	Timestamp     string   `json:"timestamp"`
	Priority      string   `json:"priority"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	CorrelationID *string  `json:"correlation_id"`
	ParentEventID *string  `json:"parent_event_id"`
}

type wireEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Metadata  wireMetadata   `json:"metadata"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	tags := e.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(wireEvent{
		EventID:   e.ID,
		EventType: e.Type,
		Data:      data,
		Metadata: wireMetadata{
			Source:        e.Metadata.Source,
			Timestamp:     e.Metadata.Timestamp.Format(time.RFC3339Nano),
			Priority:      string(e.Metadata.Priority),
			Category:      string(e.Metadata.Category),
			Tags:          tags,
			CorrelationID: optional(e.Metadata.CorrelationID),
			ParentEventID: optional(e.Metadata.ParentEventID),
		},
	})
}

// UnmarshalJSON fills missing fields with defaults and rejects unknown
// priorities or categories.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	meta := Metadata{
		Source:   w.Metadata.Source,
		Priority: PriorityMedium,
		Category: CategorySystem,
		Tags:     w.Metadata.Tags,
	}
	if meta.Source == "" {
		meta.Source = "unknown"
	}
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	if w.Metadata.CorrelationID != nil {
		meta.CorrelationID = *w.Metadata.CorrelationID
	}
	if w.Metadata.ParentEventID != nil {
		meta.ParentEventID = *w.Metadata.ParentEventID
	}

	if w.Metadata.Priority != "" {
		p, err := ParsePriority(w.Metadata.Priority)
		if err != nil {
			return err
		}
		meta.Priority = p
	}
	if w.Metadata.Category != "" {
		c, err := ParseCategory(w.Metadata.Category)
		if err != nil {
			return err
		}
		meta.Category = c
	}

	ts, err := parseTimestamp(w.Metadata.Timestamp)
	if err != nil {
		return err
	}
	meta.Timestamp = ts

	e.ID = w.EventID
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Type = w.EventType
	if e.Type == "" {
		e.Type = "unknown"
	}
	e.Data = w.Data
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	e.Metadata = meta
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid event timestamp %q", s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
