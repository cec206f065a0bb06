package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EventMapping routes one event type to zen commands when its conditions hold.
type EventMapping struct {
	Conditions map[string]any `json:"conditions" yaml:"conditions"`
	Commands   []string       `json:"commands" yaml:"commands"`
}

// DefaultEventMappings is used when no mapping file exists.
func DefaultEventMappings() map[string]EventMapping {
	return map[string]EventMapping{
		"file_created": {
			Conditions: map[string]any{"extensions": []any{".py", ".js", ".ts"}},
			Commands:   []string{"analyze", "docgen"},
		},
		"error_detected": {
			Conditions: map[string]any{"severity": []any{"error", "critical"}},
			Commands:   []string{"debug", "tracer"},
		},
		"code_changed": {
			Conditions: map[string]any{"min_lines": 10},
			Commands:   []string{"codereview", "refactor"},
		},
		"test_failed": {
			Conditions: map[string]any{},
			Commands:   []string{"testgen", "debug"},
		},
	}
}

// LoadEventMappings reads a JSON or YAML mapping file. A missing file yields
// the defaults, an unreadable or malformed one is an error.
func LoadEventMappings(path string) (map[string]EventMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultEventMappings(), nil
		}
		return nil, fmt.Errorf("failed to read event mappings %s: %w", path, err)
	}

	mappings := make(map[string]EventMapping)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &mappings)
	default:
		err = json.Unmarshal(data, &mappings)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse event mappings %s: %w", path, err)
	}

	for eventType, m := range mappings {
		if m.Conditions == nil {
			m.Conditions = map[string]any{}
			mappings[eventType] = m
		}
	}
	return mappings, nil
}
