package events

import (
	"encoding/json"
	"reflect"
	"strings"
)

// MatchesConditions reports whether the event satisfies every condition.
//
//	extensions  data.file_path ends with one of the listed suffixes
//	severity    data.severity is one of the listed values
//	min_lines   data.lines_changed >= value (missing counts as 0)
//	other keys  data[key] equals the value, checked only when key is present
//
// An empty or nil condition set always matches.
func (e Event) MatchesConditions(conditions map[string]any) bool {
	for key, expected := range conditions {
		switch key {
		case "extensions":
			path := e.FilePath()
			matched := false
			for _, ext := range asList(expected) {
				if s, ok := ext.(string); ok && strings.HasSuffix(path, s) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "severity":
			if !contains(asList(expected), e.Data["severity"]) {
				return false
			}
		case "min_lines":
			threshold, ok := toFloat(expected)
			if !ok {
				return false
			}
			lines := 0.0
			if v, present := e.Data["lines_changed"]; present {
				if lines, ok = toFloat(v); !ok {
					return false
				}
			}
			if lines < threshold {
				return false
			}
		default:
			if actual, present := e.Data[key]; present && !valuesEqual(actual, expected) {
				return false
			}
		}
	}
	return true
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	case string:
		return []any{l}
	}
	return nil
}

func contains(list []any, v any) bool {
	if v == nil {
		return false
	}
	for _, item := range list {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
