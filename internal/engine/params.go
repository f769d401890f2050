package engine

import (
	"math"
	"strconv"
)

// StringsParam reads a string list parameter. JSON-decoded lists arrive as
// []any and are converted.
func StringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// StringParam reads a string parameter.
func StringParam(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

// IntParam reads an integer parameter, accepting JSON numbers.
func IntParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// PhotosParam reads the add_photos photo list.
func PhotosParam(params map[string]any, key string) []Photo {
	switch v := params[key].(type) {
	case []Photo:
		return v
	case []any:
		out := make([]Photo, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			label, _ := m["label"].(string)
			path, _ := m["path"].(string)
			out = append(out, Photo{Label: label, Path: path})
		}
		return out
	default:
		return nil
	}
}
