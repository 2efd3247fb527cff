package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// ErrMalformed is returned when the model output holds no usable JSON.
var ErrMalformed = errors.New("extract: malformed extraction output")

// wrapperKeys are the object keys under which a model may nest the array.
var wrapperKeys = []string{"records", "castings", "casting_calls", "items", "results", "data"}

// parseItems turns model output into raw items. It tolerates markdown code
// fences, leading prose, JSON5 syntax (trailing commas, comments, single
// quotes), a bare array, an object wrapping an array, or a single object.
// An empty array is a valid answer: no casting call in the text.
func parseItems(content string) ([]map[string]any, error) {
	body := stripFences(content)
	start := strings.IndexAny(body, "[{")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON value", ErrMalformed)
	}
	body = body[start:]
	if end := strings.LastIndexAny(body, "]}"); end >= 0 {
		body = body[:end+1]
	}

	var v any
	if err := json5.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch x := v.(type) {
	case []any:
		return objects(x), nil
	case map[string]any:
		for _, k := range wrapperKeys {
			if arr, ok := x[k].([]any); ok {
				return objects(arr), nil
			}
		}
		if _, ok := x["title"]; ok {
			return []map[string]any{x}, nil
		}
		if _, ok := x["description"]; ok {
			return []map[string]any{x}, nil
		}
		return nil, fmt.Errorf("%w: object without records", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, v)
	}
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	i := strings.Index(s, "```")
	if i < 0 {
		return s
	}
	rest := s[i+3:]
	// Drop the language tag line ("json", "json5", ...).
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
