package store

import (
	"fmt"
	"reflect"
)

// Props holds node or edge properties. Values read back from bolt arrive
// as int64 and []any, so the accessors normalize them.
type Props map[string]any

func (p Props) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Props) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
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

// Int returns nil when the property is absent or not numeric.
func (p Props) Int(key string) *int {
	var n int
	switch v := p[key].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case int32:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return nil
	}
	return &n
}

func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// IntOrNil converts an optional int into a bolt-friendly value.
func IntOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if x, ok := toInt64(a); ok {
		y, ok := toInt64(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}
