package internal

import "encoding/json"

// ToInt converts the numeric types json.Unmarshal produces into an int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// ToFloat converts the numeric types json.Unmarshal produces into a float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// GetString returns m[key] if it is a string, else "".
func GetString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// GetBool returns m[key] if it is a bool, else false.
func GetBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// GetMap returns m[key] if it is an object, else nil.
func GetMap(m map[string]any, key string) map[string]any {
	mm, _ := m[key].(map[string]any)
	return mm
}

// GetSlice returns m[key] if it is an array, else nil.
func GetSlice(m map[string]any, key string) []any {
	s, _ := m[key].([]any)
	return s
}

// GetInt returns m[key] as an int if it is numeric.
func GetInt(m map[string]any, key string) (int, bool) {
	return ToInt(m[key])
}

// GetFloat returns m[key] as a float64 if it is numeric.
func GetFloat(m map[string]any, key string) (float64, bool) {
	return ToFloat(m[key])
}

// IntField returns a pointer to m[key] as an int, or nil when absent.
func IntField(m map[string]any, key string) *int {
	if i, ok := ToInt(m[key]); ok {
		return &i
	}
	return nil
}

// FloatField returns a pointer to m[key] as a float64, or nil when absent.
func FloatField(m map[string]any, key string) *float64 {
	if f, ok := ToFloat(m[key]); ok {
		return &f
	}
	return nil
}
