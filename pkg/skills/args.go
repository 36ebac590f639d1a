package skills

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Args are the decoded arguments of a skill call.
type Args map[string]any

// String returns a required, non-blank string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument '%s'", key)
	}
	s := stringify(v)
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument '%s' must not be empty", key)
	}
	return s, nil
}

// StringOr returns the string argument or def when absent or blank.
func (a Args) StringOr(key, def string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	s := stringify(v)
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Int returns an integer argument, accepting JSON numbers and numeric
// strings. It returns def when the argument is absent or not a number.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
