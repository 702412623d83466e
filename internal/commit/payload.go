package commit

import (
	"encoding/json"
	"math"
)

// Payloads arrive as decoded JSON, so numbers are usually float64. These
// helpers accept the other numeric forms the workers and tests produce.

func stringField(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func integerField(p map[string]interface{}, key string) (int64, bool) {
	switch v := p[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func numberField(p map[string]interface{}, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// nullable maps an empty string onto SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
