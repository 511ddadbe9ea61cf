// Package convert normalizes values read from driver records.
//
// The Neo4j driver returns lists as []any, maps as map[string]any and
// integers as int64, while test fakes tend to use concrete Go types. These
// helpers accept both, so callers never type-switch on record values.
package convert

import (
	"fmt"
	"strconv"
)

// ToStringSlice converts []string or []any to []string. Non-string
// elements are skipped; anything else yields nil.
//
//	ToStringSlice([]any{"Person", 1, "Engineer"}) // ["Person", "Engineer"]
func ToStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// ToMap returns v as a property map, or an empty map when v is nil or not a
// map. The result is never nil so it always serializes as {}.
func ToMap(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		if val != nil {
			return val
		}
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	}
	return map[string]any{}
}

// ToID renders a node or relationship identifier. Integer ids (id()) and
// string ids (elementId()) both come back as plain text; nil is "".
func ToID(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatInt(int64(val), 10)
	}
	return fmt.Sprint(v)
}

// ToString returns v as a string when it is one, else "".
func ToString(v any) string {
	s, _ := v.(string)
	return s
}
