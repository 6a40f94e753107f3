// Package choice models selectable records and resolves their value and
// display text.
package choice

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Choice is one selectable record. Apart from the value field it is opaque.
type Choice map[string]any

// Get resolves a dotted path ("author.name") against the choice.
// Missing segments yield nil.
func Get(c Choice, path string) any {
	if c == nil || path == "" {
		return nil
	}
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case Choice:
			cur = m[part]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Key normalizes an identifier so that values decoded from different
// transports compare equal: 1, int64(1), float64(1) and "1" share a key.
func Key(v any) string {
	switch id := v.(type) {
	case nil:
		return "\x00nil"
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return Key(float64(id))
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(v)
	}
}

// IsEmptyID reports whether v means "no reference selected".
func IsEmptyID(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// IDs converts an array-like value into a slice of ids. ok is false when v
// is not a slice or array.
func IDs(v any) (ids []any, ok bool) {
	if v == nil {
		return nil, true
	}
	if s, isAny := v.([]any); isAny {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	ids = make([]any, rv.Len())
	for i := range ids {
		ids[i] = rv.Index(i).Interface()
	}
	return ids, true
}

// Contains reports whether any choice carries the given value under field.
func Contains(choices []Choice, field string, value any) bool {
	k := Key(value)
	for _, c := range choices {
		if Key(Get(c, field)) == k {
			return true
		}
	}
	return false
}

// UniqBy drops choices whose value under field was already seen. The first
// occurrence wins and order is kept.
func UniqBy(choices []Choice, field string) []Choice {
	if len(choices) < 2 {
		return choices
	}
	seen := make(map[string]bool, len(choices))
	out := make([]Choice, 0, len(choices))
	for _, c := range choices {
		k := Key(Get(c, field))
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
