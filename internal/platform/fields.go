package platform

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rflorenc/flowdeck/internal/models"
)

// Instance payloads are decoded loosely: fields may be missing, numbers may
// arrive as JSON numbers or as formatted strings ("1,204"), and a missing
// counter must stay distinguishable from zero.

type object = map[string]interface{}

// mapField returns obj[field] as an object, or nil.
func mapField(obj object, field string) object {
	if v, ok := obj[field].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// path navigates nested objects, returning nil as soon as a level is missing.
func path(obj object, fields ...string) object {
	for _, f := range fields {
		if obj == nil {
			return nil
		}
		obj = mapField(obj, f)
	}
	return obj
}

// sliceField returns obj[field] as a slice of objects, skipping non-objects.
func sliceField(obj object, field string) []object {
	raw, ok := obj[field].([]interface{})
	if !ok {
		return nil
	}
	out := make([]object, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// stringField safely extracts a string field, returning "" if nil.
// Numbers are formatted so that integer version fields read as strings.
func stringField(obj object, field string) string {
	switch v := obj[field].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// intField safely extracts an int field from a map.
func intField(obj object, field string) int64 {
	c := countField(obj, field)
	return c.OrZero()
}

// countField extracts an optional counter. Absent, null and unparseable
// values all yield an absent Count.
func countField(obj object, field string) models.Count {
	if obj == nil {
		return models.Count{}
	}
	switch n := obj[field].(type) {
	case float64:
		return models.CountOf(int64(n))
	case int:
		return models.CountOf(int64(n))
	case int64:
		return models.CountOf(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return models.CountOf(i)
		}
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return models.CountOf(i)
		}
	}
	return models.Count{}
}

func decodeObject(body []byte) (object, error) {
	var obj object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
