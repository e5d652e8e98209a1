package aggregation

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseISO accepts ISO-8601 date and datetime strings. Values without an
// offset are read as UTC.
func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toInt converts a value the way an integer cast would: floats truncate,
// booleans become 0/1, strings must hold an integer literal.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(n), "_", ""), 10, 64)
		return i, err == nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	if f, ok := toFloat(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// filterDocs keeps documents whose field satisfies every condition. Date-like
// strings on either side compare as epoch seconds; anything that cannot be
// turned into an integer excludes the document.
func filterDocs(op Operation, docs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if matches(FieldValue(d, op.Field), op.Conditions) {
			out = append(out, d)
		}
	}
	return out
}

func matches(value any, conditions map[string]any) bool {
	if s, ok := value.(string); ok {
		if t, ok := parseISO(s); ok {
			value = t.Unix()
		}
	}

	for cmp, expected := range conditions {
		if s, ok := expected.(string); ok {
			if t, ok := parseISO(s); ok {
				expected = t.Unix()
			} else if i, ok := toInt(s); ok {
				expected = i
			} else {
				return false
			}
		}

		want, ok := toInt(expected)
		if !ok {
			return false
		}
		got, ok := toInt(value)
		if !ok {
			return false
		}

		switch cmp {
		case "eq":
			if got != want {
				return false
			}
		case "gte":
			if got < want {
				return false
			}
		case "lte":
			if got > want {
				return false
			}
		case "gt":
			if got <= want {
				return false
			}
		case "lt":
			if got >= want {
				return false
			}
		}
	}
	return true
}
