package aggregation

import (
	"fmt"
	"sort"
	"strings"
)

func compareValues(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), nil
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, nil
			case !ba:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

// sortDocs orders docs by field; documents missing the field go last.
func sortDocs(op Operation, docs []map[string]any) ([]map[string]any, error) {
	desc := strings.EqualFold(strings.TrimSpace(op.Order), "desc")
	out := append([]map[string]any(nil), docs...)
	keys := make([]any, len(out))
	for i, d := range out {
		keys[i] = FieldValue(d, op.Field)
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}

	var cmpErr error
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := keys[idx[i]], keys[idx[j]]
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		}
		c, err := compareValues(a, b)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, fmt.Errorf("sort by %q: %w", op.Field, cmpErr)
	}

	sorted := make([]map[string]any, len(out))
	for i, k := range idx {
		sorted[i] = out[k]
	}
	return sorted, nil
}

// head returns docs[:n] with slice semantics where a negative n counts from the end.
func head(docs []map[string]any, n int) []map[string]any {
	return docs[:clampIndex(n, len(docs))]
}

func tail(docs []map[string]any, n int) []map[string]any {
	return docs[clampIndex(n, len(docs)):]
}

func clampIndex(n, length int) int {
	if n < 0 {
		n += length
	}
	if n < 0 {
		return 0
	}
	if n > length {
		return length
	}
	return n
}

func project(op Operation, docs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		row := make(map[string]any, len(op.Fields))
		for _, f := range op.Fields {
			row[f] = FieldValue(d, f)
		}
		out = append(out, row)
	}
	return out
}
