package aggregation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	sourceKey    = "_source"
	defaultGroup = "all"
	unknownGroup = "UNKNOWN"
)

// FieldValue reads a dotted path from a document, looking through a _source
// envelope. A list met along the path maps the next key over its object
// elements. Missing fields yield nil.
func FieldValue(doc any, field string) any {
	if list, ok := doc.([]any); ok {
		out := make([]any, 0, len(list))
		for _, d := range list {
			out = append(out, FieldValue(d, field))
		}
		return out
	}

	base, ok := asMap(doc)
	if !ok {
		return nil
	}
	base = unwrapSource(base)

	var value any = base
	for _, key := range strings.Split(field, ".") {
		if m, ok := asMap(value); ok {
			v, exists := m[key]
			if !exists {
				return nil
			}
			value = v
			continue
		}
		if list, ok := value.([]any); ok {
			mapped := make([]any, 0, len(list))
			for _, item := range list {
				if m, ok := asMap(item); ok {
					if v, exists := m[key]; exists {
						mapped = append(mapped, v)
					}
				}
			}
			value = mapped
			continue
		}
		return nil
	}
	return value
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func unwrapSource(doc map[string]any) map[string]any {
	if src, ok := doc[sourceKey]; ok {
		if m, ok := asMap(src); ok {
			return m
		}
	}
	return doc
}

// Grouped is a bucket-name to value mapping that keeps first-seen bucket order.
type Grouped struct {
	Keys   []string
	Values map[string]any
}

func newGrouped() *Grouped {
	return &Grouped{Values: make(map[string]any)}
}

func (g *Grouped) Set(key string, value any) {
	if _, ok := g.Values[key]; !ok {
		g.Keys = append(g.Keys, key)
	}
	g.Values[key] = value
}

func (g *Grouped) Len() int { return len(g.Keys) }

func (g *Grouped) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range g.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(g.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AsList converts buckets into [{group, docs}] rows.
func (g *Grouped) AsList() []map[string]any {
	out := make([]map[string]any, 0, len(g.Keys))
	for _, k := range g.Keys {
		out = append(out, map[string]any{"group": k, "docs": g.Values[k]})
	}
	return out
}

type bucket struct {
	key  string
	docs []map[string]any
}

// groupDocs partitions docs by the top-level groupBy field of each base document.
func groupDocs(docs []map[string]any, groupBy string) []bucket {
	if groupBy == "" {
		all := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			all = append(all, unwrapSource(d))
		}
		return []bucket{{key: defaultGroup, docs: all}}
	}

	index := make(map[string]int)
	var out []bucket
	for _, d := range docs {
		key := groupKey(unwrapSource(d)[groupBy])
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, bucket{key: key})
		}
		out[i].docs = append(out[i].docs, d)
	}
	return out
}

func groupKey(v any) string {
	if v == nil {
		return unknownGroup
	}
	return valueKey(v)
}

// valueKey renders a value as a stable string for grouping and uniqueness.
func valueKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64, float32, int, int64, int32, bool, json.Number:
		return fmt.Sprint(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

func fieldValues(docs []map[string]any, field string) []any {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		if v := FieldValue(d, field); v != nil {
			out = append(out, v)
		}
	}
	return out
}
