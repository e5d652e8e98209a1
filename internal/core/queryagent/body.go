package queryagent

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

var indexPattern = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)

var forbiddenFeatures = []string{
	"script_score",
	"scripted_metric",
	"runtime_mappings",
	"profile",
	"rescore",
	"highlight",
}

func validIndex(index string) bool {
	if index == "" || strings.HasPrefix(index, ".") {
		return false
	}
	return indexPattern.MatchString(index)
}

func cloneBody(body map[string]any) (map[string]any, error) {
	if body == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// withProjectFilter makes sure query.bool.filter holds a term filter on
// project_id. Non-bool queries are wrapped into the filter list.
func withProjectFilter(body map[string]any, projectID string) map[string]any {
	projectFilter := map[string]any{"term": map[string]any{"project_id": projectID}}

	query, ok := body["query"].(map[string]any)
	if !ok || query == nil {
		body["query"] = map[string]any{"bool": map[string]any{"filter": []any{projectFilter}}}
		return body
	}

	boolQuery, ok := query["bool"].(map[string]any)
	if !ok {
		body["query"] = map[string]any{"bool": map[string]any{"filter": []any{query, projectFilter}}}
		return body
	}

	var filters []any
	switch f := boolQuery["filter"].(type) {
	case []any:
		filters = f
	case map[string]any:
		filters = []any{f}
	}
	for _, existing := range filters {
		if reflect.DeepEqual(existing, projectFilter) {
			boolQuery["filter"] = filters
			return body
		}
	}
	boolQuery["filter"] = append(filters, projectFilter)
	return body
}

func validateBody(body map[string]any) error {
	rawQuery, ok := body["query"]
	if !ok {
		return fmt.Errorf("missing 'query' key in body")
	}
	query, ok := rawQuery.(map[string]any)
	if !ok {
		return fmt.Errorf("'query' must be an object")
	}
	if size, ok := body["size"]; ok {
		n, isInt := asInt(size)
		if !isInt {
			return fmt.Errorf("'size' must be an integer if present")
		}
		if n < 0 {
			return fmt.Errorf("'size' must not be negative")
		}
	}

	serialized, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	lowered := strings.ToLower(string(serialized))
	for _, feature := range forbiddenFeatures {
		if strings.Contains(lowered, feature) {
			return fmt.Errorf("forbidden query feature used: %s", feature)
		}
		if _, ok := body[feature]; ok {
			return fmt.Errorf("forbidden query feature used: %s", feature)
		}
	}

	if aggs, ok := body["aggs"]; ok {
		if _, isMap := aggs.(map[string]any); !isMap {
			return fmt.Errorf("'aggs' must be an object if present")
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
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

// sanitizeDateMath rewrites range bounds written as bare rounding
// ("/M", "/d") into "now/M" style date math.
func sanitizeDateMath(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key, value := range typed {
			if key == "range" {
				if fields, ok := value.(map[string]any); ok {
					for field, bounds := range fields {
						if b, ok := bounds.(map[string]any); ok {
							fields[field] = fixRangeBounds(b)
						}
					}
					continue
				}
			}
			typed[key] = sanitizeDateMath(value)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = sanitizeDateMath(item)
		}
		return typed
	default:
		return v
	}
}

func fixRangeBounds(bounds map[string]any) map[string]any {
	for _, key := range []string{"gte", "lte", "gt", "lt"} {
		if s, ok := bounds[key].(string); ok && strings.HasPrefix(s, "/") {
			bounds[key] = "now" + s
		}
	}
	return bounds
}

// rewriteTextToKeyword points terms aggregations and sort clauses on text
// fields at their keyword sub-field when the mapping declares one.
func rewriteTextToKeyword(body map[string]any, mapping map[string]any) map[string]any {
	var walk func(d map[string]any)
	walk = func(d map[string]any) {
		for key, value := range d {
			switch {
			case key == "terms":
				if terms, ok := value.(map[string]any); ok {
					if field, ok := terms["field"].(string); ok && hasKeywordSubfield(mapping, field) {
						terms["field"] = field + ".keyword"
					}
					continue
				}
			case key == "sort":
				if clauses, ok := value.([]any); ok {
					for i, clause := range clauses {
						if c, ok := clause.(map[string]any); ok {
							clauses[i] = rewriteSortClause(c, mapping)
						}
					}
					continue
				}
			}

			switch typed := value.(type) {
			case map[string]any:
				walk(typed)
			case []any:
				for _, item := range typed {
					if m, ok := item.(map[string]any); ok {
						walk(m)
					}
				}
			}
		}
	}
	walk(body)
	return body
}

func rewriteSortClause(clause map[string]any, mapping map[string]any) map[string]any {
	out := make(map[string]any, len(clause))
	for field, opts := range clause {
		if hasKeywordSubfield(mapping, field) {
			out[field+".keyword"] = opts
			continue
		}
		out[field] = opts
	}
	return out
}

func hasKeywordSubfield(mapping map[string]any, path string) bool {
	var cur any = mapping
	if props, ok := mapping["properties"]; ok {
		cur = props
	}
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if props, ok := node["properties"].(map[string]any); ok {
			if next, ok := props[part]; ok {
				cur = next
				continue
			}
		}
		next, ok := node[part]
		if !ok {
			return false
		}
		cur = next
	}

	field, ok := cur.(map[string]any)
	if !ok || field["type"] != "text" {
		return false
	}
	subfields, _ := field["fields"].(map[string]any)
	_, ok = subfields["keyword"]
	return ok
}

// flattenAggregations turns bucket aggregations into {key, doc_count, ...}
// rows and metric aggregations into {value} rows.
func flattenAggregations(aggs map[string]any) []map[string]any {
	rows := make([]map[string]any, 0)
	for _, name := range sortedKeys(aggs) {
		agg, ok := aggs[name].(map[string]any)
		if !ok {
			continue
		}
		if buckets, ok := agg["buckets"].([]any); ok {
			for _, rawBucket := range buckets {
				bucket, ok := rawBucket.(map[string]any)
				if !ok {
					continue
				}
				row := map[string]any{"key": bucket["key"], "doc_count": bucket["doc_count"]}
				for k, v := range bucket {
					if k != "key" && k != "doc_count" {
						row[k] = v
					}
				}
				rows = append(rows, row)
			}
			continue
		}
		if value, ok := agg["value"]; ok {
			rows = append(rows, map[string]any{"value": value})
		}
	}
	return rows
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// decoded maps lose response order
	sort.Strings(keys)
	return keys
}

func invalidArgument(op string, err error) error {
	return domain.WrapError(domain.ErrInvalidArgument, op, err)
}
