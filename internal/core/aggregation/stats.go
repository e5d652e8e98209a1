package aggregation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func numbers(field string, values []any) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("field %q holds non-numeric value %v", field, v)
		}
		out = append(out, f)
	}
	return out, nil
}

type reducer func(field string, values []any) (value any, keep bool, err error)

func perGroup(op Operation, docs []map[string]any, reduce reducer) (*Grouped, error) {
	out := newGrouped()
	for _, b := range groupDocs(docs, op.GroupBy) {
		v, keep, err := reduce(op.Field, fieldValues(b.docs, op.Field))
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", b.key, err)
		}
		if keep {
			out.Set(b.key, v)
		}
	}
	return out, nil
}

func count(op Operation, docs []map[string]any) *Grouped {
	out := newGrouped()
	for _, b := range groupDocs(docs, op.GroupBy) {
		out.Set(b.key, len(b.docs))
	}
	return out
}

func sumReducer(field string, values []any) (any, bool, error) {
	nums, err := numbers(field, values)
	if err != nil {
		return nil, false, err
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total, true, nil
}

func avgReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	nums, err := numbers(field, values)
	if err != nil {
		return nil, false, err
	}
	return mean(nums), true, nil
}

func mean(nums []float64) float64 {
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums))
}

// extreme picks the smallest (sign<0) or largest (sign>0) value, comparing
// numbers numerically and strings lexically.
func extreme(field string, values []any, sign int) (any, error) {
	best := values[0]
	for _, v := range values[1:] {
		c, err := compareValues(v, best)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		if c*sign > 0 {
			best = v
		}
	}
	if _, err := compareValues(best, best); err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return best, nil
}

func minReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	v, err := extreme(field, values, -1)
	return v, err == nil, err
}

// max keeps empty groups with a nil value, unlike min.
func maxReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, true, nil
	}
	v, err := extreme(field, values, 1)
	return v, err == nil, err
}

func medianReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	nums, err := numbers(field, values)
	if err != nil {
		return nil, false, err
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return nums[mid], true, nil
	}
	return (nums[mid-1] + nums[mid]) / 2, true, nil
}

// mode returns the most common value; ties go to the first one seen.
func modeReducer(_ string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, true, nil
	}
	counts := make(map[string]int, len(values))
	top := 0
	for _, v := range values {
		k := valueKey(v)
		counts[k]++
		if counts[k] > top {
			top = counts[k]
		}
	}
	for _, v := range values {
		if counts[valueKey(v)] == top {
			return v, true, nil
		}
	}
	return nil, true, nil
}

func populationVariance(nums []float64) float64 {
	m := mean(nums)
	ss := 0.0
	for _, n := range nums {
		d := n - m
		ss += d * d
	}
	return ss / float64(len(nums))
}

func varianceReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	nums, err := numbers(field, values)
	if err != nil {
		return nil, false, err
	}
	return populationVariance(nums), true, nil
}

func stddevReducer(field string, values []any) (any, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	nums, err := numbers(field, values)
	if err != nil {
		return nil, false, err
	}
	return math.Sqrt(populationVariance(nums)), true, nil
}

func uniqueCountReducer(_ string, values []any) (any, bool, error) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[valueKey(v)] = struct{}{}
	}
	return len(seen), true, nil
}

func percentile(op Operation, docs []map[string]any) (*Grouped, error) {
	if op.Percentile == nil || *op.Percentile < 0 || *op.Percentile > 100 || math.IsNaN(*op.Percentile) {
		got := "missing"
		if op.Percentile != nil {
			got = strconv.FormatFloat(*op.Percentile, 'f', -1, 64)
		}
		return nil, domain.WrapError(domain.ErrInvalidArgument, "percentile", fmt.Errorf("percentile must be between 0 and 100, got %s", got))
	}
	p := *op.Percentile
	return perGroup(op, docs, func(field string, values []any) (any, bool, error) {
		if len(values) == 0 {
			return nil, true, nil
		}
		nums, err := numbers(field, values)
		if err != nil {
			return nil, false, err
		}
		return Percentile(nums, p), true, nil
	})
}

// Percentile interpolates linearly between the two ranks around (n-1)*p/100.
func Percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := float64(len(sorted)-1) * (p / 100.0)
	f := int(k)
	c := f + 1
	if c > len(sorted)-1 {
		c = len(sorted) - 1
	}
	if f == c {
		return sorted[f]
	}
	return sorted[f] + (sorted[c]-sorted[f])*(k-float64(f))
}
