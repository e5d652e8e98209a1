// Package aggregation runs declarative post-processing pipelines over search
// documents: grouping, statistics, filtering, projection and pagination.
package aggregation

import (
	"encoding/json"
	"fmt"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

const (
	OpCount       = "count"
	OpSum         = "sum"
	OpAvg         = "avg"
	OpMin         = "min"
	OpMax         = "max"
	OpMedian      = "median"
	OpMode        = "mode"
	OpStddev      = "stddev"
	OpVariance    = "variance"
	OpUniqueCount = "unique_count"
	OpPercentile  = "percentile"
	OpSort        = "sort"
	OpFirstN      = "first_n"
	OpFilter      = "filter"
	OpProject     = "project"
	OpSkip        = "skip"
	OpLimit       = "limit"
)

// Operation is one pipeline step as designed by the model.
type Operation struct {
	Name       string         `json:"operation"`
	Field      string         `json:"field,omitempty"`
	GroupBy    string         `json:"group_by,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Order      string         `json:"order,omitempty"`
	N          *int           `json:"n,omitempty"`
	Fields     []string       `json:"fields,omitempty"`
	Percentile *float64       `json:"percentile,omitempty"`
}

// Operations lists every supported operation name in a stable order.
func Operations() []string {
	return []string{
		OpAvg, OpCount, OpFilter, OpFirstN, OpLimit, OpMax, OpMedian, OpMin, OpMode,
		OpPercentile, OpProject, OpSkip, OpSort, OpStddev, OpSum, OpUniqueCount, OpVariance,
	}
}

// IsStatistical reports whether op ends a pipeline with a per-group scalar.
func IsStatistical(op string) bool {
	switch op {
	case OpSum, OpAvg, OpMin, OpMax, OpMedian, OpMode, OpStddev, OpVariance, OpUniqueCount, OpPercentile:
		return true
	default:
		return false
	}
}

// ParsePipeline decodes a model-supplied pipeline array.
func ParsePipeline(raw any) ([]Operation, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidArgument, "parse pipeline", err)
	}
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidArgument, "parse pipeline", fmt.Errorf("pipeline must be an array of operation objects: %w", err))
	}
	return ops, nil
}

func (op Operation) n(fallback int) int {
	if op.N == nil {
		return fallback
	}
	return *op.N
}
