package aggregation

import (
	"fmt"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// Apply runs a single operation. Statistical operations and count return a
// *Grouped; the rest return a new document slice.
func Apply(op Operation, docs []map[string]any) (any, error) {
	name := strings.TrimSpace(op.Name)
	switch name {
	case OpCount:
		return count(op, docs), nil
	case OpSum:
		return perGroup(op, docs, sumReducer)
	case OpAvg:
		return perGroup(op, docs, avgReducer)
	case OpMin:
		return perGroup(op, docs, minReducer)
	case OpMax:
		return perGroup(op, docs, maxReducer)
	case OpMedian:
		return perGroup(op, docs, medianReducer)
	case OpMode:
		return perGroup(op, docs, modeReducer)
	case OpStddev:
		return perGroup(op, docs, stddevReducer)
	case OpVariance:
		return perGroup(op, docs, varianceReducer)
	case OpUniqueCount:
		return perGroup(op, docs, uniqueCountReducer)
	case OpPercentile:
		return percentile(op, docs)
	case OpSort:
		return sortDocs(op, docs)
	case OpFirstN:
		return head(docs, op.n(1)), nil
	case OpLimit:
		return head(docs, op.n(len(docs))), nil
	case OpSkip:
		return tail(docs, op.n(0)), nil
	case OpFilter:
		return filterDocs(op, docs), nil
	case OpProject:
		return project(op, docs), nil
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedOperation, "apply", fmt.Errorf("unsupported operation: %q", name))
	}
}

// Run applies the pipeline in order. A statistical step ends the pipeline
// with its grouped result; a grouped result from any other step is turned
// into [{group, docs}] rows before the next step.
//
// Invalid arguments are returned as errors. Any other failure is reported
// in-band as {"error": ...} so the caller can hand it back to the model.
func Run(pipeline []Operation, docs []map[string]any) (any, error) {
	current := docs
	for _, op := range pipeline {
		out, err := Apply(op, current)
		if err != nil {
			if domain.IsKind(err, domain.ErrInvalidArgument) {
				return nil, err
			}
			return ErrorPayload(op.Name, err), nil
		}
		if IsStatistical(strings.TrimSpace(op.Name)) {
			return out, nil
		}
		switch v := out.(type) {
		case *Grouped:
			current = v.AsList()
		case []map[string]any:
			current = v
		}
	}
	return current, nil
}

func ErrorPayload(op string, err error) map[string]any {
	return map[string]any{"error": fmt.Sprintf("Summariser pipeline error [%s]: %v", op, err)}
}
