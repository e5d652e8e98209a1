package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

type StepKind int

const (
	StepUnknown StepKind = iota
	StepThoughtAction
	StepFinalAnswer
)

func (k StepKind) String() string {
	switch k {
	case StepThoughtAction:
		return "thought_action"
	case StepFinalAnswer:
		return "final_answer"
	default:
		return "unknown"
	}
}

// PlanStep is one planner output: either a thought with an action or a final answer.
type PlanStep struct {
	Kind StepKind

	Thought   string
	ToolName  string
	RawParams any

	IsSuccess   bool
	FinalAnswer any
}

// MaxThoughtLength caps a step's thought, in runes.
const MaxThoughtLength = 200

var (
	errStepAmbiguous = errors.New("step carries both thought and final_answer")
	errStepEmpty     = errors.New("step carries neither thought nor final_answer")
)

// ParsePlanStep classifies a decoded planner payload.
func ParsePlanStep(payload map[string]any) (PlanStep, error) {
	_, hasThought := payload["thought"]
	_, hasFinal := payload["final_answer"]

	switch {
	case hasThought && hasFinal:
		return PlanStep{}, WrapError(ErrMalformedResponse, "parse plan step", errStepAmbiguous)
	case hasThought:
		step := PlanStep{Kind: StepThoughtAction}
		thought, _ := payload["thought"].(string)
		step.Thought = truncateRunes(thought, MaxThoughtLength)
		if action, ok := payload["action"].(map[string]any); ok {
			step.ToolName, _ = action["tool_name"].(string)
			step.ToolName = strings.TrimSpace(step.ToolName)
			step.RawParams = action["tool_params"]
		}
		return step, nil
	case hasFinal:
		success, _ := LenientBool(payload["is_success"])
		return PlanStep{
			Kind:        StepFinalAnswer,
			IsSuccess:   success,
			FinalAnswer: payload["final_answer"],
		}, nil
	default:
		return PlanStep{}, WrapError(ErrMalformedResponse, "parse plan step", errStepEmpty)
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// ToolParams is either a single parameter object or a batch of them.
type ToolParams struct {
	batch bool
	items []map[string]any
}

func SingleParams(params map[string]any) ToolParams {
	if params == nil {
		params = map[string]any{}
	}
	return ToolParams{items: []map[string]any{params}}
}

func BatchParams(params []map[string]any) ToolParams {
	return ToolParams{batch: true, items: params}
}

func (p ToolParams) IsBatch() bool { return p.batch }

func (p ToolParams) Items() []map[string]any { return p.items }

// ParseToolParams resolves raw tool_params into the single/batch variant.
func ParseToolParams(raw any) (ToolParams, error) {
	switch v := raw.(type) {
	case map[string]any:
		return SingleParams(v), nil
	case []any:
		items := make([]map[string]any, 0, len(v))
		for i, item := range v {
			switch p := item.(type) {
			case map[string]any:
				items = append(items, p)
			case nil:
				items = append(items, map[string]any{})
			default:
				return ToolParams{}, WrapError(ErrInvalidArgument, "parse tool params", fmt.Errorf("batch item %d is %T, want object", i, item))
			}
		}
		return BatchParams(items), nil
	default:
		return ToolParams{}, WrapError(ErrInvalidArgument, "parse tool params", errors.New("tool_params must be list[dict] or dict for batchable"))
	}
}

// LenientBool accepts JSON booleans and their string spellings.
func LenientBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0", "":
			return false, true
		}
	}
	return false, false
}
