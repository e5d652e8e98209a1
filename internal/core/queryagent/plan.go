package queryagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/aggregation"
	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/jsonextract"
)

// PlanResult is the outcome of HandleRequest. Error is set instead of
// Result when the model produced a plan that could not be executed.
type PlanResult struct {
	Result      any               `json:"result,omitempty"`
	Plan        map[string]any    `json:"plan,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Error       string            `json:"error,omitempty"`
	Usage       domain.TokenUsage `json:"token_usage"`
}

// TokenUsage lets callers that only see the tool result account for the
// model calls made while producing it.
func (r *PlanResult) TokenUsage() domain.TokenUsage { return r.Usage }

// HandleRequest asks the model for a single search plan answering request,
// then executes it for projectID.
func (a *Agent) HandleRequest(ctx context.Context, projectID, request string) (*PlanResult, error) {
	turns, err := a.planTurns(projectID, request)
	if err != nil {
		return nil, err
	}

	completion, err := a.generator.GenerateStructured(ctx, turns, domain.GenerateOptions{
		Model:           a.opts.Model,
		ReasoningEffort: a.opts.ReasoningEffort,
	})
	if err != nil {
		return nil, fmt.Errorf("generate search plan: %w", err)
	}

	out := &PlanResult{Usage: completion.Usage}
	plan, err := jsonextract.ExtractObject(completion.Text)
	if err != nil {
		out.Error = fmt.Sprintf("search plan is not valid JSON: %v", err)
		return out, nil
	}
	out.Plan = plan

	action, _ := plan["action"].(map[string]any)
	toolName, _ := action["tool"].(string)
	if toolName != SearchToolName {
		out.Error = fmt.Sprintf("Unexpected tool requested: %v", action["tool"])
		return out, nil
	}

	input, err := decodePlanInput(action["input"])
	if err != nil {
		out.Error = fmt.Sprintf("Tool input is not valid JSON: %v", err)
		return out, nil
	}

	index, _ := input["index"].(string)
	body, _ := input["body"].(map[string]any)
	pipeline, err := aggregation.ParsePipeline(input["pipeline"])
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}

	result, err := a.PerformSearch(ctx, projectID, index, body, pipeline)
	if err != nil {
		return out, domain.WrapError(domain.ErrAgentPipeline, "query agent", err)
	}
	out.Result = result
	out.Explanation, _ = plan["explanation"].(string)
	return out, nil
}

// decodePlanInput accepts the input object or the same object serialised
// into a string.
func decodePlanInput(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected input type %T", raw)
	}
}

func (a *Agent) planTurns(projectID, request string) ([]domain.Turn, error) {
	metadata := make(map[string]any, len(a.indices))
	for _, idx := range a.indices {
		metadata[idx.Name] = idx
	}
	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode index metadata: %w", err)
	}
	schemaJSON, err := json.MarshalIndent([]any{a.SearchSchema()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode search tool schema: %w", err)
	}

	return []domain.Turn{
		{Role: domain.RoleSystem, Content: buildPlanSystemPrompt(string(metadataJSON), string(schemaJSON))},
		{Role: domain.RoleUser, Content: buildPlanUserPrompt(projectID, a.now().Format("2006-01-02 15:04:05"), request)},
	}, nil
}
