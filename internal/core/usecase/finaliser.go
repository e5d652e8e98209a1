package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/jsonextract"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
)

// Finaliser rewrites raw agent output into the user-facing answer.
type Finaliser struct {
	generator ports.TextGenerator
	opts      domain.GenerateOptions
	now       func() time.Time
}

func NewFinaliser(generator ports.TextGenerator, opts domain.GenerateOptions) *Finaliser {
	if opts.Model == "" {
		opts.Model = "gpt-5.1"
	}
	if opts.ReasoningEffort == "" {
		opts.ReasoningEffort = "none"
	}
	return &Finaliser{generator: generator, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

func (f *Finaliser) Finalise(ctx context.Context, query string, agentResponses []any, history []domain.Turn) (domain.FinalisedAnswer, error) {
	responsesJSON, err := json.Marshal(agentResponses)
	if err != nil {
		return domain.FinalisedAnswer{}, fmt.Errorf("encode agent responses: %w", err)
	}

	system := finaliserPrompt +
		buildUserContext(f.now().Format(timestampLayout), query) +
		buildAgentResponsesContext(string(responsesJSON))
	turns := make([]domain.Turn, 0, len(history)+1)
	turns = append(turns, domain.Turn{Role: domain.RoleSystem, Content: system})
	turns = append(turns, history...)

	completion, err := f.generator.GenerateText(ctx, turns, f.opts)
	if err != nil {
		return domain.FinalisedAnswer{}, fmt.Errorf("finalise: %w", err)
	}

	out := parseFinalisedAnswer(completion.Text)
	out.Usage = completion.Usage
	return out, nil
}

func parseFinalisedAnswer(text string) domain.FinalisedAnswer {
	out := domain.FinalisedAnswer{Raw: text, Answer: strings.TrimSpace(text)}
	payload, err := jsonextract.ExtractObject(text)
	if err != nil {
		return out
	}
	answer, ok := payload["final_answer"].(string)
	if !ok {
		return out
	}
	out.Answer = strings.TrimSpace(answer)
	out.IsGraphable, _ = domain.LenientBool(payload["is_graphable"])
	if graph, ok := payload["graph_data"].(map[string]any); ok && out.IsGraphable {
		if raw, err := json.Marshal(graph); err == nil {
			out.GraphData = raw
		}
	}
	return out
}
