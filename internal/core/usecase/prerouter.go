package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/jsonextract"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
)

// PreRouter answers trivial queries directly and escalates the rest.
type PreRouter struct {
	generator ports.TextGenerator
	opts      domain.GenerateOptions
	now       func() time.Time
}

func NewPreRouter(generator ports.TextGenerator, opts domain.GenerateOptions) *PreRouter {
	if opts.Model == "" {
		opts.Model = "gpt-5.1"
	}
	if opts.ReasoningEffort == "" {
		opts.ReasoningEffort = "none"
	}
	return &PreRouter{generator: generator, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

type agentSummary struct {
	Name        string `json:"agent_name"`
	Service     string `json:"service_name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

func (r *PreRouter) Decide(ctx context.Context, query string, agents []domain.AgentDescriptor, scope []string, history []domain.Turn) (domain.PreRouteDecision, error) {
	summaries := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, agentSummary{Name: a.Name, Service: a.Service, Description: a.Description, Version: a.Version})
	}
	agentsJSON, err := json.Marshal(summaries)
	if err != nil {
		return domain.PreRouteDecision{}, fmt.Errorf("encode agents: %w", err)
	}

	system := preRouterPrompt +
		buildUserContext(r.now().Format(timestampLayout), query) +
		buildAvailableAgentsPrompt(string(agentsJSON), scope)
	turns := make([]domain.Turn, 0, len(history)+1)
	turns = append(turns, domain.Turn{Role: domain.RoleSystem, Content: system})
	turns = append(turns, history...)

	completion, err := r.generator.GenerateStructured(ctx, turns, r.opts)
	if err != nil {
		return domain.PreRouteDecision{}, fmt.Errorf("pre-route: %w", err)
	}

	decision := parsePreRouteDecision(completion.Text)
	decision.Usage = completion.Usage
	slog.Info("pre_route_decision", "escalate", decision.Escalate, "answered", decision.FinalAnswer != "")
	return decision, nil
}

// parsePreRouteDecision escalates whenever the verdict cannot be read.
func parsePreRouteDecision(text string) domain.PreRouteDecision {
	payload, err := jsonextract.ExtractObject(text)
	if err != nil {
		payload = map[string]any{}
	}
	escalate, ok := domain.LenientBool(payload["escalate"])
	if !ok || payload["escalate"] == nil {
		escalate = true
	}
	answer, _ := payload["final_answer"].(string)
	answer = strings.TrimSpace(answer)
	if !escalate && answer == "" {
		escalate = true
	}
	return domain.PreRouteDecision{FinalAnswer: answer, Escalate: escalate}
}
