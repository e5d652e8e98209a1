package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/jsonextract"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

const (
	fallbackEmptyToolset = "empty_toolset"
	fallbackUnsuccessful = "unsuccessful_final_answer"
	fallbackMaxSteps     = "max_steps"

	stubFallbackAnswer = "I could not retrieve the requested information for this project."
)

type PlannerConfig struct {
	MaxSteps        int
	Model           string
	ReasoningEffort string
}

// FallbackFunc answers a query without the ReAct loop. history excludes the query.
type FallbackFunc func(ctx context.Context, projectID, query string, history []domain.Turn) (any, domain.TokenUsage, error)

type PlannerOutcome struct {
	Answer         any
	Steps          int
	ToolCalls      int
	FallbackReason string
	Usage          domain.TokenUsage
}

// usageReporter is implemented by tool results that spent model tokens.
type usageReporter interface {
	TokenUsage() domain.TokenUsage
}

type Planner struct {
	name      string
	generator ports.TextGenerator
	toolsets  []*tool.ToolSet
	fallback  FallbackFunc
	cfg       PlannerConfig
	now       func() time.Time
}

func NewPlanner(name string, generator ports.TextGenerator, toolsets []*tool.ToolSet, fallback FallbackFunc, cfg PlannerConfig) *Planner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-5.1"
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "none"
	}
	return &Planner{
		name:      name,
		generator: generator,
		toolsets:  toolsets,
		fallback:  fallback,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run drives the thought/action/observation loop until the model gives a
// successful final answer. Everything else ends in the fallback.
func (p *Planner) Run(ctx context.Context, projectID, query string, history []domain.Turn) (*PlannerOutcome, error) {
	if p.toolCount() == 0 {
		return p.runFallback(ctx, projectID, query, history, fallbackEmptyToolset, 0, domain.TokenUsage{})
	}

	system, err := p.systemPrompt(projectID)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(history)+2+2*p.cfg.MaxSteps)
	turns = append(turns, domain.Turn{Role: domain.RoleSystem, Content: system})
	turns = append(turns, history...)
	turns = append(turns, domain.Turn{Role: domain.RoleUser, Content: query})

	var usage domain.TokenUsage
	toolCalls := 0
	opts := domain.GenerateOptions{Model: p.cfg.Model, ReasoningEffort: p.cfg.ReasoningEffort}

	for step := 1; step <= p.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		turns = append(turns, domain.Turn{Role: domain.RoleUser, Content: nextStepPrompt})
		completion, err := p.generator.GenerateStructured(ctx, turns, opts)
		if err != nil {
			return nil, fmt.Errorf("planner %s step %d: %w", p.name, step, err)
		}
		usage = usage.Add(completion.Usage)
		turns = append(turns, domain.Turn{Role: domain.RoleAssistant, Content: completion.Text})

		parsed, err := p.parseStep(completion.Text)
		if err != nil {
			slog.Warn("planner_step_invalid", "agent", p.name, "step", step, "error", err.Error())
			turns = append(turns, observationTurn(map[string]any{"error": err.Error()}))
			continue
		}

		slog.Info("planner_step", "agent", p.name, "step", step, "kind", parsed.Kind.String(), "tool", parsed.ToolName)

		switch parsed.Kind {
		case domain.StepFinalAnswer:
			if !parsed.IsSuccess {
				outcome, err := p.runFallback(ctx, projectID, query, history, fallbackUnsuccessful, step, usage)
				if outcome != nil {
					outcome.ToolCalls = toolCalls
				}
				return outcome, err
			}
			return &PlannerOutcome{Answer: parsed.FinalAnswer, Steps: step, ToolCalls: toolCalls, Usage: usage}, nil
		case domain.StepThoughtAction:
			observation, calls, toolUsage := p.runAction(ctx, parsed)
			toolCalls += calls
			usage = usage.Add(toolUsage)
			turns = append(turns, observationTurn(observation))
		}
	}

	outcome, err := p.runFallback(ctx, projectID, query, history, fallbackMaxSteps, p.cfg.MaxSteps, usage)
	if outcome != nil {
		outcome.ToolCalls = toolCalls
	}
	return outcome, err
}

func (p *Planner) parseStep(text string) (domain.PlanStep, error) {
	payload, err := jsonextract.ExtractObject(text)
	if err != nil {
		return domain.PlanStep{}, domain.WrapError(domain.ErrMalformedResponse, "parse plan step", err)
	}
	return domain.ParsePlanStep(payload)
}

// runAction executes every parameter set of a batch against the named tool.
// Failures become observations so the model can react to them.
func (p *Planner) runAction(ctx context.Context, step domain.PlanStep) (map[string]any, int, domain.TokenUsage) {
	var usage domain.TokenUsage
	if step.ToolName == "" {
		return map[string]any{"error": "Missing tool_name"}, 0, usage
	}
	params, err := domain.ParseToolParams(step.RawParams)
	if err != nil {
		return map[string]any{"error": err.Error()}, 0, usage
	}

	t, found := p.lookup(step.ToolName)
	results := make([]map[string]any, 0, len(params.Items()))
	for _, item := range params.Items() {
		var observation any
		switch {
		case !found:
			observation = fmt.Sprintf("Error during tool call: tool %s not found", step.ToolName)
		default:
			out, err := t.Execute(ctx, item)
			if err != nil {
				observation = fmt.Sprintf("Error during tool call: %v", err)
				break
			}
			if reporter, ok := out.(usageReporter); ok {
				usage = usage.Add(reporter.TokenUsage())
			}
			observation = out
		}
		results = append(results, map[string]any{"tool_params": item, "observation": observation})
	}

	return map[string]any{"tool_name": step.ToolName, "results": results}, len(results), usage
}

func (p *Planner) runFallback(ctx context.Context, projectID, query string, history []domain.Turn, reason string, steps int, usage domain.TokenUsage) (*PlannerOutcome, error) {
	slog.Info("planner_fallback", "agent", p.name, "reason", reason, "steps", steps)
	outcome := &PlannerOutcome{Steps: steps, FallbackReason: reason, Usage: usage}
	if p.fallback == nil {
		outcome.Answer = stubFallbackAnswer
		return outcome, nil
	}
	answer, fallbackUsage, err := p.fallback(ctx, projectID, query, domain.CloneTurns(history))
	if err != nil {
		return nil, fmt.Errorf("planner %s fallback: %w", p.name, err)
	}
	outcome.Answer = answer
	outcome.Usage = usage.Add(fallbackUsage)
	return outcome, nil
}

func (p *Planner) lookup(name string) (*tool.Tool, bool) {
	for _, set := range p.toolsets {
		if set == nil {
			continue
		}
		if t, ok := set.Get(name); ok {
			return t, true
		}
	}
	return nil, false
}

func (p *Planner) toolCount() int {
	total := 0
	for _, set := range p.toolsets {
		total += set.Len()
	}
	return total
}

func (p *Planner) systemPrompt(projectID string) (string, error) {
	description := ""
	for _, set := range p.toolsets {
		if set.Len() == 0 {
			continue
		}
		raw, err := json.Marshal(set.Schemas())
		if err != nil {
			return "", fmt.Errorf("encode toolset %s: %w", set.Namespace(), err)
		}
		description += string(raw) + "\n"
	}
	return plannerSystemPrompt + buildToolsPrompt(description) + buildPlannerContext(projectID, p.now().Format(timestampLayout)), nil
}

func observationTurn(observation map[string]any) domain.Turn {
	raw, err := json.Marshal(map[string]any{"observation": observation})
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"observation":{"error":%q}}`, err.Error()))
	}
	return domain.Turn{Role: domain.RoleUser, Content: string(raw)}
}
