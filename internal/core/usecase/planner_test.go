package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	last      string
	calls     int
	turns     [][]domain.Turn
	opts      []domain.GenerateOptions
}

func (g *scriptedGenerator) GenerateStructured(_ context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.turns = append(g.turns, domain.CloneTurns(turns))
	g.opts = append(g.opts, opts)
	text := g.last
	if len(g.responses) > 0 {
		text = g.responses[0]
		g.responses = g.responses[1:]
	}
	return domain.Completion{Text: text, Usage: domain.TokenUsage{InputTokens: 10, OutputTokens: 1}}, nil
}

func (g *scriptedGenerator) GenerateText(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error) {
	return g.GenerateStructured(ctx, turns, opts)
}

type usageResult struct {
	Value string `json:"value"`
}

func (usageResult) TokenUsage() domain.TokenUsage { return domain.TokenUsage{InputTokens: 100} }

func balanceToolset(t *testing.T, namespace string, handler tool.Handler) *tool.ToolSet {
	t.Helper()
	set := tool.NewToolSet(namespace)
	balance, err := tool.New(namespace+"_balance", "Account balance for a month.").
		Param(tool.String("month", "Month as YYYY-MM.")).
		Build(handler)
	if err != nil {
		t.Fatalf("build tool: %v", err)
	}
	if err := set.Register(balance); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	return set
}

func echoMonth(_ context.Context, _ any, args map[string]any) (any, error) {
	return "balance for " + args["month"].(string), nil
}

type fallbackRecorder struct {
	calls   int
	query   string
	history []domain.Turn
}

func (f *fallbackRecorder) fn(_ context.Context, _ string, query string, history []domain.Turn) (any, domain.TokenUsage, error) {
	f.calls++
	f.query = query
	f.history = history
	return "fallback answer", domain.TokenUsage{OutputTokens: 5}, nil
}

func TestPlannerStepBudgetEndsInFallback(t *testing.T) {
	gen := &scriptedGenerator{last: `{"thought":"look again","action":{"tool_name":"stripe_balance","tool_params":{"month":"2025-01"}}}`}
	fallback := &fallbackRecorder{}
	planner := NewPlanner("stripe", gen, []*tool.ToolSet{balanceToolset(t, "stripe", echoMonth)}, fallback.fn, PlannerConfig{MaxSteps: 3})

	history := []domain.Turn{{Role: domain.RoleUser, Content: "earlier"}}
	outcome, err := planner.Run(context.Background(), "p1", "balance?", history)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.FallbackReason != fallbackMaxSteps {
		t.Fatalf("expected max_steps fallback, got %q", outcome.FallbackReason)
	}
	if gen.calls != 3 || outcome.Steps != 3 || outcome.ToolCalls != 3 {
		t.Fatalf("expected 3 calls/steps/tool calls, got %d/%d/%d", gen.calls, outcome.Steps, outcome.ToolCalls)
	}
	if outcome.Answer != "fallback answer" {
		t.Fatalf("unexpected answer %v", outcome.Answer)
	}
	if fallback.query != "balance?" || len(fallback.history) != 1 {
		t.Fatalf("fallback got query=%q history=%v", fallback.query, fallback.history)
	}
	if outcome.Usage.InputTokens != 30 || outcome.Usage.OutputTokens != 8 {
		t.Fatalf("unexpected usage %+v", outcome.Usage)
	}
}

func TestPlannerBuildsConversation(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"need two months","action":{"tool_name":"stripe_balance","tool_params":[{"month":"2025-01"},{"month":"2025-02"}]}}`,
		`{"is_success":true,"final_answer":{"jan":1,"feb":2}}`,
	}}
	planner := NewPlanner("stripe", gen, []*tool.ToolSet{balanceToolset(t, "stripe", echoMonth)}, nil, PlannerConfig{})

	history := []domain.Turn{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAssistant, Content: "hello"}}
	outcome, err := planner.Run(context.Background(), "p1", "compare months", history)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.FallbackReason != "" || outcome.Steps != 2 || outcome.ToolCalls != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if gen.opts[0].Model != "gpt-5.1" || gen.opts[0].ReasoningEffort != "none" {
		t.Fatalf("unexpected options %+v", gen.opts[0])
	}

	second := gen.turns[1]
	if second[0].Role != domain.RoleSystem || !strings.Contains(second[0].Content, "stripe_balance") || !strings.Contains(second[0].Content, "project_id: p1") {
		t.Fatalf("system turn misses tools or context: %q", second[0].Content)
	}
	if second[1].Content != "hi" || second[2].Content != "hello" || second[3].Content != "compare months" {
		t.Fatalf("history or query out of order: %+v", second[1:4])
	}
	if second[4].Content != nextStepPrompt || second[5].Role != domain.RoleAssistant {
		t.Fatalf("expected next-step prompt then assistant output, got %+v", second[4:6])
	}

	var observation struct {
		Observation struct {
			ToolName string `json:"tool_name"`
			Results  []struct {
				ToolParams  map[string]any `json:"tool_params"`
				Observation string         `json:"observation"`
			} `json:"results"`
		} `json:"observation"`
	}
	if err := json.Unmarshal([]byte(second[6].Content), &observation); err != nil {
		t.Fatalf("observation is not JSON: %v", err)
	}
	if observation.Observation.ToolName != "stripe_balance" || len(observation.Observation.Results) != 2 {
		t.Fatalf("unexpected observation %+v", observation)
	}
	if observation.Observation.Results[1].Observation != "balance for 2025-02" {
		t.Fatalf("unexpected batch result %+v", observation.Observation.Results[1])
	}
	if second[7].Content != nextStepPrompt {
		t.Fatalf("expected another next-step prompt, got %q", second[7].Content)
	}
}

func TestPlannerObservesBadActions(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"no tool","action":{}}`,
		`{"thought":"bad params","action":{"tool_name":"stripe_balance","tool_params":"2025-01"}}`,
		`{"thought":"unknown","action":{"tool_name":"drop_all","tool_params":{}}}`,
		`{"thought":"invalid","action":{"tool_name":"stripe_balance","tool_params":{"month":3}}}`,
		`{"thought":"both","final_answer":"x"}`,
		`{"is_success":"true","final_answer":"done"}`,
	}}
	planner := NewPlanner("stripe", gen, []*tool.ToolSet{balanceToolset(t, "stripe", echoMonth)}, nil, PlannerConfig{})

	outcome, err := planner.Run(context.Background(), "p1", "q", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Answer != "done" {
		t.Fatalf("expected lenient success, got %+v", outcome)
	}

	turns := gen.turns[len(gen.turns)-1]
	var observations []string
	for _, turn := range turns {
		if strings.HasPrefix(turn.Content, `{"observation"`) {
			observations = append(observations, turn.Content)
		}
	}
	if len(observations) != 5 {
		t.Fatalf("expected 5 observations, got %d: %v", len(observations), observations)
	}
	if observations[0] != `{"observation":{"error":"Missing tool_name"}}` {
		t.Fatalf("unexpected missing tool observation %s", observations[0])
	}
	if !strings.Contains(observations[1], "tool_params must be") {
		t.Fatalf("unexpected params observation %s", observations[1])
	}
	if !strings.Contains(observations[2], "Error during tool call: tool drop_all not found") {
		t.Fatalf("unexpected unknown tool observation %s", observations[2])
	}
	if !strings.Contains(observations[3], "Error during tool call") {
		t.Fatalf("unexpected validation observation %s", observations[3])
	}
	if !strings.Contains(observations[4], "both thought and final_answer") {
		t.Fatalf("unexpected ambiguity observation %s", observations[4])
	}
}

func TestPlannerUnsuccessfulAnswerFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"is_success":false,"final_answer":"no data"}`}}
	fallback := &fallbackRecorder{}
	planner := NewPlanner("stripe", gen, []*tool.ToolSet{balanceToolset(t, "stripe", echoMonth)}, fallback.fn, PlannerConfig{})

	outcome, err := planner.Run(context.Background(), "p1", "q", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.FallbackReason != fallbackUnsuccessful || fallback.calls != 1 {
		t.Fatalf("expected fallback, got %+v calls=%d", outcome, fallback.calls)
	}
}

func TestPlannerEmptyToolsetSkipsModel(t *testing.T) {
	gen := &scriptedGenerator{}
	planner := NewPlanner("xero", gen, []*tool.ToolSet{tool.NewToolSet("xero")}, nil, PlannerConfig{})

	outcome, err := planner.Run(context.Background(), "p1", "q", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("expected no model calls, got %d", gen.calls)
	}
	if outcome.FallbackReason != fallbackEmptyToolset || outcome.Answer != stubFallbackAnswer {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestPlannerAddsToolUsage(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"ask","action":{"tool_name":"stripe_balance","tool_params":{"month":"2025-03"}}}`,
		`{"is_success":true,"final_answer":"ok"}`,
	}}
	set := balanceToolset(t, "stripe", func(context.Context, any, map[string]any) (any, error) {
		return usageResult{Value: "v"}, nil
	})
	planner := NewPlanner("stripe", gen, []*tool.ToolSet{set}, nil, PlannerConfig{})

	outcome, err := planner.Run(context.Background(), "p1", "q", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Usage.InputTokens != 120 {
		t.Fatalf("expected tool usage added, got %+v", outcome.Usage)
	}
}

func TestPlannerFallbackErrorPropagates(t *testing.T) {
	failing := func(context.Context, string, string, []domain.Turn) (any, domain.TokenUsage, error) {
		return nil, domain.TokenUsage{}, errors.New("search down")
	}
	planner := NewPlanner("xero", &scriptedGenerator{}, nil, failing, PlannerConfig{})
	if _, err := planner.Run(context.Background(), "p1", "q", nil); err == nil {
		t.Fatalf("expected fallback error")
	}
}
