package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func TestParsePreRouteDecision(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		escalate bool
		answer   string
	}{
		{name: "direct answer", text: `{"final_answer":"Hi there","escalate":false}`, answer: "Hi there"},
		{name: "string flag", text: `{"final_answer":"Hi","escalate":"False"}`, answer: "Hi"},
		{name: "escalate", text: `{"final_answer":"","escalate":true}`, escalate: true},
		{name: "unparseable", text: `I think you should escalate`, escalate: true},
		{name: "missing flag", text: `{"final_answer":"maybe"}`, escalate: true, answer: "maybe"},
		{name: "empty answer", text: `{"final_answer":"  ","escalate":false}`, escalate: true},
		{name: "degraded payload", text: `{"error":"no JSON object found"}`, escalate: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parsePreRouteDecision(tc.text)
			if got.Escalate != tc.escalate || got.FinalAnswer != tc.answer {
				t.Fatalf("parsePreRouteDecision(%q) = %+v", tc.text, got)
			}
		})
	}
}

func TestParseFinalisedAnswer(t *testing.T) {
	got := parseFinalisedAnswer("```json\n{\"final_answer\":\"**Revenue** grew\",\"is_graphable\":true,\"graph_data\":{\"type\":\"line\"}}\n```")
	if got.Answer != "**Revenue** grew" || !got.IsGraphable || string(got.GraphData) != `{"type":"line"}` {
		t.Fatalf("unexpected parse %+v", got)
	}

	plain := parseFinalisedAnswer("  Revenue grew 4%.  ")
	if plain.Answer != "Revenue grew 4%." || plain.IsGraphable || plain.GraphData != nil {
		t.Fatalf("expected raw text fallback, got %+v", plain)
	}

	notGraphable := parseFinalisedAnswer(`{"final_answer":"x","is_graphable":false,"graph_data":{"type":"bar"}}`)
	if notGraphable.GraphData != nil {
		t.Fatalf("graph data must be dropped when not graphable")
	}
}

type ledgerFake struct {
	calls   int
	project string
	agent   string
	usage   domain.TokenUsage
	err     error
}

func (f *ledgerFake) AddUsage(_ context.Context, projectID, agentName string, usage domain.TokenUsage) error {
	f.calls++
	f.project, f.agent, f.usage = projectID, agentName, usage
	return f.err
}

func TestUsageRecorderRecord(t *testing.T) {
	ledger := &ledgerFake{}
	uc := NewUsageRecorderUseCase(ledger)

	event := domain.ExecutionRecordedEvent{ExecutionID: "e1", ProjectID: "p1", AgentName: "stripe", TokenUsage: domain.TokenUsage{InputTokens: 3}}
	if err := uc.Record(context.Background(), event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ledger.calls != 1 || ledger.project != "p1" || ledger.agent != "stripe" || ledger.usage.InputTokens != 3 {
		t.Fatalf("unexpected ledger call %+v", ledger)
	}

	if err := uc.Record(context.Background(), domain.ExecutionRecordedEvent{ProjectID: "p1", AgentName: "stripe"}); err != nil {
		t.Fatalf("zero usage must be skipped, got %v", err)
	}
	if ledger.calls != 1 {
		t.Fatalf("zero usage reached the ledger")
	}

	err := uc.Record(context.Background(), domain.ExecutionRecordedEvent{AgentName: "stripe", TokenUsage: event.TokenUsage})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	ledger.err = errors.New("db down")
	if err := uc.Record(context.Background(), event); err == nil {
		t.Fatalf("expected ledger error")
	}
}
