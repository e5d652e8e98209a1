package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/chat":                     "/v1/chat",
		"/v1/projects/p-42/usage":      "/v1/projects/{project_id}/usage",
		"/v1/projects/p-42/executions": "/v1/projects/{project_id}/executions",
		"/v1/projects/p-42":            "/v1/projects/{project_id}",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/projects/p1/usage", nil))

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/projects/{project_id}/usage", "418"))
	if got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}
}

func TestDispatchObserver(t *testing.T) {
	m := NewHTTPServerMetrics("api").Dispatch()

	m.ObservePreRoute(true)
	m.ObservePreRoute(false)
	m.ObserveAgentRun("stripe", "ok", time.Second)
	m.ObservePlanner("stripe", 3, 2, "max_steps")
	m.ObserveTokens("stripe", domain.TokenUsage{InputTokens: 10, OutputTokens: 4})

	if got := testutil.ToFloat64(m.preRouteTotal.WithLabelValues("api", "escalated")); got != 1 {
		t.Fatalf("escalated = %v", got)
	}
	if got := testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("api", "stripe")); got != 2 {
		t.Fatalf("tool calls = %v", got)
	}
	if got := testutil.ToFloat64(m.plannerFallbacks.WithLabelValues("api", "stripe", "max_steps")); got != 1 {
		t.Fatalf("fallbacks = %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("api", "stripe", "in")); got != 10 {
		t.Fatalf("input tokens = %v", got)
	}
	if got := testutil.CollectAndCount(m.tokensTotal); got != 2 {
		t.Fatalf("zero directions must not create series, got %d", got)
	}
}

func TestWorkerMetricsExposition(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartEvent(time.Now().Add(-time.Second))
	m.FinishEvent("plaid", 12, 10*time.Millisecond, nil)
	m.StartEvent(time.Time{})
	m.FinishEvent("plaid", 5, time.Millisecond, errors.New("db down"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`far_worker_usage_events_total{service="worker",status="success"} 1`,
		`far_worker_usage_events_total{service="worker",status="error"} 1`,
		`far_worker_ledger_tokens_total{agent="plaid",service="worker"} 12`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
