package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/ports"
	"github.com/kirillkom/finance-agent-router/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type Dependencies struct {
	Dispatcher ports.QueryDispatcher
	Catalog    ports.AgentCatalog
	Usage      ports.UsageReader
	Executions ports.ExecutionReader
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.HTTPServerMetrics
}

type Options struct {
	MaxInFlight int
	QueueWait   time.Duration
}

type Router struct {
	deps Dependencies
	opts Options
}

func NewRouter(deps Dependencies, opts Options) *Router {
	if opts.QueueWait <= 0 {
		opts.QueueWait = 250 * time.Millisecond
	}
	return &Router{deps: deps, opts: opts}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chat", rt.chat)
	api.HandleFunc("GET /v1/agents", rt.listAgents)
	api.HandleFunc("GET /v1/projects/{project_id}/usage", rt.projectUsage)
	api.HandleFunc("GET /v1/projects/{project_id}/executions", rt.projectExecutions)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		root.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}
	root.Handle("/v1/", backpressureMiddleware(api, rt.opts.MaxInFlight, rt.opts.QueueWait))

	var handler http.Handler = root
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: requestIDFromContext(r.Context())})
}
