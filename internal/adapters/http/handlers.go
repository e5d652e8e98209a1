package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req domain.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := rt.deps.Dispatcher.Handle(r.Context(), req)
	if err != nil {
		rt.fail(w, r, "chat", err)
		return
	}

	slog.Info("chat_completed",
		"request_id", requestIDFromContext(r.Context()),
		"project_id", req.ProjectID,
		"escalated", result.Escalated,
		"agents", len(result.AgentResponses),
		"input_tokens", result.TokenUsage.InputTokens,
		"output_tokens", result.TokenUsage.OutputTokens,
	)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": rt.deps.Catalog.Agents()})
}

type usageResponse struct {
	ProjectID string              `json:"project_id"`
	Agents    []domain.AgentUsage `json:"agents"`
	Total     domain.TokenUsage   `json:"total"`
}

func (rt *Router) projectUsage(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	usage, err := rt.deps.Usage.ListUsage(r.Context(), projectID)
	if err != nil {
		rt.fail(w, r, "project_usage", err)
		return
	}

	resp := usageResponse{ProjectID: projectID, Agents: usage}
	if resp.Agents == nil {
		resp.Agents = []domain.AgentUsage{}
	}
	for _, entry := range usage {
		resp.Total = resp.Total.Add(entry.Usage)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) projectExecutions(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer between 1 and 200")
			return
		}
		limit = n
	}

	records, err := rt.deps.Executions.ListExecutions(r.Context(), projectID, limit)
	if err != nil {
		rt.fail(w, r, "project_executions", err)
		return
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "executions": records})
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"op", op,
		"status", status,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", attrs...)
	} else {
		slog.Warn("http_handler_failed", attrs...)
	}
	writeError(w, r, status, err.Error())
}
