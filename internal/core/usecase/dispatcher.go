package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

const (
	promptRoleResponse = "response"

	agentStatusOK     = "ok"
	agentStatusFailed = "failed"
)

// DispatchObserver receives dispatcher measurements.
type DispatchObserver interface {
	ObservePreRoute(escalated bool)
	ObserveAgentRun(agent, status string, elapsed time.Duration)
	ObservePlanner(agent string, steps, toolCalls int, fallbackReason string)
	ObserveTokens(agent string, usage domain.TokenUsage)
}

type noopObserver struct{}

func (noopObserver) ObservePreRoute(bool) {}
func (noopObserver) ObserveAgentRun(string, string, time.Duration) {}
func (noopObserver) ObservePlanner(string, int, int, string) {}
func (noopObserver) ObserveTokens(string, domain.TokenUsage) {}

type DispatcherConfig struct {
	Concurrency             int
	SingleAgentWhenUnscoped bool
	HistoryLimit            int
	AgentTimeout            time.Duration
	Planner                 PlannerConfig
	PreRouter               domain.GenerateOptions
	Finaliser               domain.GenerateOptions
}

type DispatcherDeps struct {
	Catalog    ports.AgentCatalog
	Projects   ports.ProjectStore
	Prompts    ports.PromptStore
	Executions ports.ExecutionStore
	Events     ports.EventPublisher
	Registry   *tool.Registry
	Generator  ports.TextGenerator
	// Fallbacks maps agent names to the answer path used when their planner gives up.
	Fallbacks map[string]FallbackFunc
	Observer  DispatchObserver
}

type DispatcherUseCase struct {
	deps      DispatcherDeps
	cfg       DispatcherConfig
	preRouter *PreRouter
	finaliser *Finaliser
	mentions  *regexp.Regexp
	now       func() time.Time
}

func NewDispatcherUseCase(deps DispatcherDeps, cfg DispatcherConfig) *DispatcherUseCase {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 3 * time.Minute
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Registry == nil {
		deps.Registry = tool.NewRegistry()
	}
	return &DispatcherUseCase{
		deps:      deps,
		cfg:       cfg,
		preRouter: NewPreRouter(deps.Generator, cfg.PreRouter),
		finaliser: NewFinaliser(deps.Generator, cfg.Finaliser),
		mentions:  mentionPattern(deps.Catalog),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *DispatcherUseCase) Handle(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "dispatch", fmt.Errorf("project_id is required"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "dispatch", fmt.Errorf("query is required"))
	}

	eligible, err := uc.eligibleAgents(ctx, req.ProjectID, req.AgentScope)
	if err != nil {
		return nil, err
	}

	history, err := uc.loadHistory(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.PromptID == "" {
		req.PromptID = uc.savePrompt(ctx, req, domain.HistoryRolePrompt, req.Query)
	}

	query := stripMentions(uc.mentions, req.Query)

	decision, err := uc.preRouter.Decide(ctx, query, eligible, req.AgentScope, domain.CloneTurns(history))
	if err != nil {
		return nil, err
	}
	uc.deps.Observer.ObservePreRoute(decision.Escalate)
	if !decision.Escalate {
		uc.savePrompt(ctx, req, promptRoleResponse, decision.FinalAnswer)
		return &domain.DispatchResult{
			Response:       decision.FinalAnswer,
			TokenUsage:     decision.Usage,
			AgentResponses: []domain.AgentResponse{},
		}, nil
	}

	if len(req.AgentScope) == 0 && uc.cfg.SingleAgentWhenUnscoped && len(eligible) > 1 {
		slog.Info("dispatch_single_agent", "project_id", req.ProjectID, "agent", eligible[0].Name, "eligible", len(eligible))
		eligible = eligible[:1]
	}

	responses := uc.fanOut(ctx, req, query, eligible, history)

	result := &domain.DispatchResult{
		TokenUsage:     decision.Usage,
		AgentResponses: make([]domain.AgentResponse, 0, len(responses)),
		Escalated:      true,
	}
	answers := make([]string, 0, len(responses))
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		answers = append(answers, resp.Response)
		result.TokenUsage = result.TokenUsage.Add(resp.TokenUsage)
		result.AgentResponses = append(result.AgentResponses, *resp)
	}
	result.Response = strings.Join(answers, "\n")

	uc.savePrompt(ctx, req, promptRoleResponse, result.Response)
	return result, nil
}

// fanOut runs the agents concurrently. Slots of failed agents stay nil and
// the order follows eligible.
func (uc *DispatcherUseCase) fanOut(ctx context.Context, req domain.DispatchRequest, query string, agents []domain.AgentDescriptor, history []domain.Turn) []*domain.AgentResponse {
	out := make([]*domain.AgentResponse, len(agents))
	var g errgroup.Group
	g.SetLimit(uc.cfg.Concurrency)
	for i, agent := range agents {
		g.Go(func() error {
			started := time.Now()
			resp, err := uc.runIsolated(ctx, req, query, agent, domain.CloneTurns(history))
			if err != nil {
				uc.deps.Observer.ObserveAgentRun(agent.Name, agentStatusFailed, time.Since(started))
				slog.Error("agent_failed",
					"project_id", req.ProjectID,
					"agent", agent.Name,
					"error", err.Error(),
				)
				return nil
			}
			uc.deps.Observer.ObserveAgentRun(agent.Name, agentStatusOK, time.Since(started))
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// runIsolated turns a panic anywhere in one agent's run into that agent's
// error; the other agents and the request carry on.
func (uc *DispatcherUseCase) runIsolated(ctx context.Context, req domain.DispatchRequest, query string, agent domain.AgentDescriptor, history []domain.Turn) (resp *domain.AgentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent_panicked", "agent", agent.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = nil
			err = domain.WrapError(domain.ErrAgentPipeline, "run agent "+agent.Name, fmt.Errorf("panic: %v", r))
		}
	}()
	return uc.runAgent(ctx, req, query, agent, history)
}

func (uc *DispatcherUseCase) runAgent(ctx context.Context, req domain.DispatchRequest, query string, agent domain.AgentDescriptor, history []domain.Turn) (*domain.AgentResponse, error) {
	runCtx, cancel := context.WithTimeout(ctx, uc.cfg.AgentTimeout)
	defer cancel()

	set, err := uc.deps.Registry.Load(agent.Name, tool.Scope{ProjectID: req.ProjectID})
	if err != nil {
		return nil, err
	}
	planner := NewPlanner(agent.Name, uc.deps.Generator, []*tool.ToolSet{set}, uc.deps.Fallbacks[agent.Name], uc.cfg.Planner)
	outcome, err := planner.Run(runCtx, req.ProjectID, query, domain.CloneTurns(history))
	if err != nil {
		return nil, err
	}
	uc.deps.Observer.ObservePlanner(agent.Name, outcome.Steps, outcome.ToolCalls, outcome.FallbackReason)

	final, err := uc.finaliser.Finalise(runCtx, query, []any{outcome.Answer}, domain.CloneTurns(history))
	if err != nil {
		return nil, err
	}
	usage := outcome.Usage.Add(final.Usage)
	uc.deps.Observer.ObserveTokens(agent.Name, usage)

	record := &domain.ExecutionRecord{
		ID:                uuid.NewString(),
		ProjectID:         req.ProjectID,
		PromptID:          req.PromptID,
		Query:             query,
		AgentName:         agent.Name,
		PlannerResponse:   renderAnswer(outcome.Answer),
		FinaliserResponse: final.Raw,
		TokenUsage:        usage,
		CreatedAt:         uc.now(),
	}
	executionID := record.ID
	if uc.deps.Executions != nil {
		executionID, err = uc.deps.Executions.InsertExecution(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("store execution: %w", err)
		}
	}
	uc.publishRecorded(ctx, executionID, record)

	return &domain.AgentResponse{
		AgentName:   agent.Name,
		Response:    final.Answer,
		IsGraphable: final.IsGraphable,
		GraphData:   final.GraphData,
		ExecutionID: executionID,
		TokenUsage:  usage,
	}, nil
}

func (uc *DispatcherUseCase) publishRecorded(ctx context.Context, executionID string, record *domain.ExecutionRecord) {
	if uc.deps.Events == nil {
		return
	}
	err := uc.deps.Events.PublishExecutionRecorded(ctx, domain.ExecutionRecordedEvent{
		ExecutionID: executionID,
		ProjectID:   record.ProjectID,
		AgentName:   record.AgentName,
		TokenUsage:  record.TokenUsage,
		RecordedAt:  record.CreatedAt,
	})
	if err != nil {
		slog.Warn("execution_event_publish_failed", "execution_id", executionID, "error", err.Error())
	}
}

// eligibleAgents keeps catalog agents whose credential is set on the
// project, narrowed to scope when one is given.
func (uc *DispatcherUseCase) eligibleAgents(ctx context.Context, projectID string, scope []string) ([]domain.AgentDescriptor, error) {
	creds, err := uc.deps.Projects.Credentials(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project credentials: %w", err)
	}

	inScope := make(map[string]struct{}, len(scope))
	for _, name := range scope {
		inScope[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	out := make([]domain.AgentDescriptor, 0)
	for _, agent := range uc.deps.Catalog.Agents() {
		key := agent.CredentialKey
		if key == "" {
			key = domain.DefaultCredentialKeys[agent.Name]
		}
		if key == "" || !creds.Has(key) {
			continue
		}
		if len(inScope) > 0 {
			if _, ok := inScope[strings.ToLower(agent.Name)]; !ok {
				continue
			}
		}
		out = append(out, agent)
	}
	return out, nil
}

// loadHistory returns prior turns oldest first. Explicit messages arrive
// newest first, as do stored prompts.
func (uc *DispatcherUseCase) loadHistory(ctx context.Context, req domain.DispatchRequest) ([]domain.Turn, error) {
	if len(req.Messages) > 0 {
		turns := make([]domain.Turn, 0, len(req.Messages))
		for i := len(req.Messages) - 1; i >= 0; i-- {
			msg := req.Messages[i]
			turns = append(turns, domain.TurnFromHistory(msg.Role, msg.Content))
		}
		return turns, nil
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" || uc.deps.Prompts == nil {
		return nil, nil
	}
	records, err := uc.deps.Prompts.ListRecentPrompts(ctx, conversationID, uc.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]domain.Turn, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		turns = append(turns, domain.TurnFromHistory(records[i].Role, records[i].Content))
	}
	return turns, nil
}

// savePrompt is best effort; it returns the stored id or "".
func (uc *DispatcherUseCase) savePrompt(ctx context.Context, req domain.DispatchRequest, role, content string) string {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" || uc.deps.Prompts == nil {
		return ""
	}
	record := &domain.PromptRecord{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      uc.now(),
	}
	if err := uc.deps.Prompts.SavePrompt(ctx, record); err != nil {
		slog.Warn("prompt_save_failed", "conversation_id", conversationID, "role", role, "error", err.Error())
		return ""
	}
	return record.ID
}

// mentionPattern matches "@name" tokens for catalog agents only, so
// addresses like bob@acme.com pass through.
func mentionPattern(catalog ports.AgentCatalog) *regexp.Regexp {
	if catalog == nil {
		return nil
	}
	names := make([]string, 0)
	for _, agent := range catalog.Agents() {
		if name := strings.TrimSpace(agent.Name); name != "" {
			names = append(names, regexp.QuoteMeta(name))
		}
	}
	if len(names) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(^|\s)@(?:` + strings.Join(names, "|") + `)\b`)
}

func stripMentions(mentions *regexp.Regexp, query string) string {
	if mentions != nil {
		query = mentions.ReplaceAllString(query, "$1")
	}
	return strings.Join(strings.Fields(query), " ")
}

func renderAnswer(answer any) string {
	switch v := answer.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
