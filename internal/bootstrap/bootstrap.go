package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/finance-agent-router/internal/config"
	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
	"github.com/kirillkom/finance-agent-router/internal/core/queryagent"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
	"github.com/kirillkom/finance-agent-router/internal/core/usecase"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/catalog"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/llm"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/llm/openai"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/resilience"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/search/elastic"
	"github.com/kirillkom/finance-agent-router/internal/observability/metrics"
)

// App is the api process: dispatcher plus the read endpoints behind it.
type App struct {
	Config config.Config

	Catalog    *catalog.Catalog
	Dispatcher ports.QueryDispatcher
	Usage      ports.UsageReader
	Executions ports.ExecutionReader
	Metrics    *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	runtime, err := newAgentRuntime(cfg)
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	events, err := newEventBus(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	executions := postgres.NewExecutionRepository(db)

	dispatcher := usecase.NewDispatcherUseCase(usecase.DispatcherDeps{
		Catalog:    runtime.catalog,
		Projects:   postgres.NewProjectRepository(db),
		Prompts:    postgres.NewPromptRepository(db),
		Executions: executions,
		Events:     events,
		Registry:   runtime.registry,
		Generator:  runtime.generator,
		Fallbacks:  runtime.fallbacks,
		Observer:   httpMetrics.Dispatch(),
	}, usecase.DispatcherConfig{
		Concurrency:             cfg.DispatchConcurrency,
		SingleAgentWhenUnscoped: cfg.DispatchSingleAgentWhenUnscoped,
		HistoryLimit:            cfg.HistoryLimit,
		AgentTimeout:            cfg.AgentTimeout,
		Planner: usecase.PlannerConfig{
			MaxSteps:        cfg.PlannerMaxSteps,
			Model:           cfg.LLMModel,
			ReasoningEffort: cfg.LLMReasoningEffort,
		},
		PreRouter: runtime.options,
		Finaliser: runtime.options,
	})

	return &App{
		Config:     cfg,
		Catalog:    runtime.catalog,
		Dispatcher: dispatcher,
		Usage:      postgres.NewUsageRepository(db),
		Executions: executions,
		Metrics:    httpMetrics,
		closeFn: func() {
			events.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Worker is the usage-ledger process.
type Worker struct {
	Config   config.Config
	Events   ports.EventSubscriber
	Recorder ports.UsageRecorder
	Metrics  *metrics.WorkerMetrics

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	events, err := newEventBus(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Worker{
		Config:   cfg,
		Events:   events,
		Recorder: usecase.NewUsageRecorderUseCase(postgres.NewUsageRepository(db)),
		Metrics:  metrics.NewWorkerMetrics("worker"),
		closeFn: func() {
			events.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Toolsets builds the agent toolsets scoped to one project, for processes
// that expose tools directly instead of dispatching questions.
func Toolsets(cfg config.Config, projectID string) ([]*tool.ToolSet, error) {
	runtime, err := newAgentRuntime(cfg)
	if err != nil {
		return nil, err
	}
	scope := tool.Scope{ProjectID: projectID}
	out := make([]*tool.ToolSet, 0, len(runtime.catalog.Agents()))
	for _, agent := range runtime.catalog.Agents() {
		set, err := runtime.registry.Load(agent.Name, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}

type agentRuntime struct {
	catalog   *catalog.Catalog
	registry  *tool.Registry
	generator ports.TextGenerator
	fallbacks map[string]usecase.FallbackFunc
	options   domain.GenerateOptions
}

func newAgentRuntime(cfg config.Config) (*agentRuntime, error) {
	agents, err := catalog.Load(cfg.AgentsManifest)
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}

	search, err := elastic.New(elastic.Config{
		Addresses: cfg.ElasticsearchURLs,
		Username:  cfg.ElasticsearchUsername,
		Password:  cfg.ElasticsearchPassword,
	}, resilience.NewExecutor(resilience.DefaultConfig()))
	if err != nil {
		return nil, fmt.Errorf("init search engine: %w", err)
	}

	registry := tool.NewRegistry()
	fallbacks := make(map[string]usecase.FallbackFunc)
	for _, descriptor := range agents.Agents() {
		agent := queryagent.New(descriptor, search, generator, queryagent.Options{Model: cfg.LLMModel})
		if err := registry.Register(descriptor.Name, agent.ToolsetFactory()); err != nil {
			return nil, err
		}
		fallbacks[descriptor.Name] = queryFallback(agent)
	}

	return &agentRuntime{
		catalog:   agents,
		registry:  registry,
		generator: generator,
		fallbacks: fallbacks,
		options: domain.GenerateOptions{
			Model:           cfg.LLMModel,
			ReasoningEffort: cfg.LLMReasoningEffort,
		},
	}, nil
}

// queryFallback lets the query agent design a search on its own when the
// planner gives up.
func queryFallback(agent *queryagent.Agent) usecase.FallbackFunc {
	return func(ctx context.Context, projectID, query string, _ []domain.Turn) (any, domain.TokenUsage, error) {
		result, err := agent.HandleRequest(ctx, projectID, query)
		if err != nil {
			return nil, domain.TokenUsage{}, err
		}
		return result, result.TokenUsage(), nil
	}
}

func newGenerator(cfg config.Config) (*llm.Generator, error) {
	var provider llm.ChatCompleter
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		provider = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	case "ollama":
		provider = ollama.New(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	retry := resilience.ModelCallConfig()
	if cfg.LLMRetryMax >= 0 {
		retry.RetryMaxAttempts = cfg.LLMRetryMax + 1
	}
	retry.RetryInitialBackoff = cfg.LLMRetryInitial
	retry.RetryMultiplier = cfg.LLMRetryBase

	return llm.NewGenerator(provider, llm.Options{
		Model:             cfg.LLMModel,
		ReasoningEffort:   cfg.LLMReasoningEffort,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
		Retry:             retry,
	}), nil
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func newEventBus(cfg config.Config) (*nats.EventBus, error) {
	events, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	return events, nil
}
