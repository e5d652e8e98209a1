// Package llm adapts chat-completion providers to the text generation port.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/jsonextract"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/resilience"
)

const defaultMalformedRetries = 3

// ChatRequest is one provider round trip.
type ChatRequest struct {
	Model           string
	ReasoningEffort string
	Turns           []domain.Turn
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// ChatCompleter is implemented by provider clients. Rate limits and other
// transient provider failures must be wrapped as domain.ErrTemporary.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (domain.Completion, error)
}

type Options struct {
	Model           string
	ReasoningEffort string

	// RequestsPerSecond paces provider calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	MaxMalformedRetries int
	Retry               resilience.Config
}

// Generator implements ports.TextGenerator on top of a ChatCompleter.
type Generator struct {
	provider ChatCompleter
	opts     Options
	limiter  *rate.Limiter
	executor *resilience.Executor
}

func NewGenerator(provider ChatCompleter, opts Options) *Generator {
	if opts.MaxMalformedRetries <= 0 {
		opts.MaxMalformedRetries = defaultMalformedRetries
	}
	if opts.Retry.RetryMaxAttempts <= 0 {
		opts.Retry = resilience.ModelCallConfig()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Generator{
		provider: provider,
		opts:     opts,
		limiter:  limiter,
		executor: resilience.NewExecutor(opts.Retry),
	}
}

// GenerateStructured asks for a JSON object. Output that holds no parseable
// JSON is requested again; after MaxMalformedRetries attempts the result is
// an {"error": ...} payload carrying the usage of every attempt.
func (g *Generator) GenerateStructured(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error) {
	var total domain.TokenUsage
	var lastErr error

	for attempt := 1; attempt <= g.opts.MaxMalformedRetries; attempt++ {
		completion, err := g.complete(ctx, turns, opts, true)
		if err != nil {
			return domain.Completion{Usage: total}, err
		}
		total = total.Add(completion.Usage)

		text := strings.TrimSpace(completion.Text)
		if text == "" {
			text = "{}"
		}
		if _, err := jsonextract.Extract(text); err != nil {
			lastErr = err
			slog.Warn("structured_response_malformed",
				"attempt", attempt,
				"max_attempts", g.opts.MaxMalformedRetries,
				"error", err,
			)
			continue
		}
		return domain.Completion{Text: text, Usage: total}, nil
	}

	slog.Error("structured_response_retries_exhausted", "error", lastErr)
	payload, _ := json.Marshal(map[string]string{"error": lastErr.Error()})
	return domain.Completion{Text: string(payload), Usage: total}, nil
}

func (g *Generator) GenerateText(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error) {
	return g.complete(ctx, turns, opts, false)
}

func (g *Generator) complete(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions, jsonMode bool) (domain.Completion, error) {
	req := ChatRequest{
		Model:           firstNonEmpty(opts.Model, g.opts.Model),
		ReasoningEffort: firstNonEmpty(opts.ReasoningEffort, g.opts.ReasoningEffort),
		Turns:           turns,
		JSONMode:        jsonMode,
	}

	return resilience.Call(ctx, g.executor, "llm.complete", func(ctx context.Context) (domain.Completion, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return domain.Completion{}, err
		}
		return g.provider.Complete(ctx, req)
	}, resilience.RetryOn(domain.ErrTemporary))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
