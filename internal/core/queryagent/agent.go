// Package queryagent runs constrained, project-scoped searches and reduces
// their hits with a local aggregation pipeline.
package queryagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/aggregation"
	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
)

const (
	defaultScrollSize      = 1000
	defaultScrollKeepAlive = 2 * time.Minute
	maxScrollIterations    = 10000
	maxResultRows          = 10
)

type Options struct {
	Model           string
	ReasoningEffort string
	ScrollSize      int
	ScrollKeepAlive time.Duration
}

// Agent serves one catalog agent: its searchable indices, the search
// engine and the model used to design search plans.
type Agent struct {
	name      string
	indices   []domain.IndexMetadata
	search    ports.SearchEngine
	generator ports.TextGenerator
	opts      Options
	now       func() time.Time
}

func New(descriptor domain.AgentDescriptor, search ports.SearchEngine, generator ports.TextGenerator, opts Options) *Agent {
	if opts.Model == "" {
		opts.Model = "gpt-5.1"
	}
	if opts.ReasoningEffort == "" {
		opts.ReasoningEffort = "low"
	}
	if opts.ScrollSize <= 0 {
		opts.ScrollSize = defaultScrollSize
	}
	if opts.ScrollKeepAlive <= 0 {
		opts.ScrollKeepAlive = defaultScrollKeepAlive
	}
	return &Agent{
		name:      descriptor.Name,
		indices:   append([]domain.IndexMetadata(nil), descriptor.Indices...),
		search:    search,
		generator: generator,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) IndexNames() []string {
	names := make([]string, 0, len(a.indices))
	for _, idx := range a.indices {
		names = append(names, idx.Name)
	}
	return names
}

// PerformSearch executes body against index for projectID and runs pipeline
// over the results. List results are clipped to ten rows.
func (a *Agent) PerformSearch(ctx context.Context, projectID, index string, body map[string]any, pipeline []aggregation.Operation) (any, error) {
	if !validIndex(index) {
		return nil, invalidArgument("perform search", fmt.Errorf("invalid or restricted index: %q", index))
	}

	body, err := cloneBody(body)
	if err != nil {
		return nil, invalidArgument("perform search", fmt.Errorf("body must be a JSON object: %w", err))
	}
	body = withProjectFilter(body, projectID)

	mapping, err := a.search.Mapping(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("get mapping for %s: %w", index, err)
	}
	if len(mapping) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "perform search", fmt.Errorf("could not retrieve mapping for index: %s", index))
	}

	body = rewriteTextToKeyword(body, mapping)
	if err := validateBody(body); err != nil {
		return nil, invalidArgument("perform search", err)
	}
	sanitizeDateMath(body)

	result, err := a.searchAndReduce(ctx, index, body, pipeline)
	if err != nil {
		return nil, err
	}
	return clipRows(result), nil
}

func (a *Agent) searchAndReduce(ctx context.Context, index string, body map[string]any, pipeline []aggregation.Operation) (any, error) {
	requested, hasSize := body["size"]
	delete(body, "size")

	if hasSize {
		if n, _ := asInt(requested); n == 0 {
			zero := 0
			page, err := a.search.Search(ctx, index, body, domain.SearchOptions{Size: &zero})
			if err != nil {
				return nil, fmt.Errorf("search %s: %w", index, err)
			}
			if page.Aggregations != nil {
				return aggregation.Run(pipeline, flattenAggregations(page.Aggregations))
			}
			return aggregation.Run(pipeline, page.Hits)
		}
	}

	pageSize := a.opts.ScrollSize
	if hasSize {
		pageSize, _ = asInt(requested)
	}
	delete(body, "track_total_hits")

	docs, err := a.scrollAll(ctx, index, body, pageSize)
	if err != nil {
		return nil, err
	}
	return aggregation.Run(pipeline, docs)
}

func (a *Agent) scrollAll(ctx context.Context, index string, body map[string]any, pageSize int) ([]map[string]any, error) {
	page, err := a.search.Search(ctx, index, body, domain.SearchOptions{Size: &pageSize, Scroll: a.opts.ScrollKeepAlive})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	docs := append([]map[string]any(nil), page.Hits...)
	scrollID := page.ScrollID

	defer func() {
		if scrollID == "" {
			return
		}
		// the request context may already be done; clearing is best effort
		if err := a.search.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			slog.Warn("clear_scroll_failed", "index", index, "error", err)
		}
	}()

	for i := 0; i < maxScrollIterations && scrollID != ""; i++ {
		next, err := a.search.Scroll(ctx, scrollID, a.opts.ScrollKeepAlive)
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", index, err)
		}
		if next.ScrollID != "" {
			scrollID = next.ScrollID
		}
		if len(next.Hits) == 0 {
			break
		}
		docs = append(docs, next.Hits...)
	}
	return docs, nil
}

func clipRows(result any) any {
	switch rows := result.(type) {
	case []map[string]any:
		if len(rows) > maxResultRows {
			return rows[:maxResultRows]
		}
	case []any:
		if len(rows) > maxResultRows {
			return rows[:maxResultRows]
		}
	}
	return result
}
