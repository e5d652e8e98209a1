package queryagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/finance-agent-router/internal/core/aggregation"
	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/tool"
)

type fakeSearch struct {
	mapping  map[string]any
	first    domain.SearchPage
	scrolls  []domain.SearchPage
	bodies   []map[string]any
	opts     []domain.SearchOptions
	scrolled int
	cleared  []string
}

func (f *fakeSearch) Search(_ context.Context, _ string, body map[string]any, opts domain.SearchOptions) (domain.SearchPage, error) {
	f.bodies = append(f.bodies, body)
	f.opts = append(f.opts, opts)
	return f.first, nil
}

func (f *fakeSearch) Scroll(_ context.Context, _ string, _ time.Duration) (domain.SearchPage, error) {
	if f.scrolled >= len(f.scrolls) {
		return domain.SearchPage{}, nil
	}
	page := f.scrolls[f.scrolled]
	f.scrolled++
	return page, nil
}

func (f *fakeSearch) ClearScroll(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeSearch) Mapping(context.Context, string) (map[string]any, error) {
	return f.mapping, nil
}

type fakeGenerator struct {
	text  string
	usage domain.TokenUsage
	turns []domain.Turn
}

func (g *fakeGenerator) GenerateStructured(_ context.Context, turns []domain.Turn, _ domain.GenerateOptions) (domain.Completion, error) {
	g.turns = turns
	return domain.Completion{Text: g.text, Usage: g.usage}, nil
}

func (g *fakeGenerator) GenerateText(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error) {
	return g.GenerateStructured(ctx, turns, opts)
}

func stripeAgent(search *fakeSearch, gen *fakeGenerator) *Agent {
	return New(domain.AgentDescriptor{
		Name: "stripe",
		Indices: []domain.IndexMetadata{
			{Name: "stripe_charges", Description: "card charges"},
			{Name: "stripe_customers", Description: "customers"},
		},
	}, search, gen, Options{})
}

func textMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"merchant": map[string]any{
				"type":   "text",
				"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
			},
			"amount": map[string]any{"type": "double"},
		},
	}
}

func hits(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{"_source": map[string]any{"amount": float64(i)}})
	}
	return out
}

func TestPerformSearchAggregationPath(t *testing.T) {
	search := &fakeSearch{
		mapping: textMapping(),
		first: domain.SearchPage{Aggregations: map[string]any{
			"by_merchant": map[string]any{"buckets": []any{
				map[string]any{"key": "acme", "doc_count": float64(3)},
				map[string]any{"key": "globex", "doc_count": float64(2)},
			}},
		}},
	}
	agent := stripeAgent(search, nil)

	body := map[string]any{
		"query": map[string]any{"match": map[string]any{"merchant": "a"}},
		"size":  float64(0),
		"aggs":  map[string]any{"by_merchant": map[string]any{"terms": map[string]any{"field": "merchant"}}},
	}
	got, err := agent.PerformSearch(context.Background(), "p1", "stripe_charges", body,
		[]aggregation.Operation{{Name: aggregation.OpSum, Field: "doc_count"}})
	require.NoError(t, err)

	grouped, ok := got.(*aggregation.Grouped)
	require.True(t, ok, "expected grouped result, got %T", got)
	assert.Equal(t, []string{"all"}, grouped.Keys)
	assert.Equal(t, 5.0, grouped.Values["all"])

	require.Len(t, search.bodies, 1)
	sent := search.bodies[0]
	assert.NotContains(t, sent, "size")
	require.NotNil(t, search.opts[0].Size)
	assert.Equal(t, 0, *search.opts[0].Size)

	filters := sent["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Len(t, filters, 2)
	assert.Equal(t, map[string]any{"term": map[string]any{"project_id": "p1"}}, filters[1])

	terms := sent["aggs"].(map[string]any)["by_merchant"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "merchant.keyword", terms["field"])

	_, touched := body["size"]
	assert.True(t, touched, "caller body must not be mutated")
}

func TestPerformSearchScrollsAndClears(t *testing.T) {
	search := &fakeSearch{
		mapping: textMapping(),
		first:   domain.SearchPage{Hits: hits(2), ScrollID: "s1"},
		scrolls: []domain.SearchPage{
			{Hits: hits(1), ScrollID: "s2"},
			{ScrollID: "s2"},
		},
	}
	agent := stripeAgent(search, nil)

	got, err := agent.PerformSearch(context.Background(), "p1", "stripe_charges", map[string]any{
		"query":            map[string]any{"match_all": map[string]any{}},
		"track_total_hits": true,
		"sort":             []any{map[string]any{"merchant": "asc"}},
	}, []aggregation.Operation{{Name: aggregation.OpCount}})
	require.NoError(t, err)

	grouped := got.(*aggregation.Grouped)
	assert.Equal(t, 3, grouped.Values["all"])
	assert.Equal(t, []string{"s2"}, search.cleared)

	require.NotNil(t, search.opts[0].Size)
	assert.Equal(t, 1000, *search.opts[0].Size)
	assert.Equal(t, 2*time.Minute, search.opts[0].Scroll)
	assert.NotContains(t, search.bodies[0], "track_total_hits")
	assert.Equal(t, []any{map[string]any{"merchant.keyword": "asc"}}, search.bodies[0]["sort"])
}

func TestPerformSearchClipsListResults(t *testing.T) {
	search := &fakeSearch{mapping: textMapping(), first: domain.SearchPage{Hits: hits(15)}}
	agent := stripeAgent(search, nil)

	got, err := agent.PerformSearch(context.Background(), "p1", "stripe_charges",
		map[string]any{"query": map[string]any{"match_all": map[string]any{}}, "size": float64(50)}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 50, *search.opts[0].Size)
}

func TestPerformSearchRejectsUnsafeRequests(t *testing.T) {
	agent := stripeAgent(&fakeSearch{mapping: textMapping()}, nil)
	ctx := context.Background()

	_, err := agent.PerformSearch(ctx, "p1", ".security", map[string]any{}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidArgument), "got %v", err)

	_, err = agent.PerformSearch(ctx, "p1", "stripe_charges", map[string]any{
		"query": map[string]any{"function_score": map[string]any{"script_score": map[string]any{}}},
	}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidArgument), "got %v", err)

	_, err = agent.PerformSearch(ctx, "p1", "stripe_charges", map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  2.5,
	}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidArgument), "got %v", err)
}

func TestPerformSearchRejectsNegativeSize(t *testing.T) {
	search := &fakeSearch{mapping: textMapping()}
	agent := stripeAgent(search, nil)

	_, err := agent.PerformSearch(context.Background(), "p1", "stripe_charges", map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  float64(-5),
	}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidArgument), "got %v", err)
	assert.Empty(t, search.bodies, "a negative size must not reach the engine")
	assert.Zero(t, search.scrolled)
}

func TestSanitizeDateMathPrefixesNow(t *testing.T) {
	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"range": map[string]any{"created": map[string]any{"gte": "/M", "lt": "now"}}},
		}}},
	}
	sanitizeDateMath(body)

	rng := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)["range"].(map[string]any)
	assert.Equal(t, map[string]any{"gte": "now/M", "lt": "now"}, rng["created"])
}

func TestWithProjectFilterIsIdempotent(t *testing.T) {
	body := map[string]any{"query": map[string]any{"bool": map[string]any{
		"filter": map[string]any{"term": map[string]any{"project_id": "p1"}},
	}}}
	withProjectFilter(body, "p1")

	filters := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Len(t, filters, 1)
}

func TestHandleRequestRunsPlan(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"index":    "stripe_charges",
		"body":     map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
		"pipeline": []any{map[string]any{"operation": "count"}},
	})
	plan, _ := json.Marshal(map[string]any{
		"thought":     "count charges",
		"action":      map[string]any{"tool": SearchToolName, "input": string(input)},
		"explanation": "Counts all charges.",
	})
	gen := &fakeGenerator{text: string(plan), usage: domain.TokenUsage{InputTokens: 7}}
	search := &fakeSearch{mapping: textMapping(), first: domain.SearchPage{Hits: hits(4)}}
	agent := stripeAgent(search, gen)

	out, err := agent.HandleRequest(context.Background(), "p9", "how many charges?")
	require.NoError(t, err)
	assert.Empty(t, out.Error)
	assert.Equal(t, "Counts all charges.", out.Explanation)
	assert.Equal(t, 4, out.Result.(*aggregation.Grouped).Values["all"])
	assert.Equal(t, 7, out.TokenUsage().InputTokens)

	require.Len(t, gen.turns, 2)
	assert.Contains(t, gen.turns[0].Content, "stripe_charges")
	assert.Contains(t, gen.turns[1].Content, `"p9"`)
	assert.Contains(t, gen.turns[1].Content, "how many charges?")
}

func TestHandleRequestRejectsUnexpectedTool(t *testing.T) {
	gen := &fakeGenerator{text: `{"action":{"tool":"drop_index","input":{}}}`}
	agent := stripeAgent(&fakeSearch{mapping: textMapping()}, gen)

	out, err := agent.HandleRequest(context.Background(), "p1", "q")
	require.NoError(t, err)
	assert.Contains(t, out.Error, "Unexpected tool requested: drop_index")
	assert.Nil(t, out.Result)
}

func TestToolsetFactoryBindsProject(t *testing.T) {
	search := &fakeSearch{mapping: textMapping(), first: domain.SearchPage{Hits: hits(1)}}
	agent := stripeAgent(search, nil)

	set, err := agent.ToolsetFactory()(tool.Scope{ProjectID: "bound"})
	require.NoError(t, err)
	assert.Equal(t, []string{PlanToolName, SearchToolName}, set.Names())

	searchTool, _ := set.Get(SearchToolName)
	_, err = searchTool.Execute(context.Background(), map[string]any{
		"index":    "stripe_charges",
		"body":     map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
		"pipeline": []any{},
	})
	require.NoError(t, err)
	filters := search.bodies[0]["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Contains(t, filters, map[string]any{"term": map[string]any{"project_id": "bound"}})

	_, err = searchTool.Execute(context.Background(), map[string]any{
		"index": "paypal_payments", "body": map[string]any{}, "pipeline": []any{},
	})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidArgument), "got %v", err)

	empty, err := New(domain.AgentDescriptor{Name: "xero"}, search, nil, Options{}).ToolsetFactory()(tool.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
