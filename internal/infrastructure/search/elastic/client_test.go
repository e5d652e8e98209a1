package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/resilience"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{Addresses: []string{server.URL}}, resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		Jitter:              func() float64 { return 0 },
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client, &calls
}

func TestSearchSendsSizeAndScroll(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"_scroll_id":"abc","hits":{"hits":[{"_source":{"amount":1}}]},"aggregations":{"total":{"value":3}}}`)
	})

	size := 1000
	page, err := client.Search(context.Background(), "stripe_charges", map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
	}, domain.SearchOptions{Size: &size, Scroll: 2 * time.Minute})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.ScrollID != "abc" || len(page.Hits) != 1 || page.Aggregations["total"] == nil {
		t.Fatalf("unexpected page %+v", page)
	}

	call := (*calls)[0]
	if call.path != "/stripe_charges/_search" {
		t.Fatalf("unexpected request %s %s", call.method, call.path)
	}
	if !strings.Contains(call.query, "size=1000") || !strings.Contains(call.query, "scroll=") {
		t.Fatalf("expected size and scroll params, got %q", call.query)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(call.body), &sent); err != nil || sent["query"] == nil {
		t.Fatalf("unexpected body %q", call.body)
	}
}

func TestSearchClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   error
		calls  int
	}{
		{status: http.StatusBadRequest, kind: domain.ErrInvalidArgument, calls: 1},
		{status: http.StatusUnauthorized, kind: domain.ErrUnauthorized, calls: 1},
		{status: http.StatusTooManyRequests, kind: domain.ErrTemporary, calls: 2},
		{status: http.StatusServiceUnavailable, kind: domain.ErrTemporary, calls: 2},
	}
	for _, tc := range cases {
		client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"type":"x"}}`)
		})
		_, err := client.Search(context.Background(), "idx", map[string]any{}, domain.SearchOptions{})
		if !domain.IsKind(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
		if len(*calls) != tc.calls {
			t.Fatalf("status %d: expected %d attempts, got %d", tc.status, tc.calls, len(*calls))
		}
	}
}

func TestScrollAndClear(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"succeeded":true,"num_freed":0}`)
			return
		}
		_, _ = io.WriteString(w, `{"_scroll_id":"next","hits":{"hits":[]}}`)
	})

	page, err := client.Scroll(context.Background(), "abc", time.Minute)
	if err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	if page.ScrollID != "next" || len(page.Hits) != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
	if !strings.HasPrefix((*calls)[0].path, "/_search/scroll") {
		t.Fatalf("unexpected scroll path %s", (*calls)[0].path)
	}

	if err := client.ClearScroll(context.Background(), "next"); err != nil {
		t.Fatalf("ClearScroll() error = %v", err)
	}
	if err := client.ClearScroll(context.Background(), ""); err != nil {
		t.Fatalf("ClearScroll(empty) error = %v", err)
	}
	if len(*calls) != 2 {
		t.Fatalf("empty scroll id must not hit the server, calls=%d", len(*calls))
	}
}

func TestMappingUnwrapsIndex(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"stripe_charges_v2":{"mappings":{"properties":{"amount":{"type":"double"}}}}}`)
	})

	mapping, err := client.Mapping(context.Background(), "stripe_charges")
	if err != nil {
		t.Fatalf("Mapping() error = %v", err)
	}
	props, ok := mapping["properties"].(map[string]any)
	if !ok || props["amount"] == nil {
		t.Fatalf("unexpected mapping %+v", mapping)
	}
	if (*calls)[0].path != "/stripe_charges/_mapping" {
		t.Fatalf("unexpected mapping path %s", (*calls)[0].path)
	}
}

func TestMappingMissingIndex(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception"}}`)
	})

	_, err := client.Mapping(context.Background(), "ghost")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
