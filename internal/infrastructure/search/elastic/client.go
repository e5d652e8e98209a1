package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/resilience"
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Transport http.RoundTripper
}

type Client struct {
	es       *elasticsearch.Client
	executor *resilience.Executor
}

// New builds a client. A nil executor disables retries.
func New(cfg Config, executor *resilience.Executor) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1})
	}
	return &Client{es: es, executor: executor}, nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []map[string]any `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]any `json:"aggregations"`
}

func (c *Client) Search(ctx context.Context, index string, body map[string]any, opts domain.SearchOptions) (domain.SearchPage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.SearchPage{}, domain.WrapError(domain.ErrInvalidArgument, "elasticsearch search", err)
	}

	return resilience.Call(ctx, c.executor, "elasticsearch.search", func(ctx context.Context) (domain.SearchPage, error) {
		search := c.es.Search
		options := []func(*esapi.SearchRequest){
			search.WithContext(ctx),
			search.WithIndex(index),
			search.WithBody(bytes.NewReader(payload)),
		}
		if opts.Size != nil {
			options = append(options, search.WithSize(*opts.Size))
		}
		if opts.Scroll > 0 {
			options = append(options, search.WithScroll(opts.Scroll))
		}
		res, err := search(options...)
		if err != nil {
			return domain.SearchPage{}, classify("elasticsearch search", err)
		}
		return decodePage("elasticsearch search", res)
	}, resilience.RetryOn(domain.ErrTemporary))
}

func (c *Client) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (domain.SearchPage, error) {
	return resilience.Call(ctx, c.executor, "elasticsearch.scroll", func(ctx context.Context) (domain.SearchPage, error) {
		scroll := c.es.Scroll
		res, err := scroll(
			scroll.WithContext(ctx),
			scroll.WithScrollID(scrollID),
			scroll.WithScroll(keepAlive),
		)
		if err != nil {
			return domain.SearchPage{}, classify("elasticsearch scroll", err)
		}
		return decodePage("elasticsearch scroll", res)
	}, resilience.RetryOn(domain.ErrTemporary))
}

func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	if strings.TrimSpace(scrollID) == "" {
		return nil
	}
	clearScroll := c.es.ClearScroll
	res, err := clearScroll(clearScroll.WithContext(ctx), clearScroll.WithScrollID(scrollID))
	if err != nil {
		return classify("elasticsearch clear scroll", err)
	}
	defer res.Body.Close()
	// A scroll that already expired is gone, which is what we wanted.
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return statusError("elasticsearch clear scroll", res)
	}
	return nil
}

// Mapping returns the mappings object of index, without the index-name envelope.
func (c *Client) Mapping(ctx context.Context, index string) (map[string]any, error) {
	return resilience.Call(ctx, c.executor, "elasticsearch.mapping", func(ctx context.Context) (map[string]any, error) {
		get := c.es.Indices.GetMapping
		res, err := get(get.WithContext(ctx), get.WithIndex(index))
		if err != nil {
			return nil, classify("elasticsearch mapping", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return nil, statusError("elasticsearch mapping", res)
		}

		var envelope map[string]struct {
			Mappings map[string]any `json:"mappings"`
		}
		if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
			return nil, domain.WrapError(domain.ErrMalformedResponse, "elasticsearch mapping", err)
		}
		if entry, ok := envelope[index]; ok {
			return entry.Mappings, nil
		}
		// Aliases come back keyed by the concrete index name.
		for _, entry := range envelope {
			return entry.Mappings, nil
		}
		return map[string]any{}, nil
	}, resilience.RetryOn(domain.ErrTemporary))
}

func decodePage(op string, res *esapi.Response) (domain.SearchPage, error) {
	defer res.Body.Close()
	if res.IsError() {
		return domain.SearchPage{}, statusError(op, res)
	}
	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return domain.SearchPage{}, domain.WrapError(domain.ErrMalformedResponse, op, err)
	}
	return domain.SearchPage{
		Hits:         decoded.Hits.Hits,
		Aggregations: decoded.Aggregations,
		ScrollID:     decoded.ScrollID,
	}, nil
}

func statusError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, op, err)
	case res.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrNotFound, op, err)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return domain.WrapError(domain.ErrTemporary, op, err)
	case res.StatusCode == http.StatusBadRequest:
		return domain.WrapError(domain.ErrInvalidArgument, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
