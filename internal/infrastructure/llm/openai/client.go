// Package openai implements llm.ChatCompleter with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/llm"
)

type Client struct {
	api *goopenai.Client
}

func New(apiKey, baseURL string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{api: goopenai.NewClientWithConfig(cfg)}
}

func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (domain.Completion, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Turns))
	for _, turn := range req.Turns {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	request := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if effort := strings.TrimSpace(req.ReasoningEffort); effort != "" {
		request.ReasoningEffort = effort
	}
	if req.JSONMode {
		request.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return domain.Completion{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, domain.WrapError(domain.ErrMalformedResponse, "openai chat completion", errors.New("no choices returned"))
	}

	return domain.Completion{
		Text:  resp.Choices[0].Message.Content,
		Usage: usageOf(resp.Usage),
	}, nil
}

func usageOf(u goopenai.Usage) domain.TokenUsage {
	usage := domain.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CachedInputTokens = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return usage
}

// classify wraps rate limits, server errors and network failures as
// domain.ErrTemporary so the generator retries them.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status != 0 {
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return domain.WrapError(domain.ErrTemporary, "openai chat completion", err)
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return domain.WrapError(domain.ErrUnauthorized, "openai chat completion", err)
		}
		return fmt.Errorf("openai chat completion: %w", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, "openai chat completion", err)
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
