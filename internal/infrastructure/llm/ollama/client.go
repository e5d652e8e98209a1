package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/llm"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Think    *bool          `json:"think,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete implements llm.ChatCompleter. Ollama has no reasoning effort
// knob; "none" disables thinking, any other value enables it.
func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (domain.Completion, error) {
	model := req.Model
	if strings.TrimSpace(model) == "" || strings.HasPrefix(model, "gpt-") {
		model = c.model
	}

	body := chatRequest{
		Model:    model,
		Messages: make([]chatMessage, 0, len(req.Turns)),
		Stream:   false,
	}
	for _, turn := range req.Turns {
		body.Messages = append(body.Messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	if req.JSONMode {
		body.Format = "json"
	}
	if effort := strings.TrimSpace(req.ReasoningEffort); effort != "" {
		think := effort != "none"
		body.Think = &think
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/api/chat", body, &resp, "chat"); err != nil {
		return domain.Completion{}, wrapTemporaryIfNeeded("ollama chat", err)
	}

	return domain.Completion{
		Text: strings.TrimSpace(resp.Message.Content),
		Usage: domain.TokenUsage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}, nil
}
