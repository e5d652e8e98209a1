package domain

import "time"

// TokenUsage counts model tokens. Values add across nested calls.
type TokenUsage struct {
	InputTokens       int `json:"input_token_count"`
	OutputTokens      int `json:"output_token_count"`
	ReasoningTokens   int `json:"reasoning_token_count"`
	CachedInputTokens int `json:"cached_input_token_count"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:       u.InputTokens + other.InputTokens,
		OutputTokens:      u.OutputTokens + other.OutputTokens,
		ReasoningTokens:   u.ReasoningTokens + other.ReasoningTokens,
		CachedInputTokens: u.CachedInputTokens + other.CachedInputTokens,
	}
}

func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// Completion is the result of one text-generation call.
type Completion struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// GenerateOptions carries per-call model parameters.
type GenerateOptions struct {
	Model           string
	ReasoningEffort string
}

// AgentUsage is the accumulated ledger entry of one agent in one project.
type AgentUsage struct {
	ProjectID  string     `json:"project_id"`
	AgentName  string     `json:"agent_name"`
	Usage      TokenUsage `json:"token_usage"`
	Executions int64      `json:"executions"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
