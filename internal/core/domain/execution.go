package domain

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is the persisted trace of one agent run for one request.
type ExecutionRecord struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	PromptID          string     `json:"prompt_id,omitempty"`
	Query             string     `json:"query"`
	AgentName         string     `json:"agent_name"`
	PlannerResponse   string     `json:"planner_response"`
	FinaliserResponse string     `json:"finaliser_response"`
	TokenUsage        TokenUsage `json:"token_usage"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ExecutionRecordedEvent is published after an execution record is stored.
type ExecutionRecordedEvent struct {
	ExecutionID string     `json:"execution_id"`
	ProjectID   string     `json:"project_id"`
	AgentName   string     `json:"agent_name"`
	TokenUsage  TokenUsage `json:"token_usage"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

type DispatchRequest struct {
	Query          string           `json:"query"`
	ProjectID      string           `json:"project_id"`
	AgentScope     []string         `json:"agent_scope,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []HistoryMessage `json:"messages,omitempty"`
	PromptID       string           `json:"prompt_id,omitempty"`
}

type AgentResponse struct {
	AgentName   string          `json:"agent_name"`
	Response    string          `json:"response"`
	IsGraphable bool            `json:"is_graphable"`
	GraphData   json.RawMessage `json:"graph_data,omitempty"`
	ExecutionID string          `json:"execution_id"`
	TokenUsage  TokenUsage      `json:"token_usage"`
}

type DispatchResult struct {
	Response       string          `json:"response"`
	TokenUsage     TokenUsage      `json:"token_usage"`
	AgentResponses []AgentResponse `json:"agent_responses"`
	Escalated      bool            `json:"escalated"`
}

// PreRouteDecision is the pre-router verdict on whether agents are needed.
type PreRouteDecision struct {
	FinalAnswer string
	Escalate    bool
	Usage       TokenUsage
}

// FinalisedAnswer is the user-facing answer produced from raw agent output.
type FinalisedAnswer struct {
	Raw         string
	Answer      string
	IsGraphable bool
	GraphData   json.RawMessage
	Usage       TokenUsage
}
