package ports

import (
	"context"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// TextGenerator produces model completions for a conversation.
type TextGenerator interface {
	// GenerateStructured returns text that parses as JSON, or a degraded
	// {"error": ...} payload once malformed-output retries are exhausted.
	GenerateStructured(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error)
	GenerateText(ctx context.Context, turns []domain.Turn, opts domain.GenerateOptions) (domain.Completion, error)
}

// SearchEngine runs constrained search requests against the document index.
type SearchEngine interface {
	Search(ctx context.Context, index string, body map[string]any, opts domain.SearchOptions) (domain.SearchPage, error)
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (domain.SearchPage, error)
	ClearScroll(ctx context.Context, scrollID string) error
	Mapping(ctx context.Context, index string) (map[string]any, error)
}

// ProjectStore reads integration credential flags of a project.
type ProjectStore interface {
	Credentials(ctx context.Context, projectID string) (domain.ProjectCredentials, error)
}

// PromptStore persists and reads conversation prompts. Recent prompts come
// back newest first.
type PromptStore interface {
	ListRecentPrompts(ctx context.Context, conversationID string, limit int) ([]domain.PromptRecord, error)
	SavePrompt(ctx context.Context, record *domain.PromptRecord) error
}

// ExecutionStore persists agent execution records and returns their id.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, record *domain.ExecutionRecord) (string, error)
}

// ExecutionReader lists recent execution records of a project, newest first.
type ExecutionReader interface {
	ListExecutions(ctx context.Context, projectID string, limit int) ([]domain.ExecutionRecord, error)
}

// UsageLedger accumulates token usage per project and agent.
type UsageLedger interface {
	AddUsage(ctx context.Context, projectID, agentName string, usage domain.TokenUsage) error
}

type UsageReader interface {
	ListUsage(ctx context.Context, projectID string) ([]domain.AgentUsage, error)
}

// AgentCatalog lists the agents known to this deployment.
type AgentCatalog interface {
	Agents() []domain.AgentDescriptor
	Agent(name string) (domain.AgentDescriptor, bool)
}
