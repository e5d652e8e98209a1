package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) AddUsage(ctx context.Context, projectID, agentName string, usage domain.TokenUsage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO project_token_usage (
	project_id, agent_name, input_tokens, output_tokens, reasoning_tokens, cached_input_tokens, executions, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,1,$7)
ON CONFLICT (project_id, agent_name) DO UPDATE SET
	input_tokens = project_token_usage.input_tokens + EXCLUDED.input_tokens,
	output_tokens = project_token_usage.output_tokens + EXCLUDED.output_tokens,
	reasoning_tokens = project_token_usage.reasoning_tokens + EXCLUDED.reasoning_tokens,
	cached_input_tokens = project_token_usage.cached_input_tokens + EXCLUDED.cached_input_tokens,
	executions = project_token_usage.executions + 1,
	updated_at = EXCLUDED.updated_at
`, projectID, agentName, usage.InputTokens, usage.OutputTokens, usage.ReasoningTokens, usage.CachedInputTokens, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

func (r *UsageRepository) ListUsage(ctx context.Context, projectID string) ([]domain.AgentUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT agent_name, input_tokens, output_tokens, reasoning_tokens, cached_input_tokens, executions, updated_at
FROM project_token_usage
WHERE project_id = $1
ORDER BY agent_name ASC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list token usage: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AgentUsage, 0)
	for rows.Next() {
		item := domain.AgentUsage{ProjectID: projectID}
		if err := rows.Scan(
			&item.AgentName,
			&item.Usage.InputTokens,
			&item.Usage.OutputTokens,
			&item.Usage.ReasoningTokens,
			&item.Usage.CachedInputTokens,
			&item.Executions,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token usage: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token usage: %w", err)
	}
	return out, nil
}
