package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) InsertExecution(ctx context.Context, record *domain.ExecutionRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	usageJSON, err := json.Marshal(record.TokenUsage)
	if err != nil {
		return "", fmt.Errorf("marshal token usage: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO agent_executions (
	id, project_id, prompt_id, query, agent_name, planner_response, finaliser_response, token_usage, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`,
		record.ID, record.ProjectID, nullableString(record.PromptID), record.Query, record.AgentName,
		record.PlannerResponse, record.FinaliserResponse, usageJSON, record.CreatedAt,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert execution: %w", err)
	}
	return id, nil
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, projectID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, COALESCE(prompt_id, ''), query, agent_name, planner_response, finaliser_response, token_usage, created_at
FROM agent_executions
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT $2
`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExecutionRecord, 0)
	for rows.Next() {
		var rec domain.ExecutionRecord
		var usageRaw []byte
		if err := rows.Scan(
			&rec.ID, &rec.ProjectID, &rec.PromptID, &rec.Query, &rec.AgentName,
			&rec.PlannerResponse, &rec.FinaliserResponse, &usageRaw, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if err := json.Unmarshal(usageRaw, &rec.TokenUsage); err != nil {
			return nil, fmt.Errorf("unmarshal token usage: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}
