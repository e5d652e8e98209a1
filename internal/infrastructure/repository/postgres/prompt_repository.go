package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

type PromptRepository struct {
	db *sql.DB
}

func NewPromptRepository(db *sql.DB) *PromptRepository {
	return &PromptRepository{db: db}
}

func (r *PromptRepository) SavePrompt(ctx context.Context, record *domain.PromptRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO prompts (id, project_id, conversation_id, role, content, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, record.ID, record.ProjectID, record.ConversationID, record.Role, record.Content, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

// ListRecentPrompts returns up to limit entries of a conversation, newest first.
func (r *PromptRepository) ListRecentPrompts(ctx context.Context, conversationID string, limit int) ([]domain.PromptRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, conversation_id, role, content, created_at
FROM prompts
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2
`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent prompts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PromptRecord, 0, limit)
	for rows.Next() {
		var rec domain.PromptRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.ConversationID, &rec.Role, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return out, nil
}
