package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

type ProjectRepository struct {
	db      *sql.DB
	columns []string
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	columns := make([]string, 0, len(domain.DefaultCredentialKeys))
	for _, column := range domain.DefaultCredentialKeys {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return &ProjectRepository{db: db, columns: columns}
}

// Credentials reports which integration credentials are set for projectID.
// Secret values never leave the database.
func (r *ProjectRepository) Credentials(ctx context.Context, projectID string) (domain.ProjectCredentials, error) {
	checks := make([]string, 0, len(r.columns))
	for _, column := range r.columns {
		checks = append(checks, fmt.Sprintf("COALESCE(%s, '') <> ''", column))
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+strings.Join(checks, ", ")+`
FROM projects
WHERE id = $1
`, projectID)

	flags := make([]bool, len(r.columns))
	dest := make([]any, len(r.columns))
	for i := range flags {
		dest[i] = &flags[i]
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "load project credentials", fmt.Errorf("project %s", projectID))
		}
		return nil, fmt.Errorf("scan project credentials: %w", err)
	}

	creds := make(domain.ProjectCredentials, len(r.columns))
	for i, column := range r.columns {
		creds[column] = flags[i]
	}
	return creds, nil
}
