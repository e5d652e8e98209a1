package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS projects").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProjectCredentialsFlags(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProjectRepository(db)

	// columns are sorted: paypal, plaid, quickbooks, stripe, xero
	rows := sqlmock.NewRows([]string{"paypal", "plaid", "quickbooks", "stripe", "xero"}).
		AddRow(false, true, false, true, false)
	mock.ExpectQuery("FROM projects").WithArgs("p1").WillReturnRows(rows)

	creds, err := repo.Credentials(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if !creds.Has("plaid_token") || !creds.Has("stripe_key") || creds.Has("xero_refresh_key") {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProjectCredentialsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProjectRepository(db)

	mock.ExpectQuery("FROM projects").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Credentials(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromptRepositoryListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPromptRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "project_id", "conversation_id", "role", "content", "created_at"}).
		AddRow("2", "p1", "c1", "response", "newer", now).
		AddRow("1", "p1", "c1", "prompt", "older", now.Add(-time.Minute))
	mock.ExpectQuery("FROM prompts").WithArgs("c1", 10).WillReturnRows(rows)

	prompts, err := repo.ListRecentPrompts(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("ListRecentPrompts() error = %v", err)
	}
	if len(prompts) != 2 || prompts[0].Content != "newer" {
		t.Fatalf("expected newest first, got %+v", prompts)
	}

	empty, err := repo.ListRecentPrompts(context.Background(), "c1", 0)
	if err != nil || empty != nil {
		t.Fatalf("zero limit must not query, got %v %v", empty, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPromptRepositorySave(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPromptRepository(db)

	mock.ExpectExec("INSERT INTO prompts").
		WithArgs("id-1", "p1", "c1", "prompt", "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &domain.PromptRecord{ID: "id-1", ProjectID: "p1", ConversationID: "c1", Role: "prompt", Content: "hello"}
	if err := repo.SavePrompt(context.Background(), record); err != nil {
		t.Fatalf("SavePrompt() error = %v", err)
	}
	if record.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecutionRepositoryInsertReturnsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository(db)

	mock.ExpectQuery("INSERT INTO agent_executions").
		WithArgs("e1", "p1", nil, "q", "stripe", "raw", "final", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1"))

	id, err := repo.InsertExecution(context.Background(), &domain.ExecutionRecord{
		ID:                "e1",
		ProjectID:         "p1",
		Query:             "q",
		AgentName:         "stripe",
		PlannerResponse:   "raw",
		FinaliserResponse: "final",
		TokenUsage:        domain.TokenUsage{InputTokens: 4},
	})
	if err != nil {
		t.Fatalf("InsertExecution() error = %v", err)
	}
	if id != "e1" {
		t.Fatalf("expected id e1, got %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecutionRepositoryListDecodesUsage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "project_id", "prompt_id", "query", "agent_name", "planner_response", "finaliser_response", "token_usage", "created_at"}).
		AddRow("e1", "p1", "", "q", "plaid", "raw", "final", []byte(`{"input_token_count":7}`), time.Now())
	mock.ExpectQuery("FROM agent_executions").WithArgs("p1", 20).WillReturnRows(rows)

	records, err := repo.ListExecutions(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(records) != 1 || records[0].TokenUsage.InputTokens != 7 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestUsageRepositoryUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	mock.ExpectExec("ON CONFLICT \\(project_id, agent_name\\) DO UPDATE").
		WithArgs("p1", "stripe", 10, 2, 1, 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AddUsage(context.Background(), "p1", "stripe", domain.TokenUsage{
		InputTokens: 10, OutputTokens: 2, ReasoningTokens: 1, CachedInputTokens: 3,
	})
	if err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUsageRepositoryList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageRepository(db)

	rows := sqlmock.NewRows([]string{"agent_name", "input_tokens", "output_tokens", "reasoning_tokens", "cached_input_tokens", "executions", "updated_at"}).
		AddRow("stripe", 10, 2, 0, 0, 3, time.Now())
	mock.ExpectQuery("FROM project_token_usage").WithArgs("p1").WillReturnRows(rows)

	usage, err := repo.ListUsage(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListUsage() error = %v", err)
	}
	if len(usage) != 1 || usage[0].Executions != 3 || usage[0].Usage.InputTokens != 10 || usage[0].ProjectID != "p1" {
		t.Fatalf("unexpected usage %+v", usage)
	}
}
