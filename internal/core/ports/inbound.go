package ports

import (
	"context"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// QueryDispatcher is the inbound contract for answering a project question.
type QueryDispatcher interface {
	Handle(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error)
}

// UsageRecorder applies execution events to the usage ledger.
type UsageRecorder interface {
	Record(ctx context.Context, event domain.ExecutionRecordedEvent) error
}
