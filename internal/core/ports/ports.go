package ports

import (
	"context"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// EventPublisher announces stored execution records.
type EventPublisher interface {
	PublishExecutionRecorded(ctx context.Context, event domain.ExecutionRecordedEvent) error
}

// EventSubscriber consumes execution-recorded events until ctx is done.
type EventSubscriber interface {
	SubscribeExecutionRecorded(ctx context.Context, handler func(context.Context, domain.ExecutionRecordedEvent) error) error
}
