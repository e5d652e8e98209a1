package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/infrastructure/resilience"
)

const (
	workerQueueGroup = "workers"
	headerEventType  = "Event-Type"
	headerMsgID      = "Nats-Msg-Id"

	eventExecutionRecorded = "execution.recorded"
)

// EventBus carries execution-recorded events between the api and the workers.
type EventBus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*EventBus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("finance-agent-router"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", errString(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &EventBus{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (b *EventBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *EventBus) PublishExecutionRecorded(ctx context.Context, event domain.ExecutionRecordedEvent) error {
	msg, err := encodeExecutionRecorded(b.subject, event)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := b.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded("nats publish", err)
}

// SubscribeExecutionRecorded joins the worker queue group and blocks until
// ctx is done, then drains the subscription.
func (b *EventBus) SubscribeExecutionRecorded(ctx context.Context, handler func(context.Context, domain.ExecutionRecordedEvent) error) error {
	sub, err := b.conn.QueueSubscribe(b.subject, workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeExecutionRecorded(msg)
		if err != nil {
			slog.Error("execution_event_invalid", "subject", msg.Subject, "error", err.Error())
			return
		}
		if err := handler(ctx, event); err != nil {
			slog.Error("execution_event_failed",
				"execution_id", event.ExecutionID,
				"project_id", event.ProjectID,
				"error", err.Error(),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeExecutionRecorded(subject string, event domain.ExecutionRecordedEvent) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode execution event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerEventType, eventExecutionRecorded)
	if event.ExecutionID != "" {
		msg.Header.Set(headerMsgID, event.ExecutionID)
	}
	return msg, nil
}

func decodeExecutionRecorded(msg *nats.Msg) (domain.ExecutionRecordedEvent, error) {
	var event domain.ExecutionRecordedEvent
	if kind := msg.Header.Get(headerEventType); kind != "" && kind != eventExecutionRecorded {
		return event, domain.WrapError(domain.ErrInvalidInput, "decode execution event", fmt.Errorf("unexpected event type %q", kind))
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return event, domain.WrapError(domain.ErrInvalidInput, "decode execution event", err)
	}
	return event, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
