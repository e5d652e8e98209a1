package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
	"github.com/kirillkom/finance-agent-router/internal/core/ports"
)

// UsageRecorderUseCase folds execution-recorded events into the usage ledger.
type UsageRecorderUseCase struct {
	ledger ports.UsageLedger
}

func NewUsageRecorderUseCase(ledger ports.UsageLedger) *UsageRecorderUseCase {
	return &UsageRecorderUseCase{ledger: ledger}
}

func (uc *UsageRecorderUseCase) Record(ctx context.Context, event domain.ExecutionRecordedEvent) error {
	if strings.TrimSpace(event.ProjectID) == "" || strings.TrimSpace(event.AgentName) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record usage", fmt.Errorf("event %s lacks project or agent", event.ExecutionID))
	}
	if event.TokenUsage.IsZero() {
		return nil
	}
	if err := uc.ledger.AddUsage(ctx, event.ProjectID, event.AgentName, event.TokenUsage); err != nil {
		return fmt.Errorf("add usage for %s/%s: %w", event.ProjectID, event.AgentName, err)
	}
	return nil
}
