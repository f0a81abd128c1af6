package service

import (
	"context"
	"errors"
	"fmt"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/gateway"
	"commerce-engine/internal/models"
	"commerce-engine/internal/util"

	"go.uber.org/zap"
)

// SettlementOrchestrator applies gateway outcomes relayed through Kafka. Each
// event is handled at most once; delivery is at least once.
type SettlementOrchestrator struct {
	events   EventLog
	payments *PaymentService
	logger   *zap.Logger
}

// NewSettlementOrchestrator creates a new settlement orchestrator
func NewSettlementOrchestrator(events EventLog, payments *PaymentService) *SettlementOrchestrator {
	return &SettlementOrchestrator{
		events:   events,
		payments: payments,
		logger:   util.GetLogger(),
	}
}

// HandlePaymentCaptured handles a captured payment event
func (so *SettlementOrchestrator) HandlePaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	ctx, span := util.StartSpan(ctx, "SettlementOrchestrator.HandlePaymentCaptured")
	defer span.End()

	so.logger.Info("Handling payment capture",
		zap.String("event_id", event.EventID),
		zap.String("gateway_order_id", event.GatewayOrderID))

	return so.settle(ctx, event.BaseEvent, &gateway.Outcome{
		EventID:          event.EventID,
		Kind:             gateway.OutcomeCaptured,
		GatewayOrderID:   event.GatewayOrderID,
		GatewayPaymentID: event.GatewayPaymentID,
		Signature:        event.Signature,
		PaymentMethod:    event.PaymentMethod,
		Amount:           event.Amount,
	})
}

// HandlePaymentFailed handles a failed payment event; the order is cancelled and its stock released
func (so *SettlementOrchestrator) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SettlementOrchestrator.HandlePaymentFailed")
	defer span.End()

	so.logger.Warn("Handling payment failure",
		zap.String("event_id", event.EventID),
		zap.String("gateway_order_id", event.GatewayOrderID),
		zap.String("code", event.Code))

	return so.settle(ctx, event.BaseEvent, &gateway.Outcome{
		EventID:        event.EventID,
		Kind:           gateway.OutcomeFailed,
		GatewayOrderID: event.GatewayOrderID,
		Code:           event.Code,
		Description:    event.Description,
	})
}

func (so *SettlementOrchestrator) settle(ctx context.Context, base models.BaseEvent, outcome *gateway.Outcome) error {
	processed, err := so.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := so.payments.ApplyOutcome(ctx, outcome); err != nil {
		if !permanent(err) {
			return err
		}
		// Redelivery cannot change the answer.
		so.logger.Warn("Dropping gateway outcome",
			zap.String("event_id", base.EventID),
			zap.String("gateway_order_id", outcome.GatewayOrderID),
			zap.Error(err))
	}

	if err := so.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation)
}
