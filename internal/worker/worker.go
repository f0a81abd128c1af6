package worker

import (
	"context"
	"time"

	"commerce-engine/internal/broker"
	"commerce-engine/internal/service"
	"commerce-engine/internal/util"

	"go.uber.org/zap"
)

// MessageSource is the part of broker.Consumer the settlement worker needs.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// SettlementWorker applies relayed gateway callbacks to payments and orders
type SettlementWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(consumer MessageSource, orchestrator *service.SettlementOrchestrator) *SettlementWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentCaptured(orchestrator.HandlePaymentCaptured)
	eventHandler.OnPaymentFailed(orchestrator.HandlePaymentFailed)

	return &SettlementWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting settlement worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	w.logger.Info("Stopping settlement worker")
	return w.consumer.Close()
}

// Sweeper expires stale carts in batches.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// CartSweeper moves ACTIVE carts past their expiry to EXPIRED on a fixed interval.
type CartSweeper struct {
	carts    Sweeper
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewCartSweeper creates a new cart sweeper
func NewCartSweeper(carts Sweeper, interval time.Duration, batch int) *CartSweeper {
	if batch <= 0 {
		batch = 100
	}
	return &CartSweeper{
		carts:    carts,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Start sweeps once per interval until ctx is cancelled.
func (cs *CartSweeper) Start(ctx context.Context) error {
	cs.logger.Info("Starting cart sweeper", zap.Duration("interval", cs.interval))

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cs.logger.Info("Stopping cart sweeper")
			return ctx.Err()
		case <-ticker.C:
			cs.SweepOnce(ctx)
		}
	}
}

// SweepOnce drains expired carts a batch at a time and returns how many it expired.
func (cs *CartSweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := cs.carts.SweepExpired(ctx, cs.batch)
		if err != nil {
			cs.logger.Error("Cart sweep failed", zap.Error(err))
			break
		}
		total += n
		if n < cs.batch {
			break
		}
	}
	if total > 0 {
		cs.logger.Info("Expired carts", zap.Int("count", total))
	}
	return total
}
