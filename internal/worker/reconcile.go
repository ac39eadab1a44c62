// Package worker consumes tracker events and repairs state that a request
// could not finish: incomplete user purges and drifted card balances.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
)

// Reconciler is the subset of the tracker the worker drives.
type Reconciler interface {
	ResumePurge(ctx context.Context, userID string) error
	RecalculateCard(ctx context.Context, cardID string) error
}

type ReconcileWorker struct {
	tracker Reconciler
	cards   store.Cards
	logger  *log.Logger
	// retryDelay is waited before a failed event is handed back for redelivery.
	retryDelay time.Duration
}

func NewReconcileWorker(tracker Reconciler, cards store.Cards, retryDelay time.Duration, logger *log.Logger) *ReconcileWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ReconcileWorker{
		tracker:    tracker,
		cards:      cards,
		logger:     logger.WithComponent(log.ComponentWorker),
		retryDelay: retryDelay,
	}
}

// HandleEvent processes one event. A returned error asks the broker to
// redeliver it.
func (w *ReconcileWorker) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.PurgeIncomplete:
		return w.resumePurge(ctx, e)
	case events.BalanceChanged:
		return w.verifyBalance(ctx, e)
	default:
		w.logger.DebugContext(ctx, "Ignoring event", log.FieldEventType, string(e.Type), log.FieldRecordID, e.ID)
		return nil
	}
}

func (w *ReconcileWorker) resumePurge(ctx context.Context, e events.Event) error {
	w.logger.InfoContext(ctx, "Resuming user purge",
		log.FieldRecordID, e.ID,
		log.FieldRemaining, e.Detail[events.DetailRemaining])

	err := w.tracker.ResumePurge(ctx, e.ID)
	if err == nil {
		w.logger.InfoContext(ctx, "User purge completed", log.FieldRecordID, e.ID)
		return nil
	}

	var partial *core.PartialCascadeFailure
	if errors.As(err, &partial) {
		w.logger.ErrorContext(ctx, "User purge still incomplete",
			log.FieldRecordID, e.ID,
			log.FieldRemaining, len(partial.RemainingIDs()),
			log.FieldError, err.Error())
	} else {
		w.logger.ErrorContext(ctx, "User purge failed", log.FieldRecordID, e.ID, log.FieldError, err.Error())
	}
	w.pause(ctx)
	return fmt.Errorf("resume purge of user %s: %w", e.ID, err)
}

func (w *ReconcileWorker) verifyBalance(ctx context.Context, e events.Event) error {
	err := w.tracker.RecalculateCard(ctx, e.ID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "Balance verification failed", log.FieldRecordID, e.ID, log.FieldError, err.Error())
		w.pause(ctx)
		return fmt.Errorf("recalculate card %s: %w", e.ID, err)
	}
	return nil
}

// ReconcileBalances recomputes every stored card balance. It is the backup
// for balance events that were never delivered and runs at startup and on a
// timer.
func (w *ReconcileWorker) ReconcileBalances(ctx context.Context) error {
	cards, err := w.cards.FindCards(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}
	if len(cards) == 0 {
		return nil
	}

	failed := 0
	for _, c := range cards {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.tracker.RecalculateCard(ctx, c.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			w.logger.ErrorContext(ctx, "Failed to reconcile card", log.FieldRecordID, c.ID, log.FieldError, err.Error())
			failed++
		}
	}

	w.logger.InfoContext(ctx, "Balance reconciliation completed",
		"total", len(cards),
		"errors", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d cards failed to reconcile", failed, len(cards))
	}
	return nil
}

func (w *ReconcileWorker) pause(ctx context.Context) {
	if w.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
