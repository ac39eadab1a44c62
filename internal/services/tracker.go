// Package services exposes the owner-scoped operations of the tracker.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"budgeteer/internal/cache"
	"budgeteer/internal/cascade"
	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
)

// Ref is the summary of a referenced record shown in detail views.
type Ref struct {
	ID   string
	Name string
}

type Options struct {
	Cascade   cascade.Config
	Publisher events.Publisher
	Logger    *log.Logger
	// CacheSize and CacheTTL bound the budget remaining cache.
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// Tracker runs every operation on behalf of an explicit session. Mutations
// take the owner's write lock, reads take its read lock, so in-process
// readers never see a cascade half applied.
type Tracker struct {
	store     store.Store
	cascade   *cascade.Engine
	publisher events.Publisher
	logger    *log.Logger
	audit     *log.StructuredLogger
	remaining *cache.LRUCache[core.Money]
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func New(s store.Store, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cascade.MaxAttempts == 0 {
		opts.Cascade = cascade.DefaultConfig()
	}
	logger := opts.Logger.WithComponent(log.ComponentTracker)

	return &Tracker{
		store:     s,
		cascade:   cascade.New(s, opts.Cascade, opts.Logger),
		publisher: opts.Publisher,
		logger:    logger,
		audit:     log.NewStructuredLogger(logger),
		remaining: cache.NewLRUCache[core.Money](opts.CacheSize, opts.CacheTTL),
		now:       opts.Now,
		locks:     make(map[string]*sync.RWMutex),
	}
}

// RemainingCache exposes the budget remaining cache for sweeping.
func (t *Tracker) RemainingCache() cache.Cleaner {
	return t.remaining
}

// Cascade returns the engine used for deletes.
func (t *Tracker) Cascade() *cascade.Engine {
	return t.cascade
}

func (t *Tracker) ownerLock(owner string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[owner]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[owner] = l
	}
	return l
}

// forgetOwner drops the lock of a purged user. Callers hold that lock.
func (t *Tracker) forgetOwner(owner string) {
	t.mu.Lock()
	delete(t.locks, owner)
	t.mu.Unlock()
}

// write locks the session owner for a mutation.
func (t *Tracker) write(session *core.Session) (unlock func(), err error) {
	if session == nil || session.UserID == "" {
		return nil, &core.AuthorizationError{}
	}
	l := t.ownerLock(session.UserID)
	l.Lock()
	return l.Unlock, nil
}

func (t *Tracker) read(session *core.Session) (unlock func(), err error) {
	if session == nil || session.UserID == "" {
		return nil, &core.AuthorizationError{}
	}
	l := t.ownerLock(session.UserID)
	l.RLock()
	return l.RUnlock, nil
}

func (t *Tracker) publish(ctx context.Context, e events.Event) {
	if err := t.publisher.Publish(ctx, e); err != nil {
		t.logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventType, string(e.Type), log.FieldRecordID, e.ID, log.FieldError, err.Error())
	}
}

func (t *Tracker) mutated(ctx context.Context, typ events.Type, kind core.Kind, id, owner string) {
	op := log.OpCreate
	switch typ {
	case events.Updated:
		op = log.OpUpdate
	case events.Deleted:
		op = log.OpDelete
	}
	t.audit.LogMutation(ctx, op, string(kind), id, owner)
	t.publish(ctx, events.New(typ, kind, id, owner))
}

// recalcCard recomputes a card balance from the full transaction set of that
// card and stores it.
func (t *Tracker) recalcCard(ctx context.Context, cardID string) error {
	card, err := t.store.GetCard(ctx, cardID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load card %s: %w", cardID, err)
	}
	txs, err := t.store.FindTransactions(ctx, store.Filter{Card: cardID})
	if err != nil {
		return fmt.Errorf("load transactions of card %s: %w", cardID, err)
	}

	balance := core.CardBalance(cardID, txs)
	if balance == card.Balance {
		return nil
	}
	card.Balance = balance
	if _, err := t.store.PutCard(ctx, card); err != nil {
		return fmt.Errorf("store balance of card %s: %w", cardID, err)
	}

	t.logger.DebugContext(ctx, "Card balance recalculated",
		log.NewFields().WithRecord(string(core.KindCard), cardID, card.Owner).
			WithOperation(log.OpRecalc).WithAmount(balance.Cents).ToSlice()...)
	t.publish(ctx, events.New(events.BalanceChanged, core.KindCard, cardID, card.Owner).
		With(events.DetailBalanceCents, strconv.FormatInt(balance.Cents, 10)))
	return nil
}

// RecalculateCard repairs a card balance. It is idempotent and used by the
// reconciliation worker.
func (t *Tracker) RecalculateCard(ctx context.Context, cardID string) error {
	card, err := t.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	l := t.ownerLock(card.Owner)
	l.Lock()
	defer l.Unlock()
	return t.recalcCard(ctx, cardID)
}

// invalidateBudgets drops cached remaining values of every budget named.
func (t *Tracker) invalidateBudgets(ids ...string) {
	for _, id := range ids {
		if id != "" {
			t.remaining.Delete(id)
		}
	}
}

func (t *Tracker) budgetRemaining(ctx context.Context, b core.Budget) (spent, remaining core.Money, err error) {
	if cached, ok := t.remaining.Get(b.ID); ok {
		return b.Amount.Sub(cached), cached, nil
	}
	txs, err := t.store.FindTransactions(ctx, store.Filter{Budget: b.ID})
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("load budget transactions: %w", err)
	}
	remaining = core.BudgetRemaining(b, txs)
	t.remaining.Set(b.ID, remaining)
	return core.BudgetSpent(b, txs), remaining, nil
}

// Owner lookups for reference checks.

func (t *Tracker) cardOwner(ctx context.Context, id string) (string, error) {
	c, err := t.store.GetCard(ctx, id)
	return c.Owner, err
}

func (t *Tracker) categoryOwner(ctx context.Context, id string) (string, error) {
	c, err := t.store.GetCategory(ctx, id)
	return c.Owner, err
}

func (t *Tracker) budgetOwner(ctx context.Context, id string) (string, error) {
	b, err := t.store.GetBudget(ctx, id)
	return b.Owner, err
}

func (t *Tracker) transactionOwner(ctx context.Context, id string) (string, error) {
	tx, err := t.store.GetTransaction(ctx, id)
	return tx.Owner, err
}

func noDuplicates(field string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return &core.ValidationError{Field: field, Reason: "duplicate id " + id}
		}
		seen[id] = struct{}{}
	}
	return nil
}
