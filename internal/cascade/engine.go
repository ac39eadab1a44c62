// Package cascade applies the side effects of deleting a referenced record.
//
// Delete policy per kind:
//
//	user         purge everything the user owns, phase by phase, then the user
//	card         refused while any transaction or budget references it
//	category     detached from transactions and budgets
//	budget       detached from transactions
//	ledger       nothing references a ledger
//	transaction  dropped from every ledger listing it
//
// The engine only touches records; the caller serializes it against readers
// of the same owner.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"budgeteer/internal/core"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
)

type Config struct {
	// MaxAttempts bounds how often one record set is drained before giving up.
	MaxAttempts int
	// Backoff is the pause after the first failed attempt; it doubles per attempt.
	Backoff time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Backoff: 100 * time.Millisecond}
}

type Engine struct {
	store  store.Store
	cfg    Config
	logger *log.Logger
}

func New(s store.Store, cfg Config, logger *log.Logger) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Engine{store: s, cfg: cfg, logger: logger.WithComponent(log.ComponentCascade)}
}

// recordSet is a group of records one cascade step has to get rid of. list
// returns what is still pending; apply handles a single record.
type recordSet struct {
	kind  core.Kind
	list  func(ctx context.Context) ([]string, error)
	apply func(ctx context.Context, id string) error
}

// PurgeUser deletes every record owned by userID and then the user. Record
// sets in one phase are drained concurrently; a phase completes before the
// next one starts. When any set cannot be drained the user is kept and a
// *core.PartialCascadeFailure lists everything still present.
func (e *Engine) PurgeUser(ctx context.Context, userID string) error {
	phases := e.userPhases(userID)

	for i, phase := range phases {
		var (
			mu        sync.Mutex
			remaining = map[core.Kind][]string{}
			g         errgroup.Group
		)
		for _, set := range phase {
			g.Go(func() error {
				left, err := e.drain(ctx, set)
				if err != nil {
					mu.Lock()
					remaining[set.kind] = left
					mu.Unlock()
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			for _, later := range phases[i+1:] {
				for _, set := range later {
					if ids, lerr := set.list(ctx); lerr == nil && len(ids) > 0 {
						remaining[set.kind] = ids
					}
				}
			}
			remaining[core.KindUser] = []string{userID}
			e.logger.ErrorContext(ctx, "User purge incomplete",
				log.NewFields().WithRecord(string(core.KindUser), userID, userID).
					WithOperation(log.OpPurge).WithError(err).ToSlice()...)
			return &core.PartialCascadeFailure{UserID: userID, Remaining: remaining, Cause: err}
		}
		e.logger.DebugContext(ctx, "Purge phase complete", log.FieldPhase, i+1, log.FieldOwnerID, userID)
	}

	user := recordSet{
		kind: core.KindUser,
		list: func(ctx context.Context) ([]string, error) {
			if _, err := e.store.GetUser(ctx, userID); err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return []string{userID}, nil
		},
		apply: e.store.DeleteUser,
	}
	if _, err := e.drain(ctx, user); err != nil {
		return &core.PartialCascadeFailure{
			UserID:    userID,
			Remaining: map[core.Kind][]string{core.KindUser: {userID}},
			Cause:     err,
		}
	}

	e.logger.InfoContext(ctx, "User purged",
		log.NewFields().WithRecord(string(core.KindUser), userID, userID).WithOperation(log.OpPurge).ToSlice()...)
	return nil
}

func (e *Engine) userPhases(userID string) [][]recordSet {
	owned := store.Filter{Owner: userID}
	return [][]recordSet{
		{
			{
				kind:  core.KindTransaction,
				list:  idsOf(e.store.FindTransactions, owned, func(t core.Transaction) string { return t.ID }),
				apply: e.store.DeleteTransaction,
			},
			{
				kind:  core.KindLedger,
				list:  idsOf(e.store.FindLedgers, owned, func(l core.Ledger) string { return l.ID }),
				apply: e.store.DeleteLedger,
			},
		},
		{
			{
				kind:  core.KindBudget,
				list:  idsOf(e.store.FindBudgets, owned, func(b core.Budget) string { return b.ID }),
				apply: e.store.DeleteBudget,
			},
			{
				kind:  core.KindCategory,
				list:  idsOf(e.store.FindCategories, owned, func(c core.Category) string { return c.ID }),
				apply: e.store.DeleteCategory,
			},
		},
		{
			{
				kind:  core.KindCard,
				list:  idsOf(e.store.FindCards, owned, func(c core.Card) string { return c.ID }),
				apply: e.store.DeleteCard,
			},
		},
	}
}

// CheckCardDeletable refuses with *core.DependencyExists while any
// transaction or budget still references the card.
func (e *Engine) CheckCardDeletable(ctx context.Context, cardID string) error {
	f := store.Filter{Card: cardID}
	txs, err := e.store.FindTransactions(ctx, f)
	if err != nil {
		return fmt.Errorf("find card transactions: %w", err)
	}
	budgets, err := e.store.FindBudgets(ctx, f)
	if err != nil {
		return fmt.Errorf("find card budgets: %w", err)
	}
	if len(txs) == 0 && len(budgets) == 0 {
		return nil
	}

	deps := map[core.Kind][]string{}
	for _, t := range txs {
		deps[core.KindTransaction] = append(deps[core.KindTransaction], t.ID)
	}
	for _, b := range budgets {
		deps[core.KindBudget] = append(deps[core.KindBudget], b.ID)
	}
	return &core.DependencyExists{Kind: core.KindCard, ID: cardID, Dependents: deps}
}

// DetachCategory clears the category from transactions and budgets that
// reference it. It returns the ids of the transactions it rewrote.
func (e *Engine) DetachCategory(ctx context.Context, categoryID string) ([]string, error) {
	var touched []string
	var mu sync.Mutex
	f := store.Filter{Category: categoryID}

	txs := recordSet{
		kind: core.KindTransaction,
		list: idsOf(e.store.FindTransactions, f, func(t core.Transaction) string { return t.ID }),
		apply: func(ctx context.Context, id string) error {
			t, err := e.store.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			t.Category = ""
			if _, err := e.store.PutTransaction(ctx, t); err != nil {
				return err
			}
			mu.Lock()
			touched = append(touched, id)
			mu.Unlock()
			return nil
		},
	}
	budgets := recordSet{
		kind: core.KindBudget,
		list: idsOf(e.store.FindBudgets, f, func(b core.Budget) string { return b.ID }),
		apply: func(ctx context.Context, id string) error {
			b, err := e.store.GetBudget(ctx, id)
			if err != nil {
				return err
			}
			b.Categories = slices.DeleteFunc(b.Categories, func(c string) bool { return c == categoryID })
			_, err = e.store.PutBudget(ctx, b)
			return err
		},
	}

	var g errgroup.Group
	for _, set := range []recordSet{txs, budgets} {
		g.Go(func() error {
			_, err := e.drain(ctx, set)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return touched, fmt.Errorf("detach category %s: %w", categoryID, err)
	}
	e.logger.DebugContext(ctx, "Category detached",
		log.NewFields().WithRecord(string(core.KindCategory), categoryID, "").WithOperation(log.OpDetach).ToSlice()...)
	return touched, nil
}

// DetachBudget clears the budget from every transaction referencing it and
// returns the rewritten transaction ids.
func (e *Engine) DetachBudget(ctx context.Context, budgetID string) ([]string, error) {
	var touched []string
	set := recordSet{
		kind: core.KindTransaction,
		list: idsOf(e.store.FindTransactions, store.Filter{Budget: budgetID}, func(t core.Transaction) string { return t.ID }),
		apply: func(ctx context.Context, id string) error {
			t, err := e.store.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			t.Budget = ""
			if _, err := e.store.PutTransaction(ctx, t); err != nil {
				return err
			}
			touched = append(touched, id)
			return nil
		},
	}
	if _, err := e.drain(ctx, set); err != nil {
		return touched, fmt.Errorf("detach budget %s: %w", budgetID, err)
	}
	return touched, nil
}

// DetachTransaction drops the transaction id from every ledger that lists it.
func (e *Engine) DetachTransaction(ctx context.Context, txID string) error {
	set := recordSet{
		kind: core.KindLedger,
		list: idsOf(e.store.FindLedgers, store.Filter{Transaction: txID}, func(l core.Ledger) string { return l.ID }),
		apply: func(ctx context.Context, id string) error {
			l, err := e.store.GetLedger(ctx, id)
			if err != nil {
				return err
			}
			l.Transactions = slices.DeleteFunc(l.Transactions, func(t string) bool { return t == txID })
			_, err = e.store.PutLedger(ctx, l)
			return err
		},
	}
	if _, err := e.drain(ctx, set); err != nil {
		return fmt.Errorf("detach transaction %s from ledgers: %w", txID, err)
	}
	return nil
}

// drain applies set until list comes back empty or attempts run out. On
// failure it returns the ids still pending together with the last error.
// A failed listing keeps the ids pending from the attempt before it.
func (e *Engine) drain(ctx context.Context, set recordSet) ([]string, error) {
	var (
		pending []string
		lastErr error
	)
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, attempt); err != nil {
				return pending, err
			}
		}

		ids, err := set.list(ctx)
		if err != nil {
			lastErr = fmt.Errorf("list %s: %w", set.kind, err)
			e.warnRetry(ctx, set.kind, attempt, lastErr, len(pending))
			continue
		}
		if len(ids) == 0 {
			return nil, nil
		}

		pending = nil
		lastErr = nil
		for _, id := range ids {
			if err := set.apply(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
				pending = append(pending, id)
				lastErr = fmt.Errorf("%s %s: %w", set.kind, id, err)
			}
		}
		if lastErr == nil {
			return nil, nil
		}
		e.warnRetry(ctx, set.kind, attempt, lastErr, len(pending))
	}

	// Report what is actually left rather than what failed last.
	if ids, err := set.list(ctx); err == nil {
		pending = ids
	}
	return pending, lastErr
}

func (e *Engine) sleep(ctx context.Context, attempt int) error {
	if e.cfg.Backoff <= 0 {
		return ctx.Err()
	}
	d := e.cfg.Backoff << (attempt - 2)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) warnRetry(ctx context.Context, kind core.Kind, attempt int, err error, pending int) {
	e.logger.WarnContext(ctx, "Cascade step failed",
		log.FieldKind, string(kind),
		log.FieldAttempt, attempt,
		log.FieldRemaining, pending,
		log.FieldError, err.Error())
}

func idsOf[T any](find func(context.Context, store.Filter) ([]T, error), f store.Filter, id func(T) string) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		recs, err := find(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, id(r))
		}
		return out, nil
	}
}
