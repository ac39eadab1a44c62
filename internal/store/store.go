// Package store defines the persistence port used by the tracker. Every
// method is atomic at single-record grain; nothing here spans records.
package store

import (
	"context"
	"slices"

	"budgeteer/internal/core"
)

// Filter narrows a Find call. Empty fields match everything. Category and
// Transaction also match set membership (Budget.Categories, Ledger.Transactions).
type Filter struct {
	Owner       string
	Card        string
	Budget      string
	Category    string
	Transaction string
}

type (
	Users interface {
		GetUser(ctx context.Context, id string) (core.User, error)
		GetUserByEmail(ctx context.Context, email string) (core.User, error)
		// PutUser returns core.ErrEmailTaken when another user holds the email.
		PutUser(ctx context.Context, u core.User) (core.User, error)
		DeleteUser(ctx context.Context, id string) error
	}

	Cards interface {
		GetCard(ctx context.Context, id string) (core.Card, error)
		PutCard(ctx context.Context, c core.Card) (core.Card, error)
		DeleteCard(ctx context.Context, id string) error
		FindCards(ctx context.Context, f Filter) ([]core.Card, error)
	}

	Categories interface {
		GetCategory(ctx context.Context, id string) (core.Category, error)
		PutCategory(ctx context.Context, c core.Category) (core.Category, error)
		DeleteCategory(ctx context.Context, id string) error
		FindCategories(ctx context.Context, f Filter) ([]core.Category, error)
	}

	Budgets interface {
		GetBudget(ctx context.Context, id string) (core.Budget, error)
		PutBudget(ctx context.Context, b core.Budget) (core.Budget, error)
		DeleteBudget(ctx context.Context, id string) error
		FindBudgets(ctx context.Context, f Filter) ([]core.Budget, error)
	}

	Ledgers interface {
		GetLedger(ctx context.Context, id string) (core.Ledger, error)
		PutLedger(ctx context.Context, l core.Ledger) (core.Ledger, error)
		DeleteLedger(ctx context.Context, id string) error
		FindLedgers(ctx context.Context, f Filter) ([]core.Ledger, error)
	}

	Transactions interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		PutTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error
		FindTransactions(ctx context.Context, f Filter) ([]core.Transaction, error)
	}

	// Store is the full record store. Get and Delete return core.ErrNotFound
	// for unknown ids.
	Store interface {
		Users
		Cards
		Categories
		Budgets
		Ledgers
		Transactions
	}
)

func (f Filter) MatchCard(c core.Card) bool {
	return match(f.Owner, c.Owner) && match(f.Card, c.ID)
}

func (f Filter) MatchCategory(c core.Category) bool {
	return match(f.Owner, c.Owner) && match(f.Category, c.ID)
}

func (f Filter) MatchBudget(b core.Budget) bool {
	if f.Category != "" && !slices.Contains(b.Categories, f.Category) {
		return false
	}
	return match(f.Owner, b.Owner) && match(f.Card, b.Card) && match(f.Budget, b.ID)
}

func (f Filter) MatchLedger(l core.Ledger) bool {
	if f.Transaction != "" && !slices.Contains(l.Transactions, f.Transaction) {
		return false
	}
	return match(f.Owner, l.Owner)
}

func (f Filter) MatchTransaction(t core.Transaction) bool {
	return match(f.Owner, t.Owner) &&
		match(f.Card, t.Card) &&
		match(f.Budget, t.Budget) &&
		match(f.Category, t.Category) &&
		match(f.Transaction, t.ID)
}

func match(want, got string) bool {
	return want == "" || want == got
}
