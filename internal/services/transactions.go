package services

import (
	"context"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/store"
)

type TransactionInput struct {
	Card        string
	Budget      string
	Category    string
	Amount      core.Money
	Type        core.TransactionType
	Date        core.Date // zero means now
	Description string
}

type TransactionDetail struct {
	Transaction core.Transaction
	Card        Ref
	Budget      *Ref
	Category    *Ref
	Ledgers     []Ref
}

// TransactionQuery narrows ListTransactions. Empty fields match everything.
type TransactionQuery struct {
	Card     string
	Budget   string
	Category string
}

func (t *Tracker) applyTransaction(in TransactionInput, tx *core.Transaction) {
	tx.Card = in.Card
	tx.Budget = in.Budget
	tx.Category = in.Category
	tx.Amount = in.Amount
	tx.Type = in.Type
	tx.Date = in.Date
	if tx.Date.IsZero() {
		tx.Date = core.Date{Time: t.now().UTC()}
	}
	tx.Description = in.Description
}

func (t *Tracker) checkTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := guard.Reference(ctx, "card", core.KindCard, tx.Card, tx.Owner, t.cardOwner); err != nil {
		return err
	}
	if err := guard.Reference(ctx, "budget", core.KindBudget, tx.Budget, tx.Owner, t.budgetOwner); err != nil {
		return err
	}
	return guard.Reference(ctx, "category", core.KindCategory, tx.Category, tx.Owner, t.categoryOwner)
}

func (t *Tracker) CreateTransaction(ctx context.Context, session *core.Session, in TransactionInput) (core.Transaction, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Transaction{}, err
	}
	defer unlock()

	tx := core.Transaction{ID: core.NewID(), Owner: session.UserID}
	t.applyTransaction(in, &tx)
	if err := t.checkTransaction(ctx, tx); err != nil {
		return core.Transaction{}, err
	}
	if _, err := t.store.PutTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	t.invalidateBudgets(tx.Budget)
	if err := t.recalcCard(ctx, tx.Card); err != nil {
		return tx, err
	}
	t.mutated(ctx, events.Created, core.KindTransaction, tx.ID, tx.Owner)
	return tx, nil
}

func (t *Tracker) GetTransaction(ctx context.Context, session *core.Session, id string) (TransactionDetail, error) {
	unlock, err := t.read(session)
	if err != nil {
		return TransactionDetail{}, err
	}
	defer unlock()

	tx, err := t.store.GetTransaction(ctx, id)
	if err != nil {
		return TransactionDetail{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindTransaction, id, tx.Owner); err != nil {
		return TransactionDetail{}, err
	}

	d := TransactionDetail{Transaction: tx}
	card, err := t.store.GetCard(ctx, tx.Card)
	if err != nil {
		return TransactionDetail{}, fmt.Errorf("resolve transaction card: %w", err)
	}
	d.Card = Ref{ID: card.ID, Name: card.Name}

	if tx.Budget != "" {
		b, err := t.store.GetBudget(ctx, tx.Budget)
		if err != nil {
			return TransactionDetail{}, fmt.Errorf("resolve transaction budget: %w", err)
		}
		d.Budget = &Ref{ID: b.ID, Name: b.Name}
	}
	if tx.Category != "" {
		c, err := t.store.GetCategory(ctx, tx.Category)
		if err != nil {
			return TransactionDetail{}, fmt.Errorf("resolve transaction category: %w", err)
		}
		d.Category = &Ref{ID: c.ID, Name: c.Name}
	}

	ledgers, err := t.store.FindLedgers(ctx, store.Filter{Owner: tx.Owner, Transaction: id})
	if err != nil {
		return TransactionDetail{}, fmt.Errorf("load transaction ledgers: %w", err)
	}
	for _, l := range ledgers {
		d.Ledgers = append(d.Ledgers, Ref{ID: l.ID, Name: l.Name})
	}
	return d, nil
}

func (t *Tracker) ListTransactions(ctx context.Context, session *core.Session, q TransactionQuery) ([]core.Transaction, error) {
	unlock, err := t.read(session)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.FindTransactions(ctx, store.Filter{
		Owner:    session.UserID,
		Card:     q.Card,
		Budget:   q.Budget,
		Category: q.Category,
	})
}

// UpdateTransaction rewrites the transaction and recomputes the balance of
// both the previous and the current card.
func (t *Tracker) UpdateTransaction(ctx context.Context, session *core.Session, id string, in TransactionInput) (core.Transaction, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Transaction{}, err
	}
	defer unlock()

	old, err := t.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindTransaction, id, old.Owner); err != nil {
		return core.Transaction{}, err
	}

	tx := old
	if in.Date.IsZero() {
		in.Date = old.Date
	}
	t.applyTransaction(in, &tx)
	if err := t.checkTransaction(ctx, tx); err != nil {
		return core.Transaction{}, err
	}
	if _, err := t.store.PutTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	t.invalidateBudgets(old.Budget, tx.Budget)
	if err := t.recalcCard(ctx, tx.Card); err != nil {
		return tx, err
	}
	if old.Card != tx.Card {
		if err := t.recalcCard(ctx, old.Card); err != nil {
			return tx, err
		}
	}
	t.mutated(ctx, events.Updated, core.KindTransaction, tx.ID, tx.Owner)
	return tx, nil
}

// DeleteTransaction drops the transaction from every ledger, removes it and
// recomputes its card balance.
func (t *Tracker) DeleteTransaction(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := t.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindTransaction, id, tx.Owner); err != nil {
		return err
	}
	if err := t.cascade.DetachTransaction(ctx, id); err != nil {
		return err
	}
	if err := t.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}

	t.invalidateBudgets(tx.Budget)
	if err := t.recalcCard(ctx, tx.Card); err != nil {
		return err
	}
	t.mutated(ctx, events.Deleted, core.KindTransaction, id, tx.Owner)
	return nil
}
