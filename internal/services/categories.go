package services

import (
	"context"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/store"
)

type CategoryInput struct {
	Name           string
	Description    string
	BudgetedAmount core.Money
}

type CategoryDetail struct {
	Category core.Category
	// Spent is the expense total booked against the category.
	Spent   core.Money
	Budgets []Ref
}

func (t *Tracker) CreateCategory(ctx context.Context, session *core.Session, in CategoryInput) (core.Category, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Category{}, err
	}
	defer unlock()

	c := core.Category{
		ID:             core.NewID(),
		Owner:          session.UserID,
		Name:           in.Name,
		Description:    in.Description,
		BudgetedAmount: in.BudgetedAmount,
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if _, err := t.store.PutCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	t.mutated(ctx, events.Created, core.KindCategory, c.ID, c.Owner)
	return c, nil
}

func (t *Tracker) GetCategory(ctx context.Context, session *core.Session, id string) (CategoryDetail, error) {
	unlock, err := t.read(session)
	if err != nil {
		return CategoryDetail{}, err
	}
	defer unlock()

	c, err := t.store.GetCategory(ctx, id)
	if err != nil {
		return CategoryDetail{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindCategory, id, c.Owner); err != nil {
		return CategoryDetail{}, err
	}

	txs, err := t.store.FindTransactions(ctx, store.Filter{Owner: c.Owner, Category: id})
	if err != nil {
		return CategoryDetail{}, fmt.Errorf("load category transactions: %w", err)
	}
	budgets, err := t.store.FindBudgets(ctx, store.Filter{Owner: c.Owner, Category: id})
	if err != nil {
		return CategoryDetail{}, fmt.Errorf("load category budgets: %w", err)
	}

	d := CategoryDetail{Category: c, Spent: core.CategorySpent(id, txs)}
	for _, b := range budgets {
		d.Budgets = append(d.Budgets, Ref{ID: b.ID, Name: b.Name})
	}
	return d, nil
}

func (t *Tracker) ListCategories(ctx context.Context, session *core.Session) ([]core.Category, error) {
	unlock, err := t.read(session)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.FindCategories(ctx, store.Filter{Owner: session.UserID})
}

func (t *Tracker) UpdateCategory(ctx context.Context, session *core.Session, id string, in CategoryInput) (core.Category, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Category{}, err
	}
	defer unlock()

	c, err := t.store.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindCategory, id, c.Owner); err != nil {
		return core.Category{}, err
	}

	c.Name = in.Name
	c.Description = in.Description
	c.BudgetedAmount = in.BudgetedAmount
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if _, err := t.store.PutCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	t.mutated(ctx, events.Updated, core.KindCategory, c.ID, c.Owner)
	return c, nil
}

// DeleteCategory detaches the category from transactions and budgets before
// removing it.
func (t *Tracker) DeleteCategory(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := t.store.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindCategory, id, c.Owner); err != nil {
		return err
	}
	touched, err := t.cascade.DetachCategory(ctx, id)
	if err != nil {
		return err
	}
	if err := t.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	for _, txID := range touched {
		t.publish(ctx, events.New(events.Updated, core.KindTransaction, txID, c.Owner))
	}
	t.mutated(ctx, events.Deleted, core.KindCategory, id, c.Owner)
	return nil
}
