package services

import (
	"context"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/store"
)

type BudgetInput struct {
	Name        string
	StartDate   core.Date
	EndDate     core.Date
	Amount      core.Money
	Description string
	Card        string
	Categories  []string
}

type BudgetDetail struct {
	Budget     core.Budget
	Card       Ref
	Categories []Ref
	Spent      core.Money
	// Remaining is amount minus in-range spending; it is never stored.
	Remaining core.Money
}

func (in BudgetInput) apply(b *core.Budget) {
	b.Name = in.Name
	b.StartDate = in.StartDate
	b.EndDate = in.EndDate
	b.Amount = in.Amount
	b.Description = in.Description
	b.Card = in.Card
	b.Categories = append([]string(nil), in.Categories...)
}

func (t *Tracker) checkBudget(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := noDuplicates("categories", b.Categories); err != nil {
		return err
	}
	if err := guard.Reference(ctx, "card", core.KindCard, b.Card, b.Owner, t.cardOwner); err != nil {
		return err
	}
	for _, id := range b.Categories {
		if err := guard.Reference(ctx, "categories", core.KindCategory, id, b.Owner, t.categoryOwner); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) CreateBudget(ctx context.Context, session *core.Session, in BudgetInput) (core.Budget, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Budget{}, err
	}
	defer unlock()

	b := core.Budget{ID: core.NewID(), Owner: session.UserID}
	in.apply(&b)
	if err := t.checkBudget(ctx, b); err != nil {
		return core.Budget{}, err
	}
	if _, err := t.store.PutBudget(ctx, b); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	t.mutated(ctx, events.Created, core.KindBudget, b.ID, b.Owner)
	return b, nil
}

func (t *Tracker) GetBudget(ctx context.Context, session *core.Session, id string) (BudgetDetail, error) {
	unlock, err := t.read(session)
	if err != nil {
		return BudgetDetail{}, err
	}
	defer unlock()

	b, err := t.store.GetBudget(ctx, id)
	if err != nil {
		return BudgetDetail{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindBudget, id, b.Owner); err != nil {
		return BudgetDetail{}, err
	}

	d := BudgetDetail{Budget: b}
	card, err := t.store.GetCard(ctx, b.Card)
	if err != nil {
		return BudgetDetail{}, fmt.Errorf("resolve budget card: %w", err)
	}
	d.Card = Ref{ID: card.ID, Name: card.Name}

	for _, catID := range b.Categories {
		c, err := t.store.GetCategory(ctx, catID)
		if err != nil {
			return BudgetDetail{}, fmt.Errorf("resolve budget category %s: %w", catID, err)
		}
		d.Categories = append(d.Categories, Ref{ID: c.ID, Name: c.Name})
	}

	if d.Spent, d.Remaining, err = t.budgetRemaining(ctx, b); err != nil {
		return BudgetDetail{}, err
	}
	return d, nil
}

func (t *Tracker) ListBudgets(ctx context.Context, session *core.Session) ([]core.Budget, error) {
	unlock, err := t.read(session)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.FindBudgets(ctx, store.Filter{Owner: session.UserID})
}

func (t *Tracker) UpdateBudget(ctx context.Context, session *core.Session, id string, in BudgetInput) (core.Budget, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Budget{}, err
	}
	defer unlock()

	b, err := t.store.GetBudget(ctx, id)
	if err != nil {
		return core.Budget{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindBudget, id, b.Owner); err != nil {
		return core.Budget{}, err
	}

	in.apply(&b)
	if err := t.checkBudget(ctx, b); err != nil {
		return core.Budget{}, err
	}
	if _, err := t.store.PutBudget(ctx, b); err != nil {
		return core.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	t.invalidateBudgets(id)
	t.mutated(ctx, events.Updated, core.KindBudget, b.ID, b.Owner)
	return b, nil
}

// DeleteBudget detaches the budget from its transactions before removing it.
func (t *Tracker) DeleteBudget(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := t.store.GetBudget(ctx, id)
	if err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindBudget, id, b.Owner); err != nil {
		return err
	}
	touched, err := t.cascade.DetachBudget(ctx, id)
	if err != nil {
		return err
	}
	if err := t.store.DeleteBudget(ctx, id); err != nil {
		return err
	}
	t.invalidateBudgets(id)
	for _, txID := range touched {
		t.publish(ctx, events.New(events.Updated, core.KindTransaction, txID, b.Owner))
	}
	t.mutated(ctx, events.Deleted, core.KindBudget, id, b.Owner)
	return nil
}
