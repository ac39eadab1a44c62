package services

import (
	"context"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/store"
)

type CardInput struct {
	Name string
}

type CardDetail struct {
	Card             core.Card
	Budgets          []Ref
	TransactionCount int
}

func (t *Tracker) CreateCard(ctx context.Context, session *core.Session, in CardInput) (core.Card, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Card{}, err
	}
	defer unlock()

	c := core.Card{ID: core.NewID(), Owner: session.UserID, Name: in.Name}
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}
	if _, err := t.store.PutCard(ctx, c); err != nil {
		return core.Card{}, fmt.Errorf("create card: %w", err)
	}
	t.mutated(ctx, events.Created, core.KindCard, c.ID, c.Owner)
	return c, nil
}

func (t *Tracker) GetCard(ctx context.Context, session *core.Session, id string) (CardDetail, error) {
	unlock, err := t.read(session)
	if err != nil {
		return CardDetail{}, err
	}
	defer unlock()

	c, err := t.store.GetCard(ctx, id)
	if err != nil {
		return CardDetail{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindCard, id, c.Owner); err != nil {
		return CardDetail{}, err
	}

	budgets, err := t.store.FindBudgets(ctx, store.Filter{Owner: c.Owner, Card: id})
	if err != nil {
		return CardDetail{}, fmt.Errorf("load card budgets: %w", err)
	}
	txs, err := t.store.FindTransactions(ctx, store.Filter{Owner: c.Owner, Card: id})
	if err != nil {
		return CardDetail{}, fmt.Errorf("load card transactions: %w", err)
	}

	d := CardDetail{Card: c, TransactionCount: len(txs)}
	for _, b := range budgets {
		d.Budgets = append(d.Budgets, Ref{ID: b.ID, Name: b.Name})
	}
	return d, nil
}

func (t *Tracker) ListCards(ctx context.Context, session *core.Session) ([]core.Card, error) {
	unlock, err := t.read(session)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.FindCards(ctx, store.Filter{Owner: session.UserID})
}

// UpdateCard renames a card. Owner and balance are not writable.
func (t *Tracker) UpdateCard(ctx context.Context, session *core.Session, id string, in CardInput) (core.Card, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Card{}, err
	}
	defer unlock()

	c, err := t.store.GetCard(ctx, id)
	if err != nil {
		return core.Card{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindCard, id, c.Owner); err != nil {
		return core.Card{}, err
	}

	c.Name = in.Name
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}
	if _, err := t.store.PutCard(ctx, c); err != nil {
		return core.Card{}, fmt.Errorf("update card: %w", err)
	}
	t.mutated(ctx, events.Updated, core.KindCard, c.ID, c.Owner)
	return c, nil
}

// DeleteCard refuses with *core.DependencyExists while transactions or
// budgets reference the card.
func (t *Tracker) DeleteCard(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := t.store.GetCard(ctx, id)
	if err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindCard, id, c.Owner); err != nil {
		return err
	}
	if err := t.cascade.CheckCardDeletable(ctx, id); err != nil {
		return err
	}
	if err := t.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	t.mutated(ctx, events.Deleted, core.KindCard, id, c.Owner)
	return nil
}
