package services

import (
	"context"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/store"
)

type LedgerInput struct {
	Name         string
	StartDate    core.Date
	EndDate      core.Date
	Transactions []string
}

type LedgerDetail struct {
	Ledger       core.Ledger
	Transactions []core.Transaction // in ledger order
	Totals       core.Totals
}

func (in LedgerInput) apply(l *core.Ledger) {
	l.Name = in.Name
	l.StartDate = in.StartDate
	l.EndDate = in.EndDate
	l.Transactions = append([]string(nil), in.Transactions...)
}

func (t *Tracker) checkLedger(ctx context.Context, l core.Ledger) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := noDuplicates("transactions", l.Transactions); err != nil {
		return err
	}
	for _, id := range l.Transactions {
		if err := guard.Reference(ctx, "transactions", core.KindTransaction, id, l.Owner, t.transactionOwner); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) CreateLedger(ctx context.Context, session *core.Session, in LedgerInput) (core.Ledger, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Ledger{}, err
	}
	defer unlock()

	l := core.Ledger{ID: core.NewID(), Owner: session.UserID}
	in.apply(&l)
	if err := t.checkLedger(ctx, l); err != nil {
		return core.Ledger{}, err
	}
	if _, err := t.store.PutLedger(ctx, l); err != nil {
		return core.Ledger{}, fmt.Errorf("create ledger: %w", err)
	}
	t.mutated(ctx, events.Created, core.KindLedger, l.ID, l.Owner)
	return l, nil
}

func (t *Tracker) GetLedger(ctx context.Context, session *core.Session, id string) (LedgerDetail, error) {
	unlock, err := t.read(session)
	if err != nil {
		return LedgerDetail{}, err
	}
	defer unlock()
	return t.ledgerDetail(ctx, session, id)
}

func (t *Tracker) ledgerDetail(ctx context.Context, session *core.Session, id string) (LedgerDetail, error) {
	l, err := t.store.GetLedger(ctx, id)
	if err != nil {
		return LedgerDetail{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindLedger, id, l.Owner); err != nil {
		return LedgerDetail{}, err
	}

	d := LedgerDetail{Ledger: l}
	for _, txID := range l.Transactions {
		tx, err := t.store.GetTransaction(ctx, txID)
		if err != nil {
			return LedgerDetail{}, fmt.Errorf("resolve ledger transaction %s: %w", txID, err)
		}
		d.Transactions = append(d.Transactions, tx)
	}
	d.Totals = core.Summarize(d.Transactions)
	return d, nil
}

func (t *Tracker) ListLedgers(ctx context.Context, session *core.Session) ([]core.Ledger, error) {
	unlock, err := t.read(session)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.FindLedgers(ctx, store.Filter{Owner: session.UserID})
}

func (t *Tracker) UpdateLedger(ctx context.Context, session *core.Session, id string, in LedgerInput) (core.Ledger, error) {
	unlock, err := t.write(session)
	if err != nil {
		return core.Ledger{}, err
	}
	defer unlock()

	l, err := t.store.GetLedger(ctx, id)
	if err != nil {
		return core.Ledger{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindLedger, id, l.Owner); err != nil {
		return core.Ledger{}, err
	}

	in.apply(&l)
	if err := t.checkLedger(ctx, l); err != nil {
		return core.Ledger{}, err
	}
	if _, err := t.store.PutLedger(ctx, l); err != nil {
		return core.Ledger{}, fmt.Errorf("update ledger: %w", err)
	}
	t.mutated(ctx, events.Updated, core.KindLedger, l.ID, l.Owner)
	return l, nil
}

// DeleteLedger removes the ledger only; its transactions stay.
func (t *Tracker) DeleteLedger(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	l, err := t.store.GetLedger(ctx, id)
	if err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindLedger, id, l.Owner); err != nil {
		return err
	}
	if err := t.store.DeleteLedger(ctx, id); err != nil {
		return err
	}
	t.mutated(ctx, events.Deleted, core.KindLedger, id, l.Owner)
	return nil
}
