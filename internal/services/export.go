package services

import (
	"context"
	"errors"
	"fmt"

	"budgeteer/internal/core"
	"budgeteer/internal/export"
)

// ErrExportUnavailable is returned when no export writer is configured.
var ErrExportUnavailable = errors.New("ledger export not configured")

// ExportLedger flattens a ledger and hands it to w. Card and category names
// are resolved at export time.
func (t *Tracker) ExportLedger(ctx context.Context, session *core.Session, id string, w export.Writer) (string, error) {
	if w == nil {
		return "", ErrExportUnavailable
	}
	unlock, err := t.read(session)
	if err != nil {
		return "", err
	}
	d, err := t.ledgerDetail(ctx, session, id)
	if err != nil {
		unlock()
		return "", err
	}

	out := export.Ledger{
		ID:        d.Ledger.ID,
		Name:      d.Ledger.Name,
		StartDate: d.Ledger.StartDate,
		EndDate:   d.Ledger.EndDate,
		Totals:    d.Totals,
	}
	names := map[string]string{}
	name := func(id string, get func(context.Context, string) (string, error)) (string, error) {
		if id == "" {
			return "", nil
		}
		if n, ok := names[id]; ok {
			return n, nil
		}
		n, err := get(ctx, id)
		if err != nil {
			return "", err
		}
		names[id] = n
		return n, nil
	}
	for _, tx := range d.Transactions {
		card, err := name(tx.Card, t.cardName)
		if err != nil {
			unlock()
			return "", fmt.Errorf("resolve card: %w", err)
		}
		category, err := name(tx.Category, t.categoryName)
		if err != nil {
			unlock()
			return "", fmt.Errorf("resolve category: %w", err)
		}
		out.Rows = append(out.Rows, export.Row{
			Date:        tx.Date,
			Description: tx.Description,
			Type:        tx.Type,
			Signed:      tx.Signed(),
			Card:        card,
			Category:    category,
		})
	}
	// The owner lock is not held across the remote write.
	unlock()

	ref, err := w.WriteLedger(ctx, out)
	if err != nil {
		return "", fmt.Errorf("export ledger %s: %w", id, err)
	}
	return ref, nil
}

func (t *Tracker) cardName(ctx context.Context, id string) (string, error) {
	c, err := t.store.GetCard(ctx, id)
	return c.Name, err
}

func (t *Tracker) categoryName(ctx context.Context, id string) (string, error) {
	c, err := t.store.GetCategory(ctx, id)
	return c.Name, err
}
