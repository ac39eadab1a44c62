// Package export renders ledgers into tabular form for external sheets.
package export

import (
	"context"
	"fmt"
	"sync"

	"budgeteer/internal/core"
)

// Ledger is a ledger flattened for export, rows in ledger order.
type Ledger struct {
	ID        string
	Name      string
	StartDate core.Date
	EndDate   core.Date
	Rows      []Row
	Totals    core.Totals
}

type Row struct {
	Date        core.Date
	Description string
	Type        core.TransactionType
	Signed      core.Money
	Card        string
	Category    string
}

// Writer stores an exported ledger and returns a reference to where it went.
type Writer interface {
	WriteLedger(ctx context.Context, l Ledger) (ref string, err error)
}

var Header = []any{"Date", "Description", "Type", "Amount", "Card", "Category"}

const dateLayout = "2006-01-02"

// Values lays the ledger out as a header, one line per row and a closing
// net total line.
func Values(l Ledger) [][]any {
	out := make([][]any, 0, len(l.Rows)+2)
	out = append(out, Header)
	for _, r := range l.Rows {
		out = append(out, []any{
			r.Date.Format(dateLayout),
			r.Description,
			string(r.Type),
			r.Signed.String(),
			r.Card,
			r.Category,
		})
	}
	out = append(out, []any{"", "Net", "", l.Totals.Net.String(), "", ""})
	return out
}

// Memory keeps exported ledgers in process.
type Memory struct {
	mu      sync.Mutex
	ledgers []Ledger
}

func (m *Memory) WriteLedger(_ context.Context, l Ledger) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers = append(m.ledgers, l)
	return fmt.Sprintf("mem:%d", len(m.ledgers)), nil
}

func (m *Memory) Ledgers() []Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ledger(nil), m.ledgers...)
}
