package export

import (
	"context"
	"testing"

	"budgeteer/internal/core"
)

func TestValuesLayout(t *testing.T) {
	l := Ledger{
		Rows: []Row{
			{Date: core.NewDate(2024, 1, 3), Description: "Salary", Type: core.Income, Signed: core.Money{Cents: 10000}, Card: "Visa"},
			{Date: core.NewDate(2024, 1, 4), Description: "Rent", Type: core.Expense, Signed: core.Money{Cents: -4000}, Card: "Visa", Category: "Home"},
		},
		Totals: core.Totals{Net: core.Money{Cents: 6000}},
	}

	got := Values(l)
	if len(got) != 4 {
		t.Fatalf("rows = %d, want 4", len(got))
	}
	if got[0][0] != "Date" {
		t.Errorf("header = %v", got[0])
	}
	if got[2][0] != "2024-01-04" || got[2][3] != "-40.00" || got[2][5] != "Home" {
		t.Errorf("row = %v", got[2])
	}
	if got[3][1] != "Net" || got[3][3] != "60.00" {
		t.Errorf("total line = %v", got[3])
	}
}

func TestMemoryWriter(t *testing.T) {
	var m Memory
	ref, err := m.WriteLedger(context.Background(), Ledger{ID: "l1"})
	if err != nil || ref != "mem:1" {
		t.Fatalf("WriteLedger = %q, %v", ref, err)
	}
	if len(m.Ledgers()) != 1 {
		t.Errorf("stored %d ledgers", len(m.Ledgers()))
	}
}
