package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"budgeteer/internal/cascade"
	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/export"
	"budgeteer/internal/store"
	"budgeteer/internal/store/memory"
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   store.Store
	tracker *Tracker
	events  *events.Recorder
	alice   *core.Session
	bob     *core.Session
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, s store.Store) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: s,
		tracker: New(s, Options{
			Publisher: rec,
			Cascade:   cascade.Config{MaxAttempts: 2},
			Now:       func() time.Time { return time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC) },
		}),
		events: rec,
		alice:  &core.Session{UserID: "alice"},
		bob:    &core.Session{UserID: "bob"},
	}
	for _, u := range []core.User{
		{ID: "alice", Email: "alice@example.com", PasswordHash: "h", Name: "Alice"},
		{ID: "bob", Email: "bob@example.com", PasswordHash: "h", Name: "Bob"},
	} {
		if _, err := s.PutUser(f.ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) card(s *core.Session, name string) core.Card {
	f.t.Helper()
	c, err := f.tracker.CreateCard(f.ctx, s, CardInput{Name: name})
	if err != nil {
		f.t.Fatalf("CreateCard: %v", err)
	}
	return c
}

func (f *fixture) category(s *core.Session, name string) core.Category {
	f.t.Helper()
	c, err := f.tracker.CreateCategory(f.ctx, s, CategoryInput{Name: name})
	if err != nil {
		f.t.Fatalf("CreateCategory: %v", err)
	}
	return c
}

func (f *fixture) budget(s *core.Session, in BudgetInput) core.Budget {
	f.t.Helper()
	if in.Name == "" {
		in.Name = "Budget"
	}
	b, err := f.tracker.CreateBudget(f.ctx, s, in)
	if err != nil {
		f.t.Fatalf("CreateBudget: %v", err)
	}
	return b
}

func (f *fixture) tx(s *core.Session, in TransactionInput) core.Transaction {
	f.t.Helper()
	tx, err := f.tracker.CreateTransaction(f.ctx, s, in)
	if err != nil {
		f.t.Fatalf("CreateTransaction: %v", err)
	}
	return tx
}

func (f *fixture) balance(cardID string) int64 {
	f.t.Helper()
	c, err := f.store.GetCard(f.ctx, cardID)
	if err != nil {
		f.t.Fatalf("GetCard: %v", err)
	}
	return c.Balance.Cents
}

func cents(n int64) core.Money { return core.Money{Cents: n} }

func TestCardBalanceScenario(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")

	f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(100), Type: core.Income})
	f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(40), Type: core.Expense})
	small := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(10), Type: core.Expense})

	if got := f.balance(c.ID); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}
	if err := f.tracker.DeleteTransaction(f.ctx, f.alice, small.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if got := f.balance(c.ID); got != 60 {
		t.Fatalf("balance after delete = %d, want 60", got)
	}
	if n := len(f.events.OfType(events.BalanceChanged)); n != 4 {
		t.Errorf("balance events = %d, want 4", n)
	}
}

func TestTransactionUpdateRecomputesBothCards(t *testing.T) {
	f := newFixture(t)
	a := f.card(f.alice, "A")
	b := f.card(f.alice, "B")
	tx := f.tx(f.alice, TransactionInput{Card: a.ID, Amount: cents(300), Type: core.Expense})

	_, err := f.tracker.UpdateTransaction(f.ctx, f.alice, tx.ID, TransactionInput{Card: b.ID, Amount: cents(300), Type: core.Income})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if got := f.balance(a.ID); got != 0 {
		t.Errorf("old card balance = %d, want 0", got)
	}
	if got := f.balance(b.ID); got != 300 {
		t.Errorf("new card balance = %d, want 300", got)
	}
}

func TestBudgetRemainingScenario(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	b := f.budget(f.alice, BudgetInput{
		Card: c.ID, Amount: cents(500),
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	f.tx(f.alice, TransactionInput{Card: c.ID, Budget: b.ID, Amount: cents(120), Type: core.Expense, Date: core.NewDate(2024, 1, 10)})
	f.tx(f.alice, TransactionInput{Card: c.ID, Budget: b.ID, Amount: cents(80), Type: core.Expense, Date: core.NewDate(2024, 1, 31)})
	late := f.tx(f.alice, TransactionInput{Card: c.ID, Budget: b.ID, Amount: cents(1000), Type: core.Expense, Date: core.NewDate(2024, 2, 1)})

	d, err := f.tracker.GetBudget(f.ctx, f.alice, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if d.Remaining.Cents != 300 || d.Spent.Cents != 200 {
		t.Fatalf("remaining = %d spent = %d, want 300 and 200", d.Remaining.Cents, d.Spent.Cents)
	}
	if d.Card.ID != c.ID || d.Card.Name != "Visa" {
		t.Errorf("card ref = %+v", d.Card)
	}

	// Moving the February transaction into range must invalidate the cached value.
	_, err = f.tracker.UpdateTransaction(f.ctx, f.alice, late.ID, TransactionInput{
		Card: c.ID, Budget: b.ID, Amount: cents(50), Type: core.Expense, Date: core.NewDate(2024, 1, 20),
	})
	if err != nil {
		t.Fatal(err)
	}
	d, _ = f.tracker.GetBudget(f.ctx, f.alice, b.ID)
	if d.Remaining.Cents != 250 {
		t.Errorf("remaining after update = %d, want 250", d.Remaining.Cents)
	}

	// Raising the amount invalidates too.
	_, err = f.tracker.UpdateBudget(f.ctx, f.alice, b.ID, BudgetInput{
		Name: "Budget", Card: c.ID, Amount: cents(600),
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	d, _ = f.tracker.GetBudget(f.ctx, f.alice, b.ID)
	if d.Remaining.Cents != 350 {
		t.Errorf("remaining after amount change = %d, want 350", d.Remaining.Cents)
	}
}

func TestOwnerNeverChanges(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	cat := f.category(f.alice, "Food")

	updated, err := f.tracker.UpdateCard(f.ctx, f.alice, c.ID, CardInput{Name: "Gold"})
	if err != nil || updated.Owner != "alice" {
		t.Fatalf("UpdateCard = %+v, %v", updated, err)
	}
	uc, err := f.tracker.UpdateCategory(f.ctx, f.alice, cat.ID, CategoryInput{Name: "Groceries", BudgetedAmount: cents(100)})
	if err != nil || uc.Owner != "alice" {
		t.Fatalf("UpdateCategory = %+v, %v", uc, err)
	}

	// Another user cannot take it over either.
	var authErr *core.AuthorizationError
	if _, err := f.tracker.UpdateCard(f.ctx, f.bob, c.ID, CardInput{Name: "Mine"}); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	got, _ := f.store.GetCard(f.ctx, c.ID)
	if got.Owner != "alice" || got.Name != "Gold" {
		t.Errorf("card = %+v", got)
	}
}

func TestAuthorizationOnEveryOperation(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(5), Type: core.Expense})

	var authErr *core.AuthorizationError
	checks := map[string]error{
		"get card by other user":    second(f.tracker.GetCard(f.ctx, f.bob, c.ID)),
		"delete card by other user": f.tracker.DeleteCard(f.ctx, f.bob, c.ID),
		"get tx without session":    second(f.tracker.GetTransaction(f.ctx, nil, tx.ID)),
		"list without session":      second(f.tracker.ListCards(f.ctx, nil)),
		"delete other user":         f.tracker.DeleteUser(f.ctx, f.bob, "alice"),
	}
	for name, err := range checks {
		if !errors.As(err, &authErr) {
			t.Errorf("%s: expected AuthorizationError, got %v", name, err)
		}
	}

	cards, err := f.tracker.ListCards(f.ctx, f.bob)
	if err != nil || len(cards) != 0 {
		t.Errorf("bob sees %d cards, err %v", len(cards), err)
	}
}

func second[T any](_ T, err error) error { return err }

func TestReferencesMustBelongToOwner(t *testing.T) {
	f := newFixture(t)
	aliceCard := f.card(f.alice, "Visa")
	bobCard := f.card(f.bob, "Amex")
	bobBudget := f.budget(f.bob, BudgetInput{
		Card: bobCard.ID, Amount: cents(100),
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	bobCat := f.category(f.bob, "Bob's")

	tests := []struct {
		name string
		in   TransactionInput
	}{
		{"foreign card", TransactionInput{Card: bobCard.ID, Amount: cents(1), Type: core.Expense}},
		{"foreign budget", TransactionInput{Card: aliceCard.ID, Budget: bobBudget.ID, Amount: cents(1), Type: core.Expense}},
		{"foreign category", TransactionInput{Card: aliceCard.ID, Category: bobCat.ID, Amount: cents(1), Type: core.Expense}},
		{"missing card", TransactionInput{Card: "nope", Amount: cents(1), Type: core.Expense}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.CreateTransaction(f.ctx, f.alice, tt.in)
			var refErr *core.ReferenceViolation
			if !errors.As(err, &refErr) {
				t.Fatalf("expected ReferenceViolation, got %v", err)
			}
		})
	}

	// Updates re-validate references as well.
	tx := f.tx(f.alice, TransactionInput{Card: aliceCard.ID, Amount: cents(1), Type: core.Expense})
	_, err := f.tracker.UpdateTransaction(f.ctx, f.alice, tx.ID, TransactionInput{Card: aliceCard.ID, Budget: bobBudget.ID, Amount: cents(1), Type: core.Expense})
	var refErr *core.ReferenceViolation
	if !errors.As(err, &refErr) {
		t.Fatalf("update: expected ReferenceViolation, got %v", err)
	}
	stored, _ := f.store.GetTransaction(f.ctx, tx.ID)
	if stored.Budget != "" {
		t.Errorf("rejected update was written: %+v", stored)
	}

	// Budget categories must be the owner's.
	_, err = f.tracker.CreateBudget(f.ctx, f.alice, BudgetInput{
		Name: "x", Card: aliceCard.ID, Categories: []string{bobCat.ID}, Amount: cents(1),
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 2),
	})
	if !errors.As(err, &refErr) {
		t.Fatalf("budget: expected ReferenceViolation, got %v", err)
	}
}

func TestValidationBeforeWrite(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")

	_, err := f.tracker.CreateBudget(f.ctx, f.alice, BudgetInput{
		Name: "Backwards", Card: c.ID, Amount: cents(1),
		StartDate: core.NewDate(2024, 2, 1), EndDate: core.NewDate(2024, 1, 1),
	})
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "start_date" {
		t.Fatalf("expected start_date ValidationError, got %v", err)
	}
	if _, err := f.tracker.CreateTransaction(f.ctx, f.alice, TransactionInput{Card: c.ID, Amount: cents(0), Type: core.Expense}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for zero amount, got %v", err)
	}
	budgets, _ := f.tracker.ListBudgets(f.ctx, f.alice)
	txs, _ := f.tracker.ListTransactions(f.ctx, f.alice, TransactionQuery{})
	if len(budgets) != 0 || len(txs) != 0 {
		t.Errorf("invalid records were written")
	}
}

func TestTransactionDateDefaultsToNow(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(1), Type: core.Income})
	if !tx.Date.Equal(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("date = %v", tx.Date)
	}
}

func TestDeleteCardWithDependents(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(7), Type: core.Expense})

	err := f.tracker.DeleteCard(f.ctx, f.alice, c.ID)
	var dep *core.DependencyExists
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyExists, got %v", err)
	}
	if _, err := f.store.GetCard(f.ctx, c.ID); err != nil {
		t.Errorf("card gone after refused delete: %v", err)
	}
	stored, err := f.store.GetTransaction(f.ctx, tx.ID)
	if err != nil || stored != tx {
		t.Errorf("transaction changed: %+v %v", stored, err)
	}

	if err := f.tracker.DeleteTransaction(f.ctx, f.alice, tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.tracker.DeleteCard(f.ctx, f.alice, c.ID); err != nil {
		t.Fatalf("DeleteCard after clearing dependents: %v", err)
	}
}

func TestDeleteCategoryDetaches(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	cat := f.category(f.alice, "Food")
	keep := f.category(f.alice, "Home")
	b := f.budget(f.alice, BudgetInput{
		Card: c.ID, Amount: cents(100), Categories: []string{cat.ID, keep.ID},
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Category: cat.ID, Budget: b.ID, Amount: cents(3), Type: core.Expense})

	if err := f.tracker.DeleteCategory(f.ctx, f.alice, cat.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	d, err := f.tracker.GetTransaction(f.ctx, f.alice, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Transaction.Category != "" || d.Category != nil {
		t.Errorf("transaction still references category: %+v", d)
	}
	bd, err := f.tracker.GetBudget(f.ctx, f.alice, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(bd.Budget.Categories, []string{keep.ID}) {
		t.Errorf("budget categories = %v", bd.Budget.Categories)
	}
}

func TestDeleteBudgetDetaches(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	b := f.budget(f.alice, BudgetInput{
		Card: c.ID, Amount: cents(100),
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Budget: b.ID, Amount: cents(3), Type: core.Expense, Date: core.NewDate(2024, 1, 5)})

	if err := f.tracker.DeleteBudget(f.ctx, f.alice, b.ID); err != nil {
		t.Fatalf("DeleteBudget: %v", err)
	}
	stored, _ := f.store.GetTransaction(f.ctx, tx.ID)
	if stored.Budget != "" {
		t.Errorf("transaction still references budget %q", stored.Budget)
	}
	if _, err := f.tracker.GetBudget(f.ctx, f.alice, b.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerKeepsTransactionsAndDropsDeleted(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	in := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(100), Type: core.Income})
	out := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(30), Type: core.Expense})

	l, err := f.tracker.CreateLedger(f.ctx, f.alice, LedgerInput{
		Name: "January", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
		Transactions: []string{out.ID, in.ID},
	})
	if err != nil {
		t.Fatalf("CreateLedger: %v", err)
	}
	d, err := f.tracker.GetLedger(f.ctx, f.alice, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Transactions[0].ID != out.ID || d.Totals.Net.Cents != 70 || d.Totals.Income.Cents != 100 {
		t.Errorf("ledger detail = %+v", d)
	}

	if err := f.tracker.DeleteTransaction(f.ctx, f.alice, out.ID); err != nil {
		t.Fatal(err)
	}
	d, err = f.tracker.GetLedger(f.ctx, f.alice, l.ID)
	if err != nil {
		t.Fatalf("ledger with deleted transaction: %v", err)
	}
	if !slices.Equal(d.Ledger.Transactions, []string{in.ID}) {
		t.Errorf("ledger transactions = %v", d.Ledger.Transactions)
	}

	if err := f.tracker.DeleteLedger(f.ctx, f.alice, l.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.GetTransaction(f.ctx, in.ID); err != nil {
		t.Errorf("ledger delete removed its transaction: %v", err)
	}

	_, err = f.tracker.CreateLedger(f.ctx, f.alice, LedgerInput{
		Name: "Dup", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
		Transactions: []string{in.ID, in.ID},
	})
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for duplicate ids, got %v", err)
	}
}

func TestRepeatedDeleteIsNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(10), Type: core.Income})

	if err := f.tracker.DeleteTransaction(f.ctx, f.alice, tx.ID); err != nil {
		t.Fatal(err)
	}
	before := len(f.events.Events())
	deletes := []func() error{
		func() error { return f.tracker.DeleteTransaction(f.ctx, f.alice, tx.ID) },
		func() error { return f.tracker.DeleteCard(f.ctx, f.alice, "missing") },
		func() error { return f.tracker.DeleteCategory(f.ctx, f.alice, "missing") },
		func() error { return f.tracker.DeleteBudget(f.ctx, f.alice, "missing") },
		func() error { return f.tracker.DeleteLedger(f.ctx, f.alice, "missing") },
		func() error { return f.tracker.DeleteUser(f.ctx, f.alice, "missing") },
	}
	for i, del := range deletes {
		if err := del(); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("delete %d: expected ErrNotFound, got %v", i, err)
		}
	}
	if after := len(f.events.Events()); after != before {
		t.Errorf("failed deletes published %d events", after-before)
	}
	if got := f.balance(c.ID); got != 0 {
		t.Errorf("balance = %d", got)
	}
}

// seedPurgeScenario creates 2 cards, 3 transactions, 1 budget, 1 ledger and
// 1 category for alice.
func seedPurgeScenario(f *fixture) {
	c1 := f.card(f.alice, "One")
	c2 := f.card(f.alice, "Two")
	cat := f.category(f.alice, "Food")
	b := f.budget(f.alice, BudgetInput{
		Card: c1.ID, Amount: cents(100), Categories: []string{cat.ID},
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	t1 := f.tx(f.alice, TransactionInput{Card: c1.ID, Budget: b.ID, Category: cat.ID, Amount: cents(1), Type: core.Expense})
	t2 := f.tx(f.alice, TransactionInput{Card: c2.ID, Amount: cents(2), Type: core.Income})
	t3 := f.tx(f.alice, TransactionInput{Card: c2.ID, Category: cat.ID, Amount: cents(3), Type: core.Transfer})
	if _, err := f.tracker.CreateLedger(f.ctx, f.alice, LedgerInput{
		Name: "All", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 12, 31),
		Transactions: []string{t1.ID, t2.ID, t3.ID},
	}); err != nil {
		f.t.Fatal(err)
	}
}

func ownedCount(f *fixture, owner string) int {
	flt := store.Filter{Owner: owner}
	cards, _ := f.store.FindCards(f.ctx, flt)
	cats, _ := f.store.FindCategories(f.ctx, flt)
	budgets, _ := f.store.FindBudgets(f.ctx, flt)
	ledgers, _ := f.store.FindLedgers(f.ctx, flt)
	txs, _ := f.store.FindTransactions(f.ctx, flt)
	return len(cards) + len(cats) + len(budgets) + len(ledgers) + len(txs)
}

func TestDeleteUserCascades(t *testing.T) {
	f := newFixture(t)
	seedPurgeScenario(f)
	bobCard := f.card(f.bob, "Bob's")

	if n := ownedCount(f, "alice"); n != 8 {
		t.Fatalf("seeded %d records, want 8", n)
	}
	if err := f.tracker.DeleteUser(f.ctx, f.alice, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if n := ownedCount(f, "alice"); n != 0 {
		t.Errorf("%d records survived", n)
	}
	if _, err := f.store.GetUser(f.ctx, "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("user still present: %v", err)
	}
	if _, err := f.store.GetCard(f.ctx, bobCard.ID); err != nil {
		t.Errorf("bob's card removed: %v", err)
	}
	if _, ok := f.tracker.locks["alice"]; ok {
		t.Error("owner lock kept after delete")
	}
	if err := f.tracker.DeleteUser(f.ctx, f.alice, "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

// Deleting records by hand first, in any order the policy allows, must still
// leave the user purge with nothing owned afterwards.
func TestDeleteUserAfterPartialManualDeletes(t *testing.T) {
	steps := map[string]func(f *fixture) error{
		"ledger": func(f *fixture) error {
			ls, _ := f.tracker.ListLedgers(f.ctx, f.alice)
			return f.tracker.DeleteLedger(f.ctx, f.alice, ls[0].ID)
		},
		"category": func(f *fixture) error {
			cs, _ := f.tracker.ListCategories(f.ctx, f.alice)
			return f.tracker.DeleteCategory(f.ctx, f.alice, cs[0].ID)
		},
		"budget": func(f *fixture) error {
			bs, _ := f.tracker.ListBudgets(f.ctx, f.alice)
			return f.tracker.DeleteBudget(f.ctx, f.alice, bs[0].ID)
		},
		"transaction": func(f *fixture) error {
			ts, _ := f.tracker.ListTransactions(f.ctx, f.alice, TransactionQuery{})
			return f.tracker.DeleteTransaction(f.ctx, f.alice, ts[0].ID)
		},
	}
	names := []string{"ledger", "category", "budget", "transaction"}

	var permute func([]string, int)
	var orders [][]string
	permute = func(a []string, k int) {
		if k == len(a) {
			orders = append(orders, append([]string(nil), a...))
			return
		}
		for i := k; i < len(a); i++ {
			a[k], a[i] = a[i], a[k]
			permute(a, k+1)
			a[k], a[i] = a[i], a[k]
		}
	}
	permute(names, 0)

	for _, order := range orders {
		for cut := 0; cut <= len(order); cut++ {
			f := newFixture(t)
			seedPurgeScenario(f)
			for _, step := range order[:cut] {
				if err := steps[step](f); err != nil {
					t.Fatalf("%v: step %s: %v", order[:cut], step, err)
				}
			}
			if err := f.tracker.DeleteUser(f.ctx, f.alice, "alice"); err != nil {
				t.Fatalf("%v: DeleteUser: %v", order[:cut], err)
			}
			if n := ownedCount(f, "alice"); n != 0 {
				t.Fatalf("%v: %d records survived", order[:cut], n)
			}
		}
	}
}

type failingDeletes struct {
	store.Store
	mu     sync.Mutex
	failOn string
}

func (s *failingDeletes) DeleteBudget(ctx context.Context, id string) error {
	s.mu.Lock()
	fail := s.failOn
	s.mu.Unlock()
	if fail == "budget" {
		return errors.New("database is locked")
	}
	return s.Store.DeleteBudget(ctx, id)
}

func TestDeleteUserPartialFailure(t *testing.T) {
	s := &failingDeletes{Store: memory.New(), failOn: "budget"}
	f := newFixtureWithStore(t, s)
	seedPurgeScenario(f)

	err := f.tracker.DeleteUser(f.ctx, f.alice, "alice")
	var partial *core.PartialCascadeFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCascadeFailure, got %v", err)
	}
	if len(partial.Remaining[core.KindBudget]) != 1 || len(partial.Remaining[core.KindCard]) != 2 {
		t.Errorf("remaining = %v", partial.Remaining)
	}
	if _, err := f.store.GetUser(f.ctx, "alice"); err != nil {
		t.Errorf("user removed despite failure: %v", err)
	}
	if evs := f.events.OfType(events.PurgeIncomplete); len(evs) != 1 || evs[0].Detail[events.DetailRemaining] == "" {
		t.Errorf("partial failure events = %+v", evs)
	}
	// The transaction phase finished, so the surviving cards hold nothing.
	cards, err := f.store.FindCards(f.ctx, store.Filter{Owner: "alice"})
	if err != nil || len(cards) != 2 {
		t.Fatalf("surviving cards = %v (err=%v)", cards, err)
	}
	for _, c := range cards {
		if c.Balance.Cents != 0 {
			t.Errorf("card %s balance = %d after its transactions were purged", c.Name, c.Balance.Cents)
		}
	}
	if _, ok := f.tracker.locks["alice"]; !ok {
		t.Error("owner lock dropped before the purge finished")
	}

	s.mu.Lock()
	s.failOn = ""
	s.mu.Unlock()
	if err := f.tracker.ResumePurge(f.ctx, "alice"); err != nil {
		t.Fatalf("ResumePurge: %v", err)
	}
	if n := ownedCount(f, "alice"); n != 0 {
		t.Errorf("%d records survived resume", n)
	}
	if _, ok := f.tracker.locks["alice"]; ok {
		t.Error("owner lock kept after the purge finished")
	}
}

func TestRecalculateCardRepairsDrift(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	f.tx(f.alice, TransactionInput{Card: c.ID, Amount: cents(25), Type: core.Income})

	drifted, _ := f.store.GetCard(f.ctx, c.ID)
	drifted.Balance = cents(999)
	if _, err := f.store.PutCard(f.ctx, drifted); err != nil {
		t.Fatal(err)
	}
	if err := f.tracker.RecalculateCard(f.ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.balance(c.ID); got != 25 {
		t.Errorf("balance = %d, want 25", got)
	}
}

func TestDetailViewsResolveReferences(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	cat := f.category(f.alice, "Food")
	b := f.budget(f.alice, BudgetInput{
		Name: "Jan", Card: c.ID, Amount: cents(100), Categories: []string{cat.ID},
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
	})
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Budget: b.ID, Category: cat.ID, Amount: cents(9), Type: core.Expense})

	cd, err := f.tracker.GetCard(f.ctx, f.alice, c.ID)
	if err != nil || cd.TransactionCount != 1 || len(cd.Budgets) != 1 || cd.Budgets[0].Name != "Jan" {
		t.Errorf("card detail = %+v, %v", cd, err)
	}
	kd, err := f.tracker.GetCategory(f.ctx, f.alice, cat.ID)
	if err != nil || kd.Spent.Cents != 9 || len(kd.Budgets) != 1 {
		t.Errorf("category detail = %+v, %v", kd, err)
	}
	td, err := f.tracker.GetTransaction(f.ctx, f.alice, tx.ID)
	if err != nil || td.Card.Name != "Visa" || td.Budget == nil || td.Budget.Name != "Jan" || td.Category.Name != "Food" {
		t.Errorf("transaction detail = %+v, %v", td, err)
	}
}

func TestExportLedger(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")
	cat := f.category(f.alice, "Food")
	tx := f.tx(f.alice, TransactionInput{Card: c.ID, Category: cat.ID, Amount: cents(450), Type: core.Expense, Description: "Lunch"})
	l, err := f.tracker.CreateLedger(f.ctx, f.alice, LedgerInput{
		Name: "Jan", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 31),
		Transactions: []string{tx.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	var w export.Memory
	if _, err := f.tracker.ExportLedger(f.ctx, f.alice, l.ID, &w); err != nil {
		t.Fatalf("ExportLedger: %v", err)
	}
	got := w.Ledgers()
	if len(got) != 1 || len(got[0].Rows) != 1 {
		t.Fatalf("exported = %+v", got)
	}
	row := got[0].Rows[0]
	if row.Card != "Visa" || row.Category != "Food" || row.Signed.Cents != -450 {
		t.Errorf("row = %+v", row)
	}

	var authErr *core.AuthorizationError
	if _, err := f.tracker.ExportLedger(f.ctx, f.bob, l.ID, &w); !errors.As(err, &authErr) {
		t.Errorf("expected AuthorizationError, got %v", err)
	}
	if _, err := f.tracker.ExportLedger(f.ctx, f.alice, l.ID, nil); !errors.Is(err, ErrExportUnavailable) {
		t.Errorf("expected ErrExportUnavailable, got %v", err)
	}
}

func TestConcurrentMutationsKeepBalanceConsistent(t *testing.T) {
	f := newFixture(t)
	c := f.card(f.alice, "Visa")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.tracker.CreateTransaction(f.ctx, f.alice, TransactionInput{Card: c.ID, Amount: cents(5), Type: core.Income}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := f.balance(c.ID); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
}
