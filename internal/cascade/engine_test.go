package cascade

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"budgeteer/internal/core"
	"budgeteer/internal/store"
	"budgeteer/internal/store/memory"
)

var errTransient = errors.New("transient store failure")

// flakyStore fails deletes of selected ids a fixed number of times.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures map[string]int // id -> remaining failures, -1 for always
}

func (f *flakyStore) fail(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.failures[id]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.failures[id] = n - 1
	}
	return errTransient
}

func (f *flakyStore) DeleteTransaction(ctx context.Context, id string) error {
	if err := f.fail(id); err != nil {
		return err
	}
	return f.Store.DeleteTransaction(ctx, id)
}

func (f *flakyStore) DeleteCard(ctx context.Context, id string) error {
	if err := f.fail(id); err != nil {
		return err
	}
	return f.Store.DeleteCard(ctx, id)
}

func seedUser(t *testing.T, s store.Store, owner string) {
	t.Helper()
	ctx := context.Background()
	put := func(_ any, err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	put(s.PutUser(ctx, core.User{ID: owner, Email: owner + "@example.com", PasswordHash: "h", Name: owner}))
	put(s.PutCard(ctx, core.Card{ID: owner + "-card", Owner: owner, Name: "Visa"}))
	put(s.PutCategory(ctx, core.Category{ID: owner + "-cat", Owner: owner, Name: "Food"}))
	put(s.PutBudget(ctx, core.Budget{
		ID: owner + "-budget", Owner: owner, Name: "June", Card: owner + "-card",
		StartDate: core.NewDate(2024, 6, 1), EndDate: core.NewDate(2024, 6, 30),
		Amount: core.Money{Cents: 10000}, Categories: []string{owner + "-cat"},
	}))
	for _, id := range []string{owner + "-t1", owner + "-t2"} {
		put(s.PutTransaction(ctx, core.Transaction{
			ID: id, Owner: owner, Card: owner + "-card", Budget: owner + "-budget", Category: owner + "-cat",
			Amount: core.Money{Cents: 500}, Type: core.Expense, Date: core.NewDate(2024, 6, 2),
		}))
	}
	put(s.PutLedger(ctx, core.Ledger{
		ID: owner + "-ledger", Owner: owner, Name: "June",
		StartDate: core.NewDate(2024, 6, 1), EndDate: core.NewDate(2024, 6, 30),
		Transactions: []string{owner + "-t1", owner + "-t2"},
	}))
}

func countOwned(t *testing.T, s store.Store, owner string) int {
	t.Helper()
	ctx := context.Background()
	f := store.Filter{Owner: owner}
	n := 0
	cards, _ := s.FindCards(ctx, f)
	cats, _ := s.FindCategories(ctx, f)
	budgets, _ := s.FindBudgets(ctx, f)
	ledgers, _ := s.FindLedgers(ctx, f)
	txs, _ := s.FindTransactions(ctx, f)
	n += len(cards) + len(cats) + len(budgets) + len(ledgers) + len(txs)
	if _, err := s.GetUser(ctx, owner); err == nil {
		n++
	}
	return n
}

func TestPurgeUserRemovesEverythingOwned(t *testing.T) {
	s := memory.New()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")

	e := New(s, Config{MaxAttempts: 2}, nil)
	if err := e.PurgeUser(context.Background(), "u1"); err != nil {
		t.Fatalf("PurgeUser: %v", err)
	}
	if n := countOwned(t, s, "u1"); n != 0 {
		t.Errorf("%d records of u1 survived", n)
	}
	if n := countOwned(t, s, "u2"); n != 7 {
		t.Errorf("other user lost records, %d left", n)
	}
}

func TestPurgeUserRetriesTransientFailures(t *testing.T) {
	s := &flakyStore{Store: memory.New(), failures: map[string]int{"u1-t1": 2}}
	seedUser(t, s, "u1")

	e := New(s, Config{MaxAttempts: 3}, nil)
	if err := e.PurgeUser(context.Background(), "u1"); err != nil {
		t.Fatalf("PurgeUser: %v", err)
	}
	if n := countOwned(t, s, "u1"); n != 0 {
		t.Errorf("%d records survived", n)
	}
}

func TestPurgeUserPartialFailure(t *testing.T) {
	s := &flakyStore{Store: memory.New(), failures: map[string]int{"u1-t2": -1}}
	seedUser(t, s, "u1")

	e := New(s, Config{MaxAttempts: 2}, nil)
	err := e.PurgeUser(context.Background(), "u1")

	var partial *core.PartialCascadeFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCascadeFailure, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("cause not preserved: %v", err)
	}
	if got := partial.Remaining[core.KindTransaction]; !slices.Equal(got, []string{"u1-t2"}) {
		t.Errorf("remaining transactions = %v", got)
	}
	// Later phases never ran, so their records are reported as remaining.
	for _, kind := range []core.Kind{core.KindCard, core.KindBudget, core.KindCategory, core.KindUser} {
		if len(partial.Remaining[kind]) == 0 {
			t.Errorf("expected %s in remaining set", kind)
		}
	}
	if _, err := s.GetUser(context.Background(), "u1"); err != nil {
		t.Errorf("user must survive a partial cascade: %v", err)
	}
	if _, err := s.GetCard(context.Background(), "u1-card"); err != nil {
		t.Errorf("card must survive when an earlier phase failed: %v", err)
	}

	// Rerunning once the fault clears finishes the job.
	s.mu.Lock()
	delete(s.failures, "u1-t2")
	s.mu.Unlock()
	if err := e.PurgeUser(context.Background(), "u1"); err != nil {
		t.Fatalf("second PurgeUser: %v", err)
	}
	if n := countOwned(t, s, "u1"); n != 0 {
		t.Errorf("%d records survived rerun", n)
	}
}

func TestPurgeUserFailureInLastPhase(t *testing.T) {
	s := &flakyStore{Store: memory.New(), failures: map[string]int{"u1-card": -1}}
	seedUser(t, s, "u1")

	err := New(s, Config{MaxAttempts: 1}, nil).PurgeUser(context.Background(), "u1")
	var partial *core.PartialCascadeFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCascadeFailure, got %v", err)
	}
	if !slices.Equal(partial.RemainingIDs(), []string{"u1-card", "u1"}) {
		t.Errorf("remaining = %v", partial.RemainingIDs())
	}
}

// listOnceStore serves the first transaction listing and fails every later one.
type listOnceStore struct {
	*flakyStore
	listed int
}

func (s *listOnceStore) FindTransactions(ctx context.Context, f store.Filter) ([]core.Transaction, error) {
	s.listed++
	if s.listed > 1 {
		return nil, errTransient
	}
	return s.flakyStore.FindTransactions(ctx, f)
}

func TestPurgeUserReportsIDsWhenListingFails(t *testing.T) {
	s := &listOnceStore{flakyStore: &flakyStore{Store: memory.New(), failures: map[string]int{"u1-t2": -1}}}
	seedUser(t, s, "u1")

	err := New(s, Config{MaxAttempts: 3}, nil).PurgeUser(context.Background(), "u1")
	var partial *core.PartialCascadeFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCascadeFailure, got %v", err)
	}
	if got := partial.Remaining[core.KindTransaction]; !slices.Equal(got, []string{"u1-t2"}) {
		t.Errorf("remaining transactions = %v, want [u1-t2]", got)
	}
}

func TestCheckCardDeletable(t *testing.T) {
	s := memory.New()
	seedUser(t, s, "u1")
	ctx := context.Background()
	e := New(s, DefaultConfig(), nil)

	err := e.CheckCardDeletable(ctx, "u1-card")
	var dep *core.DependencyExists
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyExists, got %v", err)
	}
	if len(dep.Dependents[core.KindTransaction]) != 2 || len(dep.Dependents[core.KindBudget]) != 1 {
		t.Errorf("dependents = %v", dep.Dependents)
	}

	if _, err := s.PutCard(ctx, core.Card{ID: "spare", Owner: "u1", Name: "Spare"}); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckCardDeletable(ctx, "spare"); err != nil {
		t.Errorf("unreferenced card: %v", err)
	}
}

func TestDetachCategory(t *testing.T) {
	s := memory.New()
	seedUser(t, s, "u1")
	ctx := context.Background()

	touched, err := New(s, DefaultConfig(), nil).DetachCategory(ctx, "u1-cat")
	if err != nil {
		t.Fatalf("DetachCategory: %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("touched = %v", touched)
	}
	txs, _ := s.FindTransactions(ctx, store.Filter{Category: "u1-cat"})
	if len(txs) != 0 {
		t.Errorf("%d transactions still reference the category", len(txs))
	}
	b, _ := s.GetBudget(ctx, "u1-budget")
	if len(b.Categories) != 0 {
		t.Errorf("budget categories = %v", b.Categories)
	}
}

func TestDetachBudget(t *testing.T) {
	s := memory.New()
	seedUser(t, s, "u1")
	ctx := context.Background()

	touched, err := New(s, DefaultConfig(), nil).DetachBudget(ctx, "u1-budget")
	if err != nil {
		t.Fatalf("DetachBudget: %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("touched = %v", touched)
	}
	tx, _ := s.GetTransaction(ctx, "u1-t1")
	if tx.Budget != "" || tx.Category != "u1-cat" {
		t.Errorf("unexpected transaction after detach: %+v", tx)
	}
}

func TestDetachTransaction(t *testing.T) {
	s := memory.New()
	seedUser(t, s, "u1")
	ctx := context.Background()

	if err := New(s, DefaultConfig(), nil).DetachTransaction(ctx, "u1-t1"); err != nil {
		t.Fatalf("DetachTransaction: %v", err)
	}
	l, _ := s.GetLedger(ctx, "u1-ledger")
	if !slices.Equal(l.Transactions, []string{"u1-t2"}) {
		t.Errorf("ledger transactions = %v", l.Transactions)
	}
}
