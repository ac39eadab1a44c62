// Package memory is an in-process Store for tests and ephemeral runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"budgeteer/internal/core"
	"budgeteer/internal/store"
)

var _ store.Store = (*Store)(nil)

type row[T any] struct {
	seq int64
	rec T
}

// table keeps records in insertion order so listings are stable.
type table[T any] struct {
	rows map[string]row[T]
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]row[T])}
}

func (t table[T]) get(id string) (T, error) {
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, core.ErrNotFound
	}
	return r.rec, nil
}

func (t table[T]) put(id string, seq *int64, rec T) {
	if r, ok := t.rows[id]; ok {
		t.rows[id] = row[T]{seq: r.seq, rec: rec}
		return
	}
	*seq++
	t.rows[id] = row[T]{seq: *seq, rec: rec}
}

func (t table[T]) del(id string) error {
	if _, ok := t.rows[id]; !ok {
		return core.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

func (t table[T]) find(keep func(T) bool) []T {
	matched := make([]row[T], 0)
	for _, r := range t.rows {
		if keep(r.rec) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]T, len(matched))
	for i, r := range matched {
		out[i] = r.rec
	}
	return out
}

type Store struct {
	mu           sync.RWMutex
	seq          int64
	users        table[core.User]
	cards        table[core.Card]
	categories   table[core.Category]
	budgets      table[core.Budget]
	ledgers      table[core.Ledger]
	transactions table[core.Transaction]
}

func New() *Store {
	return &Store{
		users:        newTable[core.User](),
		cards:        newTable[core.Card](),
		categories:   newTable[core.Category](),
		budgets:      newTable[core.Budget](),
		ledgers:      newTable[core.Ledger](),
		transactions: newTable[core.Transaction](),
	}
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users.get(id)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.users.find(func(u core.User) bool { return strings.EqualFold(u.Email, email) })
	if len(found) == 0 {
		return core.User{}, core.ErrNotFound
	}
	return found[0], nil
}

func (s *Store) PutUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.users.rows {
		if id != u.ID && strings.EqualFold(r.rec.Email, u.Email) {
			return core.User{}, core.ErrEmailTaken
		}
	}
	s.users.put(u.ID, &s.seq, u)
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.del(id)
}

func (s *Store) GetCard(_ context.Context, id string) (core.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cards.get(id)
}

func (s *Store) PutCard(_ context.Context, c core.Card) (core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards.put(c.ID, &s.seq, c)
	return c, nil
}

func (s *Store) DeleteCard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cards.del(id)
}

func (s *Store) FindCards(_ context.Context, f store.Filter) ([]core.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cards.find(f.MatchCard), nil
}

func (s *Store) GetCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories.get(id)
}

func (s *Store) PutCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories.put(c.ID, &s.seq, c)
	return c, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categories.del(id)
}

func (s *Store) FindCategories(_ context.Context, f store.Filter) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories.find(f.MatchCategory), nil
}

func (s *Store) GetBudget(_ context.Context, id string) (core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.budgets.get(id)
	return cloneBudget(b), err
}

func (s *Store) PutBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b = cloneBudget(b)
	s.budgets.put(b.ID, &s.seq, b)
	return cloneBudget(b), nil
}

func (s *Store) DeleteBudget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgets.del(id)
}

func (s *Store) FindBudgets(_ context.Context, f store.Filter) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.budgets.find(f.MatchBudget)
	for i := range out {
		out[i] = cloneBudget(out[i])
	}
	return out, nil
}

func (s *Store) GetLedger(_ context.Context, id string) (core.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.ledgers.get(id)
	return cloneLedger(l), err
}

func (s *Store) PutLedger(_ context.Context, l core.Ledger) (core.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l = cloneLedger(l)
	s.ledgers.put(l.ID, &s.seq, l)
	return cloneLedger(l), nil
}

func (s *Store) DeleteLedger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgers.del(id)
}

func (s *Store) FindLedgers(_ context.Context, f store.Filter) ([]core.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.ledgers.find(f.MatchLedger)
	for i := range out {
		out[i] = cloneLedger(out[i])
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions.get(id)
}

func (s *Store) PutTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions.put(t.ID, &s.seq, t)
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions.del(id)
}

func (s *Store) FindTransactions(_ context.Context, f store.Filter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions.find(f.MatchTransaction), nil
}

func cloneBudget(b core.Budget) core.Budget {
	b.Categories = append([]string(nil), b.Categories...)
	return b
}

func cloneLedger(l core.Ledger) core.Ledger {
	l.Transactions = append([]string(nil), l.Transactions...)
	return l
}
