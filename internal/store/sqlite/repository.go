// Package sqlite implements the Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/store"

	_ "modernc.org/sqlite"
)

var _ store.Store = (*Repository)(nil)

const timeLayout = time.RFC3339Nano

type Repository struct {
	db      *sql.DB
	version uint
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateUp(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, version: version}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *Repository) SchemaVersion() uint {
	return r.version
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Users

func (r *Repository) GetUser(ctx context.Context, id string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, password_hash, name, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, password_hash, name, created_at FROM users WHERE lower(email) = lower(?)`, email)
	return scanUser(row)
}

func (r *Repository) PutUser(ctx context.Context, u core.User) (core.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, password_hash = excluded.password_hash, name = excluded.name`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.ErrEmailTaken
		}
		return core.User{}, fmt.Errorf("put user: %w", err)
	}
	return u, nil
}

func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "users", id)
}

// Cards

func (r *Repository) GetCard(ctx context.Context, id string) (core.Card, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, owner_id, name, balance_cents FROM cards WHERE id = ?`, id)
	var c core.Card
	err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.Balance.Cents)
	return c, notFound(err, "get card")
}

func (r *Repository) PutCard(ctx context.Context, c core.Card) (core.Card, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards (id, owner_id, name, balance_cents) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, balance_cents = excluded.balance_cents`,
		c.ID, c.Owner, c.Name, c.Balance.Cents)
	if err != nil {
		return core.Card{}, fmt.Errorf("put card: %w", err)
	}
	return c, nil
}

func (r *Repository) DeleteCard(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "cards", id)
}

func (r *Repository) FindCards(ctx context.Context, f store.Filter) ([]core.Card, error) {
	where, args := conditions(
		cond{"owner_id = ?", f.Owner},
		cond{"id = ?", f.Card},
	)
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, name, balance_cents FROM cards`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("find cards: %w", err)
	}
	defer rows.Close()

	var out []core.Card
	for rows.Next() {
		var c core.Card
		if err := rows.Scan(&c.ID, &c.Owner, &c.Name, &c.Balance.Cents); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Categories

func (r *Repository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, owner_id, name, description, budgeted_amount_cents FROM categories WHERE id = ?`, id)
	var c core.Category
	err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.Description, &c.BudgetedAmount.Cents)
	return c, notFound(err, "get category")
}

func (r *Repository) PutCategory(ctx context.Context, c core.Category) (core.Category, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, owner_id, name, description, budgeted_amount_cents) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description,
			budgeted_amount_cents = excluded.budgeted_amount_cents`,
		c.ID, c.Owner, c.Name, c.Description, c.BudgetedAmount.Cents)
	if err != nil {
		return core.Category{}, fmt.Errorf("put category: %w", err)
	}
	return c, nil
}

func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "categories", id)
}

func (r *Repository) FindCategories(ctx context.Context, f store.Filter) ([]core.Category, error) {
	where, args := conditions(
		cond{"owner_id = ?", f.Owner},
		cond{"id = ?", f.Category},
	)
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, name, description, budgeted_amount_cents FROM categories`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("find categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Owner, &c.Name, &c.Description, &c.BudgetedAmount.Cents); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Budgets

const budgetColumns = `id, owner_id, name, start_date, end_date, amount_cents, description, card_id`

func (r *Repository) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	budgets, err := r.queryBudgets(ctx, ` WHERE id = ?`, id)
	if err != nil {
		return core.Budget{}, err
	}
	if len(budgets) == 0 {
		return core.Budget{}, core.ErrNotFound
	}
	return budgets[0], nil
}

func (r *Repository) PutBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, start_date = excluded.start_date,
				end_date = excluded.end_date, amount_cents = excluded.amount_cents,
				description = excluded.description, card_id = excluded.card_id`,
			b.ID, b.Owner, b.Name, formatDate(b.StartDate), formatDate(b.EndDate), b.Amount.Cents, b.Description, b.Card)
		if err != nil {
			return fmt.Errorf("upsert budget: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM budget_categories WHERE budget_id = ?`, b.ID); err != nil {
			return fmt.Errorf("clear budget categories: %w", err)
		}
		for i, catID := range b.Categories {
			if _, err := tx.ExecContext(ctx, `INSERT INTO budget_categories (budget_id, category_id, position) VALUES (?, ?, ?)`, b.ID, catID, i); err != nil {
				return fmt.Errorf("insert budget category: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("put budget: %w", err)
	}
	return b, nil
}

func (r *Repository) DeleteBudget(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "budgets", id)
}

func (r *Repository) FindBudgets(ctx context.Context, f store.Filter) ([]core.Budget, error) {
	where, args := conditions(
		cond{"owner_id = ?", f.Owner},
		cond{"card_id = ?", f.Card},
		cond{"id = ?", f.Budget},
		cond{"EXISTS (SELECT 1 FROM budget_categories bc WHERE bc.budget_id = budgets.id AND bc.category_id = ?)", f.Category},
	)
	return r.queryBudgets(ctx, where, args...)
}

func (r *Repository) queryBudgets(ctx context.Context, where string, args ...any) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	var out []core.Budget
	for rows.Next() {
		var (
			b          core.Budget
			start, end string
		)
		if err := rows.Scan(&b.ID, &b.Owner, &b.Name, &start, &end, &b.Amount.Cents, &b.Description, &b.Card); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if b.StartDate, err = parseDate(start); err != nil {
			rows.Close()
			return nil, err
		}
		if b.EndDate, err = parseDate(end); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ids, err := r.childIDs(ctx, `SELECT category_id FROM budget_categories WHERE budget_id = ? ORDER BY position`, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load budget categories: %w", err)
		}
		out[i].Categories = ids
	}
	return out, nil
}

// Ledgers

func (r *Repository) GetLedger(ctx context.Context, id string) (core.Ledger, error) {
	ledgers, err := r.queryLedgers(ctx, ` WHERE id = ?`, id)
	if err != nil {
		return core.Ledger{}, err
	}
	if len(ledgers) == 0 {
		return core.Ledger{}, core.ErrNotFound
	}
	return ledgers[0], nil
}

func (r *Repository) PutLedger(ctx context.Context, l core.Ledger) (core.Ledger, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledgers (id, owner_id, name, start_date, end_date) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, start_date = excluded.start_date, end_date = excluded.end_date`,
			l.ID, l.Owner, l.Name, formatDate(l.StartDate), formatDate(l.EndDate))
		if err != nil {
			return fmt.Errorf("upsert ledger: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_transactions WHERE ledger_id = ?`, l.ID); err != nil {
			return fmt.Errorf("clear ledger transactions: %w", err)
		}
		for i, txID := range l.Transactions {
			if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_transactions (ledger_id, transaction_id, position) VALUES (?, ?, ?)`, l.ID, txID, i); err != nil {
				return fmt.Errorf("insert ledger transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Ledger{}, fmt.Errorf("put ledger: %w", err)
	}
	return l, nil
}

func (r *Repository) DeleteLedger(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "ledgers", id)
}

func (r *Repository) FindLedgers(ctx context.Context, f store.Filter) ([]core.Ledger, error) {
	where, args := conditions(
		cond{"owner_id = ?", f.Owner},
		cond{"EXISTS (SELECT 1 FROM ledger_transactions lt WHERE lt.ledger_id = ledgers.id AND lt.transaction_id = ?)", f.Transaction},
	)
	return r.queryLedgers(ctx, where, args...)
}

func (r *Repository) queryLedgers(ctx context.Context, where string, args ...any) ([]core.Ledger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, name, start_date, end_date FROM ledgers`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledgers: %w", err)
	}
	var out []core.Ledger
	for rows.Next() {
		var (
			l          core.Ledger
			start, end string
		)
		if err := rows.Scan(&l.ID, &l.Owner, &l.Name, &start, &end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		if l.StartDate, err = parseDate(start); err != nil {
			rows.Close()
			return nil, err
		}
		if l.EndDate, err = parseDate(end); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ids, err := r.childIDs(ctx, `SELECT transaction_id FROM ledger_transactions WHERE ledger_id = ? ORDER BY position`, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load ledger transactions: %w", err)
		}
		out[i].Transactions = ids
	}
	return out, nil
}

// Transactions

const transactionColumns = `id, owner_id, card_id, budget_id, category_id, amount_cents, type, date, description`

func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	txs, err := r.queryTransactions(ctx, ` WHERE id = ?`, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(txs) == 0 {
		return core.Transaction{}, core.ErrNotFound
	}
	return txs[0], nil
}

func (r *Repository) PutTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET card_id = excluded.card_id, budget_id = excluded.budget_id,
			category_id = excluded.category_id, amount_cents = excluded.amount_cents, type = excluded.type,
			date = excluded.date, description = excluded.description`,
		t.ID, t.Owner, t.Card, nullable(t.Budget), nullable(t.Category), t.Amount.Cents, string(t.Type), formatDate(t.Date), t.Description)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("put transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "transactions", id)
}

func (r *Repository) FindTransactions(ctx context.Context, f store.Filter) ([]core.Transaction, error) {
	where, args := conditions(
		cond{"owner_id = ?", f.Owner},
		cond{"card_id = ?", f.Card},
		cond{"budget_id = ?", f.Budget},
		cond{"category_id = ?", f.Category},
		cond{"id = ?", f.Transaction},
	)
	return r.queryTransactions(ctx, where, args...)
}

func (r *Repository) queryTransactions(ctx context.Context, where string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                core.Transaction
			budget, category sql.NullString
			typ, date        string
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.Card, &budget, &category, &t.Amount.Cents, &typ, &date, &t.Description); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Budget = budget.String
		t.Category = category.String
		t.Type = core.TransactionType(typ)
		if t.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// helpers

func (r *Repository) deleteByID(ctx context.Context, table, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	slog.DebugContext(ctx, "Record deleted", "table", table, "id", id)
	return nil
}

func (r *Repository) childIDs(ctx context.Context, query, parent string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type cond struct {
	clause string
	value  string
}

func conditions(conds ...cond) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, c := range conds {
		if c.value == "" {
			continue
		}
		clauses = append(clauses, c.clause)
		args = append(args, c.value)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanUser(row *sql.Row) (core.User, error) {
	var (
		u       core.User
		created string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &created); err != nil {
		return core.User{}, notFound(err, "get user")
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return core.User{}, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

func notFound(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatDate(d core.Date) string {
	return d.UTC().Format(timeLayout)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}
