package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

// Kind names a record type. It is used in errors, events and store lookups.
type Kind string

const (
	KindUser        Kind = "user"
	KindCard        Kind = "card"
	KindCategory    Kind = "category"
	KindBudget      Kind = "budget"
	KindLedger      Kind = "ledger"
	KindTransaction Kind = "transaction"
)

type (
	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Session is the authenticated principal. It is passed explicitly into
	// every owner-scoped operation.
	Session struct {
		UserID string
	}

	User struct {
		ID           string
		Email        string
		PasswordHash string
		Name         string
		CreatedAt    time.Time
	}

	Card struct {
		ID      string
		Owner   string
		Name    string
		Balance Money // derived from the card's transactions
	}

	Category struct {
		ID             string
		Owner          string
		Name           string
		Description    string
		BudgetedAmount Money
	}

	Budget struct {
		ID          string
		Owner       string
		Name        string
		StartDate   Date
		EndDate     Date
		Amount      Money
		Description string
		Card        string
		Categories  []string
	}

	Ledger struct {
		ID           string
		Owner        string
		Name         string
		StartDate    Date
		EndDate      Date
		Transactions []string // ordered
	}

	Transaction struct {
		ID          string
		Owner       string
		Card        string
		Budget      string // empty when detached
		Category    string // empty when detached
		Amount      Money
		Type        TransactionType
		Date        Date
		Description string
	}
)

const maxDescription = 500

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
)

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Midnight truncates the date to midnight UTC.
func (d Date) Midnight() Date {
	y, m, dd := d.UTC().Date()
	return Date{Time: time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)}
}

// Within reports whether d falls on or between start and end, compared by calendar day.
func (d Date) Within(start, end Date) bool {
	day := d.Midnight().Time
	return !day.Before(start.Midnight().Time) && !day.After(end.Midnight().Time)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (u User) Validate() error {
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return invalid("email", "required")
	}
	if !strings.Contains(email, "@") {
		return invalid("email", "malformed address")
	}
	if strings.TrimSpace(u.PasswordHash) == "" {
		return invalid("password", "required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return invalid("name", "required")
	}
	return nil
}

func (c Card) Validate() error {
	if c.Owner == "" {
		return invalid("owner", "required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "required")
	}
	return nil
}

func (c Category) Validate() error {
	if c.Owner == "" {
		return invalid("owner", "required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "required")
	}
	if len(c.Description) > maxDescription {
		return invalid("description", "too long")
	}
	if c.BudgetedAmount.Cents < 0 {
		return invalid("budgeted_amount", "cannot be negative")
	}
	return nil
}

func (b Budget) Validate() error {
	if b.Owner == "" {
		return invalid("owner", "required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return invalid("name", "required")
	}
	if err := validateRange(b.StartDate, b.EndDate); err != nil {
		return err
	}
	if b.Amount.Cents < 0 {
		return invalid("amount", "cannot be negative")
	}
	if b.Card == "" {
		return invalid("card", "required")
	}
	if len(b.Description) > maxDescription {
		return invalid("description", "too long")
	}
	return nil
}

func (l Ledger) Validate() error {
	if l.Owner == "" {
		return invalid("owner", "required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return invalid("name", "required")
	}
	return validateRange(l.StartDate, l.EndDate)
}

func (t Transaction) Validate() error {
	if t.Owner == "" {
		return invalid("owner", "required")
	}
	if t.Card == "" {
		return invalid("card", "required")
	}
	if err := t.Amount.Validate(); err != nil {
		return invalid("amount", "must be a positive magnitude")
	}
	if !t.Type.Valid() {
		return invalid("type", "must be one of income, expense, transfer")
	}
	if err := t.Date.Validate(); err != nil {
		return invalid("date", err.Error())
	}
	if len(t.Description) > maxDescription {
		return invalid("description", "too long")
	}
	return nil
}

func validateRange(start, end Date) error {
	if err := start.Validate(); err != nil {
		return invalid("start_date", err.Error())
	}
	if err := end.Validate(); err != nil {
		return invalid("end_date", err.Error())
	}
	if start.Midnight().After(end.Midnight().Time) {
		return invalid("start_date", "must not be after end_date")
	}
	return nil
}
