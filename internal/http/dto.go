package http

import (
	"strings"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/services"
)

const dateLayout = "2006-01-02"

// Amounts travel as decimal strings ("12.34") on input and as cents plus a
// formatted string on output. Dates are calendar days.

type moneyJSON struct {
	Cents   int64  `json:"cents"`
	Display string `json:"display"`
}

func moneyOut(m core.Money) moneyJSON {
	return moneyJSON{Cents: m.Cents, Display: m.String()}
}

func dateOut(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.UTC().Format(dateLayout)
}

// parseAmount reads a non-negative decimal. An empty string is zero.
func parseAmount(field, s string) (core.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Money{}, nil
	}
	m, err := core.ParseMoney(s)
	if err != nil {
		return core.Money{}, &core.ValidationError{Field: field, Reason: "not a decimal amount"}
	}
	return m, nil
}

// parseDate reads a YYYY-MM-DD day. An empty string is the zero date.
func parseDate(field, s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: field, Reason: "expected YYYY-MM-DD"}
	}
	return core.Date{Time: t}, nil
}

type refJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func refsOut(refs []services.Ref) []refJSON {
	out := make([]refJSON, len(refs))
	for i, r := range refs {
		out[i] = refJSON{ID: r.ID, Name: r.Name}
	}
	return out
}

func optionalRef(r *services.Ref) *refJSON {
	if r == nil {
		return nil
	}
	return &refJSON{ID: r.ID, Name: r.Name}
}

// Auth

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

type userJSON struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func userOut(u core.User) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// Cards

type cardRequest struct {
	Name string `json:"name"`
}

func (r cardRequest) input() services.CardInput {
	return services.CardInput{Name: r.Name}
}

type cardJSON struct {
	ID      string    `json:"id"`
	Owner   string    `json:"owner"`
	Name    string    `json:"name"`
	Balance moneyJSON `json:"balance"`
}

func cardOut(c core.Card) cardJSON {
	return cardJSON{ID: c.ID, Owner: c.Owner, Name: c.Name, Balance: moneyOut(c.Balance)}
}

type cardDetailJSON struct {
	cardJSON
	Budgets          []refJSON `json:"budgets"`
	TransactionCount int       `json:"transaction_count"`
}

// Categories

type categoryRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	BudgetedAmount string `json:"budgeted_amount"`
}

func (r categoryRequest) input() (services.CategoryInput, error) {
	amount, err := parseAmount("budgeted_amount", r.BudgetedAmount)
	if err != nil {
		return services.CategoryInput{}, err
	}
	return services.CategoryInput{Name: r.Name, Description: r.Description, BudgetedAmount: amount}, nil
}

type categoryJSON struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	BudgetedAmount moneyJSON `json:"budgeted_amount"`
}

func categoryOut(c core.Category) categoryJSON {
	return categoryJSON{
		ID: c.ID, Owner: c.Owner, Name: c.Name,
		Description: c.Description, BudgetedAmount: moneyOut(c.BudgetedAmount),
	}
}

type categoryDetailJSON struct {
	categoryJSON
	Spent   moneyJSON `json:"spent"`
	Budgets []refJSON `json:"budgets"`
}

// Budgets

type budgetRequest struct {
	Name        string   `json:"name"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Amount      string   `json:"amount"`
	Description string   `json:"description"`
	Card        string   `json:"card"`
	Categories  []string `json:"categories"`
}

func (r budgetRequest) input() (services.BudgetInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return services.BudgetInput{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return services.BudgetInput{}, err
	}
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return services.BudgetInput{}, err
	}
	return services.BudgetInput{
		Name: r.Name, StartDate: start, EndDate: end, Amount: amount,
		Description: r.Description, Card: r.Card, Categories: r.Categories,
	}, nil
}

type budgetJSON struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Amount      moneyJSON `json:"amount"`
	Description string    `json:"description,omitempty"`
	Card        string    `json:"card"`
	Categories  []string  `json:"categories"`
}

func budgetOut(b core.Budget) budgetJSON {
	cats := b.Categories
	if cats == nil {
		cats = []string{}
	}
	return budgetJSON{
		ID: b.ID, Owner: b.Owner, Name: b.Name,
		StartDate: dateOut(b.StartDate), EndDate: dateOut(b.EndDate),
		Amount: moneyOut(b.Amount), Description: b.Description,
		Card: b.Card, Categories: cats,
	}
}

type budgetDetailJSON struct {
	budgetJSON
	CardRef      refJSON   `json:"card_ref"`
	CategoryRefs []refJSON `json:"category_refs"`
	Spent        moneyJSON `json:"spent"`
	Remaining    moneyJSON `json:"remaining"`
}

// Ledgers

type ledgerRequest struct {
	Name         string   `json:"name"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Transactions []string `json:"transactions"`
}

func (r ledgerRequest) input() (services.LedgerInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return services.LedgerInput{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return services.LedgerInput{}, err
	}
	return services.LedgerInput{Name: r.Name, StartDate: start, EndDate: end, Transactions: r.Transactions}, nil
}

type ledgerJSON struct {
	ID           string   `json:"id"`
	Owner        string   `json:"owner"`
	Name         string   `json:"name"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Transactions []string `json:"transactions"`
}

func ledgerOut(l core.Ledger) ledgerJSON {
	ids := l.Transactions
	if ids == nil {
		ids = []string{}
	}
	return ledgerJSON{
		ID: l.ID, Owner: l.Owner, Name: l.Name,
		StartDate: dateOut(l.StartDate), EndDate: dateOut(l.EndDate), Transactions: ids,
	}
}

type totalsJSON struct {
	Income   moneyJSON `json:"income"`
	Expense  moneyJSON `json:"expense"`
	Transfer moneyJSON `json:"transfer"`
	Net      moneyJSON `json:"net"`
}

type ledgerDetailJSON struct {
	ledgerJSON
	Entries []transactionJSON `json:"entries"`
	Totals  totalsJSON        `json:"totals"`
}

func ledgerDetailOut(d services.LedgerDetail) ledgerDetailJSON {
	entries := make([]transactionJSON, len(d.Transactions))
	for i, tx := range d.Transactions {
		entries[i] = transactionOut(tx)
	}
	return ledgerDetailJSON{
		ledgerJSON: ledgerOut(d.Ledger),
		Entries:    entries,
		Totals: totalsJSON{
			Income:   moneyOut(d.Totals.Income),
			Expense:  moneyOut(d.Totals.Expense),
			Transfer: moneyOut(d.Totals.Transfer),
			Net:      moneyOut(d.Totals.Net),
		},
	}
}

type exportResponse struct {
	Ref string `json:"ref"`
}

// Transactions

type transactionRequest struct {
	Card        string `json:"card"`
	Budget      string `json:"budget"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

func (r transactionRequest) input() (services.TransactionInput, error) {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return services.TransactionInput{}, err
	}
	date, err := parseDate("date", r.Date)
	if err != nil {
		return services.TransactionInput{}, err
	}
	return services.TransactionInput{
		Card: r.Card, Budget: r.Budget, Category: r.Category,
		Amount: amount, Type: core.TransactionType(strings.ToLower(strings.TrimSpace(r.Type))),
		Date: date, Description: r.Description,
	}, nil
}

type transactionJSON struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Card        string    `json:"card"`
	Budget      string    `json:"budget,omitempty"`
	Category    string    `json:"category,omitempty"`
	Amount      moneyJSON `json:"amount"`
	Type        string    `json:"type"`
	Date        string    `json:"date"`
	Description string    `json:"description,omitempty"`
}

func transactionOut(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID: t.ID, Owner: t.Owner, Card: t.Card, Budget: t.Budget, Category: t.Category,
		Amount: moneyOut(t.Amount), Type: string(t.Type), Date: dateOut(t.Date),
		Description: t.Description,
	}
}

type transactionDetailJSON struct {
	transactionJSON
	CardRef     refJSON   `json:"card_ref"`
	BudgetRef   *refJSON  `json:"budget_ref,omitempty"`
	CategoryRef *refJSON  `json:"category_ref,omitempty"`
	Ledgers     []refJSON `json:"ledgers"`
}

func listOut[T, J any](in []T, conv func(T) J) []J {
	out := make([]J, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out
}
