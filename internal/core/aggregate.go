package core

// Signed returns the transaction's effect on its card. A transfer only has one
// card field, so it is booked as an outgoing movement on that card.
func (t Transaction) Signed() Money {
	switch t.Type {
	case Income:
		return t.Amount
	case Expense, Transfer:
		return Money{Cents: -t.Amount.Cents}
	}
	return Money{}
}

// CardBalance recomputes a card balance from the full transaction set. Only
// transactions referencing cardID contribute.
func CardBalance(cardID string, txs []Transaction) Money {
	var total Money
	for _, t := range txs {
		if t.Card == cardID {
			total = total.Add(t.Signed())
		}
	}
	return total
}

// BudgetSpent sums the amounts of transactions tied to b and dated inside its range.
func BudgetSpent(b Budget, txs []Transaction) Money {
	var spent Money
	for _, t := range txs {
		if t.Budget != b.ID {
			continue
		}
		if !t.Date.Within(b.StartDate, b.EndDate) {
			continue
		}
		spent = spent.Add(t.Amount)
	}
	return spent
}

// BudgetRemaining is amount minus in-range spending. It is never stored.
func BudgetRemaining(b Budget, txs []Transaction) Money {
	return b.Amount.Sub(BudgetSpent(b, txs))
}

// CategorySpent sums expense amounts booked against a category.
func CategorySpent(categoryID string, txs []Transaction) Money {
	var spent Money
	for _, t := range txs {
		if t.Category == categoryID && t.Type == Expense {
			spent = spent.Add(t.Amount)
		}
	}
	return spent
}

// Totals summarises a set of transactions, as shown on a ledger.
type Totals struct {
	Income   Money
	Expense  Money
	Transfer Money
	Net      Money
}

func Summarize(txs []Transaction) Totals {
	var s Totals
	for _, t := range txs {
		switch t.Type {
		case Income:
			s.Income = s.Income.Add(t.Amount)
		case Expense:
			s.Expense = s.Expense.Add(t.Amount)
		case Transfer:
			s.Transfer = s.Transfer.Add(t.Amount)
		}
		s.Net = s.Net.Add(t.Signed())
	}
	return s
}
