package http

import (
	"net/http"

	"budgeteer/internal/services"
)

// Cards

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.tracker.ListCards(r.Context(), session(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOut(cards, cardOut))
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.tracker.CreateCard(r.Context(), session(r), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cardOut(c))
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.GetCard(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardDetailJSON{
		cardJSON:         cardOut(d.Card),
		Budgets:          refsOut(d.Budgets),
		TransactionCount: d.TransactionCount,
	})
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.tracker.UpdateCard(r.Context(), session(r), r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardOut(c))
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteCard(r.Context(), session(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.tracker.ListCategories(r.Context(), session(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOut(cats, categoryOut))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.tracker.CreateCategory(r.Context(), session(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryOut(c))
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.GetCategory(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryDetailJSON{
		categoryJSON: categoryOut(d.Category),
		Spent:        moneyOut(d.Spent),
		Budgets:      refsOut(d.Budgets),
	})
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.tracker.UpdateCategory(r.Context(), session(r), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryOut(c))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteCategory(r.Context(), session(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Budgets

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.tracker.ListBudgets(r.Context(), session(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOut(budgets, budgetOut))
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.tracker.CreateBudget(r.Context(), session(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, budgetOut(b))
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.GetBudget(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetDetailJSON{
		budgetJSON:   budgetOut(d.Budget),
		CardRef:      refJSON{ID: d.Card.ID, Name: d.Card.Name},
		CategoryRefs: refsOut(d.Categories),
		Spent:        moneyOut(d.Spent),
		Remaining:    moneyOut(d.Remaining),
	})
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.tracker.UpdateBudget(r.Context(), session(r), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetOut(b))
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteBudget(r.Context(), session(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ledgers

func (s *Server) handleListLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := s.tracker.ListLedgers(r.Context(), session(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOut(ledgers, ledgerOut))
}

func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := s.tracker.CreateLedger(r.Context(), session(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledgerOut(l))
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.GetLedger(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerDetailOut(d))
}

func (s *Server) handleUpdateLedger(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := s.tracker.UpdateLedger(r.Context(), session(r), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerOut(l))
}

func (s *Server) handleDeleteLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteLedger(r.Context(), session(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportLedger(w http.ResponseWriter, r *http.Request) {
	ref, err := s.tracker.ExportLedger(r.Context(), session(r), r.PathValue("id"), s.exporter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Ref: ref})
}

// Transactions

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := s.tracker.ListTransactions(r.Context(), session(r), services.TransactionQuery{
		Card:     q.Get("card"),
		Budget:   q.Get("budget"),
		Category: q.Get("category"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOut(txs, transactionOut))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.tracker.CreateTransaction(r.Context(), session(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionOut(tx))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.GetTransaction(r.Context(), session(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDetailJSON{
		transactionJSON: transactionOut(d.Transaction),
		CardRef:         refJSON{ID: d.Card.ID, Name: d.Card.Name},
		BudgetRef:       optionalRef(d.Budget),
		CategoryRef:     optionalRef(d.Category),
		Ledgers:         refsOut(d.Ledgers),
	})
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.tracker.UpdateTransaction(r.Context(), session(r), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionOut(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteTransaction(r.Context(), session(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
