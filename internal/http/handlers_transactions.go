package http

import (
	"net/http"

	"fintrack/internal/services"

	"github.com/gorilla/mux"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	rng, err := parseRange(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if parseBool(q, "summary") {
		policy, err := parsePolicy(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		policy = s.svc.Summary.Policy(policy)
		sum, err := s.svc.Summary.Summarize(r.Context(), u.ID, rng, policy)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSummaryJSON(sum, policy))
		return
	}

	opts := services.ListOptions{Range: rng}
	if opts.Limit, err = parseInt(q, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Offset, err = parseInt(q, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, total, err := s.svc.Ledger.List(r.Context(), u.ID, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := transactionListJSON{Transactions: make([]transactionJSON, 0, len(txs)), Total: total}
	for _, t := range txs {
		out.Transactions = append(out.Transactions, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.toNew()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.svc.Ledger.Create(r.Context(), u.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionEnvelope{Success: true, Transaction: toTransactionJSON(tx)})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.svc.Ledger.Get(r.Context(), u.ID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.svc.Ledger.Update(r.Context(), u.ID, mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionEnvelope{Success: true, Transaction: toTransactionJSON(tx)})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Ledger.Delete(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Success: true, Message: "Transaction deleted successfully"})
}

func (s *Server) handleCategoryReport(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	rng, err := parseRange(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	policy, err := parsePolicy(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	policy = s.svc.Summary.Policy(policy)

	rows, err := s.svc.Summary.CategoryBreakdown(r.Context(), u.ID, rng, policy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryReportJSON(rows, policy))
}
