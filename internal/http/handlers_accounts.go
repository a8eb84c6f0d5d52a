package http

import (
	"net/http"

	"fintrack/internal/services"

	"github.com/gorilla/mux"
)

// handleMe returns the caller with fresh balances, provisioning them on
// first sight.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accounts, err := s.svc.Accounts.List(r.Context(), u.ID, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	categories, err := s.svc.Accounts.ListCategories(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		Accounts:    toAccountsJSON(accounts),
		Categories:  toCategoriesJSON(categories),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.svc.Accounts.Balances(r.Context(), u.ID, parseBool(r.URL.Query(), "monthly"), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceJSON(rep))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accounts, err := s.svc.Accounts.List(r.Context(), u.ID, parseBool(r.URL.Query(), "all"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": toAccountsJSON(accounts)})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.svc.Accounts.Create(r.Context(), u.ID, services.NewAccount{
		Name:     req.Name,
		Kind:     req.Kind,
		Currency: req.Currency,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountJSON(acc))
}

func (s *Server) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Accounts.Deactivate(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Success: true, Message: "Account deactivated"})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Accounts.Delete(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Success: true, Message: "Account deleted successfully"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	drifts, err := s.svc.Accounts.Reconcile(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileJSON(drifts))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	categories, err := s.svc.Accounts.ListCategories(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": toCategoriesJSON(categories)})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cat, err := s.svc.Accounts.CreateCategory(r.Context(), u.ID, services.NewCategory{
		Name:  req.Name,
		Icon:  req.Icon,
		Color: req.Color,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryJSON{ID: cat.ID, Name: cat.Name, Icon: cat.Icon, Color: cat.Color})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Accounts.DeleteCategory(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Success: true, Message: "Category deleted successfully"})
}
