package httpserver

import (
	"net/http"

	"github.com/IndexPilot/server/internal/apikey"
	"github.com/IndexPilot/server/internal/storage"
)

func (h *handlers) getCredits(w http.ResponseWriter, r *http.Request) {
	balance, err := h.store.GetBalance(r.Context(), apikey.UserID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.store.ListTransactions(r.Context(), apikey.UserID(r), queryLimit(r, 50, 500))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if transactions == nil {
		transactions = []storage.CreditTransaction{}
	}
	respond(w, http.StatusOK, map[string]any{"transactions": transactions})
}
