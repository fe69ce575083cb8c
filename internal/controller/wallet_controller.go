// internal/controller/wallet_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/ledger"
)

type WalletController struct {
	Ledger ledger.LedgerInterface
}

func (c *WalletController) TopUp(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var body struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if body.Reason == "" {
		body.Reason = "top up"
	}

	txn, err := c.Ledger.Credit(owner, body.Amount, body.Reason, ledger.Correlation{})
	if err != nil {
		http.Error(w, "failed to credit wallet: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (c *WalletController) GetWallet(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	balance, err := c.Ledger.Balance(owner)
	if err != nil {
		http.Error(w, "failed to fetch balance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	txns, err := c.Ledger.Transactions(owner, 50)
	if err != nil {
		http.Error(w, "failed to fetch transactions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":     owner,
		"balance":      balance,
		"transactions": txns,
	})
}
