package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/identity"
	"quantumbank.org/internal/obs"
	"quantumbank.org/internal/session"
	"quantumbank.org/internal/transfer"
)

type createAccountRequest struct {
	DisplayName string `json:"display_name"`
}

type transferRequest struct {
	ToEmail    string `json:"to_email"`
	Amount     int64  `json:"amount"` // minor units
	QuantumKey string `json:"quantum_key"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
	NewBalance int64  `json:"new_balance"`
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Balance   int64  `json:"balance"`
}

type historyResponse struct {
	Items []historyItem `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

type historyItem struct {
	TransferID   string    `json:"transfer_id"`
	Direction    string    `json:"direction"`
	Counterparty string    `json:"counterparty"`
	Amount       int64     `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

// handleAccounts registers an account for the asserted identity at signup,
// funded with the configured opening balance. Identity and email come from
// the verified assertion, never the body.
func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	assertion, ok := identity.AssertionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = assertion.DisplayName
	}

	acc, err := a.directory.Create(r.Context(), account.Account{
		ID:          assertion.Identity(),
		Email:       assertion.Email,
		DisplayName: displayName,
		Balance:     a.openingBalance,
	})
	if errors.Is(err, account.ErrAlreadyExists) {
		writeError(w, r, http.StatusConflict, "account already exists")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "account creation failed")
		return
	}

	a.audit(r.Context(), "account.created", map[string]any{
		"email":           acc.Email,
		"opening_balance": strconv.FormatInt(acc.Balance, 10),
	})

	w.Header().Set("Location", "/v1/balance")
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ToEmail == "" {
		writeError(w, r, http.StatusBadRequest, "to_email is required")
		return
	}
	if req.QuantumKey == "" {
		writeError(w, r, http.StatusBadRequest, "quantum_key is required")
		return
	}

	res, err := a.authorizer.Authorize(r.Context(), transfer.Request{
		FromIdentity: id,
		ToEmail:      req.ToEmail,
		Amount:       req.Amount,
		Key:          req.QuantumKey,
	})
	if err != nil {
		code, reason := transferRejection(err)
		obs.TransfersTotal.WithLabelValues(reason).Inc()
		if errors.Is(err, session.ErrCredential) {
			obs.CredentialsConsumedTotal.WithLabelValues(credentialSubReason(err)).Inc()
		}
		a.audit(r.Context(), "transfer.rejected", map[string]any{
			"to_email": req.ToEmail,
			"amount":   strconv.FormatInt(req.Amount, 10),
			"reason":   reason,
		})
		writeError(w, r, code, reason)
		return
	}

	obs.TransfersTotal.WithLabelValues("completed").Inc()
	obs.CredentialsConsumedTotal.WithLabelValues("ok").Inc()
	a.audit(r.Context(), "transfer.completed", map[string]any{
		"transfer_id": res.Record.ID,
		"to":          res.Record.To,
		"amount":      strconv.FormatInt(res.Record.Amount, 10),
	})

	writeJSON(w, http.StatusCreated, transferResponse{
		TransferID: res.Record.ID,
		NewBalance: res.NewBalance,
	})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	acc, err := a.directory.Get(r.Context(), id)
	if errors.Is(err, account.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: acc.ID,
		Email:     acc.Email,
		Balance:   acc.Balance,
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	entries, err := a.reconciler.HistoryFor(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "history lookup failed")
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			TransferID:   e.TransferID,
			Direction:    string(e.Direction),
			Counterparty: e.Counterparty,
			Amount:       e.Amount,
			Timestamp:    e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items, AsOf: nowUTC()})
}

// transferRejection maps an authorizer error onto a status code and the
// rejection reason surfaced verbatim to the caller.
func transferRejection(err error) (int, string) {
	switch {
	case errors.Is(err, transfer.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid-amount"
	case errors.Is(err, transfer.ErrSelfTransfer):
		return http.StatusBadRequest, "self-transfer"
	case errors.Is(err, transfer.ErrUnknownRecipient):
		return http.StatusNotFound, "unknown-recipient"
	case errors.Is(err, transfer.ErrUnknownSource):
		return http.StatusNotFound, "unknown-source"
	case errors.Is(err, transfer.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient-funds"
	case errors.Is(err, session.ErrCredential):
		return http.StatusForbidden, credentialReason(err)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func credentialReason(err error) string {
	return "credential-invalid: " + credentialSubReason(err)
}

func credentialSubReason(err error) string {
	switch {
	case errors.Is(err, session.ErrExpired):
		return "expired"
	case errors.Is(err, session.ErrMismatched):
		return "mismatched"
	case errors.Is(err, session.ErrAlreadyConsumed):
		return "already-consumed"
	case errors.Is(err, session.ErrNoneIssued):
		return "none-issued"
	default:
		return "invalid"
	}
}
