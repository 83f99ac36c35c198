package httpapi

import (
	"net/http"
	"time"

	"quantumbank.org/internal/identity"
	"quantumbank.org/internal/obs"
)

type sessionKeyResponse struct {
	QuantumKey string    `json:"quantum_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// handleSessionKey issues a fresh single-use transfer key for the asserted
// identity. Re-issuing supersedes the prior key, so calling it again on every
// dashboard mount is safe.
func (a *API) handleSessionKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	assertion, ok := identity.AssertionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	cred, err := a.sessions.Issue(r.Context(), assertion)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "key issuance failed")
		return
	}

	obs.CredentialsIssuedTotal.Inc()
	a.audit(r.Context(), "session.key.issued", map[string]any{
		"expires_at": cred.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, sessionKeyResponse{
		QuantumKey: cred.Token,
		ExpiresAt:  cred.ExpiresAt,
	})
}

// handleDeleteKey revokes the identity's live key. Revoking with nothing
// issued still returns 204.
func (a *API) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	if err := a.sessions.Revoke(r.Context(), id); err != nil {
		writeError(w, r, http.StatusInternalServerError, "key revocation failed")
		return
	}

	a.audit(r.Context(), "session.key.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}
