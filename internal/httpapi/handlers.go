package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/audit"
	"quantumbank.org/internal/history"
	"quantumbank.org/internal/ledger"
	"quantumbank.org/internal/obs"
	"quantumbank.org/internal/session"
	"quantumbank.org/internal/transfer"
)

// ReadyProbe checks downstream readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the banking core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions   *session.Authority
	directory  account.Directory
	authorizer *transfer.Authorizer
	reconciler *history.Reconciler

	openingBalance int64
	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
}

// Options carries the API's tunables.
type Options struct {
	OpeningBalance int64
	RateBurst      int
	RatePerSecond  int
}

// New wires the API over its core dependencies.
func New(rp ReadyProbe, version string, sessions *session.Authority, directory account.Directory, lg ledger.Ledger, opts Options) *API {
	a := &API{
		mux:            http.NewServeMux(),
		readyProbe:     rp,
		version:        version,
		sessions:       sessions,
		directory:      directory,
		authorizer:     transfer.NewAuthorizer(sessions, directory, lg),
		reconciler:     history.NewReconciler(lg, directory),
		openingBalance: opts.OpeningBalance,
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSecond,
		maxBodyBytes:   1 << 20,
	}
	if a.openingBalance < 0 {
		a.openingBalance = 0
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	a.mux.HandleFunc("/v1/accounts", a.handleAccounts)
	a.mux.HandleFunc("/v1/session-key", a.handleSessionKey)
	a.mux.HandleFunc("/v1/delete-key", a.handleDeleteKey)
	a.mux.HandleFunc("/v1/transfer", a.handleTransfer)
	a.mux.HandleFunc("/v1/balance", a.handleBalance)
	a.mux.HandleFunc("/v1/history", a.handleHistory)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withIdentity(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "quantumbank-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }
