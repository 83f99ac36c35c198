package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/identity"
	"quantumbank.org/internal/ledger"
	"quantumbank.org/internal/session"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("QBANK_IDP_SECRET", "test-secret")
	identity.ResetSecretForTests()
	t.Cleanup(identity.ResetSecretForTests)

	api := New(
		ReadyProbe{},
		"test",
		session.NewAuthority(session.NewInMemoryStore()),
		account.NewInMemory(),
		ledger.NewInMemory(),
		Options{OpeningBalance: 10000, RateBurst: 1000, RatePerSecond: 1000},
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) assertion(id, email string) string {
	c.t.Helper()
	token, err := identity.Sign(id, email, "", time.Minute)
	if err != nil {
		c.t.Fatalf("sign assertion: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path string, body any, bearer string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	req, err := http.NewRequest(method, u.String(), bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (c *apiClient) signup(id, email string) string {
	c.t.Helper()
	bearer := c.assertion(id, email)
	resp := c.do(http.MethodPost, "/v1/accounts", nil, bearer)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("signup %s: status %d", id, resp.StatusCode)
	}
	resp.Body.Close()
	return bearer
}

func (c *apiClient) sessionKey(bearer string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/session-key", nil, bearer)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("session-key: status %d", resp.StatusCode)
	}
	var body struct {
		QuantumKey string    `json:"quantum_key"`
		ExpiresAt  time.Time `json:"expires_at"`
	}
	decodeBody(c.t, resp, &body)
	if body.QuantumKey == "" || !body.ExpiresAt.After(time.Now()) {
		c.t.Fatalf("bad session key response: %+v", body)
	}
	return body.QuantumKey
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRequestsRequireAssertion(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/v1/balance", "/v1/history"} {
		resp := c.do(http.MethodGet, path, nil, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without assertion: status %d", path, resp.StatusCode)
		}
	}
	resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{}, "garbage")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("transfer with garbage assertion: status %d", resp.StatusCode)
	}
}

func TestSignupAndBalance(t *testing.T) {
	c := newTestAPI(t)
	bearer := c.signup("uid-a", "a@example.com")

	resp := c.do(http.MethodGet, "/v1/balance", nil, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance: status %d", resp.StatusCode)
	}
	var body struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
		Balance   int64  `json:"balance"`
	}
	decodeBody(t, resp, &body)
	if body.AccountID != "uid-a" || body.Email != "a@example.com" || body.Balance != 10000 {
		t.Fatalf("unexpected balance body: %+v", body)
	}

	// Signing up twice conflicts.
	resp = c.do(http.MethodPost, "/v1/accounts", nil, bearer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second signup: status %d", resp.StatusCode)
	}
}

func TestTransferFlow(t *testing.T) {
	c := newTestAPI(t)
	bearerA := c.signup("uid-a", "a@example.com")
	c.signup("uid-b", "b@example.com")
	key := c.sessionKey(bearerA)

	resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{
		"to_email":    "b@example.com",
		"amount":      2500,
		"quantum_key": key,
	}, bearerA)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer: status %d", resp.StatusCode)
	}
	var body struct {
		TransferID string `json:"transfer_id"`
		NewBalance int64  `json:"new_balance"`
	}
	decodeBody(t, resp, &body)
	if body.TransferID == "" || body.NewBalance != 7500 {
		t.Fatalf("unexpected transfer body: %+v", body)
	}

	// The key is consumed: replaying it fails with the specific sub-reason.
	resp = c.do(http.MethodPost, "/v1/transfer", map[string]any{
		"to_email":    "b@example.com",
		"amount":      100,
		"quantum_key": key,
	}, bearerA)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("replayed key: status %d", resp.StatusCode)
	}
	var errBody map[string]any
	decodeBody(t, resp, &errBody)
	if errBody["error"] != "credential-invalid: already-consumed" {
		t.Fatalf("unexpected error: %v", errBody["error"])
	}
}

func TestTransferRejections(t *testing.T) {
	c := newTestAPI(t)
	bearerA := c.signup("uid-a", "a@example.com")
	c.signup("uid-b", "b@example.com")

	cases := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantError  string
	}{
		{
			name:       "zero amount",
			body:       map[string]any{"to_email": "b@example.com", "amount": 0, "quantum_key": "k"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid-amount",
		},
		{
			name:       "unknown recipient",
			body:       map[string]any{"to_email": "ghost@example.com", "amount": 100, "quantum_key": "k"},
			wantStatus: http.StatusNotFound,
			wantError:  "unknown-recipient",
		},
		{
			name:       "self transfer",
			body:       map[string]any{"to_email": "a@example.com", "amount": 100, "quantum_key": "k"},
			wantStatus: http.StatusBadRequest,
			wantError:  "self-transfer",
		},
		{
			name:       "no key issued",
			body:       map[string]any{"to_email": "b@example.com", "amount": 100, "quantum_key": "never-issued"},
			wantStatus: http.StatusForbidden,
			wantError:  "credential-invalid: none-issued",
		},
	}

	for _, tc := range cases {
		resp := c.do(http.MethodPost, "/v1/transfer", tc.body, bearerA)
		if resp.StatusCode != tc.wantStatus {
			t.Fatalf("%s: status %d, want %d", tc.name, resp.StatusCode, tc.wantStatus)
		}
		var errBody map[string]any
		decodeBody(t, resp, &errBody)
		if errBody["error"] != tc.wantError {
			t.Fatalf("%s: error %v, want %q", tc.name, errBody["error"], tc.wantError)
		}
	}
}

func TestInsufficientFunds(t *testing.T) {
	c := newTestAPI(t)
	bearerA := c.signup("uid-a", "a@example.com")
	c.signup("uid-b", "b@example.com")
	key := c.sessionKey(bearerA)

	resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{
		"to_email":    "b@example.com",
		"amount":      15000,
		"quantum_key": key,
	}, bearerA)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var errBody map[string]any
	decodeBody(t, resp, &errBody)
	if errBody["error"] != "insufficient-funds" {
		t.Fatalf("unexpected error: %v", errBody["error"])
	}

	// No state mutation.
	resp = c.do(http.MethodGet, "/v1/balance", nil, bearerA)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, resp, &bal)
	if bal.Balance != 10000 {
		t.Fatalf("balance mutated: %d", bal.Balance)
	}
}

func TestDeleteKeyIsIdempotent(t *testing.T) {
	c := newTestAPI(t)
	bearerA := c.signup("uid-a", "a@example.com")
	c.signup("uid-b", "b@example.com")
	key := c.sessionKey(bearerA)

	for i := 0; i < 2; i++ {
		resp := c.do(http.MethodPost, "/v1/delete-key", nil, bearerA)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete-key round %d: status %d", i, resp.StatusCode)
		}
	}

	// The revoked key no longer authorizes a transfer.
	resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{
		"to_email":    "b@example.com",
		"amount":      100,
		"quantum_key": key,
	}, bearerA)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("transfer with revoked key: status %d", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	c := newTestAPI(t)
	bearerA := c.signup("uid-a", "a@example.com")
	bearerB := c.signup("uid-b", "b@example.com")

	// A sends twice, B sends once back.
	for _, amount := range []int{100, 200} {
		key := c.sessionKey(bearerA)
		resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{
			"to_email": "b@example.com", "amount": amount, "quantum_key": key,
		}, bearerA)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("transfer %d: status %d", amount, resp.StatusCode)
		}
	}
	keyB := c.sessionKey(bearerB)
	resp := c.do(http.MethodPost, "/v1/transfer", map[string]any{
		"to_email": "a@example.com", "amount": 50, "quantum_key": keyB,
	}, bearerB)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer back: status %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/history", nil, bearerA)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var body struct {
		Items []struct {
			TransferID   string    `json:"transfer_id"`
			Direction    string    `json:"direction"`
			Counterparty string    `json:"counterparty"`
			Amount       int64     `json:"amount"`
			Timestamp    time.Time `json:"timestamp"`
		} `json:"items"`
	}
	decodeBody(t, resp, &body)

	if len(body.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(body.Items))
	}
	// Newest first: the last transfer was the received one.
	if body.Items[0].Direction != "received" || body.Items[0].Amount != 50 {
		t.Fatalf("unexpected newest item: %+v", body.Items[0])
	}
	for _, item := range body.Items {
		if item.Counterparty != "b@example.com" {
			t.Fatalf("unexpected counterparty: %+v", item)
		}
	}
	for i := 1; i < len(body.Items); i++ {
		if body.Items[i].Timestamp.After(body.Items[i-1].Timestamp) {
			t.Fatalf("items not newest-first at %d", i)
		}
	}
}
