package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                      "/",
		"/metrics":              "/metrics",
		"/v1/transfer":          "/v1/transfer",
		"/v1/transfer/":         "/v1/transfer",
		"/v1/history?limit=10":  "/v1/history",
		"/v1/session-key":       "/v1/session-key",
		"/v1/balance?currency=": "/v1/balance",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
