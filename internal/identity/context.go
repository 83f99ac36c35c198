package identity

import (
	"context"
	"strings"
)

type ctxKey struct{}

var assertionKey ctxKey

// ContextWithAssertion stores the verified principal in the context.
func ContextWithAssertion(ctx context.Context, a *Assertion) context.Context {
	if a == nil {
		return ctx
	}
	return context.WithValue(ctx, assertionKey, a)
}

// AssertionFromContext returns the verified assertion, if present.
func AssertionFromContext(ctx context.Context) (*Assertion, bool) {
	a, ok := ctx.Value(assertionKey).(*Assertion)
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}

// FromContext extracts the authenticated identity from the context.
func FromContext(ctx context.Context) (string, bool) {
	a, ok := AssertionFromContext(ctx)
	if !ok || strings.TrimSpace(a.Subject) == "" {
		return "", false
	}
	return a.Subject, true
}

// EmailFromContext returns the authenticated principal's email, if present.
func EmailFromContext(ctx context.Context) (string, bool) {
	a, ok := AssertionFromContext(ctx)
	if !ok || a.Email == "" {
		return "", false
	}
	return a.Email, true
}
