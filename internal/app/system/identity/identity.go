// Package identity turns a bearer token into the account making the request.
//
// Session issuance lives elsewhere; this package only verifies. Two token
// forms are accepted: API keys ("sk_..." issued per account) and HS256 JWTs
// whose subject is the account id.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNoCredentials means the request carried no bearer token.
	ErrNoCredentials = errors.New("missing bearer token")
	// ErrInvalidToken means no verifier accepted the token.
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is a verified caller.
type Principal struct {
	AccountID primitive.ObjectID
	Email     string
	Name      string
	Role      string
	Method    string // "api_key" or "jwt"
}

// Verifier checks a token and returns the account id it speaks for.
type Verifier interface {
	Verify(ctx context.Context, token string) (primitive.ObjectID, error)
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (primitive.ObjectID, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return primitive.NilObjectID, err
		}
	}
	return primitive.NilObjectID, ErrInvalidToken
}

// BearerToken extracts the token from "Authorization: Bearer <token>". For
// websocket upgrades, where browsers cannot set headers, the access_token
// query parameter is accepted too.
func BearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
	}
	return "", ErrNoCredentials
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// FromRequest is FromContext for a request.
func FromRequest(r *http.Request) (*Principal, bool) {
	return FromContext(r.Context())
}
