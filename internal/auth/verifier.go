// Package auth verifies bearer tokens against an external identity
// provider and carries the resulting identity through the request
// context. The provider is fully opaque behind the Verifier interface.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized reports a token the provider refused.
var ErrUnauthorized = errors.New("invalid authentication credentials")

// Identity is the authenticated user as the core sees it: an opaque,
// immutable identifier used only for ownership checks.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// Verifier resolves a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// InsecureVerifier accepts any non-empty token and uses it verbatim as
// the user id. 仅用于本地开发，切勿在生产环境启用。
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: token}, nil
}

var _ Verifier = InsecureVerifier{}
