package tokenstore

import (
	"context"
	"errors"
)

// TokenKey is the key the session token is stored under.
const TokenKey = "token"

// TokenSource exposes the session token slot of a Store.
type TokenSource struct {
	store *Store
}

// Tokens returns the token slot of s.
func (s *Store) Tokens() *TokenSource {
	return &TokenSource{store: s}
}

// Token returns the stored token, or "" when none is stored.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	tok, err := t.store.Get(ctx, TokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tok, err
}

// SetToken stores token.
func (t *TokenSource) SetToken(ctx context.Context, token string) error {
	return t.store.Put(ctx, TokenKey, token)
}

// ClearToken removes the stored token.
func (t *TokenSource) ClearToken(ctx context.Context) error {
	return t.store.Delete(ctx, TokenKey)
}
