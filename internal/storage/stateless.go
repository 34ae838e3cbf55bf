package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/crypto"
	"github.com/dgellow/gh-oauth-relay/internal/log"
)

// UncheckedStore generates a random state and accepts anything on callback.
// Nothing is persisted, so the callback cannot tell a forged request from a
// real one.
type UncheckedStore struct{}

var _ StateStore = UncheckedStore{}

// NewUncheckedStore returns the non-validating store.
func NewUncheckedStore() UncheckedStore {
	return UncheckedStore{}
}

func (UncheckedStore) Kind() string { return "unchecked" }

// Issue returns a fresh random token.
func (UncheckedStore) Issue(context.Context) (string, error) {
	return crypto.GenerateSecureToken()
}

// Verify always succeeds.
func (UncheckedStore) Verify(_ context.Context, state string) error {
	log.LogDebugWithFields("state", "State not validated on callback", map[string]any{
		"state_present": state != "",
	})
	return nil
}

// SignedStore issues HMAC-signed state tokens carrying a nonce and expiry.
// It needs no shared storage but a token can be replayed until it expires.
type SignedStore struct {
	signer crypto.TokenSigner
}

var _ StateStore = (*SignedStore)(nil)

type signedState struct {
	Nonce string `json:"n"`
}

// NewSignedStore creates a signed store. key must be at least 32 bytes.
func NewSignedStore(key []byte, ttl time.Duration) (*SignedStore, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("state signing key must be at least 32 bytes, got %d", len(key))
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("state ttl must be positive")
	}
	return &SignedStore{signer: crypto.NewTokenSigner(key, ttl)}, nil
}

func (s *SignedStore) Kind() string { return "signed" }

// Issue signs a random nonce.
func (s *SignedStore) Issue(context.Context) (string, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	return s.signer.Sign(signedState{Nonce: nonce})
}

// Verify checks the signature and expiry.
func (s *SignedStore) Verify(_ context.Context, state string) error {
	if state == "" {
		return ErrStateMissing
	}
	var payload signedState
	if err := s.signer.Verify(state, &payload); err != nil {
		if errors.Is(err, crypto.ErrTokenExpired) {
			return ErrStateExpired
		}
		return fmt.Errorf("%w: %v", ErrStateNotFound, err)
	}
	if payload.Nonce == "" {
		return ErrStateNotFound
	}
	return nil
}
