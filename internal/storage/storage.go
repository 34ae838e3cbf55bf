package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrStateNotFound is returned when a state was never issued or was already consumed.
var ErrStateNotFound = errors.New("state not found")

// ErrStateExpired is returned when a state is older than its TTL.
var ErrStateExpired = errors.New("state expired")

// ErrStateMissing is returned when a validating store is asked to verify an empty state.
var ErrStateMissing = errors.New("state parameter missing")

// StateStore issues the OAuth state parameter on /authorize and checks it on
// /callback. Implementations decide how much anti-forgery protection that gives.
type StateStore interface {
	// Issue returns a new opaque state value.
	Issue(ctx context.Context) (string, error)

	// Verify checks a state received on callback. Single-use stores consume it.
	Verify(ctx context.Context, state string) error

	// Kind names the implementation for logs.
	Kind() string
}

// Cleaner is implemented by stores that hold expired entries until purged.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// stateKey hashes a state so raw values are never used as storage keys.
func stateKey(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}
