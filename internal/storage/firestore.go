package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/gh-oauth-relay/internal/crypto"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps issued states in a Firestore collection so every
// replica can verify a state issued by any other. States are single-use and
// consumed inside a transaction.
//
// Documents are keyed by the SHA-256 of the state; the raw value is never stored.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	now        func() time.Time
}

var (
	_ StateStore = (*FirestoreStore)(nil)
	_ Cleaner    = (*FirestoreStore)(nil)
)

// StateDoc represents an issued state in Firestore
type StateDoc struct {
	CreatedAt int64 `firestore:"created_at"`
	ExpiresAt int64 `firestore:"expires_at"`
}

// NewFirestoreStore creates a Firestore-backed state store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, ttl time.Duration) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStore) Kind() string { return "firestore" }

// Issue creates a state document and returns the state.
func (s *FirestoreStore) Issue(ctx context.Context) (string, error) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := s.now()
	doc := StateDoc{
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	if _, err := s.client.Collection(s.collection).Doc(stateKey(state)).Create(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to store state in Firestore: %w", err)
	}
	return state, nil
}

// Verify reads and deletes the state document in one transaction.
func (s *FirestoreStore) Verify(ctx context.Context, state string) error {
	if state == "" {
		return ErrStateMissing
	}
	ref := s.client.Collection(s.collection).Doc(stateKey(state))

	var expired bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrStateNotFound
			}
			return err
		}

		var doc StateDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		expired = s.now().Unix() > doc.ExpiresAt
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return ErrStateNotFound
		}
		return fmt.Errorf("failed to verify state in Firestore: %w", err)
	}
	if expired {
		return ErrStateExpired
	}
	return nil
}

// CleanupExpired removes all expired state documents
func (s *FirestoreStore) CleanupExpired(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", s.now().Unix()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired states: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	if count > 0 {
		log.LogDebugWithFields("firestore", "Deleted expired states", map[string]any{
			"count":      count,
			"collection": s.collection,
		})
	}
	return count, nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
