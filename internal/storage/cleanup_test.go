package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpired(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestCleanupManager_RunsUntilCancelled(t *testing.T) {
	cleaner := &countingCleaner{}
	cm := NewCleanupManager(cleaner, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cm.Run(ctx) }()

	require.Eventually(t, func() bool { return cleaner.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_ErrorsDoNotStopLoop(t *testing.T) {
	cleaner := &testutil.MockCleaner{}
	cleaner.On("CleanupExpired", mock.Anything).Return(0, errors.New("firestore unavailable"))
	cm := NewCleanupManager(cleaner, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cm.Run(ctx) }()

	time.Sleep(40 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, len(cleaner.Calls), 2)
	cleaner.AssertCalled(t, "CleanupExpired", mock.Anything)
}
