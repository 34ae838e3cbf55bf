package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStateStore is a testify mock satisfying storage.StateStore.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Issue(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockStateStore) Verify(ctx context.Context, state string) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockStateStore) Kind() string {
	return "mock"
}

// MockCleaner is a testify mock satisfying storage.Cleaner.
type MockCleaner struct {
	mock.Mock
}

func (m *MockCleaner) CleanupExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
