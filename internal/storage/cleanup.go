package storage

import (
	"context"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/log"
)

// CleanupManager periodically purges expired states from a Cleaner.
type CleanupManager struct {
	cleaner  Cleaner
	interval time.Duration
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(cleaner Cleaner, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		cleaner:  cleaner,
		interval: interval,
	}
}

// Run purges immediately and then every interval until ctx is done.
func (cm *CleanupManager) Run(ctx context.Context) error {
	log.LogInfoWithFields("cleanup", "Starting state cleanup", map[string]any{
		"interval": cm.interval.String(),
	})

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)
	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-ctx.Done():
			log.LogInfoWithFields("cleanup", "State cleanup stopped", nil)
			return nil
		}
	}
}

// cleanup performs the actual cleanup operation
func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.cleaner.CleanupExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired states", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired states", map[string]any{
			"count": count,
		})
	}
}
