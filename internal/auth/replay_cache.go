package auth

import (
	"sync"
	"time"

	"github.com/devrev/treasury/internal/errors"
	"go.uber.org/zap"
)

// ReplayCache remembers request signatures until their timestamp leaves the
// accepted clock window, so each signed request is executed at most once
type ReplayCache struct {
	config  *ReplayCacheConfig
	entries map[string]time.Time
	logger  *zap.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// ReplayCacheConfig holds replay cache configuration
type ReplayCacheConfig struct {
	MaxEntries int
}

// NewReplayCache creates a new replay cache
func NewReplayCache(cfg *ReplayCacheConfig, logger *zap.Logger) *ReplayCache {
	return &ReplayCache{
		config:  cfg,
		entries: make(map[string]time.Time),
		logger:  logger,
		now:     time.Now,
	}
}

// Remember records signature until expiresAt. It fails with ReplayedRequest
// when the signature is already held and has not expired, and with
// ReplayCacheFull when every slot holds an unexpired signature. Live entries
// are never dropped.
func (c *ReplayCache) Remember(signature string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, found := c.entries[signature]; found && now.Before(exp) {
		return errors.ReplayedRequest(signature)
	}

	if len(c.entries) >= c.config.MaxEntries {
		c.evictExpired(now)
	}
	if len(c.entries) >= c.config.MaxEntries {
		c.logger.Warn("Replay cache full, rejecting request",
			zap.Int("max_entries", c.config.MaxEntries))
		return errors.ReplayCacheFull(c.config.MaxEntries)
	}

	c.entries[signature] = expiresAt
	return nil
}

// Len returns the number of held signatures
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ReplayCache) evictExpired(now time.Time) {
	for sig, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, sig)
		}
	}
}
