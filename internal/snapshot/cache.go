// Package snapshot caches advisory account snapshots in front of a Source.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNotCached = errors.New("snapshot not cached")

// Source fetches an authoritative snapshot, usually from the account database.
type Source interface {
	FetchSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, accountID string) (domain.AccountSnapshot, error)

func (f SourceFunc) FetchSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	return f(ctx, accountID)
}

// Store keeps snapshots for a while. Get returns ErrNotCached on a miss.
type Store interface {
	Get(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	Set(ctx context.Context, snap domain.AccountSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, accountID string) error
}

// Cache reads through a Store to a Source. Every caller gets its own copy.
type Cache struct {
	source Source
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewCache(source Source, store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{source: source, store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Get returns the cached snapshot or fetches it. Concurrent misses for the
// same account share one fetch.
func (c *Cache) Get(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	snap, err := c.store.Get(ctx, accountID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotCached) {
		c.logger.Warn("snapshot store read failed", zap.String("account_id", accountID), zap.Error(err))
	}
	return c.load(ctx, accountID)
}

// Refresh bypasses the store and replaces the cached entry with a fresh fetch.
func (c *Cache) Refresh(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	return c.load(ctx, accountID)
}

// Invalidate drops the cached entry so the next Get sees the backend's new state.
func (c *Cache) Invalidate(ctx context.Context, accountID string) {
	if err := c.store.Delete(ctx, accountID); err != nil {
		c.logger.Warn("snapshot invalidate failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (c *Cache) load(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	v, err, _ := c.group.Do(accountID, func() (interface{}, error) {
		snap, err := c.source.FetchSnapshot(ctx, accountID)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		snap.AccountID = accountID
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = c.now()
		}
		if err := c.store.Set(ctx, snap, c.ttl); err != nil {
			c.logger.Warn("snapshot store write failed", zap.String("account_id", accountID), zap.Error(err))
		}
		return snap, nil
	})
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("fetch snapshot %s: %w", accountID, err)
	}
	return v.(domain.AccountSnapshot), nil
}
