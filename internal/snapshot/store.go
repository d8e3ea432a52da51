package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	snap      domain.AccountSnapshot
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, accountID string) (domain.AccountSnapshot, error) {
	s.mu.RLock()
	entry, ok := s.entries[accountID]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return domain.AccountSnapshot{}, ErrNotCached
	}
	return entry.snap, nil
}

func (s *MemoryStore) Set(_ context.Context, snap domain.AccountSnapshot, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[snap.AccountID] = memoryEntry{snap: snap, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	delete(s.entries, accountID)
	s.mu.Unlock()
	return nil
}

const redisKeyPrefix = "snapshot"

// RedisStore keeps snapshots as JSON envelopes shared by every API instance.
type RedisStore struct {
	redis redis.Cmdable
}

func NewRedisStore(redis redis.Cmdable) *RedisStore {
	return &RedisStore{redis: redis}
}

type cacheEnvelope struct {
	AccountID        string    `json:"account_id"`
	BalanceCents     int64     `json:"balance_cents"`
	DailyCents       int64     `json:"daily_remaining_cents"`
	MonthlyCents     int64     `json:"monthly_remaining_cents"`
	IdentityVerified bool      `json:"identity_verified"`
	FetchedAt        time.Time `json:"fetched_at"`
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	val, err := s.redis.Get(ctx, redisKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccountSnapshot{}, ErrNotCached
		}
		return domain.AccountSnapshot{}, fmt.Errorf("redis get snapshot: %w", err)
	}
	var env cacheEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return domain.AccountSnapshot{
		AccountID:        env.AccountID,
		Balance:          domain.NewMoney(env.BalanceCents),
		DailyRemaining:   domain.NewMoney(env.DailyCents),
		MonthlyRemaining: domain.NewMoney(env.MonthlyCents),
		IdentityVerified: env.IdentityVerified,
		FetchedAt:        env.FetchedAt,
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, snap domain.AccountSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(cacheEnvelope{
		AccountID:        snap.AccountID,
		BalanceCents:     snap.Balance.Cents,
		DailyCents:       snap.DailyRemaining.Cents,
		MonthlyCents:     snap.MonthlyRemaining.Cents,
		IdentityVerified: snap.IdentityVerified,
		FetchedAt:        snap.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, redisKey(snap.AccountID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, redisKey(accountID)).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot: %w", err)
	}
	return nil
}

func redisKey(accountID string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, accountID)
}
