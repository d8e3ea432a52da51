// Package lock serializes submissions per account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockNotAcquired = errors.New("account is busy with another submission")

// Locker grants exclusive access to an account. The returned release func
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, accountID string) (release func(), err error)
}

// LocalLocker serializes submissions within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[accountID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[accountID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(accountID, s)
		return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(accountID, s)
		})
	}, nil
}

func (l *LocalLocker) unref(accountID string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, accountID)
	}
	l.mu.Unlock()
}

// RedisOptions tunes the distributed mutex.
type RedisOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{Expiry: 30 * time.Second, Tries: 32, RetryDelay: 100 * time.Millisecond}
}

// RedisLocker serializes submissions across API instances with a redsync mutex.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRedisOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, accountID string) (func(), error) {
	mutex := l.rs.NewMutex(
		lockKey(accountID),
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
				l.logger.Warn("release account lock failed",
					zap.String("account_id", accountID),
					zap.Bool("released", ok),
					zap.Error(err),
				)
			}
		})
	}, nil
}

func lockKey(accountID string) string {
	return "lock:account:" + accountID
}
