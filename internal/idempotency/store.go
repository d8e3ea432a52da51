package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps confirm responses in Redis so a repeated Idempotency-Key
// replays the first answer instead of submitting the movement again.
// Keys are scoped by account: two accounts may reuse the same key.
type Store struct {
	redis      redis.Cmdable
	ttl        time.Duration
	pendingTTL time.Duration
	pollEvery  time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{redis: rdb, ttl: ttl, pendingTTL: 2 * time.Minute, pollEvery: 50 * time.Millisecond}
}

// WithPendingTTL bounds how long a reservation survives a crashed request.
func (s *Store) WithPendingTTL(d time.Duration) *Store {
	s.pendingTTL = d
	return s
}

type envelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	InProgress  bool   `json:"in_progress"`
	Status      int    `json:"status,omitempty"`
	Body        []byte `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

func (s *Store) Lookup(ctx context.Context, scope, key, requestHash string) (*Record, error) {
	val, err := s.redis.Get(ctx, redisKey(scope, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	if env.InProgress {
		return nil, ErrInProgress
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    "redis",
	}, nil
}

// Reserve claims the key for one in-flight request. It reports false when
// another request already holds or has finished it.
func (s *Store) Reserve(ctx context.Context, scope, key, requestHash, method, path string) (bool, error) {
	payload, err := json.Marshal(envelope{Key: key, Hash: requestHash, Method: method, Path: path, InProgress: true})
	if err != nil {
		return false, fmt.Errorf("encode idempotency reservation: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, redisKey(scope, key), payload, s.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *Store) Finalize(ctx context.Context, scope, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	payload, err := json.Marshal(envelope{
		Key:         key,
		Hash:        requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode idempotency record: %w", err)
	}
	// XX: a reservation that already expired is not resurrected
	ok, err := s.redis.SetXX(ctx, redisKey(scope, key), payload, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
		ServedBy:    "redis",
	}, nil
}

// Release drops a reservation so the client may try the same key again.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	if err := s.redis.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *Store) WaitForCompletion(ctx context.Context, scope, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, scope, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, scope, key)
}
