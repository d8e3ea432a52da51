package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/dalepay/wallet-movements/internal/idempotency"
	"github.com/dalepay/wallet-movements/internal/observability"
	"go.uber.org/zap"
)

// IdempotencyStore is the subset of idempotency.Store the middleware needs.
type IdempotencyStore interface {
	Lookup(ctx context.Context, scope, key, requestHash string) (*idempotency.Record, error)
	Reserve(ctx context.Context, scope, key, requestHash, method, path string) (bool, error)
	Finalize(ctx context.Context, scope, key, requestHash string, status int, body []byte, contentType string) (*idempotency.Record, error)
	Release(ctx context.Context, scope, key string) error
	WaitForCompletion(ctx context.Context, scope, key, requestHash string) (*idempotency.Record, error)
}

// IdempotencyMiddleware enforces the Idempotency-Key contract on the route it
// wraps. Keys are scoped to the authenticated account. Server errors release
// the key so the client can retry it; every other response is replayed.
func IdempotencyMiddleware(store IdempotencyStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				observability.IncrementIdempotencyEvent("missing_key")
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/missing-key"), http.StatusText(http.StatusBadRequest), "Idempotency-Key header is required")
				return
			}
			scope := AccountIDFromContext(r.Context())
			if scope == "" {
				scope = "anonymous"
			}

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			reqHash := hashRequest(r.Method, r.URL.Path, bodyBytes)
			rec, err := store.Lookup(r.Context(), scope, key, reqHash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				respondFromRecord(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "idempotency key was used for a different request")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				waitAndReplay(w, r, store, logger, scope, key, reqHash, "replay_after_wait")
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				logger.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), scope, key, reqHash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				logger.Error("idempotency reserve failed", zap.Error(err))
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusServiceUnavailable), "idempotency unavailable")
				return
			}
			if !reserved {
				waitAndReplay(w, r, store, logger, scope, key, reqHash, "replay_after_reserve")
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			recorder := &bodyRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}
			// the request outlives a disconnected client
			ctx := context.WithoutCancel(r.Context())
			if recorder.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scope, key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
				}
				observability.IncrementIdempotencyEvent("released")
				return
			}

			contentType := recorder.Header().Get("Content-Type")
			if contentType == "" {
				contentType = "application/json"
			}
			if _, err := store.Finalize(ctx, scope, key, reqHash, recorder.status, recorder.body.Bytes(), contentType); err != nil {
				observability.IncrementIdempotencyEvent("finalize_error")
				logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
			} else {
				observability.IncrementIdempotencyEvent("finalized")
			}
		})
	}
}

func waitAndReplay(w http.ResponseWriter, r *http.Request, store IdempotencyStore, logger *zap.Logger, scope, key, reqHash, event string) {
	rec, err := store.WaitForCompletion(r.Context(), scope, key, reqHash)
	if err == nil {
		observability.IncrementIdempotencyEvent(event)
		respondFromRecord(w, rec)
		return
	}
	if errors.Is(err, idempotency.ErrHashMismatch) {
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "idempotency key was used for a different request")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), http.StatusText(http.StatusConflict), "a request with this idempotency key is still processing")
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256(append([]byte(method+"|"+path+"|"), body...))
	return hex.EncodeToString(sum[:])
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func respondFromRecord(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
