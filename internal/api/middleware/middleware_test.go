package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dalepay/wallet-movements/internal/idempotency"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret-0123456789-test-secret"

func signed(t *testing.T, claims AccountClaims) string {
	t.Helper()
	SetJWTSecret(testSecret)
	SetJWTValidation("issuer", "audience")
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := SignToken(claims)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	var gotAccount string
	var gotIDs []string
	h := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountIDFromContext(r.Context())
		gotIDs = IdentifiersFromContext(r.Context())
	}))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	token := signed(t, AccountClaims{AccountID: "acc-1", Email: "me@example.com", Phone: " +15550100 "})
	require.Equal(t, http.StatusOK, call("Bearer "+token))
	assert.Equal(t, "acc-1", gotAccount)
	assert.Equal(t, []string{"me@example.com", "+15550100"}, gotIDs)

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call(token))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))

	mismatch := signed(t, AccountClaims{AccountID: "acc-1", RegisteredClaims: jwt.RegisteredClaims{Subject: "acc-2"}})
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+mismatch))

	expired := signed(t, AccountClaims{AccountID: "acc-1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+expired))

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccountClaims{
		AccountID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "issuer",
			Audience:  jwt.ClaimStrings{"someone-else"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+wrongAudience))
}

func TestTraceMiddleware(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/movements", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func newIdempotentHandler(t *testing.T, status int) (http.Handler, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d,"echo":%q}`, n, strings.TrimSpace(string(body)))
	})
	store := idempotency.NewStore(rdb, time.Hour)
	return IdempotencyMiddleware(store, zap.NewNop())(next), &calls
}

func contextWithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountContextKey, accountID)
}

func confirmRequest(account, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/movements/x/confirm", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if account != "" {
		req = req.WithContext(contextWithAccount(req.Context(), account))
	}
	return req
}

func TestIdempotencyMiddleware_ReplaysFirstResponse(t *testing.T) {
	h, calls := newIdempotentHandler(t, http.StatusOK)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, confirmRequest("acc-1", "k1", "a"))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, confirmRequest("acc-1", "k1", "a"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "redis", second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, int32(1), calls.Load())

	conflict := httptest.NewRecorder()
	h.ServeHTTP(conflict, confirmRequest("acc-1", "k1", "b"))
	assert.Equal(t, http.StatusConflict, conflict.Code)

	// the same key from another account is a different request
	other := httptest.NewRecorder()
	h.ServeHTTP(other, confirmRequest("acc-2", "k1", "b"))
	assert.Equal(t, http.StatusOK, other.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyMiddleware_MissingKey(t *testing.T) {
	h, calls := newIdempotentHandler(t, http.StatusOK)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, confirmRequest("acc-1", "", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestIdempotencyMiddleware_ServerErrorReleasesKey(t *testing.T) {
	h, calls := newIdempotentHandler(t, http.StatusServiceUnavailable)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, confirmRequest("acc-1", "k1", ""))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))
	}
	assert.Equal(t, int32(2), calls.Load())
}
