package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	accountContextKey  contextKey = "account_id"
	identityContextKey contextKey = "identifiers"
	traceContextKey    contextKey = "trace_id"
)

var jwtSecret []byte
var jwtIssuer string
var jwtAudience string

// AccountClaims is the token payload. Email and phone are optional; when
// present they are treated as the sender's own recipient identifiers.
type AccountClaims struct {
	AccountID string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// SignToken issues an HS256 token for the configured secret. Used by tests
// and the dev token command.
func SignToken(claims AccountClaims) (string, error) {
	if len(jwtSecret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}
	if jwtIssuer != "" && claims.Issuer == "" {
		claims.Issuer = jwtIssuer
	}
	if jwtAudience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{jwtAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// AuthMiddleware validates the bearer token and puts the account id into the context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/authorization-header-required"), http.StatusText(http.StatusUnauthorized), "Authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-format"), http.StatusText(http.StatusUnauthorized), "Invalid token format")
			return
		}
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims := &AccountClaims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if jwtIssuer != "" {
			opts = append(opts, jwt.WithIssuer(jwtIssuer))
		}
		if jwtAudience != "" {
			opts = append(opts, jwt.WithAudience(jwtAudience))
		}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return jwtSecret, nil
		}, opts...)
		if err != nil || !token.Valid {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token"), http.StatusText(http.StatusUnauthorized), "Invalid token")
			return
		}
		if claims.AccountID == "" || (claims.Subject != "" && claims.Subject != claims.AccountID) {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-claims"), http.StatusText(http.StatusUnauthorized), "Invalid token claims")
			return
		}

		var ids []string
		for _, id := range []string{claims.Email, claims.Phone} {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		ctx := context.WithValue(r.Context(), accountContextKey, claims.AccountID)
		ctx = context.WithValue(ctx, identityContextKey, ids)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountIDFromContext returns the authenticated account id.
func AccountIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(accountContextKey).(string); ok {
		return v
	}
	return ""
}

// IdentifiersFromContext returns the e-mail and phone carried by the token.
func IdentifiersFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	ids, _ := ctx.Value(identityContextKey).([]string)
	return ids
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
