package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dalepay/wallet-movements/internal/api/middleware"
	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/dalepay/wallet-movements/internal/lock"
	"github.com/dalepay/wallet-movements/internal/pipeline"
	"github.com/dalepay/wallet-movements/internal/repository"
	"github.com/dalepay/wallet-movements/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func requestAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := middleware.AccountIDFromContext(r.Context())
	if accountID == "" {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-account", "missing account in auth context")
		return "", false
	}
	return accountID, true
}

// movementID parses the {id} path segment. A malformed id is reported as not
// found, the same as an id the caller does not own.
func movementID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusNotFound, "movement/not-found", service.ErrMovementNotFound.Error())
		return uuid.Nil, false
	}
	return id, true
}

// writeMovementError maps pipeline and service errors to problem documents.
// Business rejections never get here: they are carried in the view.
func writeMovementError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrMovementNotFound):
		RespondError(w, r, http.StatusNotFound, "movement/not-found", err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		RespondError(w, r, http.StatusNotFound, "account/not-found", err.Error())
	case errors.Is(err, service.ErrMovementOpen):
		RespondError(w, r, http.StatusConflict, "movement/already-open", err.Error())
	case errors.Is(err, pipeline.ErrSubmissionInProgress):
		RespondError(w, r, http.StatusConflict, "movement/submission-in-progress", err.Error())
	case errors.Is(err, pipeline.ErrNotCancellable):
		RespondError(w, r, http.StatusConflict, "movement/not-cancellable", err.Error())
	case errors.Is(err, pipeline.ErrImmutable):
		RespondError(w, r, http.StatusConflict, "movement/immutable", err.Error())
	case errors.Is(err, pipeline.ErrInvalidTransition):
		RespondError(w, r, http.StatusConflict, "movement/invalid-transition", err.Error())
	case errors.Is(err, lock.ErrLockNotAcquired):
		RespondError(w, r, http.StatusServiceUnavailable, "movement/account-busy", "another movement on this account is being submitted, try again shortly")
	default:
		zap.L().Error("movement request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
		RespondError(w, r, http.StatusServiceUnavailable, "movement/unavailable", "account data is unavailable right now, try again shortly")
	}
}
