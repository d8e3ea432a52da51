package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalepay/wallet-movements/internal/api/middleware"
	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/models"
	"github.com/dalepay/wallet-movements/internal/pipeline"
	"github.com/dalepay/wallet-movements/internal/service"
	"github.com/google/uuid"
)

// MovementHandler serves the draft, review and confirm flow of the caller's
// own movement. Limit rejections and backend failures are answered with 200
// and carried in the movement view; only protocol errors are problems.
type MovementHandler struct {
	svc *service.MovementService
}

func NewMovementHandler(svc *service.MovementService) *MovementHandler {
	return &MovementHandler{svc: svc}
}

func (h *MovementHandler) Open(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccount(w, r)
	if !ok {
		return
	}
	var req models.OpenMovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := domain.ParseOperationKind(req.Kind)
	if err != nil {
		problem.WriteViolations(w, r, "movement kind is invalid", domain.Violations{{Field: "kind", Code: "kind_invalid", Message: err.Error()}})
		return
	}

	view, err := h.svc.Open(r.Context(), accountID, kind, middleware.IdentifiersFromContext(r.Context())...)
	if errors.Is(err, service.ErrMovementOpen) {
		RespondError(w, r, http.StatusConflict, "movement/already-open",
			fmt.Sprintf("movement %s is still %s; cancel or delete it first", view.ID, view.Status))
		return
	}
	if err != nil {
		writeMovementError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/movements/"+view.ID.String())
	RespondJSON(w, http.StatusCreated, models.MovementResponse{Movement: view})
}

func (h *MovementHandler) Current(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccount(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Current(accountID)
	if err != nil {
		writeMovementError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.MovementResponse{Movement: view})
}

func (h *MovementHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withMovement(w, r, func(_ context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
		return h.svc.Get(accountID, id)
	})
}

func (h *MovementHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateMovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withMovement(w, r, func(_ context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
		return h.svc.Update(accountID, id, req.Input())
	})
}

func (h *MovementHandler) Review(w http.ResponseWriter, r *http.Request) {
	h.withMovement(w, r, h.svc.Review)
}

func (h *MovementHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withMovement(w, r, h.svc.Confirm)
}

func (h *MovementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withMovement(w, r, h.svc.Cancel)
}

func (h *MovementHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.withMovement(w, r, h.svc.Retry)
}

func (h *MovementHandler) Discard(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccount(w, r)
	if !ok {
		return
	}
	id, ok := movementID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Discard(accountID, id); err != nil {
		writeMovementError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MovementHandler) withMovement(w http.ResponseWriter, r *http.Request, op func(context.Context, string, uuid.UUID) (pipeline.View, error)) {
	accountID, ok := requestAccount(w, r)
	if !ok {
		return
	}
	id, ok := movementID(w, r)
	if !ok {
		return
	}
	view, err := op(r.Context(), accountID, id)
	if err != nil {
		writeMovementError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.MovementResponse{Movement: view})
}
