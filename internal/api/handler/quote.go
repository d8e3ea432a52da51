package handler

import (
	"errors"
	"net/http"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/gateway"
	"github.com/dalepay/wallet-movements/internal/models"
	"github.com/dalepay/wallet-movements/internal/service"
)

type QuoteHandler struct {
	svc *service.QuoteService
}

func NewQuoteHandler(svc *service.QuoteService) *QuoteHandler {
	return &QuoteHandler{svc: svc}
}

// Quote prices an amount for live display. It needs no account.
func (h *QuoteHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req models.QuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Speed == "" {
		req.Speed = string(domain.SpeedStandard)
	}
	q, err := h.svc.Quote(req.Kind, req.Speed, req.Amount)
	if err != nil {
		var v domain.Violations
		if errors.As(err, &v) {
			problem.WriteViolations(w, r, "quote input is invalid", v)
			return
		}
		RespondError(w, r, http.StatusBadRequest, "quote/invalid", err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, models.QuoteResponse{
		Quote:            q,
		EstimatedArrival: gateway.EstimatedArrival(q.Kind, q.Speed),
	})
}
