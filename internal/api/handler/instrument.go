package handler

import (
	"errors"
	"net/http"

	"github.com/dalepay/wallet-movements/internal/api/problem"
	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/models"
)

// InstrumentHandler validates cards and bank accounts without a movement,
// for inline form feedback. Nothing is stored.
type InstrumentHandler struct {
	validator *instrument.Validator
}

func NewInstrumentHandler(v *instrument.Validator) *InstrumentHandler {
	return &InstrumentHandler{validator: v}
}

func (h *InstrumentHandler) ValidateCard(w http.ResponseWriter, r *http.Request) {
	var raw instrument.RawCard
	if !decodeJSON(w, r, &raw) {
		return
	}
	inst, err := h.validator.ValidateCard(raw)
	respondInstrument(w, r, inst, err)
}

func (h *InstrumentHandler) ValidateBankAccount(w http.ResponseWriter, r *http.Request) {
	var raw instrument.RawBankAccount
	if !decodeJSON(w, r, &raw) {
		return
	}
	inst, err := h.validator.ValidateBankAccount(raw)
	respondInstrument(w, r, inst, err)
}

func respondInstrument(w http.ResponseWriter, r *http.Request, inst domain.FundingInstrument, err error) {
	if err != nil {
		var v domain.Violations
		if errors.As(err, &v) {
			problem.WriteViolations(w, r, "instrument is invalid", v)
			return
		}
		RespondError(w, r, http.StatusBadRequest, "instrument/invalid", err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, models.InstrumentResponse{Instrument: inst})
}
