package models

import (
	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/fee"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/pipeline"
)

type OpenMovementRequest struct {
	Kind string `json:"kind"`
}

// UpdateMovementRequest is a partial edit; omitted fields are left unchanged.
type UpdateMovementRequest struct {
	Amount      *string                    `json:"amount,omitempty"`
	Speed       *string                    `json:"speed,omitempty"`
	Recipient   *string                    `json:"recipient,omitempty"`
	Card        *instrument.RawCard        `json:"card,omitempty"`
	BankAccount *instrument.RawBankAccount `json:"bank_account,omitempty"`
}

func (r UpdateMovementRequest) Input() pipeline.Input {
	return pipeline.Input{
		Amount:      r.Amount,
		Speed:       r.Speed,
		Recipient:   r.Recipient,
		Card:        r.Card,
		BankAccount: r.BankAccount,
	}
}

type QuoteRequest struct {
	Kind   string `json:"kind"`
	Speed  string `json:"speed"`
	Amount string `json:"amount"`
}

type QuoteResponse struct {
	fee.Quote
	EstimatedArrival string `json:"estimated_arrival"`
}

type InstrumentResponse struct {
	Instrument domain.FundingInstrument `json:"instrument"`
}

type MovementResponse struct {
	Movement pipeline.View `json:"movement"`
}
