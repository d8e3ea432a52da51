package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountSnapshot is a point-in-time, advisory copy of balance and limit data.
// The backend re-validates authoritatively on execution.
type AccountSnapshot struct {
	AccountID        string    `json:"account_id"`
	Balance          Money     `json:"balance"`
	DailyRemaining   Money     `json:"daily_remaining"`
	MonthlyRemaining Money     `json:"monthly_remaining"`
	IdentityVerified bool      `json:"identity_verified"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// FundingInstrument is a normalized card or bank account.
// It is only built from validated input; raw numbers and CVVs are never kept.
type FundingInstrument struct {
	Type               InstrumentType `json:"type"`
	Last4              string         `json:"last4"`
	HolderName         string         `json:"holder_name"`
	Network            CardNetwork    `json:"network,omitempty"`
	ExpiryMonth        int            `json:"expiry_month,omitempty"`
	ExpiryYear         int            `json:"expiry_year,omitempty"`
	RoutingNumberValid bool           `json:"routing_number_valid,omitempty"`
	// Token is the opaque processor or linking-provider reference, passed through untouched.
	Token string `json:"token,omitempty"`
}

// TransferRequest is one requested money movement.
type TransferRequest struct {
	ID             uuid.UUID          `json:"id"`
	AccountID      string             `json:"account_id"`
	Kind           OperationKind      `json:"kind"`
	Amount         Money              `json:"amount"`
	Speed          TransferSpeed      `json:"speed,omitempty"`
	Recipient      string             `json:"recipient,omitempty"`
	Instrument     *FundingInstrument `json:"instrument,omitempty"`
	Fee            Money              `json:"fee"`
	Total          Money              `json:"total"`
	Status         TransferStatus     `json:"status"`
	IdempotencyKey string             `json:"idempotency_key"`
	CreatedAt      time.Time          `json:"created_at"`
}

// SettlementReceipt is what the payments backend returns for an executed movement.
type SettlementReceipt struct {
	Reference        string    `json:"reference"`
	RequestID        uuid.UUID `json:"request_id"`
	Amount           Money     `json:"amount"`
	Fee              Money     `json:"fee"`
	NetAmount        Money     `json:"net_amount"`
	Status           string    `json:"status"`
	EstimatedArrival string    `json:"estimated_arrival,omitempty"`
	SettledAt        time.Time `json:"settled_at"`
}
