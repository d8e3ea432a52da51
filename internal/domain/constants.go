package domain

import (
	"fmt"
	"strings"
)

// OperationKind distinguishes the money movements the wallet supports.
type OperationKind string

const (
	KindPeerTransfer OperationKind = "peer_transfer"
	KindCardFunding  OperationKind = "card_funding"
	KindBankCashOut  OperationKind = "bank_cash_out"
)

// Kinds lists every supported operation kind.
var Kinds = []OperationKind{KindPeerTransfer, KindCardFunding, KindBankCashOut}

func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPeerTransfer, KindCardFunding, KindBankCashOut:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported operation kind %q", s)
	}
}

// UsesSpeed reports whether the user picks a transfer speed for this kind.
func (k OperationKind) UsesSpeed() bool {
	return k == KindPeerTransfer || k == KindBankCashOut
}

// UsesRecipient reports whether the kind sends to another wallet user.
func (k OperationKind) UsesRecipient() bool {
	return k == KindPeerTransfer
}

// InstrumentType returns the funding instrument the kind requires, if any.
func (k OperationKind) InstrumentType() (InstrumentType, bool) {
	switch k {
	case KindCardFunding:
		return InstrumentCard, true
	case KindBankCashOut:
		return InstrumentBankAccount, true
	default:
		return "", false
	}
}

// TransferSpeed is the settlement tier of a movement.
type TransferSpeed string

const (
	SpeedStandard TransferSpeed = "standard"
	SpeedInstant  TransferSpeed = "instant"
)

// Speeds lists every transfer speed.
var Speeds = []TransferSpeed{SpeedStandard, SpeedInstant}

func ParseTransferSpeed(s string) (TransferSpeed, error) {
	sp := TransferSpeed(strings.ToLower(strings.TrimSpace(s)))
	switch sp {
	case SpeedStandard, SpeedInstant:
		return sp, nil
	case "":
		return SpeedStandard, nil
	default:
		return "", fmt.Errorf("unsupported transfer speed %q", s)
	}
}

// TransferStatus is the confirmation state of a TransferRequest.
type TransferStatus string

const (
	StatusDraft      TransferStatus = "draft"
	StatusReview     TransferStatus = "review"
	StatusSubmitting TransferStatus = "submitting"
	StatusSettled    TransferStatus = "settled"
	StatusFailed     TransferStatus = "failed"
)

// Terminal reports whether no further automatic transition follows.
func (s TransferStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// InstrumentType is the kind of funding instrument.
type InstrumentType string

const (
	InstrumentCard        InstrumentType = "card"
	InstrumentBankAccount InstrumentType = "bank_account"
)

// CardNetwork is inferred from the leading digit and is display-only.
type CardNetwork string

const (
	NetworkVisa       CardNetwork = "Visa"
	NetworkMastercard CardNetwork = "Mastercard"
	NetworkAmex       CardNetwork = "Amex"
	NetworkDiscover   CardNetwork = "Discover"
	NetworkUnknown    CardNetwork = "Unknown"
)
