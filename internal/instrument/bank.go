package instrument

import (
	"strings"

	"github.com/dalepay/wallet-movements/internal/domain"
)

// Violation codes for bank accounts.
const (
	CodeRoutingInvalid  = "routing_number_invalid"
	CodeAccountInvalid  = "account_number_invalid"
	CodeAccountMismatch = "account_number_mismatch"
)

// RawBankAccount is bank account input as typed by the user.
type RawBankAccount struct {
	RoutingNumber        string `json:"routing_number"`
	AccountNumber        string `json:"account_number"`
	ConfirmAccountNumber string `json:"confirm_account_number"`
	HolderName           string `json:"holder_name"`
	Token                string `json:"token,omitempty"`
}

// ValidateBankAccount checks every bank account rule and reports all violations together.
func (v *Validator) ValidateBankAccount(raw RawBankAccount) (domain.FundingInstrument, error) {
	var errs domain.Violations

	routing := stripSeparators(raw.RoutingNumber)
	if !digitsOnly(routing) || len(routing) != 9 {
		errs = append(errs, domain.Violation{Field: "routing_number", Code: CodeRoutingInvalid, Message: "routing number must be exactly 9 digits"})
	}

	account := stripSeparators(raw.AccountNumber)
	if !digitsOnly(account) || len(account) < 8 {
		errs = append(errs, domain.Violation{Field: "account_number", Code: CodeAccountInvalid, Message: "account number must be at least 8 digits"})
	}

	if stripSeparators(raw.ConfirmAccountNumber) != account {
		errs = append(errs, domain.Violation{Field: "confirm_account_number", Code: CodeAccountMismatch, Message: "account numbers do not match"})
	}

	holder := strings.TrimSpace(raw.HolderName)
	if holder == "" {
		errs = append(errs, domain.Violation{Field: "holder_name", Code: CodeHolderRequired, Message: "account holder name is required"})
	}

	if len(errs) > 0 {
		return domain.FundingInstrument{}, errs
	}

	return domain.FundingInstrument{
		Type:               domain.InstrumentBankAccount,
		Last4:              account[len(account)-4:],
		HolderName:         holder,
		RoutingNumberValid: true,
		Token:              strings.TrimSpace(raw.Token),
	}, nil
}
