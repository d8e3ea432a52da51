package service

import (
	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/fee"
)

// QuoteService prices a movement for live display before one is opened.
type QuoteService struct {
	fees *fee.Resolver
}

func NewQuoteService(fees *fee.Resolver) *QuoteService {
	return &QuoteService{fees: fees}
}

// Quote parses raw form input and returns the fee and total.
func (s *QuoteService) Quote(kind, speed, amount string) (fee.Quote, error) {
	var errs domain.Violations

	k, err := domain.ParseOperationKind(kind)
	if err != nil {
		errs = append(errs, domain.Violation{Field: "kind", Code: "kind_invalid", Message: err.Error()})
	}
	sp, err := domain.ParseTransferSpeed(speed)
	if err != nil {
		errs = append(errs, domain.Violation{Field: "speed", Code: "speed_invalid", Message: err.Error()})
	}
	amt, err := domain.ParseMoney(amount)
	if err != nil {
		errs = append(errs, domain.Violation{Field: "amount", Code: "amount_invalid", Message: err.Error()})
	}
	if len(errs) > 0 {
		return fee.Quote{}, errs
	}
	return s.fees.Quote(k, sp, amt), nil
}
