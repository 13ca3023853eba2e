package ledger

import (
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ComputeSplit splits gross into commission and net. The commission is
// gross*rate rounded half-up to a whole minor unit.
func ComputeSplit(gross int64, rate decimal.Decimal) (domain.Split, error) {
	if gross < 0 {
		return domain.Split{}, domain.ErrInvalidAmount(fmt.Sprintf("gross must not be negative, got %d", gross))
	}
	if rate.IsNegative() || rate.GreaterThan(one) {
		return domain.Split{}, domain.ErrInvalidCommission(fmt.Sprintf("commission rate %s outside [0, 1]", rate))
	}

	commission := decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	net := gross - commission
	if net < 0 {
		return domain.Split{}, domain.ErrInvalidCommission(fmt.Sprintf("commission %d exceeds gross %d", commission, gross))
	}
	return domain.Split{Gross: gross, Commission: commission, Net: net}, nil
}
