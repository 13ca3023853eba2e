package policy

import "github.com/carpoolhub/platform/internal/domain"

// PayoutLimitPolicy bounds how much a user can withdraw.
type PayoutLimitPolicy struct {
	SingleMin int64 `json:"single_min"` // cents
	SingleMax int64 `json:"single_max"` // cents
	DailyMax  int64 `json:"daily_max"`  // cents
}

// DefaultPayoutLimits returns the default limits (€5 min, €5k single, €10k daily).
func DefaultPayoutLimits() PayoutLimitPolicy {
	return PayoutLimitPolicy{
		SingleMin: 500,
		SingleMax: 500_000,
		DailyMax:  1_000_000,
	}
}

// PayoutEvaluation holds the result of a payout limits check.
type PayoutEvaluation struct {
	Allowed       bool   `json:"allowed"`
	BreachedLimit string `json:"breached_limit,omitempty"`
	LimitValue    int64  `json:"limit_value,omitempty"`
	RequestedAmt  int64  `json:"requested_amount,omitempty"`
}

// Err converts a breach into LIMIT_EXCEEDED.
func (e PayoutEvaluation) Err() error {
	if e.Allowed {
		return nil
	}
	return domain.ErrLimitExceeded(e.BreachedLimit, e.LimitValue, e.RequestedAmt)
}

// EvaluatePayoutLimits checks a payout amount against the policy.
// dailyPaidOut is the running total of the user's payouts in the last 24h.
// A zero limit is disabled.
func EvaluatePayoutLimits(policy PayoutLimitPolicy, amount, dailyPaidOut int64) PayoutEvaluation {
	if policy.SingleMin > 0 && amount < policy.SingleMin {
		return PayoutEvaluation{
			Allowed:       false,
			BreachedLimit: "single_min",
			LimitValue:    policy.SingleMin,
			RequestedAmt:  amount,
		}
	}

	if policy.SingleMax > 0 && amount > policy.SingleMax {
		return PayoutEvaluation{
			Allowed:       false,
			BreachedLimit: "single_max",
			LimitValue:    policy.SingleMax,
			RequestedAmt:  amount,
		}
	}

	if policy.DailyMax > 0 && dailyPaidOut+amount > policy.DailyMax {
		return PayoutEvaluation{
			Allowed:       false,
			BreachedLimit: "daily_max",
			LimitValue:    policy.DailyMax,
			RequestedAmt:  dailyPaidOut + amount,
		}
	}

	return PayoutEvaluation{Allowed: true}
}
