package guard

import "github.com/carpoolhub/platform/internal/domain"

// Result is the outcome of a guard check.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
}

// Err converts a rejected result into the matching domain error.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	switch r.Guard {
	case "circuit_breaker":
		return domain.ErrProviderUnavailable()
	default:
		return domain.ErrRateLimited(r.Reason)
	}
}
