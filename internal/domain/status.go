package domain

// lifecycle maps each status to the statuses it may move to. A status with no
// outgoing edges is terminal; once reached, it never changes again.
type lifecycle[S ~string] map[S][]S

func (l lifecycle[S]) terminal(s S) bool { return len(l[s]) == 0 }

// advance applies target to current. Re-applying the current status is a
// no-op (changed=false, nil error). Leaving a terminal status returns
// TERMINAL_STATE, any other edge not in the table INVALID_TRANSITION.
func (l lifecycle[S]) advance(current, target S) (S, bool, error) {
	if current == target {
		return current, false, nil
	}
	if l.terminal(current) {
		return current, false, ErrTerminalState(string(current))
	}
	for _, next := range l[current] {
		if next == target {
			return target, true, nil
		}
	}
	return current, false, ErrInvalidTransition(string(current), string(target))
}

// PayoutStatus is the lifecycle state of a payout.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutSucceeded  PayoutStatus = "succeeded"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCanceled   PayoutStatus = "canceled"
)

var payoutLifecycle = lifecycle[PayoutStatus]{
	PayoutPending:    {PayoutProcessing, PayoutSucceeded, PayoutFailed, PayoutCanceled},
	PayoutProcessing: {PayoutSucceeded, PayoutFailed, PayoutCanceled},
	PayoutSucceeded:  nil,
	PayoutFailed:     nil,
	PayoutCanceled:   nil,
}

// IsTerminal reports whether no further transition is permitted.
func (s PayoutStatus) IsTerminal() bool { return payoutLifecycle.terminal(s) }

// Advance returns the status after moving to target.
func (s PayoutStatus) Advance(target PayoutStatus) (PayoutStatus, bool, error) {
	return payoutLifecycle.advance(s, target)
}

// RechargeStatus is the lifecycle state of a wallet recharge.
type RechargeStatus string

const (
	RechargePending   RechargeStatus = "pending"
	RechargeSucceeded RechargeStatus = "succeeded"
	RechargeFailed    RechargeStatus = "failed"
	RechargeCanceled  RechargeStatus = "canceled"
	RechargeExpired   RechargeStatus = "expired"
)

var rechargeLifecycle = lifecycle[RechargeStatus]{
	RechargePending:   {RechargeSucceeded, RechargeFailed, RechargeCanceled, RechargeExpired},
	RechargeSucceeded: nil,
	RechargeFailed:    nil,
	RechargeCanceled:  nil,
	RechargeExpired:   nil,
}

func (s RechargeStatus) IsTerminal() bool { return rechargeLifecycle.terminal(s) }

func (s RechargeStatus) Advance(target RechargeStatus) (RechargeStatus, bool, error) {
	return rechargeLifecycle.advance(s, target)
}

// TransactionStatus is the business outcome of a ledger movement.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxSucceeded TransactionStatus = "succeeded"
	TxFailed    TransactionStatus = "failed"
	TxCanceled  TransactionStatus = "canceled"
)

var transactionLifecycle = lifecycle[TransactionStatus]{
	TxPending:   {TxSucceeded, TxFailed, TxCanceled},
	TxSucceeded: nil,
	TxFailed:    nil,
	TxCanceled:  nil,
}

func (s TransactionStatus) IsTerminal() bool { return transactionLifecycle.terminal(s) }

func (s TransactionStatus) Advance(target TransactionStatus) (TransactionStatus, bool, error) {
	return transactionLifecycle.advance(s, target)
}

// ReservationStatus tracks payment of a seat reservation.
// completed means the checkout was paid and the seat is held; paid means the
// fare has been split between driver and platform.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCompleted ReservationStatus = "completed"
	ReservationPaid      ReservationStatus = "paid"
	ReservationFailed    ReservationStatus = "failed"
	ReservationCanceled  ReservationStatus = "canceled"
)

var reservationLifecycle = lifecycle[ReservationStatus]{
	ReservationPending:   {ReservationCompleted, ReservationPaid, ReservationFailed, ReservationCanceled},
	ReservationCompleted: {ReservationPaid, ReservationFailed, ReservationCanceled},
	ReservationPaid:      nil,
	ReservationFailed:    nil,
	ReservationCanceled:  nil,
}

func (s ReservationStatus) IsTerminal() bool { return reservationLifecycle.terminal(s) }

func (s ReservationStatus) Advance(target ReservationStatus) (ReservationStatus, bool, error) {
	return reservationLifecycle.advance(s, target)
}
