package repository

// Repositories bundles the Ledger Store's repositories for injection into services.
type Repositories struct {
	Accounts          AccountRepository
	Transactions      TransactionRepository
	Payouts           PayoutRepository
	Recharges         RechargeRepository
	Reservations      ReservationRepository
	Events            EventRepository
	Idempotency       IdempotencyRepository
	PaymentIntents    PaymentIntentRepository
	ConnectedAccounts ConnectedAccountRepository
	Users             UserRepository
	Outbox            OutboxRepository
}

// NewPostgres returns the pgx-backed repositories.
func NewPostgres() Repositories {
	return Repositories{
		Accounts:          NewAccountRepository(),
		Transactions:      NewTransactionRepository(),
		Payouts:           NewPayoutRepository(),
		Recharges:         NewRechargeRepository(),
		Reservations:      NewReservationRepository(),
		Events:            NewEventRepository(),
		Idempotency:       NewIdempotencyRepository(),
		PaymentIntents:    NewPaymentIntentRepository(),
		ConnectedAccounts: NewConnectedAccountRepository(),
		Users:             NewUserRepository(),
		Outbox:            NewOutboxRepository(),
	}
}
