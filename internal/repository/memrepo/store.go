// Package memrepo is an in-memory Ledger Store for tests. Transactions are
// serialized by a single mutex and restore a snapshot on rollback, so the
// all-or-nothing and compare-and-set behaviour of the Postgres store can be
// observed without a database.
package memrepo

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errRawSQL = errors.New("memrepo: raw SQL is not supported")

// Trip is the seat counter reservations draw from.
type Trip struct {
	ID             uuid.UUID
	DriverID       uuid.UUID
	AvailableSeats int
}

type state struct {
	users        map[uuid.UUID]domain.User
	trips        map[uuid.UUID]Trip
	reservations map[uuid.UUID]domain.Reservation
	accounts     map[uuid.UUID]domain.Account
	transactions []domain.Transaction
	payouts      map[uuid.UUID]domain.Payout
	recharges    map[uuid.UUID]domain.Recharge
	events       map[uuid.UUID]domain.WebhookEvent
	keys         map[string]struct{}
	intents      map[string]domain.PaymentIntent
	connected    map[string]domain.ConnectedAccount
	outbox       []domain.OutboxDraft
}

func newState() *state {
	return &state{
		users:        map[uuid.UUID]domain.User{},
		trips:        map[uuid.UUID]Trip{},
		reservations: map[uuid.UUID]domain.Reservation{},
		accounts:     map[uuid.UUID]domain.Account{},
		payouts:      map[uuid.UUID]domain.Payout{},
		recharges:    map[uuid.UUID]domain.Recharge{},
		events:       map[uuid.UUID]domain.WebhookEvent{},
		keys:         map[string]struct{}{},
		intents:      map[string]domain.PaymentIntent{},
		connected:    map[string]domain.ConnectedAccount{},
	}
}

func (s *state) clone() *state {
	return &state{
		users:        maps.Clone(s.users),
		trips:        maps.Clone(s.trips),
		reservations: maps.Clone(s.reservations),
		accounts:     maps.Clone(s.accounts),
		transactions: slices.Clone(s.transactions),
		payouts:      maps.Clone(s.payouts),
		recharges:    maps.Clone(s.recharges),
		events:       maps.Clone(s.events),
		keys:         maps.Clone(s.keys),
		intents:      maps.Clone(s.intents),
		connected:    maps.Clone(s.connected),
		outbox:       slices.Clone(s.outbox),
	}
}

// Store implements repository.Pool and every repository interface.
type Store struct {
	mu     sync.Mutex
	state  *state
	faults map[string]*faultSpec
}

type faultSpec struct {
	skip int
	err  error
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), faults: map[string]*faultSpec{}}
}

// Repositories returns the store's repositories.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Accounts:          accountRepo{s},
		Transactions:      transactionRepo{s},
		Payouts:           payoutRepo{s},
		Recharges:         rechargeRepo{s},
		Reservations:      reservationRepo{s},
		Events:            eventRepo{s},
		Idempotency:       idempotencyRepo{s},
		PaymentIntents:    paymentIntentRepo{s},
		ConnectedAccounts: connectedAccountRepo{s},
		Users:             userRepo{s},
		Outbox:            outboxRepo{s},
	}
}

// FailOn makes the next call of op return err. Ops are named
// "<table>.<method>", e.g. "transactions.insert".
func (s *Store) FailOn(op string, err error) {
	s.FailOnCall(op, 1, err)
}

// FailOnCall makes the nth next call of op return err.
func (s *Store) FailOnCall(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &faultSpec{skip: n - 1, err: err}
}

// fault is called with the store lock held.
func (s *Store) fault(op string) error {
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(s.faults, op)
	return f.err
}

// acquire takes the store lock unless db is a live transaction of this
// store, which already holds it.
func (s *Store) acquire(db repository.DBTX) func() {
	if tx, ok := db.(*Tx); ok && tx.store == s && !tx.done {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// BeginTx starts a transaction. It blocks until no other transaction is open.
func (s *Store) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &Tx{store: s, snapshot: s.state.clone()}, nil
}

func (s *Store) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

func (s *Store) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errRawSQL
}

func (s *Store) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errRawSQL }

// Tx is a store transaction. Only Commit and Rollback are implemented; the
// embedded pgx.Tx is nil.
type Tx struct {
	pgx.Tx
	store    *Store
	snapshot *state
	done     bool
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

func (t *Tx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errRawSQL
}

func (t *Tx) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

var (
	_ repository.Pool = (*Store)(nil)
	_ pgx.Tx          = (*Tx)(nil)
)
