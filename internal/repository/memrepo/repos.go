package memrepo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
)

func conflict(what string) error {
	return domain.ErrConstraintConflict(what, nil)
}

func sameStr(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func orKeep[T any](next, cur *T) *T {
	if next != nil {
		return next
	}
	return cur
}

// --- accounts ---

type accountRepo struct{ s *Store }

func (r accountRepo) Ensure(ctx context.Context, db repository.DBTX, userID uuid.UUID, currency string) (*domain.Account, error) {
	defer r.s.acquire(db)()
	if err := r.s.fault("accounts.ensure"); err != nil {
		return nil, err
	}
	for _, a := range r.s.state.accounts {
		if a.UserID == userID && a.Currency == currency {
			return &a, nil
		}
	}
	now := time.Now()
	a := domain.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Status:    domain.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.state.accounts[a.ID] = a
	return &a, nil
}

func (r accountRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Account, error) {
	defer r.s.acquire(db)()
	a, ok := r.s.state.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r accountRepo) FindByUserCurrency(ctx context.Context, db repository.DBTX, userID uuid.UUID, currency string) (*domain.Account, error) {
	defer r.s.acquire(db)()
	for _, a := range r.s.state.accounts {
		if a.UserID == userID && a.Currency == currency {
			return &a, nil
		}
	}
	return nil, nil
}

func (r accountRepo) ListByUser(ctx context.Context, db repository.DBTX, userID uuid.UUID) ([]domain.Account, error) {
	defer r.s.acquire(db)()
	var out []domain.Account
	for _, a := range r.s.state.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		if a.Currency < b.Currency {
			return -1
		}
		if a.Currency > b.Currency {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r accountRepo) ApplyDelta(ctx context.Context, db repository.DBTX, id uuid.UUID, delta int64, guard domain.DeltaGuard) (*domain.Account, error) {
	defer r.s.acquire(db)()
	if err := r.s.fault("accounts.apply_delta"); err != nil {
		return nil, err
	}
	a, ok := r.s.state.accounts[id]
	if !ok || a.Balance+delta < 0 {
		return nil, nil
	}
	if a.Status != domain.AccountActive && !guard.AllowBlocked {
		return nil, nil
	}
	a.Balance += delta
	a.UpdatedAt = time.Now()
	r.s.state.accounts[id] = a
	return &a, nil
}

func (r accountRepo) SetStatus(ctx context.Context, db repository.DBTX, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	defer r.s.acquire(db)()
	a, ok := r.s.state.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	r.s.state.accounts[id] = a
	return &a, nil
}

// --- transactions ---

type transactionRepo struct{ s *Store }

func (r transactionRepo) Insert(ctx context.Context, db repository.DBTX, tx *domain.Transaction) (*domain.Transaction, error) {
	defer r.s.acquire(db)()
	if err := r.s.fault("transactions.insert"); err != nil {
		return nil, err
	}
	if tx.BalanceAfter != tx.BalanceBefore+tx.Amount {
		return nil, fmt.Errorf("insert transaction: balance check violated")
	}
	for _, existing := range r.s.state.transactions {
		if tx.CorrelationID != nil && existing.AccountID == tx.AccountID && existing.Type == tx.Type &&
			sameStr(existing.CorrelationID, tx.CorrelationID) {
			return nil, conflict("insert transaction: ux_transactions_correlation")
		}
		if tx.ReversalOf != nil && existing.ReversalOf != nil && *existing.ReversalOf == *tx.ReversalOf {
			return nil, conflict("insert transaction: ux_transactions_reversal")
		}
	}
	row := *tx
	row.ID = uuid.New()
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	r.s.state.transactions = append(r.s.state.transactions, row)
	return &row, nil
}

func (r transactionRepo) find(match func(domain.Transaction) bool) *domain.Transaction {
	for _, tx := range r.s.state.transactions {
		if match(tx) {
			return &tx
		}
	}
	return nil
}

func (r transactionRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Transaction, error) {
	defer r.s.acquire(db)()
	return r.find(func(tx domain.Transaction) bool { return tx.ID == id }), nil
}

func (r transactionRepo) FindByCorrelation(ctx context.Context, db repository.DBTX, accountID uuid.UUID, txType domain.TransactionType, correlationID string) (*domain.Transaction, error) {
	defer r.s.acquire(db)()
	return r.find(func(tx domain.Transaction) bool {
		return tx.AccountID == accountID && tx.Type == txType && tx.CorrelationID != nil && *tx.CorrelationID == correlationID
	}), nil
}

func (r transactionRepo) FindReversal(ctx context.Context, db repository.DBTX, originalID uuid.UUID) (*domain.Transaction, error) {
	defer r.s.acquire(db)()
	return r.find(func(tx domain.Transaction) bool { return tx.ReversalOf != nil && *tx.ReversalOf == originalID }), nil
}

func (r transactionRepo) UpdateStatus(ctx context.Context, db repository.DBTX, id uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error) {
	defer r.s.acquire(db)()
	for i, tx := range r.s.state.transactions {
		if tx.ID != id {
			continue
		}
		if tx.Status != domain.TxPending {
			return nil, nil
		}
		tx.Status = status
		tx.UpdatedAt = time.Now()
		r.s.state.transactions[i] = tx
		return &tx, nil
	}
	return nil, nil
}

func (r transactionRepo) ListByUser(ctx context.Context, db repository.DBTX, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error) {
	defer r.s.acquire(db)()
	var all []domain.Transaction
	for i := len(r.s.state.transactions) - 1; i >= 0; i-- {
		if tx := r.s.state.transactions[i]; tx.UserID == userID {
			all = append(all, tx)
		}
	}
	return page(all, limit, offset), len(all), nil
}

func (r transactionRepo) ListByAccount(ctx context.Context, db repository.DBTX, accountID uuid.UUID) ([]domain.Transaction, error) {
	defer r.s.acquire(db)()
	var out []domain.Transaction
	for _, tx := range r.s.state.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func page[T any](all []T, limit, offset int) []T {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 || offset >= len(all) {
		return nil
	}
	return all[offset:min(offset+limit, len(all))]
}

// --- payouts ---

type payoutRepo struct{ s *Store }

func (r payoutRepo) Create(ctx context.Context, db repository.DBTX, p *domain.Payout) error {
	defer r.s.acquire(db)()
	if err := r.s.fault("payouts.create"); err != nil {
		return err
	}
	for _, existing := range r.s.state.payouts {
		if existing.UserID == p.UserID && existing.IdempotencyKey == p.IdempotencyKey {
			return conflict("insert payout: payouts_user_id_idempotency_key_key")
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.state.payouts[p.ID] = *p
	return nil
}

func (r payoutRepo) get(id uuid.UUID) *domain.Payout {
	p, ok := r.s.state.payouts[id]
	if !ok {
		return nil
	}
	return &p
}

func (r payoutRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Payout, error) {
	defer r.s.acquire(db)()
	return r.get(id), nil
}

func (r payoutRepo) LockByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Payout, error) {
	return r.FindByID(ctx, db, id)
}

func (r payoutRepo) FindByIdempotencyKey(ctx context.Context, db repository.DBTX, userID uuid.UUID, key string) (*domain.Payout, error) {
	defer r.s.acquire(db)()
	for _, p := range r.s.state.payouts {
		if p.UserID == userID && p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, nil
}

func (r payoutRepo) FindByExternalID(ctx context.Context, db repository.DBTX, externalID string) (*domain.Payout, error) {
	defer r.s.acquire(db)()
	for _, p := range r.s.state.payouts {
		if p.ExternalID != nil && *p.ExternalID == externalID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r payoutRepo) Update(ctx context.Context, db repository.DBTX, id uuid.UUID, upd domain.PayoutUpdate) (*domain.Payout, error) {
	defer r.s.acquire(db)()
	if err := r.s.fault("payouts.update"); err != nil {
		return nil, err
	}
	p, ok := r.s.state.payouts[id]
	if !ok {
		return nil, nil
	}
	if upd.ExternalID != nil {
		for otherID, other := range r.s.state.payouts {
			if otherID != id && sameStr(other.ExternalID, upd.ExternalID) {
				return nil, conflict("update payout: payouts_external_id_key")
			}
		}
	}
	p.Status = upd.Status
	p.ExternalID = orKeep(upd.ExternalID, p.ExternalID)
	p.ExternalStatus = orKeep(upd.ExternalStatus, p.ExternalStatus)
	p.FailureReason = orKeep(upd.FailureReason, p.FailureReason)
	p.UpdatedAt = time.Now()
	r.s.state.payouts[id] = p
	return &p, nil
}

func (r payoutRepo) sorted(match func(domain.Payout) bool) []domain.Payout {
	var out []domain.Payout
	for _, p := range r.s.state.payouts {
		if match(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Payout) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func (r payoutRepo) ListByUser(ctx context.Context, db repository.DBTX, userID uuid.UUID, limit, offset int) ([]domain.Payout, error) {
	defer r.s.acquire(db)()
	return page(r.sorted(func(p domain.Payout) bool { return p.UserID == userID }), limit, offset), nil
}

func (r payoutRepo) ListStale(ctx context.Context, db repository.DBTX, olderThan time.Time, limit int) ([]domain.Payout, error) {
	defer r.s.acquire(db)()
	out := r.sorted(func(p domain.Payout) bool { return !p.Status.IsTerminal() && p.UpdatedAt.Before(olderThan) })
	slices.Reverse(out)
	return out[:min(limit, len(out))], nil
}

func (r payoutRepo) SumSince(ctx context.Context, db repository.DBTX, userID uuid.UUID, currency string, since time.Time) (int64, error) {
	defer r.s.acquire(db)()
	var total int64
	for _, p := range r.s.state.payouts {
		if p.UserID == userID && p.Currency == currency && !p.CreatedAt.Before(since) &&
			p.Status != domain.PayoutFailed && p.Status != domain.PayoutCanceled {
			total += p.Amount
		}
	}
	return total, nil
}

// --- recharges ---

type rechargeRepo struct{ s *Store }

func (r rechargeRepo) unique(id uuid.UUID, rc domain.Recharge) error {
	for otherID, other := range r.s.state.recharges {
		if otherID == id {
			continue
		}
		if other.UserID == rc.UserID && sameStr(other.IdempotencyKey, rc.IdempotencyKey) {
			return conflict("recharges_user_id_idempotency_key_key")
		}
		if sameStr(other.CheckoutSessionID, rc.CheckoutSessionID) {
			return conflict("recharges_checkout_session_id_key")
		}
		if sameStr(other.PaymentIntentID, rc.PaymentIntentID) {
			return conflict("recharges_payment_intent_id_key")
		}
	}
	return nil
}

func (r rechargeRepo) Create(ctx context.Context, db repository.DBTX, rc *domain.Recharge) error {
	defer r.s.acquire(db)()
	if err := r.unique(rc.ID, *rc); err != nil {
		return err
	}
	rc.CreatedAt = time.Now()
	rc.UpdatedAt = rc.CreatedAt
	r.s.state.recharges[rc.ID] = *rc
	return nil
}

func (r rechargeRepo) find(match func(domain.Recharge) bool) *domain.Recharge {
	for _, rc := range r.s.state.recharges {
		if match(rc) {
			return &rc
		}
	}
	return nil
}

func (r rechargeRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Recharge, error) {
	defer r.s.acquire(db)()
	return r.find(func(rc domain.Recharge) bool { return rc.ID == id }), nil
}

func (r rechargeRepo) LockByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Recharge, error) {
	return r.FindByID(ctx, db, id)
}

func (r rechargeRepo) FindByIdempotencyKey(ctx context.Context, db repository.DBTX, userID uuid.UUID, key string) (*domain.Recharge, error) {
	defer r.s.acquire(db)()
	return r.find(func(rc domain.Recharge) bool {
		return rc.UserID == userID && rc.IdempotencyKey != nil && *rc.IdempotencyKey == key
	}), nil
}

func (r rechargeRepo) FindBySessionID(ctx context.Context, db repository.DBTX, sessionID string) (*domain.Recharge, error) {
	defer r.s.acquire(db)()
	return r.find(func(rc domain.Recharge) bool {
		return rc.CheckoutSessionID != nil && *rc.CheckoutSessionID == sessionID
	}), nil
}

func (r rechargeRepo) FindByIntentID(ctx context.Context, db repository.DBTX, intentID string) (*domain.Recharge, error) {
	defer r.s.acquire(db)()
	return r.find(func(rc domain.Recharge) bool {
		return rc.PaymentIntentID != nil && *rc.PaymentIntentID == intentID
	}), nil
}

func (r rechargeRepo) Update(ctx context.Context, db repository.DBTX, id uuid.UUID, upd domain.RechargeUpdate) (*domain.Recharge, error) {
	defer r.s.acquire(db)()
	rc, ok := r.s.state.recharges[id]
	if !ok {
		return nil, nil
	}
	rc.Status = upd.Status
	rc.CheckoutSessionID = orKeep(upd.CheckoutSessionID, rc.CheckoutSessionID)
	rc.PaymentIntentID = orKeep(upd.PaymentIntentID, rc.PaymentIntentID)
	rc.TransactionID = orKeep(upd.TransactionID, rc.TransactionID)
	if err := r.unique(id, rc); err != nil {
		return nil, err
	}
	rc.UpdatedAt = time.Now()
	r.s.state.recharges[id] = rc
	return &rc, nil
}

func (r rechargeRepo) sorted(match func(domain.Recharge) bool) []domain.Recharge {
	var out []domain.Recharge
	for _, rc := range r.s.state.recharges {
		if match(rc) {
			out = append(out, rc)
		}
	}
	slices.SortFunc(out, func(a, b domain.Recharge) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func (r rechargeRepo) ListByUser(ctx context.Context, db repository.DBTX, userID uuid.UUID, limit, offset int) ([]domain.Recharge, error) {
	defer r.s.acquire(db)()
	return page(r.sorted(func(rc domain.Recharge) bool { return rc.UserID == userID }), limit, offset), nil
}

func (r rechargeRepo) ListStale(ctx context.Context, db repository.DBTX, olderThan time.Time, limit int) ([]domain.Recharge, error) {
	defer r.s.acquire(db)()
	out := r.sorted(func(rc domain.Recharge) bool {
		return rc.Status == domain.RechargePending && rc.UpdatedAt.Before(olderThan)
	})
	slices.Reverse(out)
	return out[:min(limit, len(out))], nil
}

// --- reservations ---

type reservationRepo struct{ s *Store }

func (r reservationRepo) find(match func(domain.Reservation) bool) *domain.Reservation {
	for _, res := range r.s.state.reservations {
		if match(res) {
			res.DriverID = r.s.state.trips[res.TripID].DriverID
			return &res
		}
	}
	return nil
}

func (r reservationRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Reservation, error) {
	defer r.s.acquire(db)()
	return r.find(func(res domain.Reservation) bool { return res.ID == id }), nil
}

func (r reservationRepo) LockByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Reservation, error) {
	return r.FindByID(ctx, db, id)
}

func (r reservationRepo) FindBySessionID(ctx context.Context, db repository.DBTX, sessionID string) (*domain.Reservation, error) {
	defer r.s.acquire(db)()
	return r.find(func(res domain.Reservation) bool {
		return res.CheckoutSessionID != nil && *res.CheckoutSessionID == sessionID
	}), nil
}

func (r reservationRepo) FindByIntentID(ctx context.Context, db repository.DBTX, intentID string) (*domain.Reservation, error) {
	defer r.s.acquire(db)()
	return r.find(func(res domain.Reservation) bool {
		return res.PaymentIntentID != nil && *res.PaymentIntentID == intentID
	}), nil
}

func (r reservationRepo) Update(ctx context.Context, db repository.DBTX, id uuid.UUID, upd domain.ReservationUpdate) (*domain.Reservation, error) {
	defer r.s.acquire(db)()
	res, ok := r.s.state.reservations[id]
	if !ok {
		return nil, nil
	}
	res.Status = upd.Status
	if upd.SeatHeld != nil {
		res.SeatHeld = *upd.SeatHeld
	}
	res.CheckoutSessionID = orKeep(upd.CheckoutSessionID, res.CheckoutSessionID)
	res.PaymentIntentID = orKeep(upd.PaymentIntentID, res.PaymentIntentID)
	for otherID, other := range r.s.state.reservations {
		if otherID != id && (sameStr(other.CheckoutSessionID, res.CheckoutSessionID) || sameStr(other.PaymentIntentID, res.PaymentIntentID)) {
			return nil, conflict("update reservation: unique reference")
		}
	}
	res.UpdatedAt = time.Now()
	r.s.state.reservations[id] = res
	res.DriverID = r.s.state.trips[res.TripID].DriverID
	return &res, nil
}

func (r reservationRepo) Delete(ctx context.Context, db repository.DBTX, id uuid.UUID) error {
	defer r.s.acquire(db)()
	delete(r.s.state.reservations, id)
	return nil
}

func (r reservationRepo) HoldSeat(ctx context.Context, db repository.DBTX, tripID uuid.UUID) (bool, error) {
	defer r.s.acquire(db)()
	t, ok := r.s.state.trips[tripID]
	if !ok || t.AvailableSeats <= 0 {
		return false, nil
	}
	t.AvailableSeats--
	r.s.state.trips[tripID] = t
	return true, nil
}

func (r reservationRepo) ReleaseSeat(ctx context.Context, db repository.DBTX, tripID uuid.UUID) error {
	defer r.s.acquire(db)()
	if t, ok := r.s.state.trips[tripID]; ok {
		t.AvailableSeats++
		r.s.state.trips[tripID] = t
	}
	return nil
}

// --- webhook events and idempotency keys ---

type eventRepo struct{ s *Store }

func (r eventRepo) Insert(ctx context.Context, db repository.DBTX, e *domain.WebhookEvent) (bool, error) {
	defer r.s.acquire(db)()
	if err := r.s.fault("events.insert"); err != nil {
		return false, err
	}
	for _, existing := range r.s.state.events {
		if existing.Source == e.Source && existing.EventID == e.EventID {
			return false, nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = domain.WebhookReceived
	}
	e.CreatedAt = time.Now()
	r.s.state.events[e.ID] = *e
	return true, nil
}

func (r eventRepo) FindByEventID(ctx context.Context, db repository.DBTX, source, eventID string) (*domain.WebhookEvent, error) {
	defer r.s.acquire(db)()
	for _, e := range r.s.state.events {
		if e.Source == source && e.EventID == eventID {
			return &e, nil
		}
	}
	return nil, nil
}

func (r eventRepo) MarkDone(ctx context.Context, db repository.DBTX, id uuid.UUID, status domain.WebhookEventStatus, result string) error {
	defer r.s.acquire(db)()
	if err := r.s.fault("events.mark_done"); err != nil {
		return err
	}
	e, ok := r.s.state.events[id]
	if !ok {
		return nil
	}
	now := time.Now()
	e.Status, e.ProcessingError, e.Result, e.ProcessedAt = status, nil, &result, &now
	e.Attempts++
	r.s.state.events[id] = e
	return nil
}

func (r eventRepo) MarkFailed(ctx context.Context, db repository.DBTX, id uuid.UUID, processingErr string) error {
	defer r.s.acquire(db)()
	e, ok := r.s.state.events[id]
	if !ok {
		return nil
	}
	now := time.Now()
	e.Status, e.ProcessingError, e.ProcessedAt = domain.WebhookFailed, &processingErr, &now
	e.Attempts++
	r.s.state.events[id] = e
	return nil
}

func (r eventRepo) ListRetryable(ctx context.Context, db repository.DBTX, olderThan time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	defer r.s.acquire(db)()
	var out []domain.WebhookEvent
	for _, e := range r.s.state.events {
		last := e.CreatedAt
		if e.ProcessedAt != nil {
			last = *e.ProcessedAt
		}
		if (e.Status == domain.WebhookReceived || e.Status == domain.WebhookFailed) &&
			e.Attempts < maxAttempts && last.Before(olderThan) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b domain.WebhookEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out[:min(limit, len(out))], nil
}

type idempotencyRepo struct{ s *Store }

func (r idempotencyRepo) Claim(ctx context.Context, db repository.DBTX, scope, key string) (bool, error) {
	defer r.s.acquire(db)()
	k := scope + "\x00" + key
	if _, ok := r.s.state.keys[k]; ok {
		return false, nil
	}
	r.s.state.keys[k] = struct{}{}
	return true, nil
}

// --- reference data ---

type paymentIntentRepo struct{ s *Store }

func (r paymentIntentRepo) Upsert(ctx context.Context, db repository.DBTX, pi *domain.PaymentIntent) error {
	defer r.s.acquire(db)()
	row := *pi
	if prev, ok := r.s.state.intents[pi.ID]; ok && row.CustomerID == nil {
		row.CustomerID = prev.CustomerID
	}
	row.UpdatedAt = time.Now()
	r.s.state.intents[pi.ID] = row
	return nil
}

func (r paymentIntentRepo) FindByID(ctx context.Context, db repository.DBTX, id string) (*domain.PaymentIntent, error) {
	defer r.s.acquire(db)()
	pi, ok := r.s.state.intents[id]
	if !ok {
		return nil, nil
	}
	return &pi, nil
}

type connectedAccountRepo struct{ s *Store }

func (r connectedAccountRepo) Upsert(ctx context.Context, db repository.DBTX, a *domain.ConnectedAccount) error {
	defer r.s.acquire(db)()
	row := *a
	for _, u := range r.s.state.users {
		if u.StripeAccountID != nil && *u.StripeAccountID == a.ID {
			id := u.ID
			row.UserID = &id
		}
	}
	if prev, ok := r.s.state.connected[a.ID]; ok && row.UserID == nil {
		row.UserID = prev.UserID
	}
	row.UpdatedAt = time.Now()
	r.s.state.connected[a.ID] = row
	return nil
}

func (r connectedAccountRepo) FindByID(ctx context.Context, db repository.DBTX, id string) (*domain.ConnectedAccount, error) {
	defer r.s.acquire(db)()
	a, ok := r.s.state.connected[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.User, error) {
	defer r.s.acquire(db)()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) FindByEmail(ctx context.Context, db repository.DBTX, email string) (*domain.User, error) {
	defer r.s.acquire(db)()
	for _, u := range r.s.state.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r userRepo) SetStripeCustomerID(ctx context.Context, db repository.DBTX, id uuid.UUID, customerID string) (bool, error) {
	defer r.s.acquire(db)()
	u, ok := r.s.state.users[id]
	if !ok || u.StripeCustomerID != nil {
		return false, nil
	}
	for _, other := range r.s.state.users {
		if other.StripeCustomerID != nil && *other.StripeCustomerID == customerID {
			return false, nil
		}
	}
	u.StripeCustomerID = &customerID
	r.s.state.users[id] = u
	return true, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(ctx context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	defer r.s.acquire(db)()
	r.s.state.outbox = append(r.s.state.outbox, draft)
	return nil
}
