package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/policy"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const opCreatePayout = "create_payout"

// availability is implemented by providers that can report an open circuit.
type availability interface {
	Available(op string) bool
}

// PayoutService debits the wallet, submits the payout to the provider and
// follows it to a terminal status. A payout that fails after its debit is
// always compensated with a refund to the same account.
type PayoutService struct {
	pool     repository.Pool
	repos    repository.Repositories
	engine   *ledger.Engine
	provider provider.PaymentProvider
	idem     *guard.Idempotency
	limiter  guard.Limiter
	limits   policy.PayoutLimitPolicy
	metrics  *infra.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewPayoutService creates a new payout service. limiter may be nil.
func NewPayoutService(
	pool repository.Pool,
	repos repository.Repositories,
	engine *ledger.Engine,
	prov provider.PaymentProvider,
	limiter guard.Limiter,
	limits policy.PayoutLimitPolicy,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *PayoutService {
	return &PayoutService{
		pool:     pool,
		repos:    repos,
		engine:   engine,
		provider: prov,
		idem:     guard.NewIdempotency(repos.Idempotency),
		limiter:  limiter,
		limits:   limits,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestPayout debits the amount and submits it to the user's connected
// account. Repeating a request with the same idempotency key returns the
// payout recorded the first time.
func (s *PayoutService) RequestPayout(ctx context.Context, p domain.RequestPayoutParams) (*domain.PayoutResult, error) {
	if err := domain.ValidatePositiveAmount(p.Amount); err != nil {
		return nil, err
	}
	p.Currency = domain.NormalizeCurrency(p.Currency)
	if err := domain.ValidateCurrency(p.Currency); err != nil {
		return nil, err
	}
	if p.Method == "" {
		p.Method = domain.PayoutStandard
	}
	if err := domain.ValidatePayoutMethod(p.Method); err != nil {
		return nil, err
	}
	if p.IdempotencyKey == "" {
		return nil, domain.ErrValidation("idempotency_key is required")
	}

	prior, err := s.repos.Payouts.FindByIdempotencyKey(ctx, s.pool, p.UserID, p.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("find payout by key: %w", err)
	}
	if prior != nil {
		return s.replay(ctx, prior)
	}

	if s.limiter != nil {
		if err := s.limiter.Check(ctx, "payout:"+p.UserID.String()).Err(); err != nil {
			s.metrics.Payout("rate_limited")
			return nil, err
		}
	}
	if a, ok := s.provider.(availability); ok && !a.Available(opCreatePayout) {
		s.metrics.Payout("unavailable")
		return nil, domain.ErrProviderUnavailable()
	}

	destination, err := s.destination(ctx, p.UserID, true)
	if err != nil {
		return nil, err
	}

	var (
		payout   *domain.Payout
		debit    *domain.Transaction
		replayed bool
	)
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		claim, err := s.idem.Claim(ctx, tx, guard.PayoutScope(p.UserID), p.IdempotencyKey)
		if err != nil {
			return err
		}
		if claim == guard.AlreadyExists {
			payout, err = s.repos.Payouts.FindByIdempotencyKey(ctx, tx, p.UserID, p.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("find payout by key: %w", err)
			}
			if payout == nil {
				return domain.ErrConstraintConflict("payout request already in progress", nil)
			}
			replayed = true
			return nil
		}

		payout, debit, err = s.reserve(ctx, tx, p)
		return err
	})
	if err != nil {
		if domain.HasCode(err, domain.CodeLimitExceeded) || domain.HasCode(err, domain.CodeInsufficientFunds) {
			s.metrics.Payout("rejected")
		}
		return nil, err
	}
	if replayed {
		return s.replay(ctx, payout)
	}

	s.logger.Info("payout reserved",
		"payout_id", payout.ID,
		"user_id", p.UserID,
		"amount", p.Amount,
		"currency", p.Currency,
	)
	return s.submit(ctx, payout, debit, destination, false)
}

// reserve checks the limits, takes the debit and records the pending payout.
func (s *PayoutService) reserve(ctx context.Context, tx pgx.Tx, p domain.RequestPayoutParams) (*domain.Payout, *domain.Transaction, error) {
	acct, err := s.engine.EnsureAccount(ctx, tx, p.UserID, p.Currency)
	if err != nil {
		return nil, nil, err
	}
	paid, err := s.repos.Payouts.SumSince(ctx, tx, p.UserID, p.Currency, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, nil, fmt.Errorf("sum payouts: %w", err)
	}
	if err := policy.EvaluatePayoutLimits(s.limits, p.Amount, paid).Err(); err != nil {
		return nil, nil, err
	}

	payoutID := uuid.New()
	res, err := s.engine.ApplyMovement(ctx, tx, domain.MovementParams{
		AccountID:     acct.ID,
		Type:          domain.TxPayout,
		Amount:        -p.Amount,
		Description:   fmt.Sprintf("payout %s", payoutID),
		CorrelationID: "payout:" + payoutID.String(),
		Status:        domain.TxPending,
	})
	if err != nil {
		return nil, nil, err
	}

	payout := &domain.Payout{
		ID:             payoutID,
		AccountID:      acct.ID,
		TransactionID:  res.Transaction.ID,
		UserID:         p.UserID,
		Currency:       p.Currency,
		Amount:         p.Amount,
		Status:         domain.PayoutPending,
		Method:         p.Method,
		IdempotencyKey: p.IdempotencyKey,
	}
	if err := s.repos.Payouts.Create(ctx, tx, payout); err != nil {
		return nil, nil, err
	}
	if err := s.repos.Outbox.Insert(ctx, tx, domain.NewPayoutStatusEvent(payout, "")); err != nil {
		return nil, nil, fmt.Errorf("insert outbox event: %w", err)
	}
	return payout, res.Transaction, nil
}

// submit sends the payout to the provider. A timeout leaves it pending for
// the sweep, which resubmits with the same provider idempotency key. Any
// other failure of a first submission compensates the debit; a resubmission
// is compensated only when the provider definitively rejects it.
func (s *PayoutService) submit(ctx context.Context, payout *domain.Payout, debit *domain.Transaction, destination string, resubmit bool) (*domain.PayoutResult, error) {
	po, err := s.provider.CreatePayout(ctx, provider.PayoutParams{
		Amount:           payout.Amount,
		Currency:         payout.Currency,
		Method:           string(payout.Method),
		ConnectedAccount: destination,
		Metadata: map[string]string{
			MetaPayoutID: payout.ID.String(),
			MetaUserID:   payout.UserID.String(),
		},
		IdempotencyKey: "payout-" + payout.ID.String(),
	})
	if err != nil {
		if provider.IsTimeout(err) || (resubmit && !rejected(err)) {
			s.logger.Warn("payout outcome unknown, left pending",
				"payout_id", payout.ID,
				"error", err,
			)
			s.metrics.Payout("timeout")
			return &domain.PayoutResult{Payout: payout, Transaction: debit}, nil
		}
		if _, cerr := s.compensate(ctx, payout.ID, err.Error()); cerr != nil {
			return nil, fmt.Errorf("compensate payout %s: %w", payout.ID, errors.Join(err, cerr))
		}
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, domain.ErrProviderCallFailed(err)
	}

	var updated *domain.Payout
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Payouts.LockByID(ctx, tx, payout.ID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		updated, _, err = s.transition(ctx, tx, current, domain.PayoutStatusFromProvider(po.Status), domain.PayoutUpdate{
			ExternalID:     &po.ID,
			ExternalStatus: &po.Status,
		})
		if domain.HasCode(err, domain.CodeTerminalState) {
			// An event settled it first.
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payout submitted",
		"payout_id", payout.ID,
		"external_id", po.ID,
		"status", updated.Status,
	)
	return &domain.PayoutResult{Payout: updated, Transaction: debit}, nil
}

// compensate fails the payout and returns its debit to the wallet.
func (s *PayoutService) compensate(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error) {
	var out *domain.Payout
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Payouts.LockByID(ctx, tx, payoutID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if current == nil {
			return domain.ErrNotFound("payout", payoutID.String())
		}
		out, _, err = s.transition(ctx, tx, current, domain.PayoutFailed, domain.PayoutUpdate{FailureReason: &reason})
		if domain.HasCode(err, domain.CodeTerminalState) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("payout compensated", "payout_id", payoutID, "reason", reason)
	return out, nil
}

// transition moves the payout to target and applies the ledger effect of a
// terminal status: success settles the debit, failure and cancellation
// reverse it. Reference-only updates are written without a status change.
func (s *PayoutService) transition(ctx context.Context, tx pgx.Tx, p *domain.Payout, target domain.PayoutStatus, upd domain.PayoutUpdate) (*domain.Payout, bool, error) {
	next, changed, err := p.Status.Advance(target)
	if err != nil {
		return p, false, err
	}
	upd.Status = next
	if !changed {
		if upd.ExternalID == nil && upd.ExternalStatus == nil {
			return p, false, nil
		}
		updated, err := s.repos.Payouts.Update(ctx, tx, p.ID, upd)
		return updated, false, err
	}

	switch next {
	case domain.PayoutSucceeded:
		if _, _, err := s.engine.SettleTransaction(ctx, tx, p.TransactionID, domain.TxSucceeded); err != nil {
			return nil, false, err
		}
	case domain.PayoutFailed, domain.PayoutCanceled:
		if _, err := s.engine.ReverseMovement(ctx, tx, p.TransactionID, fmt.Sprintf("payout %s %s", p.ID, next)); err != nil {
			return nil, false, err
		}
		settled := domain.TxFailed
		if next == domain.PayoutCanceled {
			settled = domain.TxCanceled
		}
		if _, _, err := s.engine.SettleTransaction(ctx, tx, p.TransactionID, settled); err != nil {
			return nil, false, err
		}
	}

	updated, err := s.repos.Payouts.Update(ctx, tx, p.ID, upd)
	if err != nil {
		return nil, false, err
	}
	if err := s.repos.Outbox.Insert(ctx, tx, domain.NewPayoutStatusEvent(updated, p.Status)); err != nil {
		return nil, false, fmt.Errorf("insert outbox event: %w", err)
	}
	s.metrics.Payout(string(next))
	return updated, true, nil
}

// ReconcileEvent applies a provider payout event inside the reconciler's
// transaction. The payout is matched by external id, then by the payout_id
// metadata, whose match backfills the external id.
func (s *PayoutService) ReconcileEvent(ctx context.Context, tx pgx.Tx, po *provider.Payout) (domain.WebhookEventStatus, string, error) {
	found, err := s.repos.Payouts.FindByExternalID(ctx, tx, po.ID)
	if err != nil {
		return "", "", fmt.Errorf("find payout by external id: %w", err)
	}
	var id uuid.UUID
	switch {
	case found != nil:
		id = found.ID
	default:
		metaID, ok := metaUUID(po.Metadata, MetaPayoutID)
		if !ok {
			return "", "", domain.ErrUnmatchedReference("payout", po.ID)
		}
		id = metaID
	}
	current, err := s.repos.Payouts.LockByID(ctx, tx, id)
	if err != nil {
		return "", "", fmt.Errorf("lock payout: %w", err)
	}
	if current == nil {
		return "", "", domain.ErrUnmatchedReference("payout", po.ID)
	}

	target := domain.PayoutStatusFromProvider(po.Status)
	upd := domain.PayoutUpdate{ExternalStatus: &po.Status}
	if current.ExternalID == nil {
		upd.ExternalID = &po.ID
	}
	if target == domain.PayoutFailed || target == domain.PayoutCanceled {
		upd.FailureReason = strPtr(orDefault(po.FailureMessage, po.FailureCode))
	}

	updated, changed, err := s.transition(ctx, tx, current, target, upd)
	switch {
	case domain.HasCode(err, domain.CodeTerminalState), domain.HasCode(err, domain.CodeInvalidTransition):
		s.logger.Info("payout event ignored",
			"payout_id", current.ID,
			"status", current.Status,
			"provider_status", po.Status,
		)
		return domain.WebhookIgnored, fmt.Sprintf("payout %s already %s", current.ID, current.Status), nil
	case err != nil:
		return "", "", err
	case !changed:
		return domain.WebhookProcessed, fmt.Sprintf("payout %s unchanged (%s)", current.ID, current.Status), nil
	}

	s.logger.Info("payout reconciled",
		"payout_id", updated.ID,
		"from", current.Status,
		"to", updated.Status,
	)
	return domain.WebhookProcessed, fmt.Sprintf("payout %s %s -> %s", updated.ID, current.Status, updated.Status), nil
}

// SweepStale follows payouts that have not moved since olderThan: payouts the
// provider never acknowledged are resubmitted, the others are refreshed from
// the provider. It returns the ids of the users it touched.
func (s *PayoutService) SweepStale(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	stale, err := s.repos.Payouts.ListStale(ctx, s.pool, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payouts: %w", err)
	}

	var touched []uuid.UUID
	for i := range stale {
		p := &stale[i]
		outcome, err := s.sweepOne(ctx, p)
		if err != nil {
			s.logger.Warn("payout sweep failed", "payout_id", p.ID, "error", err)
			outcome = "error"
		}
		s.metrics.SweepItem("payout", outcome)
		touched = append(touched, p.UserID)
	}
	return touched, nil
}

func (s *PayoutService) sweepOne(ctx context.Context, p *domain.Payout) (string, error) {
	destination, err := s.destination(ctx, p.UserID, false)
	if err != nil {
		return "", err
	}

	if p.ExternalID == nil {
		if a, ok := s.provider.(availability); ok && !a.Available(opCreatePayout) {
			return "deferred", nil
		}
		res, err := s.submit(ctx, p, nil, destination, true)
		if domain.HasCode(err, domain.CodeProviderCallFailed) {
			return "compensated", nil
		}
		if err != nil {
			return "", err
		}
		return string(res.Payout.Status), nil
	}

	po, err := s.provider.RetrievePayout(ctx, *p.ExternalID, destination)
	if err != nil {
		return "", fmt.Errorf("retrieve payout: %w", err)
	}
	outcome := "unchanged"
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Payouts.LockByID(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		upd := domain.PayoutUpdate{ExternalStatus: &po.Status}
		target := domain.PayoutStatusFromProvider(po.Status)
		if target == domain.PayoutFailed || target == domain.PayoutCanceled {
			upd.FailureReason = strPtr(orDefault(po.FailureMessage, po.FailureCode))
		}
		updated, changed, err := s.transition(ctx, tx, current, target, upd)
		if domain.HasCode(err, domain.CodeTerminalState) {
			return nil
		}
		if err != nil {
			return err
		}
		if changed {
			outcome = string(updated.Status)
		}
		return nil
	})
	return outcome, err
}

// destination returns the connected account payouts are sent from. With
// refresh set, the account is fetched from the provider and mirrored
// locally; the stored copy is used when the provider cannot be reached.
func (s *PayoutService) destination(ctx context.Context, userID uuid.UUID, refresh bool) (string, error) {
	user, err := s.repos.Users.FindByID(ctx, s.pool, userID)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return "", domain.ErrNotFound("user", userID.String())
	}
	if user.StripeAccountID == nil {
		return "", domain.ErrValidation("no payout account connected")
	}
	accountID := *user.StripeAccountID
	if !refresh {
		return accountID, nil
	}

	var payoutsEnabled bool
	acct, err := s.provider.RetrieveAccount(ctx, accountID)
	if err != nil {
		stored, ferr := s.repos.ConnectedAccounts.FindByID(ctx, s.pool, accountID)
		if ferr != nil || stored == nil {
			return "", domain.ErrProviderCallFailed(err)
		}
		s.logger.Warn("using stored connected account", "account_id", accountID, "error", err)
		payoutsEnabled = stored.PayoutsEnabled
	} else {
		if err := s.repos.ConnectedAccounts.Upsert(ctx, s.pool, connectedAccount(acct, &userID)); err != nil {
			return "", fmt.Errorf("upsert connected account: %w", err)
		}
		payoutsEnabled = acct.PayoutsEnabled
	}
	if !payoutsEnabled {
		return "", domain.ErrForbidden("payouts are not enabled for the connected account")
	}
	return accountID, nil
}

func (s *PayoutService) replay(ctx context.Context, p *domain.Payout) (*domain.PayoutResult, error) {
	debit, err := s.repos.Transactions.FindByID(ctx, s.pool, p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("find payout transaction: %w", err)
	}
	return &domain.PayoutResult{Payout: p, Transaction: debit, Idempotent: true}, nil
}

// Get returns one of the user's payouts.
func (s *PayoutService) Get(ctx context.Context, userID, payoutID uuid.UUID) (*domain.Payout, error) {
	p, err := s.repos.Payouts.FindByID(ctx, s.pool, payoutID)
	if err != nil {
		return nil, fmt.Errorf("find payout: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, domain.ErrNotFound("payout", payoutID.String())
	}
	return p, nil
}

// rejected reports whether the provider answered err with a final refusal.
func rejected(err error) bool {
	var apiErr *provider.APIError
	return errors.As(err, &apiErr) && !apiErr.Retryable()
}

func connectedAccount(a *provider.Account, userID *uuid.UUID) *domain.ConnectedAccount {
	return &domain.ConnectedAccount{
		ID:               a.ID,
		UserID:           userID,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
	}
}
