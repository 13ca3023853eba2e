package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RechargeService tops up wallets through hosted checkouts. The wallet is
// credited once per recharge, whichever of the checkout completion or the
// payment intent success arrives first.
type RechargeService struct {
	pool     repository.Pool
	repos    repository.Repositories
	engine   *ledger.Engine
	provider provider.PaymentProvider
	idem     *guard.Idempotency
	urls     CheckoutURLs
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewRechargeService creates a new recharge service.
func NewRechargeService(
	pool repository.Pool,
	repos repository.Repositories,
	engine *ledger.Engine,
	prov provider.PaymentProvider,
	urls CheckoutURLs,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *RechargeService {
	return &RechargeService{
		pool:     pool,
		repos:    repos,
		engine:   engine,
		provider: prov,
		idem:     guard.NewIdempotency(repos.Idempotency),
		urls:     urls,
		metrics:  metrics,
		logger:   logger,
	}
}

// Initiate records a pending recharge and opens a checkout for it.
func (s *RechargeService) Initiate(ctx context.Context, p domain.InitiateRechargeParams) (*domain.RechargeCheckout, error) {
	if err := domain.ValidatePositiveAmount(p.Amount); err != nil {
		return nil, err
	}
	p.Currency = domain.NormalizeCurrency(p.Currency)
	if err := domain.ValidateCurrency(p.Currency); err != nil {
		return nil, err
	}

	if p.IdempotencyKey != "" {
		prior, err := s.repos.Recharges.FindByIdempotencyKey(ctx, s.pool, p.UserID, p.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("find recharge by key: %w", err)
		}
		if prior != nil {
			return s.replay(ctx, prior), nil
		}
	}

	user, err := s.repos.Users.FindByID(ctx, s.pool, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user", p.UserID.String())
	}

	rc := &domain.Recharge{
		ID:             uuid.New(),
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         domain.RechargePending,
		IdempotencyKey: strPtr(p.IdempotencyKey),
		Description:    "Wallet recharge",
	}
	var prior *domain.Recharge
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		claim, err := s.idem.Claim(ctx, tx, guard.RechargeScope(p.UserID), p.IdempotencyKey)
		if err != nil {
			return err
		}
		if claim == guard.AlreadyExists {
			prior, err = s.repos.Recharges.FindByIdempotencyKey(ctx, tx, p.UserID, p.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("find recharge by key: %w", err)
			}
			if prior == nil {
				return domain.ErrConstraintConflict("recharge request already in progress", nil)
			}
			return nil
		}
		if err := s.repos.Recharges.Create(ctx, tx, rc); err != nil {
			return err
		}
		if err := s.repos.Outbox.Insert(ctx, tx, domain.NewRechargeStatusEvent(rc, "")); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.replay(ctx, prior), nil
	}

	session, err := s.provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
		Amount:      rc.Amount,
		Currency:    rc.Currency,
		ProductName: rc.Description,
		CustomerID:  deref(user.StripeCustomerID),
		SuccessURL:  orDefault(p.SuccessURL, s.urls.Success),
		CancelURL:   orDefault(p.CancelURL, s.urls.Cancel),
		Metadata: map[string]string{
			MetaType:       metaTypeRecharge,
			MetaRechargeID: rc.ID.String(),
			MetaUserID:     rc.UserID.String(),
		},
		IdempotencyKey: "recharge-" + rc.ID.String(),
	})
	if err != nil {
		// Without an answer a session may exist; the sweep expires the
		// recharge once it is stale.
		if !provider.IsTimeout(err) {
			if _, ferr := s.finish(ctx, rc.ID, domain.RechargeFailed); ferr != nil {
				s.logger.Error("failed to mark recharge failed", "recharge_id", rc.ID, "error", ferr)
			}
		}
		return nil, domain.ErrProviderCallFailed(err)
	}

	var updated *domain.Recharge
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Recharges.LockByID(ctx, tx, rc.ID)
		if err != nil {
			return fmt.Errorf("lock recharge: %w", err)
		}
		updated, err = s.repos.Recharges.Update(ctx, tx, rc.ID, domain.RechargeUpdate{
			Status:            current.Status,
			CheckoutSessionID: &session.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("recharge checkout created",
		"recharge_id", rc.ID,
		"session_id", session.ID,
		"amount", rc.Amount,
		"currency", rc.Currency,
	)
	return &domain.RechargeCheckout{Recharge: updated, CheckoutURL: session.URL}, nil
}

// replay returns a recorded recharge, with the checkout URL while it can
// still be paid.
func (s *RechargeService) replay(ctx context.Context, rc *domain.Recharge) *domain.RechargeCheckout {
	out := &domain.RechargeCheckout{Recharge: rc, Idempotent: true}
	if rc.Status != domain.RechargePending || rc.CheckoutSessionID == nil {
		return out
	}
	session, err := s.provider.RetrieveCheckoutSession(ctx, *rc.CheckoutSessionID)
	if err != nil {
		s.logger.Warn("retrieve checkout session", "recharge_id", rc.ID, "error", err)
		return out
	}
	out.CheckoutURL = session.URL
	return out
}

// CompleteCheckout credits a paid recharge checkout. A checkout carrying
// recharge metadata that has no local row is recorded first.
func (s *RechargeService) CompleteCheckout(ctx context.Context, tx pgx.Tx, session *provider.CheckoutSession) (domain.WebhookEventStatus, string, error) {
	rc, err := s.resolve(ctx, tx, session.ID, session.PaymentIntent, session.Metadata)
	if err != nil {
		return "", "", err
	}
	if rc == nil {
		if rc, err = s.adopt(ctx, tx, session.Metadata, session.AmountTotal, session.Currency, session.ID); err != nil {
			return "", "", err
		}
	}
	if rc == nil {
		return "", "", domain.ErrUnmatchedReference("recharge", session.ID)
	}
	return s.credit(ctx, tx, rc, session.AmountTotal, session.ID, session.PaymentIntent)
}

// SettleIntent credits the recharge paid by a succeeded payment intent.
func (s *RechargeService) SettleIntent(ctx context.Context, tx pgx.Tx, pi *provider.PaymentIntent) (domain.WebhookEventStatus, string, error) {
	rc, err := s.resolve(ctx, tx, "", pi.ID, pi.Metadata)
	if err != nil {
		return "", "", err
	}
	if rc == nil {
		if rc, err = s.adopt(ctx, tx, pi.Metadata, pi.AmountReceived, pi.Currency, ""); err != nil {
			return "", "", err
		}
	}
	if rc == nil {
		return "", "", domain.ErrUnmatchedReference("recharge", pi.ID)
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return s.credit(ctx, tx, rc, amount, "", pi.ID)
}

// credit applies the deposit of a recharge. The movement is correlated by
// recharge id so both completion paths settle it exactly once. A recharge
// closed locally stays closed: the payment is not credited and a
// late-payment event is written for support instead.
func (s *RechargeService) credit(ctx context.Context, tx pgx.Tx, rc *domain.Recharge, amount int64, sessionID, intentID string) (domain.WebhookEventStatus, string, error) {
	if amount <= 0 {
		amount = rc.Amount
	}
	next, changed, err := rc.Status.Advance(domain.RechargeSucceeded)
	if domain.HasCode(err, domain.CodeTerminalState) {
		s.logger.Warn("recharge paid after it was closed",
			"recharge_id", rc.ID,
			"status", rc.Status,
			"amount", amount,
			"session_id", sessionID,
			"payment_intent_id", intentID,
		)
		if err := s.repos.Outbox.Insert(ctx, tx, domain.NewRechargeLatePaymentEvent(rc, amount, sessionID, intentID)); err != nil {
			return "", "", fmt.Errorf("insert outbox event: %w", err)
		}
		return domain.WebhookIgnored, fmt.Sprintf("recharge %s already %s, payment of %d not credited", rc.ID, rc.Status, amount), nil
	}
	if err != nil {
		return "", "", err
	}

	acct, err := s.engine.EnsureAccount(ctx, tx, rc.UserID, rc.Currency)
	if err != nil {
		return "", "", err
	}
	res, err := s.engine.ApplyMovement(ctx, tx, domain.MovementParams{
		AccountID:     acct.ID,
		Type:          domain.TxDeposit,
		Amount:        amount,
		Description:   rc.Description,
		CorrelationID: "recharge:" + rc.ID.String(),
	})
	if err != nil {
		return "", "", err
	}

	upd := domain.RechargeUpdate{Status: next, TransactionID: &res.Transaction.ID}
	if rc.CheckoutSessionID == nil {
		upd.CheckoutSessionID = strPtr(sessionID)
	}
	if rc.PaymentIntentID == nil {
		upd.PaymentIntentID = strPtr(intentID)
	}
	updated, err := s.repos.Recharges.Update(ctx, tx, rc.ID, upd)
	if err != nil {
		return "", "", err
	}
	if changed {
		if err := s.repos.Outbox.Insert(ctx, tx, domain.NewRechargeStatusEvent(updated, rc.Status)); err != nil {
			return "", "", fmt.Errorf("insert outbox event: %w", err)
		}
	}

	if res.Idempotent {
		return domain.WebhookProcessed, fmt.Sprintf("recharge %s already credited", rc.ID), nil
	}
	s.logger.Info("recharge credited",
		"recharge_id", rc.ID,
		"user_id", rc.UserID,
		"amount", amount,
		"balance", res.Account.Balance,
	)
	return domain.WebhookProcessed, fmt.Sprintf("recharge %s credited %d", rc.ID, amount), nil
}

// Close moves a recharge matched by session, intent or metadata to a failed,
// canceled or expired status. Closed recharges are left as they are.
func (s *RechargeService) Close(ctx context.Context, tx pgx.Tx, sessionID, intentID string, meta map[string]string, status domain.RechargeStatus) (domain.WebhookEventStatus, string, error) {
	rc, err := s.resolve(ctx, tx, sessionID, intentID, meta)
	if err != nil {
		return "", "", err
	}
	if rc == nil {
		return "", "", domain.ErrUnmatchedReference("recharge", orDefault(sessionID, intentID))
	}
	updated, changed, err := s.advance(ctx, tx, rc, status)
	if domain.HasCode(err, domain.CodeTerminalState) {
		return domain.WebhookIgnored, fmt.Sprintf("recharge %s already %s", rc.ID, rc.Status), nil
	}
	if err != nil {
		return "", "", err
	}
	if !changed {
		return domain.WebhookProcessed, fmt.Sprintf("recharge %s unchanged", rc.ID), nil
	}
	return domain.WebhookProcessed, fmt.Sprintf("recharge %s %s", updated.ID, updated.Status), nil
}

func (s *RechargeService) advance(ctx context.Context, tx pgx.Tx, rc *domain.Recharge, status domain.RechargeStatus) (*domain.Recharge, bool, error) {
	next, changed, err := rc.Status.Advance(status)
	if err != nil || !changed {
		return rc, false, err
	}
	updated, err := s.repos.Recharges.Update(ctx, tx, rc.ID, domain.RechargeUpdate{Status: next})
	if err != nil {
		return nil, false, err
	}
	if err := s.repos.Outbox.Insert(ctx, tx, domain.NewRechargeStatusEvent(updated, rc.Status)); err != nil {
		return nil, false, fmt.Errorf("insert outbox event: %w", err)
	}
	return updated, true, nil
}

func (s *RechargeService) finish(ctx context.Context, id uuid.UUID, status domain.RechargeStatus) (*domain.Recharge, error) {
	var out *domain.Recharge
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		rc, err := s.repos.Recharges.LockByID(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("lock recharge: %w", err)
		}
		if rc == nil {
			return domain.ErrNotFound("recharge", id.String())
		}
		out, _, err = s.advance(ctx, tx, rc, status)
		if domain.HasCode(err, domain.CodeTerminalState) {
			return nil
		}
		return err
	})
	return out, err
}

// resolve finds and locks the recharge referenced by a session, an intent or
// the recharge_id metadata, in that order.
func (s *RechargeService) resolve(ctx context.Context, tx pgx.Tx, sessionID, intentID string, meta map[string]string) (*domain.Recharge, error) {
	var (
		found *domain.Recharge
		err   error
	)
	if sessionID != "" {
		if found, err = s.repos.Recharges.FindBySessionID(ctx, tx, sessionID); err != nil {
			return nil, fmt.Errorf("find recharge by session: %w", err)
		}
	}
	if found == nil && intentID != "" {
		if found, err = s.repos.Recharges.FindByIntentID(ctx, tx, intentID); err != nil {
			return nil, fmt.Errorf("find recharge by intent: %w", err)
		}
	}
	id, ok := uuid.Nil, false
	if found != nil {
		id, ok = found.ID, true
	} else {
		id, ok = metaUUID(meta, MetaRechargeID)
	}
	if !ok {
		return nil, nil
	}
	rc, err := s.repos.Recharges.LockByID(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock recharge: %w", err)
	}
	return rc, nil
}

// adopt records a recharge for a provider payment that carries recharge
// metadata but has no local row.
func (s *RechargeService) adopt(ctx context.Context, tx pgx.Tx, meta map[string]string, amount int64, currency, sessionID string) (*domain.Recharge, error) {
	if meta[MetaType] != metaTypeRecharge {
		return nil, nil
	}
	userID, ok := metaUUID(meta, MetaUserID)
	if !ok || amount <= 0 {
		return nil, nil
	}
	id, ok := metaUUID(meta, MetaRechargeID)
	if !ok {
		id = uuid.New()
	}
	rc := &domain.Recharge{
		ID:                id,
		UserID:            userID,
		Amount:            amount,
		Currency:          domain.NormalizeCurrency(currency),
		Status:            domain.RechargePending,
		CheckoutSessionID: strPtr(sessionID),
		Description:       "Wallet recharge",
	}
	if err := domain.ValidateCurrency(rc.Currency); err != nil {
		return nil, err
	}
	if err := s.repos.Recharges.Create(ctx, tx, rc); err != nil {
		return nil, err
	}
	s.logger.Warn("recharge recorded from provider event", "recharge_id", rc.ID, "user_id", userID)
	return rc, nil
}

// SweepStale closes recharges that have been pending since olderThan. The
// checkout is read back first so a payment whose event was lost is still
// credited. It returns the ids of the users it touched.
func (s *RechargeService) SweepStale(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	stale, err := s.repos.Recharges.ListStale(ctx, s.pool, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale recharges: %w", err)
	}
	var touched []uuid.UUID
	for i := range stale {
		rc := &stale[i]
		outcome, err := s.sweepOne(ctx, rc)
		if err != nil {
			s.logger.Warn("recharge sweep failed", "recharge_id", rc.ID, "error", err)
			outcome = "error"
		}
		s.metrics.SweepItem("recharge", outcome)
		touched = append(touched, rc.UserID)
	}
	return touched, nil
}

func (s *RechargeService) sweepOne(ctx context.Context, rc *domain.Recharge) (string, error) {
	if rc.CheckoutSessionID == nil {
		if _, err := s.finish(ctx, rc.ID, domain.RechargeExpired); err != nil {
			return "", err
		}
		return string(domain.RechargeExpired), nil
	}

	session, err := s.provider.RetrieveCheckoutSession(ctx, *rc.CheckoutSessionID)
	if err != nil {
		return "", fmt.Errorf("retrieve checkout session: %w", err)
	}
	switch {
	case session.Status == "complete" && session.PaymentStatus == "paid":
		err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
			_, _, err := s.CompleteCheckout(ctx, tx, session)
			return err
		})
		if err != nil {
			return "", err
		}
		return string(domain.RechargeSucceeded), nil
	case session.Status == "expired":
		if _, err := s.finish(ctx, rc.ID, domain.RechargeExpired); err != nil {
			return "", err
		}
		return string(domain.RechargeExpired), nil
	default:
		return "open", nil
	}
}
