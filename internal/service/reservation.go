package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReservationService takes payment for seat reservations, by card through a
// hosted checkout or directly from the passenger's wallet. Either way the
// fare is split between the driver and the platform exactly once.
type ReservationService struct {
	pool         repository.Pool
	repos        repository.Repositories
	engine       *ledger.Engine
	provider     provider.PaymentProvider
	urls         CheckoutURLs
	platformUser uuid.UUID
	metrics      *infra.Metrics
	logger       *slog.Logger
}

// NewReservationService creates a new reservation payment service.
// Commission is credited to platformUser's wallet.
func NewReservationService(
	pool repository.Pool,
	repos repository.Repositories,
	engine *ledger.Engine,
	prov provider.PaymentProvider,
	urls CheckoutURLs,
	platformUser uuid.UUID,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *ReservationService {
	return &ReservationService{
		pool:         pool,
		repos:        repos,
		engine:       engine,
		provider:     prov,
		urls:         urls,
		platformUser: platformUser,
		metrics:      metrics,
		logger:       logger,
	}
}

func splitCorrelation(id uuid.UUID) string { return "reservation:" + id.String() }

func intentCorrelation(id string) string { return "intent:" + id }

func reservationLabel(id uuid.UUID) string { return "Reservation " + id.String() }

// Checkout opens a hosted checkout for a pending reservation.
func (s *ReservationService) Checkout(ctx context.Context, userID, reservationID uuid.UUID) (*domain.ReservationPayment, error) {
	res, err := s.owned(ctx, s.pool, userID, reservationID)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case domain.ReservationPending:
	case domain.ReservationCompleted, domain.ReservationPaid:
		return &domain.ReservationPayment{Reservation: res, Idempotent: true}, nil
	default:
		return nil, domain.ErrTerminalState(string(res.Status))
	}
	if res.CheckoutSessionID != nil {
		session, err := s.provider.RetrieveCheckoutSession(ctx, *res.CheckoutSessionID)
		if err != nil {
			return nil, domain.ErrProviderCallFailed(err)
		}
		if session.Status == "open" {
			return &domain.ReservationPayment{Reservation: res, CheckoutURL: session.URL, Idempotent: true}, nil
		}
	}

	// A new key per session so an expired checkout can be replaced.
	key := "reservation-" + res.ID.String()
	if res.CheckoutSessionID != nil {
		key += "-" + *res.CheckoutSessionID
	}

	user, err := s.repos.Users.FindByID(ctx, s.pool, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	var customer string
	if user != nil {
		customer = deref(user.StripeCustomerID)
	}
	session, err := s.provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
		Amount:      res.Amount,
		Currency:    res.Currency,
		ProductName: "Trip reservation",
		CustomerID:  customer,
		SuccessURL:  s.urls.Success,
		CancelURL:   s.urls.Cancel,
		Metadata: map[string]string{
			MetaType:          metaTypeReservation,
			MetaReservationID: res.ID.String(),
			MetaUserID:        userID.String(),
		},
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, domain.ErrProviderCallFailed(err)
	}

	var updated *domain.Reservation
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Reservations.LockByID(ctx, tx, res.ID)
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		if current == nil {
			return domain.ErrNotFound("reservation", res.ID.String())
		}
		updated, err = s.repos.Reservations.Update(ctx, tx, res.ID, domain.ReservationUpdate{
			Status:            current.Status,
			CheckoutSessionID: &session.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation checkout created",
		"reservation_id", res.ID,
		"session_id", session.ID,
		"amount", res.Amount,
	)
	return &domain.ReservationPayment{Reservation: updated, CheckoutURL: session.URL}, nil
}

// Authorize opens a manual-capture card payment for a pending reservation.
// The card is only charged once a seat is held for it, when the provider
// reports the authorization as capturable.
func (s *ReservationService) Authorize(ctx context.Context, userID, reservationID uuid.UUID) (*domain.ReservationPayment, error) {
	res, err := s.owned(ctx, s.pool, userID, reservationID)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case domain.ReservationPending:
	case domain.ReservationCompleted, domain.ReservationPaid:
		return &domain.ReservationPayment{Reservation: res, Idempotent: true}, nil
	default:
		return nil, domain.ErrTerminalState(string(res.Status))
	}

	user, err := s.repos.Users.FindByID(ctx, s.pool, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	var customer string
	if user != nil {
		customer = deref(user.StripeCustomerID)
	}
	// The provider answers a repeated key with the same intent.
	pi, err := s.provider.CreatePaymentIntent(ctx, provider.PaymentIntentParams{
		Amount:        res.Amount,
		Currency:      res.Currency,
		CustomerID:    customer,
		ManualCapture: true,
		Metadata: map[string]string{
			MetaType:          metaTypeReservation,
			MetaReservationID: res.ID.String(),
			MetaUserID:        userID.String(),
		},
		IdempotencyKey: "reservation-auth-" + res.ID.String(),
	})
	if err != nil {
		return nil, domain.ErrProviderCallFailed(err)
	}

	var updated *domain.Reservation
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repos.Reservations.LockByID(ctx, tx, res.ID)
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		if current == nil {
			return domain.ErrNotFound("reservation", res.ID.String())
		}
		if current.PaymentIntentID != nil && *current.PaymentIntentID != pi.ID {
			return domain.ErrConstraintConflict("reservation is already paid through another payment", nil)
		}
		updated, err = s.repos.Reservations.Update(ctx, tx, res.ID, domain.ReservationUpdate{
			Status:          current.Status,
			PaymentIntentID: &pi.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation card authorization created",
		"reservation_id", res.ID,
		"payment_intent_id", pi.ID,
		"amount", res.Amount,
	)
	return &domain.ReservationPayment{Reservation: updated, ClientSecret: pi.ClientSecret}, nil
}

// CaptureAuthorized holds the seat of an authorized reservation and captures
// the card payment. A reservation that cannot get a seat fails and its
// authorization is left to lapse uncaptured. A failed capture rolls the seat
// hold back with the event, which is then retried.
func (s *ReservationService) CaptureAuthorized(ctx context.Context, tx pgx.Tx, pi *provider.PaymentIntent) (domain.WebhookEventStatus, string, error) {
	res, err := s.resolve(ctx, tx, "", pi.ID, pi.Metadata)
	if err != nil {
		return "", "", err
	}
	if res == nil {
		return "", "", domain.ErrUnmatchedReference("reservation", pi.ID)
	}
	if res.Status == domain.ReservationPending {
		if res, err = s.holdOrFail(ctx, tx, res, "", pi.ID); err != nil {
			return "", "", err
		}
		if res.Status == domain.ReservationFailed {
			return domain.WebhookProcessed, fmt.Sprintf("reservation %s failed, authorization %s not captured", res.ID, pi.ID), nil
		}
	}
	if res.Status != domain.ReservationCompleted {
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s already %s", res.ID, res.Status), nil
	}
	if res.PaymentIntentID != nil && *res.PaymentIntentID != pi.ID {
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s is paid through %s, authorization %s not captured", res.ID, *res.PaymentIntentID, pi.ID), nil
	}

	captured, err := s.provider.CapturePaymentIntent(ctx, pi.ID, "capture-"+pi.ID)
	if err != nil {
		return "", "", domain.ErrProviderCallFailed(err)
	}
	s.logger.Info("reservation payment captured",
		"reservation_id", res.ID,
		"payment_intent_id", pi.ID,
		"status", captured.Status,
	)
	if captured.Status != "succeeded" {
		return domain.WebhookProcessed, fmt.Sprintf("reservation %s capture %s", res.ID, captured.Status), nil
	}
	return s.SettleIntent(ctx, tx, captured)
}

// PayWithWallet holds a seat and splits the fare from the passenger's
// wallet in one transaction.
func (s *ReservationService) PayWithWallet(ctx context.Context, userID, reservationID uuid.UUID) (*domain.ReservationPayment, error) {
	var out *domain.ReservationPayment
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		res, err := s.owned(ctx, tx, userID, reservationID)
		if err != nil {
			return err
		}
		if res.Status == domain.ReservationPaid {
			out = &domain.ReservationPayment{Reservation: res, Idempotent: true}
			return nil
		}
		if res.Status != domain.ReservationPending {
			return domain.ErrInvalidTransition(string(res.Status), string(domain.ReservationPaid))
		}
		if !res.SeatHeld {
			held, err := s.repos.Reservations.HoldSeat(ctx, tx, res.TripID)
			if err != nil {
				return fmt.Errorf("hold seat: %w", err)
			}
			if !held {
				return domain.ErrConstraintConflict("no seats left on this trip", nil)
			}
		}

		split, err := s.split(ctx, tx, res, res.Amount)
		if err != nil {
			return err
		}
		held := true
		updated, err := s.repos.Reservations.Update(ctx, tx, res.ID, domain.ReservationUpdate{
			Status:   domain.ReservationPaid,
			SeatHeld: &held,
		})
		if err != nil {
			return err
		}
		out = &domain.ReservationPayment{Reservation: updated, Split: &split.Split}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Idempotent {
		s.logger.Info("reservation paid from wallet",
			"reservation_id", reservationID,
			"user_id", userID,
			"gross", out.Split.Gross,
			"commission", out.Split.Commission,
		)
	}
	return out, nil
}

// split moves gross from the passenger to the driver and the platform.
func (s *ReservationService) split(ctx context.Context, tx pgx.Tx, res *domain.Reservation, gross int64) (*domain.SplitResult, error) {
	payer, err := s.engine.EnsureAccount(ctx, tx, res.PassengerID, res.Currency)
	if err != nil {
		return nil, err
	}
	payee, err := s.engine.EnsureAccount(ctx, tx, res.DriverID, res.Currency)
	if err != nil {
		return nil, err
	}
	platform, err := s.engine.EnsureAccount(ctx, tx, s.platformUser, res.Currency)
	if err != nil {
		return nil, err
	}
	return s.engine.SplitAndApply(ctx, tx, domain.SplitParams{
		Gross:             gross,
		PayerAccountID:    payer.ID,
		PayeeAccountID:    payee.ID,
		PlatformAccountID: platform.ID,
		ReservationID:     &res.ID,
		CorrelationID:     splitCorrelation(res.ID),
		Description:       reservationLabel(res.ID),
	})
}

// CompleteCheckout holds the seat of a reservation whose checkout completed.
// Payment is taken when the intent succeeds.
func (s *ReservationService) CompleteCheckout(ctx context.Context, tx pgx.Tx, session *provider.CheckoutSession) (domain.WebhookEventStatus, string, error) {
	res, err := s.resolve(ctx, tx, session.ID, session.PaymentIntent, session.Metadata)
	if err != nil {
		return "", "", err
	}
	if res == nil {
		return "", "", domain.ErrUnmatchedReference("reservation", session.ID)
	}
	if res.Status != domain.ReservationPending {
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s already %s", res.ID, res.Status), nil
	}
	updated, err := s.holdOrFail(ctx, tx, res, session.ID, session.PaymentIntent)
	if err != nil {
		return "", "", err
	}
	return domain.WebhookProcessed, fmt.Sprintf("reservation %s %s", updated.ID, updated.Status), nil
}

// SettleIntent takes the card payment of a reservation: the funds are
// deposited to the passenger's wallet and split from there. Funds for a
// reservation that can no longer be settled stay on the wallet as a refund.
func (s *ReservationService) SettleIntent(ctx context.Context, tx pgx.Tx, pi *provider.PaymentIntent) (domain.WebhookEventStatus, string, error) {
	res, err := s.resolve(ctx, tx, "", pi.ID, pi.Metadata)
	if err != nil {
		return "", "", err
	}
	if res == nil {
		return "", "", domain.ErrUnmatchedReference("reservation", pi.ID)
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	if res.Status == domain.ReservationPending {
		if res, err = s.holdOrFail(ctx, tx, res, "", pi.ID); err != nil {
			return "", "", err
		}
	}

	switch {
	case res.Status == domain.ReservationCompleted:
		payer, err := s.engine.EnsureAccount(ctx, tx, res.PassengerID, res.Currency)
		if err != nil {
			return "", "", err
		}
		if _, err := s.engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID:     payer.ID,
			Type:          domain.TxDeposit,
			Amount:        amount,
			Description:   reservationLabel(res.ID),
			CorrelationID: intentCorrelation(pi.ID),
			ReservationID: &res.ID,
		}); err != nil {
			return "", "", err
		}
		split, err := s.split(ctx, tx, res, amount)
		if err != nil {
			return "", "", err
		}
		if _, err := s.repos.Reservations.Update(ctx, tx, res.ID, domain.ReservationUpdate{
			Status:          domain.ReservationPaid,
			PaymentIntentID: &pi.ID,
		}); err != nil {
			return "", "", err
		}
		s.logger.Info("reservation paid by card",
			"reservation_id", res.ID,
			"payment_intent_id", pi.ID,
			"gross", split.Split.Gross,
			"commission", split.Split.Commission,
		)
		return domain.WebhookProcessed, fmt.Sprintf("reservation %s paid, commission %d", res.ID, split.Split.Commission), nil

	case res.Status == domain.ReservationPaid && deref(res.PaymentIntentID) == pi.ID:
		return domain.WebhookProcessed, fmt.Sprintf("reservation %s already paid", res.ID), nil

	default:
		payer, err := s.engine.EnsureAccount(ctx, tx, res.PassengerID, res.Currency)
		if err != nil {
			return "", "", err
		}
		refund, err := s.engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID:     payer.ID,
			Type:          domain.TxRefund,
			Amount:        amount,
			Description:   "Refund of " + reservationLabel(res.ID),
			CorrelationID: intentCorrelation(pi.ID),
			ReservationID: &res.ID,
			Compensation:  true,
		})
		if err != nil {
			return "", "", err
		}
		if !refund.Idempotent {
			s.logger.Warn("card payment refunded to wallet",
				"reservation_id", res.ID,
				"status", res.Status,
				"payment_intent_id", pi.ID,
				"amount", amount,
			)
		}
		return domain.WebhookProcessed, fmt.Sprintf("reservation %s %s, %d refunded to wallet", res.ID, res.Status, amount), nil
	}
}

// holdOrFail completes a pending reservation if a seat can be held and fails
// it otherwise. Session and intent ids are recorded either way.
func (s *ReservationService) holdOrFail(ctx context.Context, tx pgx.Tx, res *domain.Reservation, sessionID, intentID string) (*domain.Reservation, error) {
	held := res.SeatHeld
	if !held {
		var err error
		if held, err = s.repos.Reservations.HoldSeat(ctx, tx, res.TripID); err != nil {
			return nil, fmt.Errorf("hold seat: %w", err)
		}
	}
	target := domain.ReservationCompleted
	if !held {
		target = domain.ReservationFailed
		s.logger.Warn("no seat left for paid reservation", "reservation_id", res.ID, "trip_id", res.TripID)
	}
	next, _, err := res.Status.Advance(target)
	if err != nil {
		return nil, err
	}
	upd := domain.ReservationUpdate{Status: next, SeatHeld: &held}
	if res.CheckoutSessionID == nil {
		upd.CheckoutSessionID = strPtr(sessionID)
	}
	if res.PaymentIntentID == nil {
		upd.PaymentIntentID = strPtr(intentID)
	}
	return s.repos.Reservations.Update(ctx, tx, res.ID, upd)
}

// FailIntent marks the reservation of a failed or canceled payment intent and
// frees its seat. It returns nil when no reservation matches.
func (s *ReservationService) FailIntent(ctx context.Context, tx pgx.Tx, pi *provider.PaymentIntent, status domain.ReservationStatus) (*domain.Reservation, error) {
	res, err := s.resolve(ctx, tx, "", pi.ID, pi.Metadata)
	if err != nil || res == nil {
		return nil, err
	}
	next, changed, err := res.Status.Advance(status)
	if err != nil {
		return res, err
	}
	if !changed {
		return res, nil
	}
	if res.SeatHeld {
		if err := s.repos.Reservations.ReleaseSeat(ctx, tx, res.TripID); err != nil {
			return nil, fmt.Errorf("release seat: %w", err)
		}
	}
	released := false
	upd := domain.ReservationUpdate{Status: next, SeatHeld: &released}
	if res.PaymentIntentID == nil {
		upd.PaymentIntentID = &pi.ID
	}
	return s.repos.Reservations.Update(ctx, tx, res.ID, upd)
}

// ExpireCheckout deletes a reservation whose checkout expired unpaid and
// gives its seat back if one was held.
func (s *ReservationService) ExpireCheckout(ctx context.Context, tx pgx.Tx, session *provider.CheckoutSession) (domain.WebhookEventStatus, string, error) {
	res, err := s.resolve(ctx, tx, session.ID, "", session.Metadata)
	if err != nil {
		return "", "", err
	}
	if res == nil {
		return "", "", domain.ErrUnmatchedReference("reservation", session.ID)
	}
	if res.Status == domain.ReservationCompleted || res.Status == domain.ReservationPaid {
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s already %s", res.ID, res.Status), nil
	}
	if res.CheckoutSessionID != nil && *res.CheckoutSessionID != session.ID {
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s moved to another checkout", res.ID), nil
	}
	if res.SeatHeld {
		if err := s.repos.Reservations.ReleaseSeat(ctx, tx, res.TripID); err != nil {
			return "", "", fmt.Errorf("release seat: %w", err)
		}
	}
	if err := s.repos.Reservations.Delete(ctx, tx, res.ID); err != nil {
		return "", "", err
	}
	s.logger.Info("reservation expired", "reservation_id", res.ID, "seat_released", res.SeatHeld)
	return domain.WebhookProcessed, fmt.Sprintf("reservation %s deleted", res.ID), nil
}

func (s *ReservationService) owned(ctx context.Context, db repository.DBTX, userID, id uuid.UUID) (*domain.Reservation, error) {
	var (
		res *domain.Reservation
		err error
	)
	if _, ok := db.(pgx.Tx); ok {
		res, err = s.repos.Reservations.LockByID(ctx, db, id)
	} else {
		res, err = s.repos.Reservations.FindByID(ctx, db, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	if res == nil || res.PassengerID != userID {
		return nil, domain.ErrNotFound("reservation", id.String())
	}
	return res, nil
}

// resolve finds and locks the reservation referenced by a session, an intent
// or the reservation_id metadata, in that order.
func (s *ReservationService) resolve(ctx context.Context, tx pgx.Tx, sessionID, intentID string, meta map[string]string) (*domain.Reservation, error) {
	var (
		found *domain.Reservation
		err   error
	)
	if sessionID != "" {
		if found, err = s.repos.Reservations.FindBySessionID(ctx, tx, sessionID); err != nil {
			return nil, fmt.Errorf("find reservation by session: %w", err)
		}
	}
	if found == nil && intentID != "" {
		if found, err = s.repos.Reservations.FindByIntentID(ctx, tx, intentID); err != nil {
			return nil, fmt.Errorf("find reservation by intent: %w", err)
		}
	}
	var (
		id uuid.UUID
		ok bool
	)
	if found != nil {
		id, ok = found.ID, true
	} else {
		id, ok = metaUUID(meta, MetaReservationID)
	}
	if !ok {
		return nil, nil
	}
	res, err := s.repos.Reservations.LockByID(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return res, nil
}
