package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Acknowledgement statuses that do not mirror a stored event status.
const (
	AckError    = "error"
	AckReceived = "received"

	ackRetryMessage = "event stored for retry"
)

// Reconciler applies provider events to the ledger. Each event id is stored
// once per source; its effects commit together with the event's final
// status. A failed event stays stored and is retried by the sweep.
type Reconciler struct {
	pool         repository.Pool
	repos        repository.Repositories
	idem         *guard.Idempotency
	payouts      *PayoutService
	recharges    *RechargeService
	reservations *ReservationService
	metrics      *infra.Metrics
	logger       *slog.Logger
}

// NewReconciler creates a new event reconciler.
func NewReconciler(
	pool repository.Pool,
	repos repository.Repositories,
	payouts *PayoutService,
	recharges *RechargeService,
	reservations *ReservationService,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		pool:         pool,
		repos:        repos,
		idem:         guard.NewIdempotency(repos.Idempotency),
		payouts:      payouts,
		recharges:    recharges,
		reservations: reservations,
		metrics:      metrics,
		logger:       logger,
	}
}

// Handle stores a verified event and applies it in the same transaction.
// A delivery of an event id already stored is answered with the
// acknowledgement recorded for the first one. An error means the event
// could not be stored and the provider should deliver it again.
func (r *Reconciler) Handle(ctx context.Context, source string, payload []byte, event *provider.Event) (*domain.WebhookAck, error) {
	row := r.newRow(source, payload, event)

	var (
		recorded   *domain.WebhookAck
		dispatched bool
		status     domain.WebhookEventStatus
		msg        string
	)
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		stored, ack, err := r.store(ctx, tx, row)
		if err != nil || !stored {
			recorded = ack
			return err
		}
		dispatched = true
		status, msg, err = r.dispatch(ctx, tx, event)
		if err != nil {
			return err
		}
		return r.repos.Events.MarkDone(ctx, tx, row.ID, status, msg)
	})
	switch {
	case err != nil && !dispatched:
		return nil, fmt.Errorf("store event %s: %w", event.ID, err)
	case err != nil:
		return r.recordFailure(ctx, source, payload, event, err)
	case recorded != nil:
		r.metrics.WebhookEvent(event.Type, "duplicate")
		r.logger.Info("duplicate webhook event", "event_id", event.ID, "type", event.Type, "status", recorded.Status)
		return recorded, nil
	}

	r.metrics.WebhookEvent(event.Type, string(status))
	r.logger.Info("webhook event applied", "event_id", event.ID, "type", event.Type, "status", status, "detail", msg)
	return &domain.WebhookAck{Status: string(status), Message: msg}, nil
}

func (r *Reconciler) newRow(source string, payload []byte, event *provider.Event) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		EventID:         event.ID,
		Source:          source,
		Type:            event.Type,
		PaymentIntentID: strPtr(intentRef(event)),
		Payload:         payload,
		Status:          domain.WebhookReceived,
	}
}

// store claims the event id and inserts its row. When the id was seen
// before, it reports false with the acknowledgement recorded for it.
func (r *Reconciler) store(ctx context.Context, tx pgx.Tx, row *domain.WebhookEvent) (bool, *domain.WebhookAck, error) {
	claim, err := r.idem.Claim(ctx, tx, guard.WebhookScope(row.Source), row.EventID)
	if err != nil {
		return false, nil, err
	}
	if claim == guard.Claimed {
		inserted, err := r.repos.Events.Insert(ctx, tx, row)
		if err != nil {
			return false, nil, fmt.Errorf("insert event: %w", err)
		}
		if inserted {
			return true, nil, nil
		}
	}
	prior, err := r.repos.Events.FindByEventID(ctx, tx, row.Source, row.EventID)
	if err != nil {
		return false, nil, fmt.Errorf("load event: %w", err)
	}
	if prior == nil {
		return false, nil, fmt.Errorf("event %s claimed but not stored", row.EventID)
	}
	return false, recordedAck(prior), nil
}

// recordFailure stores an event whose processing rolled back, with its
// outcome, so the sweep can retry it and redeliveries get the same answer.
func (r *Reconciler) recordFailure(ctx context.Context, source string, payload []byte, event *provider.Event, cause error) (*domain.WebhookAck, error) {
	row := r.newRow(source, payload, event)
	status, ack := r.failureOutcome(event, cause)

	var recorded *domain.WebhookAck
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		stored, prior, err := r.store(ctx, tx, row)
		if err != nil || !stored {
			recorded = prior
			return err
		}
		if status == domain.WebhookFailed {
			return r.repos.Events.MarkFailed(ctx, tx, row.ID, cause.Error())
		}
		return r.repos.Events.MarkDone(ctx, tx, row.ID, status, ack.Message)
	})
	if err != nil {
		return nil, fmt.Errorf("store event %s: %w", event.ID, err)
	}
	if recorded != nil {
		return recorded, nil
	}
	r.metrics.WebhookEvent(event.Type, string(status))
	return ack, nil
}

// failureOutcome classifies a processing error. Unmatched references are
// acknowledged as ignored; anything else is left for retry.
func (r *Reconciler) failureOutcome(event *provider.Event, err error) (domain.WebhookEventStatus, *domain.WebhookAck) {
	var appErr *domain.AppError
	if domain.HasCode(err, domain.CodeUnmatchedReference) && errors.As(err, &appErr) {
		r.logger.Warn("webhook event references nothing local", "event_id", event.ID, "type", event.Type, "detail", appErr.Message)
		return domain.WebhookIgnored, &domain.WebhookAck{Status: string(domain.WebhookIgnored), Message: appErr.Message}
	}
	r.logger.Error("webhook event failed", "event_id", event.ID, "type", event.Type, "error", err)
	return domain.WebhookFailed, &domain.WebhookAck{Status: AckError, Message: ackRetryMessage}
}

// recordedAck rebuilds the acknowledgement a stored event was answered with.
func recordedAck(e *domain.WebhookEvent) *domain.WebhookAck {
	switch e.Status {
	case domain.WebhookFailed:
		return &domain.WebhookAck{Status: AckError, Message: ackRetryMessage}
	case domain.WebhookReceived:
		return &domain.WebhookAck{Status: AckReceived, Message: fmt.Sprintf("event %s is being processed", e.EventID)}
	}
	return &domain.WebhookAck{Status: string(e.Status), Message: deref(e.Result)}
}

// Retry applies a stored event again.
func (r *Reconciler) Retry(ctx context.Context, row domain.WebhookEvent) *domain.WebhookAck {
	event, err := provider.ParseEvent(row.Payload)
	if err != nil {
		if merr := r.repos.Events.MarkFailed(ctx, r.pool, row.ID, err.Error()); merr != nil {
			r.logger.Error("failed to mark event failed", "event_id", row.EventID, "error", merr)
		}
		return &domain.WebhookAck{Status: AckError, Message: err.Error()}
	}
	return r.process(ctx, &row, event)
}

// RetryStored retries events left received or failed since olderThan.
func (r *Reconciler) RetryStored(ctx context.Context, olderThan time.Time, maxAttempts, limit int) (int, error) {
	rows, err := r.repos.Events.ListRetryable(ctx, r.pool, olderThan, maxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable events: %w", err)
	}
	for _, row := range rows {
		ack := r.Retry(ctx, row)
		r.metrics.SweepItem("event", ack.Status)
	}
	return len(rows), nil
}

func (r *Reconciler) process(ctx context.Context, row *domain.WebhookEvent, event *provider.Event) *domain.WebhookAck {
	var (
		status domain.WebhookEventStatus
		msg    string
	)
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		status, msg, err = r.dispatch(ctx, tx, event)
		if err != nil {
			return err
		}
		return r.repos.Events.MarkDone(ctx, tx, row.ID, status, msg)
	})
	if err != nil {
		failed, ack := r.failureOutcome(event, err)
		var merr error
		if failed == domain.WebhookFailed {
			merr = r.repos.Events.MarkFailed(ctx, r.pool, row.ID, err.Error())
		} else {
			merr = r.repos.Events.MarkDone(ctx, r.pool, row.ID, failed, ack.Message)
		}
		if merr != nil {
			r.logger.Error("failed to record event outcome", "event_id", event.ID, "error", merr)
		}
		r.metrics.WebhookEvent(event.Type, string(failed))
		return ack
	}

	r.metrics.WebhookEvent(event.Type, string(status))
	r.logger.Info("webhook event applied", "event_id", event.ID, "type", event.Type, "status", status, "detail", msg)
	return &domain.WebhookAck{Status: string(status), Message: msg}
}

func (r *Reconciler) dispatch(ctx context.Context, tx pgx.Tx, event *provider.Event) (domain.WebhookEventStatus, string, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs provider.CheckoutSession
		if err := event.Decode(&cs); err != nil {
			return "", "", err
		}
		if cs.PaymentStatus != "paid" && cs.PaymentStatus != "no_payment_required" {
			return domain.WebhookIgnored, fmt.Sprintf("checkout %s awaiting payment", cs.ID), nil
		}
		switch r.kind(ctx, tx, cs.Metadata, cs.ID, cs.PaymentIntent) {
		case metaTypeRecharge:
			return r.recharges.CompleteCheckout(ctx, tx, &cs)
		case metaTypeReservation:
			return r.reservations.CompleteCheckout(ctx, tx, &cs)
		}
		return "", "", domain.ErrUnmatchedReference("checkout session", cs.ID)

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var cs provider.CheckoutSession
		if err := event.Decode(&cs); err != nil {
			return "", "", err
		}
		switch r.kind(ctx, tx, cs.Metadata, cs.ID, cs.PaymentIntent) {
		case metaTypeRecharge:
			status := domain.RechargeExpired
			if event.Type == "checkout.session.async_payment_failed" {
				status = domain.RechargeFailed
			}
			return r.recharges.Close(ctx, tx, cs.ID, cs.PaymentIntent, cs.Metadata, status)
		case metaTypeReservation:
			if event.Type == "checkout.session.expired" {
				return r.reservations.ExpireCheckout(ctx, tx, &cs)
			}
			return r.failReservation(ctx, tx, &provider.PaymentIntent{ID: cs.PaymentIntent, Metadata: cs.Metadata}, domain.ReservationFailed)
		}
		return "", "", domain.ErrUnmatchedReference("checkout session", cs.ID)

	case "payment_intent.succeeded":
		pi, err := r.track(ctx, tx, event)
		if err != nil {
			return "", "", err
		}
		switch r.kind(ctx, tx, pi.Metadata, "", pi.ID) {
		case metaTypeReservation:
			return r.reservations.SettleIntent(ctx, tx, pi)
		case metaTypeRecharge:
			return r.recharges.SettleIntent(ctx, tx, pi)
		}
		return domain.WebhookProcessed, fmt.Sprintf("payment intent %s tracked", pi.ID), nil

	case "payment_intent.payment_failed", "payment_intent.canceled":
		pi, err := r.track(ctx, tx, event)
		if err != nil {
			return "", "", err
		}
		canceled := event.Type == "payment_intent.canceled"
		switch r.kind(ctx, tx, pi.Metadata, "", pi.ID) {
		case metaTypeReservation:
			status := domain.ReservationFailed
			if canceled {
				status = domain.ReservationCanceled
			}
			return r.failReservation(ctx, tx, pi, status)
		case metaTypeRecharge:
			status := domain.RechargeFailed
			if canceled {
				status = domain.RechargeCanceled
			}
			return r.recharges.Close(ctx, tx, "", pi.ID, pi.Metadata, status)
		}
		return domain.WebhookProcessed, fmt.Sprintf("payment intent %s %s: %s", pi.ID, pi.Status, pi.FailureMessage()), nil

	case "payment_intent.amount_capturable_updated":
		pi, err := r.track(ctx, tx, event)
		if err != nil {
			return "", "", err
		}
		if r.kind(ctx, tx, pi.Metadata, "", pi.ID) == metaTypeReservation {
			return r.reservations.CaptureAuthorized(ctx, tx, pi)
		}
		return domain.WebhookProcessed, fmt.Sprintf("payment intent %s %s", pi.ID, pi.Status), nil

	case "payment_intent.created", "payment_intent.processing", "payment_intent.requires_action":
		pi, err := r.track(ctx, tx, event)
		if err != nil {
			return "", "", err
		}
		return domain.WebhookProcessed, fmt.Sprintf("payment intent %s %s", pi.ID, pi.Status), nil

	case "payout.created", "payout.updated", "payout.paid", "payout.failed", "payout.canceled":
		var po provider.Payout
		if err := event.Decode(&po); err != nil {
			return "", "", err
		}
		return r.payouts.ReconcileEvent(ctx, tx, &po)

	case "customer.created", "customer.updated":
		var c provider.Customer
		if err := event.Decode(&c); err != nil {
			return "", "", err
		}
		return r.linkCustomer(ctx, tx, &c)

	case "account.updated":
		var acct provider.Account
		if err := event.Decode(&acct); err != nil {
			return "", "", err
		}
		if err := r.repos.ConnectedAccounts.Upsert(ctx, tx, connectedAccount(&acct, nil)); err != nil {
			return "", "", fmt.Errorf("upsert connected account: %w", err)
		}
		return domain.WebhookProcessed, fmt.Sprintf("account %s payouts_enabled=%t", acct.ID, acct.PayoutsEnabled), nil
	}
	return domain.WebhookIgnored, fmt.Sprintf("unhandled event type %s", event.Type), nil
}

// linkCustomer records a provider customer on the user named by its
// user_id metadata, or else by its email. An existing link is never replaced.
func (r *Reconciler) linkCustomer(ctx context.Context, tx pgx.Tx, c *provider.Customer) (domain.WebhookEventStatus, string, error) {
	var (
		user *domain.User
		err  error
	)
	if id, ok := metaUUID(c.Metadata, MetaUserID); ok {
		user, err = r.repos.Users.FindByID(ctx, tx, id)
	} else if c.Email != "" {
		user, err = r.repos.Users.FindByEmail(ctx, tx, c.Email)
	}
	if err != nil {
		return "", "", fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return "", "", domain.ErrUnmatchedReference("user", c.ID)
	}

	switch current := deref(user.StripeCustomerID); current {
	case c.ID:
		return domain.WebhookProcessed, fmt.Sprintf("customer %s already linked to user %s", c.ID, user.ID), nil
	case "":
	default:
		return domain.WebhookIgnored, fmt.Sprintf("user %s already linked to customer %s", user.ID, current), nil
	}

	linked, err := r.repos.Users.SetStripeCustomerID(ctx, tx, user.ID, c.ID)
	if err != nil {
		return "", "", err
	}
	if !linked {
		return domain.WebhookIgnored, fmt.Sprintf("customer %s is linked to another user", c.ID), nil
	}
	r.logger.Info("provider customer linked", "customer_id", c.ID, "user_id", user.ID)
	return domain.WebhookProcessed, fmt.Sprintf("customer %s linked to user %s", c.ID, user.ID), nil
}

func (r *Reconciler) failReservation(ctx context.Context, tx pgx.Tx, pi *provider.PaymentIntent, status domain.ReservationStatus) (domain.WebhookEventStatus, string, error) {
	res, err := r.reservations.FailIntent(ctx, tx, pi, status)
	switch {
	case domain.HasCode(err, domain.CodeTerminalState), domain.HasCode(err, domain.CodeInvalidTransition):
		return domain.WebhookIgnored, fmt.Sprintf("reservation %s already %s", res.ID, res.Status), nil
	case err != nil:
		return "", "", err
	case res == nil:
		return "", "", domain.ErrUnmatchedReference("reservation", pi.ID)
	}
	return domain.WebhookProcessed, fmt.Sprintf("reservation %s %s", res.ID, res.Status), nil
}

// track mirrors the event's payment intent locally.
func (r *Reconciler) track(ctx context.Context, tx pgx.Tx, event *provider.Event) (*provider.PaymentIntent, error) {
	var pi provider.PaymentIntent
	if err := event.Decode(&pi); err != nil {
		return nil, err
	}
	err := r.repos.PaymentIntents.Upsert(ctx, tx, &domain.PaymentIntent{
		ID:         pi.ID,
		Amount:     pi.Amount,
		Currency:   domain.NormalizeCurrency(pi.Currency),
		Status:     pi.Status,
		CustomerID: strPtr(pi.Customer),
		Metadata:   pi.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert payment intent: %w", err)
	}
	return &pi, nil
}

// kind tells whether a provider payment belongs to a recharge or a
// reservation, from its metadata or from the local references.
func (r *Reconciler) kind(ctx context.Context, tx pgx.Tx, meta map[string]string, sessionID, intentID string) string {
	switch meta[MetaType] {
	case metaTypeRecharge, metaTypeReservation:
		return meta[MetaType]
	}
	if sessionID != "" {
		if rc, err := r.repos.Recharges.FindBySessionID(ctx, tx, sessionID); err == nil && rc != nil {
			return metaTypeRecharge
		}
		if res, err := r.repos.Reservations.FindBySessionID(ctx, tx, sessionID); err == nil && res != nil {
			return metaTypeReservation
		}
	}
	if intentID != "" {
		if rc, err := r.repos.Recharges.FindByIntentID(ctx, tx, intentID); err == nil && rc != nil {
			return metaTypeRecharge
		}
		if res, err := r.repos.Reservations.FindByIntentID(ctx, tx, intentID); err == nil && res != nil {
			return metaTypeReservation
		}
	}
	return ""
}

// intentRef extracts the payment intent an event refers to, if any.
func intentRef(event *provider.Event) string {
	var ref struct {
		ID            string `json:"id"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := event.Decode(&ref); err != nil {
		return ""
	}
	if strings.HasPrefix(event.Type, "payment_intent.") {
		return ref.ID
	}
	return ref.PaymentIntent
}
