package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type reservationRepo struct{}

// NewReservationRepository returns a pgx-backed ReservationRepository.
func NewReservationRepository() ReservationRepository {
	return &reservationRepo{}
}

const reservationColumns = `r.id, r.trip_id, r.passenger_id, t.driver_id, r.amount, r.currency, r.status,
	r.seat_held, r.checkout_session_id, r.payment_intent_id, r.created_at, r.updated_at`

const reservationFrom = ` FROM reservations r JOIN trips t ON t.id = r.trip_id `

func (r *reservationRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Reservation, error) {
	return scanReservation(db.QueryRow(ctx, `SELECT `+reservationColumns+reservationFrom+`WHERE r.id = $1`, id))
}

func (r *reservationRepo) LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Reservation, error) {
	return scanReservation(db.QueryRow(ctx,
		`SELECT `+reservationColumns+reservationFrom+`WHERE r.id = $1 FOR UPDATE OF r`, id))
}

func (r *reservationRepo) FindBySessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Reservation, error) {
	return scanReservation(db.QueryRow(ctx,
		`SELECT `+reservationColumns+reservationFrom+`WHERE r.checkout_session_id = $1`, sessionID))
}

func (r *reservationRepo) FindByIntentID(ctx context.Context, db DBTX, intentID string) (*domain.Reservation, error) {
	return scanReservation(db.QueryRow(ctx,
		`SELECT `+reservationColumns+reservationFrom+`WHERE r.payment_intent_id = $1`, intentID))
}

func (r *reservationRepo) Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.ReservationUpdate) (*domain.Reservation, error) {
	tag, err := db.Exec(ctx, `
		UPDATE reservations SET
			status = $2,
			seat_held = COALESCE($3, seat_held),
			checkout_session_id = COALESCE($4, checkout_session_id),
			payment_intent_id = COALESCE($5, payment_intent_id),
			updated_at = now()
		WHERE id = $1`,
		id, string(upd.Status), upd.SeatHeld, upd.CheckoutSessionID, upd.PaymentIntentID)
	if err != nil {
		return nil, mapWriteErr("update reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return r.FindByID(ctx, db, id)
}

func (r *reservationRepo) Delete(ctx context.Context, db DBTX, id uuid.UUID) error {
	if _, err := db.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

func (r *reservationRepo) HoldSeat(ctx context.Context, db DBTX, tripID uuid.UUID) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE trips SET available_seats = available_seats - 1
		WHERE id = $1 AND available_seats > 0`, tripID)
	if err != nil {
		return false, fmt.Errorf("hold seat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reservationRepo) ReleaseSeat(ctx context.Context, db DBTX, tripID uuid.UUID) error {
	if _, err := db.Exec(ctx, `UPDATE trips SET available_seats = available_seats + 1 WHERE id = $1`, tripID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(
		&res.ID, &res.TripID, &res.PassengerID, &res.DriverID, money(&res.Amount), &res.Currency,
		&res.Status, &res.SeatHeld, &res.CheckoutSessionID, &res.PaymentIntentID,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return &res, nil
}
