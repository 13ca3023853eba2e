//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a user and returns its id.
func (env *TestEnv) CreateUser(email string) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	if err := env.Pool.QueryRow(ctx,
		"INSERT INTO users (email) VALUES ($1) RETURNING id", email).Scan(&id); err != nil {
		env.t.Fatalf("CreateUser: %v", err)
	}
	return id
}

// CreateTrip inserts a trip driven by driverID.
func (env *TestEnv) CreateTrip(driverID uuid.UUID, seats int, price int64) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	if err := env.Pool.QueryRow(ctx,
		"INSERT INTO trips (driver_id, available_seats, price, currency) VALUES ($1, $2, $3, 'EUR') RETURNING id",
		driverID, seats, price).Scan(&id); err != nil {
		env.t.Fatalf("CreateTrip: %v", err)
	}
	return id
}

// CreateReservation inserts a pending reservation.
func (env *TestEnv) CreateReservation(tripID, passengerID uuid.UUID, amount int64) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	if err := env.Pool.QueryRow(ctx,
		"INSERT INTO reservations (trip_id, passenger_id, amount, currency) VALUES ($1, $2, $3, 'EUR') RETURNING id",
		tripID, passengerID, amount).Scan(&id); err != nil {
		env.t.Fatalf("CreateReservation: %v", err)
	}
	return id
}

// Fund deposits amount into the user's EUR wallet and returns the account.
func (env *TestEnv) Fund(userID uuid.UUID, amount int64) *domain.Account {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var acct *domain.Account
	err := pgx.BeginTxFunc(ctx, env.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		acct, err = env.Services.Engine.EnsureAccount(ctx, tx, userID, "EUR")
		if err != nil {
			return err
		}
		res, err := env.Services.Engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID:   acct.ID,
			Type:        domain.TxDeposit,
			Amount:      amount,
			Description: "test funding",
		})
		if err != nil {
			return err
		}
		acct = res.Account
		return nil
	})
	if err != nil {
		env.t.Fatalf("Fund: %v", err)
	}
	return acct
}

// Token issues a JWT for userID with role.
func (env *TestEnv) Token(userID uuid.UUID, role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(userID, "", role)
	if err != nil {
		env.t.Fatalf("Token: %v", err)
	}
	return token
}

// Request sends a JSON request to the test server.
func (env *TestEnv) Request(method, path, token string, body any) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("Request: encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("Request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		env.t.Fatalf("Request: do: %v", err)
	}
	return resp
}

// Webhook delivers a signed provider event with the given object.
func (env *TestEnv) Webhook(eventID, eventType string, object any) *http.Response {
	env.t.Helper()
	obj, err := json.Marshal(object)
	if err != nil {
		env.t.Fatalf("Webhook: marshal object: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]json.RawMessage{"object": obj},
	})
	if err != nil {
		env.t.Fatalf("Webhook: marshal event: %v", err)
	}
	return env.RawWebhook(payload, provider.SignPayload(payload, TestStripeWebhookSecret, time.Now()))
}

// RawWebhook posts payload with the given signature header.
func (env *TestEnv) RawWebhook(payload []byte, signature string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/api/webhook/stripe", bytes.NewReader(payload))
	if err != nil {
		env.t.Fatalf("RawWebhook: %v", err)
	}
	req.Header.Set("Stripe-Signature", signature)
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		env.t.Fatalf("RawWebhook: do: %v", err)
	}
	return resp
}

// EventID returns a unique provider event id.
func EventID() string {
	return fmt.Sprintf("evt_%s", uuid.NewString()[:12])
}
