//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// AssertBalance queries the accounts table and asserts the user's EUR balance.
func AssertBalance(t *testing.T, env *TestEnv, userID uuid.UUID, expected int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var bal int64
	err := env.Pool.QueryRow(ctx,
		"SELECT balance::bigint FROM accounts WHERE user_id = $1 AND currency = 'EUR'", userID).Scan(&bal)
	if err != nil {
		t.Fatalf("AssertBalance: query: %v", err)
	}
	if bal != expected {
		t.Errorf("balance: expected %d, got %d", expected, bal)
	}
}

// CountTransactions returns the number of ledger movements of a user.
func CountTransactions(t *testing.T, env *TestEnv, userID uuid.UUID) int {
	t.Helper()
	return count(t, env, "SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID)
}

// CountOutboxEvents returns the number of outbox events partitioned on a user.
func CountOutboxEvents(t *testing.T, env *TestEnv, userID uuid.UUID) int {
	t.Helper()
	return count(t, env, "SELECT COUNT(*) FROM event_outbox WHERE partition_key = $1", userID.String())
}

func count(t *testing.T, env *TestEnv, query string, arg any) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := env.Pool.QueryRow(ctx, query, arg).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
