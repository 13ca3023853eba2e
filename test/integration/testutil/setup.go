//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/carpoolhub/platform/internal/app"
	"github.com/carpoolhub/platform/internal/auth"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TestJWTSecret           = "integration-test-secret"
	TestStripeWebhookSecret = "whsec_test_integration_secret"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Pool     *pgxpool.Pool
	Repos    repository.Repositories
	Services *app.Services
	JWTMgr   *auth.JWTManager
	Platform uuid.UUID
	t        *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	poolOnce.Do(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if err := infra.RunMigrations(dsn, logger); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv creates a test environment with an httptest.Server backed by the
// real router and the test database. The provider API points nowhere, so
// only flows that do not call out are exercised.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	env := &TestEnv{Pool: pool, Repos: repository.NewPostgres(), t: t}
	env.CleanAll()
	env.Platform = env.CreateUser("platform@carpoolhub.test")

	cfg := &infra.Config{
		StripeWebhookSecret: TestStripeWebhookSecret,
		StripeAPIBase:       "http://127.0.0.1:1",
		ProviderTimeout:     time.Second,
		CommissionRate:      "0.15",
		PlatformUserID:      env.Platform.String(),
		PayoutMinAmount:     500,
		PayoutMaxAmount:     500_000,
		PayoutDailyMax:      1_000_000,
		PayoutRateLimit:     100,
		PayoutRateWindow:    time.Minute,
		BreakerThreshold:    5,
		BreakerResetAfter:   30 * time.Second,
		SweepStaleAfter:     time.Minute,
		SweepBatchSize:      50,
		EventMaxAttempts:    5,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	svc, err := app.NewServices(app.ServiceDeps{
		Config: cfg,
		Pool:   pool,
		Repos:  env.Repos,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("wire services: %v", err)
	}
	env.Services = svc
	env.JWTMgr = auth.NewJWTManager(TestJWTSecret, time.Hour)

	env.Server = httptest.NewServer(app.NewRouter(app.RouterDeps{
		Services:           svc,
		JWTMgr:             env.JWTMgr,
		Logger:             logger,
		Health:             map[string]infra.Pinger{"postgres": pool},
		CORSAllowedOrigins: "*",
	}))
	t.Cleanup(env.Server.Close)
	return env
}
