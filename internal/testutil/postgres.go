// Package testutil starts a throwaway Postgres with the schema applied.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cuongbtq/jobqueue/migrations"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
)

// NewTestDB starts a Postgres container, runs every migration and returns a
// pool connected to it. The container and pool are released via t.Cleanup.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("jobqueue_test"),
		tcpostgres.WithUsername("jobqueue"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("container endpoint: %v", err)
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		t.Fatalf("split endpoint %q: %v", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}

	cfg := &postgresql.Config{
		Host:         host,
		Port:         port,
		User:         "jobqueue",
		Password:     "testpassword",
		Database:     "jobqueue_test",
		SSLMode:      "disable",
		MaxOpenConns: 20,
		MaxIdleConns: 20,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := postgresql.Migrate(cfg, migrations.FS, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client, err := postgresql.NewClient(cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client.GetDB()
}
