package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"unievent-ticketing/internal/database/migrations"
	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/tickets/db"
)

// MigrationsDir is the repository's SQL migrations directory.
func MigrationsDir(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to locate dbtest source file")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}

// PostgresDSN starts a throwaway Postgres container and returns its DSN.
// The container is terminated when the test ends.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ticketing",
				"POSTGRES_PASSWORD": "ticketing",
				"POSTGRES_DB":       "ticketing",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to read container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to read container port: %v", err)
	}
	return fmt.Sprintf("postgres://ticketing:ticketing@%s:%s/ticketing?sslmode=disable", host, port.Port())
}

// Postgres returns a store on a migrated Postgres container. Unlike New,
// the pool holds maxConns connections so transactions really overlap.
func Postgres(t testing.TB, maxConns int) *db.DB {
	t.Helper()
	dsn := PostgresDSN(t)

	migrateDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to open migration connection: %v", err)
	}
	runner := migrations.NewRunner(migrateDB, migrations.MigrateOptions{MigrationsDir: MigrationsDir(t)}, logger.Discard())
	if err := runner.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := runner.Close(); err != nil {
		t.Fatalf("Failed to close migrator: %v", err)
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	sqldb.SetMaxOpenConns(maxConns)
	sqldb.SetMaxIdleConns(maxConns)

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })
	return db.New(bunDB, 10)
}
