//go:build integration

// Package storagetest starts a disposable PostgreSQL container with the
// schema applied, for integration tests.
package storagetest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/storage"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres is a running, migrated database container.
type Postgres struct {
	DSN       string
	DB        *storage.DB
	container testcontainers.Container
}

// Start launches the container, applies the migrations and opens a pool.
func Start(ctx context.Context) (*Postgres, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	pg := &Postgres{container: container}
	if err := pg.init(ctx); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return pg, nil
}

func (pg *Postgres) init(ctx context.Context) error {
	host, err := pg.container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pg.container.MappedPort(ctx, "5432")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	pg.DSN = fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())

	if err := storage.Migrate(pg.DSN, zerolog.Nop()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pg.DB, err = storage.Open(ctx, config.DatabaseConfig{URL: pg.DSN, PoolMin: 2, PoolMax: 20, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	return nil
}

// Close closes the pool and terminates the container.
func (pg *Postgres) Close(ctx context.Context) error {
	if pg.DB != nil {
		pg.DB.Close()
	}
	return pg.container.Terminate(ctx)
}
