// Package testinfra hosts a throwaway Postgres for repository tests.
package testinfra

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var Pool *pgxpool.Pool

func init() {
	Pool = SetupDB()
}

func SetupDB() *pgxpool.Pool {

	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:17.2-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	if err != nil {
		log.Panicf("start postgres: %v", err)
	}

	pgHostPort, err := pgC.Endpoint(ctx, "")
	if err != nil {
		log.Panicf("postgres endpoint: %v", err)
	}
	pgDSN := fmt.Sprintf("postgres://postgres:password@%s/testdb?sslmode=disable", pgHostPort)

	pool, err := pgxpool.New(ctx, pgDSN)
	if err != nil {
		log.Panicf("pgxpool connect: %v", err)
	}

	ok := false
	for i := 0; i < 20; i++ {
		slog.Info("ping db", "try", i)
		ctxPing, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			ok = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ok {
		log.Panic("db did not respond after 20 attempts")
	}

	_, err = pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS forge;
		CREATE TABLE IF NOT EXISTS forge.sites (
			id              BIGSERIAL PRIMARY KEY,
			domain          VARCHAR(255) UNIQUE,
			status          VARCHAR(32) NOT NULL,
			status_message  TEXT NOT NULL DEFAULT '',
			error_message   TEXT NOT NULL DEFAULT '',
			server_id       BIGINT,
			server_ip       VARCHAR(45) NOT NULL DEFAULT '',
			ssh_user        VARCHAR(64) NOT NULL DEFAULT '',
			ssh_key_pem     TEXT NOT NULL DEFAULT '',
			ssh_key_id      BIGINT,
			bundle_url      TEXT NOT NULL DEFAULT '',
			bundle_size     BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS forge.activity (
			id          BIGSERIAL PRIMARY KEY,
			site_id     BIGINT NOT NULL REFERENCES forge.sites (id) ON DELETE CASCADE,
			action      VARCHAR(64) NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS forge.image_versions (
			id            BIGSERIAL PRIMARY KEY,
			snapshot_id   BIGINT NOT NULL,
			name          VARCHAR(128) NOT NULL,
			verify_output TEXT NOT NULL DEFAULT '',
			baked_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			active        BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE UNIQUE INDEX IF NOT EXISTS image_versions_active_idx
			ON forge.image_versions (active) WHERE active;
		CREATE TABLE IF NOT EXISTS forge.tasks (
			id          UUID PRIMARY KEY,
			type        VARCHAR(32) NOT NULL,
			site_id     BIGINT REFERENCES forge.sites (id) ON DELETE CASCADE,
			status      VARCHAR(16) NOT NULL,
			payload     JSONB NOT NULL DEFAULT '{}',
			error       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at  TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS tasks_pending_idx
			ON forge.tasks (created_at) WHERE status = 'Pending';
		CREATE TABLE IF NOT EXISTS forge.site_leases (
			site_id    BIGINT PRIMARY KEY REFERENCES forge.sites (id) ON DELETE CASCADE,
			owner      VARCHAR(128) NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		log.Panicf("create tables: %v", err)
	}

	return pool
}
