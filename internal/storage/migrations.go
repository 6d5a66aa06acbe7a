package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema creates the canvas, cooldown, subscriber and replay checkpoint tables.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS pixels (
		seq        BIGSERIAL PRIMARY KEY,
		id         UUID NOT NULL,
		x          INTEGER NOT NULL,
		y          INTEGER NOT NULL,
		color      TEXT NOT NULL,
		link       TEXT,
		owner_id   TEXT NOT NULL,
		owner_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

		CONSTRAINT uq_pixels_position UNIQUE (x, y),
		CONSTRAINT uq_pixels_id UNIQUE (id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pixels_owner ON pixels (owner_id)`,
	`CREATE TABLE IF NOT EXISTS user_cooldowns (
		user_id        TEXT PRIMARY KEY,
		last_placement TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		endpoint   TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS broadcast_checkpoints (
		sink       TEXT PRIMARY KEY,
		last_seq   BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// RunMigrations creates all tables the service needs. Safe to run repeatedly.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for i, ddl := range postgresSchema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
