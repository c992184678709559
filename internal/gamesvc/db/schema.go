package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// schema is applied in order, every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      VARCHAR(40) NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_username UNIQUE (username)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id          BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token       VARCHAR(88) NOT NULL,
		expires     TIMESTAMPTZ NOT NULL,
		invalidated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_session_token UNIQUE (token)
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id)`,
	`CREATE TABLE IF NOT EXISTS games (
		id           BIGSERIAL PRIMARY KEY,
		name         VARCHAR(40) NOT NULL,
		creator_id   BIGINT NOT NULL REFERENCES users(id),
		version      TEXT NOT NULL DEFAULT 'latest',
		tcp_port     INTEGER NOT NULL CHECK (tcp_port BETWEEN 1024 AND 65535),
		udp_port     INTEGER NOT NULL CHECK (udp_port BETWEEN 1024 AND 65535),
		container_id TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_game_name UNIQUE (name),
		CONSTRAINT unique_game_tcp_port UNIQUE (tcp_port),
		CONSTRAINT unique_game_udp_port UNIQUE (udp_port),
		CONSTRAINT distinct_game_ports CHECK (tcp_port <> udp_port)
	)`,
	`CREATE INDEX IF NOT EXISTS games_creator_id_idx ON games (creator_id)`,
}

// Migrate creates the tables the services need.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	log.Infof("schema up to date (%d statements)", len(schema))
	return nil
}
