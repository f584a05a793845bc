package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the projection tables. Amounts are NUMERIC for exact
// decimal precision; events are append-only.
const Schema = `
CREATE TABLE IF NOT EXISTS agreements (
	id                  BIGINT PRIMARY KEY,
	manager             TEXT NOT NULL,
	base_coin           TEXT NOT NULL,
	target_return_rate  INTEGER NOT NULL,
	max_collateral_rate INTEGER NOT NULL,
	collat_amount       NUMERIC NOT NULL,
	free_collat_amount  NUMERIC NOT NULL,
	committed_capital   NUMERIC NOT NULL,
	open_period_ns      BIGINT NOT NULL,
	active_period_ns    BIGINT NOT NULL,
	publish_timestamp   TIMESTAMPTZ,
	status              TEXT NOT NULL,
	closed              BOOLEAN NOT NULL DEFAULT FALSE,
	settled_capital     NUMERIC NOT NULL DEFAULT 0,
	collateral_drawn    NUMERIC NOT NULL DEFAULT 0,
	manager_withdrawn   NUMERIC NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mandates (
	id                   BIGINT PRIMARY KEY,
	agreement_id         BIGINT NOT NULL REFERENCES agreements(id),
	investor             TEXT NOT NULL,
	capital_amount       NUMERIC NOT NULL,
	allocated_collateral NUMERIC NOT NULL,
	min_collat_rate      INTEGER NOT NULL,
	settled              BOOLEAN NOT NULL DEFAULT FALSE,
	payout               NUMERIC NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mandates_agreement ON mandates(agreement_id);

CREATE TABLE IF NOT EXISTS events (
	seq          BIGSERIAL PRIMARY KEY,
	id           UUID NOT NULL UNIQUE,
	type         TEXT NOT NULL,
	agreement_id BIGINT NOT NULL,
	caller       TEXT NOT NULL,
	payload      JSONB NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_agreement ON events(agreement_id, seq);
`

// Migrate applies Schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
