package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so Migrate can run on every boot. The
// bookings_no_overlap exclusion constraint is the database-level guarantee
// that two occupying bookings for the same counsellor within the same tenant
// can never hold intersecting [scheduled_at, buffer_until) ranges, no matter
// what the application layer does.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	`CREATE TABLE IF NOT EXISTS tenants (
		id           uuid PRIMARY KEY,
		name         text NOT NULL,
		schema_name  text NOT NULL UNIQUE,
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS counsellors (
		id          uuid PRIMARY KEY,
		tenant_id   uuid NOT NULL REFERENCES tenants(id),
		name        text NOT NULL,
		email       text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS leads (
		id          uuid PRIMARY KEY,
		tenant_id   uuid NOT NULL REFERENCES tenants(id),
		name        text NOT NULL,
		email       text,
		phone       text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id                uuid PRIMARY KEY,
		tenant_id         uuid NOT NULL REFERENCES tenants(id),
		lead_id           uuid NOT NULL REFERENCES leads(id),
		assigned_user_id  uuid NOT NULL REFERENCES counsellors(id),
		booking_type      text NOT NULL DEFAULT '',
		booking_source    text NOT NULL DEFAULT '',
		scheduled_at      timestamptz NOT NULL,
		buffer_until      timestamptz NOT NULL,
		timezone          text NOT NULL DEFAULT '',
		status            text NOT NULL DEFAULT 'scheduled',
		notes             text,
		metadata          jsonb,
		created_by        uuid NOT NULL,
		created_at        timestamptz NOT NULL DEFAULT now(),
		updated_at        timestamptz NOT NULL DEFAULT now(),
		is_deleted        boolean NOT NULL DEFAULT FALSE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_calendar
		ON bookings (tenant_id, assigned_user_id, status, scheduled_at)`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_lead
		ON bookings (tenant_id, lead_id)`,

	`DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_constraint WHERE conname = 'bookings_no_overlap'
		) THEN
			ALTER TABLE bookings ADD CONSTRAINT bookings_no_overlap
				EXCLUDE USING gist (
					tenant_id WITH =,
					assigned_user_id WITH =,
					tstzrange(scheduled_at, buffer_until) WITH &&
				)
				WHERE (status IN ('scheduled', 'in_progress') AND NOT is_deleted);
		END IF;
	END $$`,
}

// Migrate applies the schema. Safe to call concurrently with other instances
// starting up; every statement is a no-op once applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
