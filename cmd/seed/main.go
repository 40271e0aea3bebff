package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dealdesk/booking-scheduler/internal/db"
	"github.com/dealdesk/booking-scheduler/internal/logging"
)

func main() {
	logging.Setup("dev", "info")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	tenants, err := seedTenants(context.Background(), pool, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("seed tenants")
	}
	if err := seedCounsellors(context.Background(), pool, tenants, 20); err != nil {
		log.Fatal().Err(err).Msg("seed counsellors")
	}
	if err := seedLeads(context.Background(), pool, tenants, 500); err != nil {
		log.Fatal().Err(err).Msg("seed leads")
	}

	log.Info().Msg("seed complete")
}

func seedTenants(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding tenants")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company()
		schema := gofakeit.LetterN(12)

		_, err := tx.Exec(ctx, `
			INSERT INTO tenants (id, name, schema_name, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, "tenant_"+schema)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("tenants seeded")
	return ids, nil
}

// seedCounsellors creates count counsellors per tenant.
func seedCounsellors(ctx context.Context, pool *pgxpool.Pool, tenants []uuid.UUID, count int) error {
	log.Info().Int("per_tenant", count).Msg("seeding counsellors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, tenantID := range tenants {
		for i := 0; i < count; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO counsellors (id, tenant_id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), tenantID, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("counsellors seeded")
	return nil
}

// seedLeads creates count leads per tenant, batched.
func seedLeads(ctx context.Context, pool *pgxpool.Pool, tenants []uuid.UUID, count int) error {
	log.Info().Int("per_tenant", count).Msg("seeding leads")

	const batchSize = 250

	for _, tenantID := range tenants {
		for offset := 0; offset < count; offset += batchSize {
			end := offset + batchSize
			if end > count {
				end = count
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}

			for i := offset; i < end; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO leads (id, tenant_id, name, email, phone, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, now(), now())
				`, uuid.New(), tenantID, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}

			if err := tx.Commit(ctx); err != nil {
				return err
			}
		}

		log.Info().Str("tenant_id", tenantID.String()).Msg("leads seeded")
	}

	return nil
}
