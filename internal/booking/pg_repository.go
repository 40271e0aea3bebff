package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exclusionViolation is raised by the bookings_no_overlap constraint when a
// concurrent insert slips past the application-level conflict check.
const exclusionViolation = "23P01"

const bookingColumns = `id, tenant_id, lead_id, assigned_user_id, booking_type, booking_source,
		       scheduled_at, buffer_until, timezone, status, notes, metadata,
		       created_by, created_at, updated_at, is_deleted`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var notes *string

	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.LeadID,
		&b.AssignedUserID,
		&b.BookingType,
		&b.BookingSource,
		&b.ScheduledAt,
		&b.BufferUntil,
		&b.Timezone,
		&b.Status,
		&notes,
		&b.Metadata,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Notes = notes
	return &b, nil
}

func scanCounsellor(row pgx.Row) (*Counsellor, error) {
	var c Counsellor
	var email *string

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCounsellorNotFound
		}
		return nil, err
	}

	c.Email = email
	return &c, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	var email, phone *string

	err := row.Scan(
		&l.ID,
		&l.TenantID,
		&l.Name,
		&email,
		&phone,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}

	l.Email = email
	l.Phone = phone
	return &l, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetCounsellorByID(ctx context.Context, tenantID, id uuid.UUID) (*Counsellor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, created_at, updated_at
		FROM counsellors
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanCounsellor(row)
}

func (r *PgRepository) GetLeadByID(ctx context.Context, tenantID, id uuid.UUID) (*Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, phone, created_at, updated_at
		FROM leads
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanLead(row)
}

func (r *PgRepository) GetBookingByID(ctx context.Context, tenantID, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND tenant_id = $2 AND NOT is_deleted
	`, id, tenantID)
	return scanBooking(row)
}

// FindOverlapping backs the creation conflict check. Besides occupying
// bookings it blocks on completed ones whose buffer has not yet lapsed:
// completion leaves the buffer to expire naturally, failure transitions
// collapse it to now.
func (r *PgRepository) FindOverlapping(ctx context.Context, tenantID, userID uuid.UUID, from, until time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1
		  AND assigned_user_id = $2
		  AND (status IN ('scheduled', 'in_progress')
		       OR (status = 'completed' AND buffer_until > now()))
		  AND NOT is_deleted
		  AND scheduled_at < $4
		  AND buffer_until > $3
		ORDER BY scheduled_at
	`, tenantID, userID, from, until)
	if err != nil {
		return nil, err
	}

	return collectBookings(rows)
}

func (r *PgRepository) Insert(ctx context.Context, b Booking) (*Booking, error) {
	id := b.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, tenant_id, lead_id, assigned_user_id, booking_type, booking_source,
		                      scheduled_at, buffer_until, timezone, status, notes, metadata,
		                      created_by, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now(), FALSE)
		RETURNING `+bookingColumns+`
	`, id, b.TenantID, b.LeadID, b.AssignedUserID, b.BookingType, b.BookingSource,
		b.ScheduledAt, b.BufferUntil, b.Timezone, b.Status, b.Notes, b.Metadata, b.CreatedBy)

	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND tenant_id = $2
		  AND NOT is_deleted
		RETURNING `+bookingColumns+`
	`, id, tenantID, status)

	return scanBooking(row)
}

func (r *PgRepository) UpdateStatusReleaseBuffer(ctx context.Context, tenantID, id uuid.UUID, status Status, releaseAt time.Time) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
		    buffer_until = $4,
		    updated_at = now()
		WHERE id = $1
		  AND tenant_id = $2
		  AND NOT is_deleted
		RETURNING `+bookingColumns+`
	`, id, tenantID, status, releaseAt)

	return scanBooking(row)
}

func (r *PgRepository) ListByCounsellor(ctx context.Context, tenantID, userID uuid.UUID) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1 AND assigned_user_id = $2 AND NOT is_deleted
		ORDER BY scheduled_at
	`, tenantID, userID)
	if err != nil {
		return nil, err
	}

	return collectBookings(rows)
}

func (r *PgRepository) ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1 AND lead_id = $2 AND NOT is_deleted
		ORDER BY scheduled_at
	`, tenantID, leadID)
	if err != nil {
		return nil, err
	}

	return collectBookings(rows)
}

func (r *PgRepository) ListInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1
		  AND NOT is_deleted
		  AND scheduled_at < $3
		  AND buffer_until > $2
		ORDER BY scheduled_at
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	return collectBookings(rows)
}

func (r *PgRepository) BlockedRanges(ctx context.Context, tenantID, userID uuid.UUID, dayStart, dayEnd time.Time) ([]BlockedRange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at, buffer_until
		FROM bookings
		WHERE tenant_id = $1
		  AND assigned_user_id = $2
		  AND status IN ('scheduled', 'in_progress')
		  AND NOT is_deleted
		  AND scheduled_at < $4
		  AND buffer_until > $3
		ORDER BY scheduled_at
	`, tenantID, userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedRange
	for rows.Next() {
		var br BlockedRange
		if err := rows.Scan(&br.ScheduledAt, &br.BufferUntil); err != nil {
			return nil, err
		}
		result = append(result, br)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// MarkMissedBefore flips still-scheduled bookings whose buffer lapsed before
// cutoff to missed. The buffer has already expired so the calendar is
// unaffected; this only tidies the lifecycle.
func (r *PgRepository) MarkMissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET status = 'missed',
		    updated_at = now()
		WHERE status = 'scheduled'
		  AND NOT is_deleted
		  AND buffer_until < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark missed: %w", err)
	}

	return tag.RowsAffected(), nil
}
