package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrCounsellorNotFound = errors.New("counsellor not found")
	ErrLeadNotFound       = errors.New("lead not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetCounsellorByID(ctx context.Context, tenantID, id uuid.UUID) (*Counsellor, error)
	GetLeadByID(ctx context.Context, tenantID, id uuid.UUID) (*Lead, error)

	// For conflict checks: non-deleted, occupying-status bookings for the
	// counsellor whose [scheduled_at, buffer_until) overlaps [from, until).
	FindOverlapping(ctx context.Context, tenantID, userID uuid.UUID, from, until time.Time) ([]Booking, error)
	GetBookingByID(ctx context.Context, tenantID, id uuid.UUID) (*Booking, error)

	// Creation and transitions
	Insert(ctx context.Context, b Booking) (*Booking, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) (*Booking, error)
	UpdateStatusReleaseBuffer(ctx context.Context, tenantID, id uuid.UUID, status Status, releaseAt time.Time) (*Booking, error)

	// Read paths
	ListByCounsellor(ctx context.Context, tenantID, userID uuid.UUID) ([]Booking, error)
	ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]Booking, error)
	ListInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Booking, error)
	BlockedRanges(ctx context.Context, tenantID, userID uuid.UUID, dayStart, dayEnd time.Time) ([]BlockedRange, error)

	// Sweep worker
	MarkMissedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
