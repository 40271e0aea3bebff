package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dealdesk/booking-scheduler/internal/config"
	redisclient "github.com/dealdesk/booking-scheduler/internal/redis"
)

var (
	ErrMissingTenant        = errors.New("tenant context missing")
	ErrInvalidTimestamp     = errors.New("scheduled_at is not a valid timestamp")
	ErrSlotUnavailable      = errors.New("requested slot conflicts with an existing booking")
	ErrInvalidFailureStatus = errors.New("failure status must be missed, failed or cancelled")
	ErrCalendarBusy         = errors.New("calendar is currently being booked, please retry")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
	}
}

type CreateBookingInput struct {
	TenantID       uuid.UUID
	LeadID         uuid.UUID
	AssignedUserID uuid.UUID
	BookingType    string
	BookingSource  string
	ScheduledAt    string // RFC 3339
	Timezone       string
	Notes          *string
	Metadata       []byte
	CreatedBy      uuid.UUID
}

// CreateBooking reserves a counsellor's calendar for one interaction.
//
// The counsellor is considered busy for the full safety window after the
// scheduled start. The conflict check and the insert run under a calendar
// lock keyed by (tenant, counsellor) so that concurrent requests for
// overlapping slots cannot both pass the check; the bookings_no_overlap
// exclusion constraint backstops the same invariant in the database.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*Booking, error) {
	if in.TenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}

	scheduledAt, err := time.Parse(time.RFC3339, in.ScheduledAt)
	if err != nil {
		return nil, ErrInvalidTimestamp
	}
	bufferUntil := scheduledAt.Add(s.cfg.SafetyWindow)

	// Validate references outside the critical section.
	if _, err := s.repo.GetLeadByID(ctx, in.TenantID, in.LeadID); err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load lead: %w", err)
	}
	if _, err := s.repo.GetCounsellorByID(ctx, in.TenantID, in.AssignedUserID); err != nil {
		if errors.Is(err, ErrCounsellorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load counsellor: %w", err)
	}

	var created *Booking

	err = s.locker.WithCalendarLock(ctx, in.TenantID, in.AssignedUserID, func(lockCtx context.Context) error {
		conflicts, err := s.repo.FindOverlapping(lockCtx, in.TenantID, in.AssignedUserID, scheduledAt, bufferUntil)
		if err != nil {
			return fmt.Errorf("check conflicting bookings: %w", err)
		}
		if len(conflicts) > 0 {
			return ErrSlotUnavailable
		}

		b, err := s.repo.Insert(lockCtx, Booking{
			TenantID:       in.TenantID,
			LeadID:         in.LeadID,
			AssignedUserID: in.AssignedUserID,
			BookingType:    in.BookingType,
			BookingSource:  in.BookingSource,
			ScheduledAt:    scheduledAt,
			BufferUntil:    bufferUntil,
			Timezone:       in.Timezone,
			Status:         StatusScheduled,
			Notes:          in.Notes,
			Metadata:       in.Metadata,
			CreatedBy:      in.CreatedBy,
		})
		if err != nil {
			if errors.Is(err, ErrSlotUnavailable) {
				return err
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		created = b
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		return nil, err
	}

	log.Info().
		Str("booking_id", created.ID.String()).
		Str("tenant_id", in.TenantID.String()).
		Str("counsellor_id", in.AssignedUserID.String()).
		Time("scheduled_at", created.ScheduledAt).
		Time("buffer_until", created.BufferUntil).
		Msg("booking created")

	return created, nil
}

// MarkCompleted moves a booking to completed. The buffer is left alone and
// expires on its own schedule.
func (s *Service) MarkCompleted(ctx context.Context, tenantID, id uuid.UUID) (*Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}

	updated, err := s.repo.UpdateStatus(ctx, tenantID, id, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	return updated, nil
}

// MarkFailed moves a booking to one of the failure end states and collapses
// its buffer to now, releasing the counsellor's calendar immediately. A
// completed call keeps its buffer; a missed, failed or cancelled one should
// not go on blocking the slot.
func (s *Service) MarkFailed(ctx context.Context, tenantID, id uuid.UUID, rawStatus string) (*Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}

	status, ok := ParseStatus(rawStatus)
	if !ok || !status.Terminal() {
		return nil, ErrInvalidFailureStatus
	}

	updated, err := s.repo.UpdateStatusReleaseBuffer(ctx, tenantID, id, status, time.Now())
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark %s: %w", status, err)
	}

	log.Info().
		Str("booking_id", id.String()).
		Str("status", string(status)).
		Msg("booking failed, buffer released")

	return updated, nil
}

func (s *Service) GetBooking(ctx context.Context, tenantID, id uuid.UUID) (*Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return s.repo.GetBookingByID(ctx, tenantID, id)
}

func (s *Service) ListByCounsellor(ctx context.Context, tenantID, userID uuid.UUID) ([]Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return s.repo.ListByCounsellor(ctx, tenantID, userID)
}

func (s *Service) ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return s.repo.ListByLead(ctx, tenantID, leadID)
}

func (s *Service) ListInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Booking, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return s.repo.ListInRange(ctx, tenantID, from, to)
}

// BlockedSlots returns the occupied [scheduled_at, buffer_until) windows for
// one counsellor overlapping [dayStart, dayEnd), ascending.
func (s *Service) BlockedSlots(ctx context.Context, tenantID, userID uuid.UUID, dayStart, dayEnd time.Time) ([]BlockedRange, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return s.repo.BlockedRanges(ctx, tenantID, userID, dayStart, dayEnd)
}

// SweepMissed is intended to be called by the worker periodically.
func (s *Service) SweepMissed(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkMissedBefore(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep missed bookings: %w", err)
	}

	if n > 0 {
		log.Info().Int64("count", n).Msg("stale scheduled bookings marked missed")
	}

	return n, nil
}
