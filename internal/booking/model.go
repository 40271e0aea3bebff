package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusMissed     Status = "missed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Occupying reports whether a booking in this status still blocks the
// counsellor's calendar for conflict purposes.
func (s Status) Occupying() bool {
	return s == StatusScheduled || s == StatusInProgress
}

// Terminal reports whether this status is a failure end state that releases
// the calendar immediately.
func (s Status) Terminal() bool {
	return s == StatusMissed || s == StatusFailed || s == StatusCancelled
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusScheduled, StatusInProgress, StatusCompleted,
		StatusMissed, StatusFailed, StatusCancelled:
		return Status(raw), true
	}
	return "", false
}

type Booking struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	LeadID         uuid.UUID
	AssignedUserID uuid.UUID
	BookingType    string
	BookingSource  string
	ScheduledAt    time.Time
	BufferUntil    time.Time
	Timezone       string
	Status         Status
	Notes          *string
	Metadata       []byte
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsDeleted      bool
}

// BlockedRange is a stored booking's [ScheduledAt, BufferUntil) window as
// seen by the availability query. Half-open on the right.
type BlockedRange struct {
	ScheduledAt time.Time
	BufferUntil time.Time
}

// Slot is a free candidate interval of fixed duration. Derived, never stored.
type Slot struct {
	Start time.Time
	End   time.Time
}

type Tenant struct {
	ID         uuid.UUID
	Name       string
	SchemaName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Counsellor struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Lead struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
