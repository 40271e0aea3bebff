package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/booking-scheduler/internal/booking"
)

type CreateBookingRequest struct {
	LeadID         string          `json:"lead_id" validate:"required,uuid"`
	AssignedUserID string          `json:"assigned_user_id" validate:"required,uuid"`
	BookingType    string          `json:"booking_type"`
	BookingSource  string          `json:"booking_source"`
	ScheduledAt    string          `json:"scheduled_at" validate:"required"`
	Timezone       string          `json:"timezone"`
	Notes          *string         `json:"notes"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedBy      string          `json:"created_by" validate:"required,uuid"`
}

type FailBookingRequest struct {
	Status string `json:"status" validate:"required"`
}

type BookingResponse struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	LeadID         uuid.UUID       `json:"lead_id"`
	AssignedUserID uuid.UUID       `json:"assigned_user_id"`
	BookingType    string          `json:"booking_type,omitempty"`
	BookingSource  string          `json:"booking_source,omitempty"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	BufferUntil    time.Time       `json:"buffer_until"`
	Timezone       string          `json:"timezone,omitempty"`
	Status         string          `json:"status"`
	Notes          *string         `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedBy      uuid.UUID       `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type BlockedRangeResponse struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	BufferUntil time.Time `json:"buffer_until"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		TenantID:       b.TenantID,
		LeadID:         b.LeadID,
		AssignedUserID: b.AssignedUserID,
		BookingType:    b.BookingType,
		BookingSource:  b.BookingSource,
		ScheduledAt:    b.ScheduledAt,
		BufferUntil:    b.BufferUntil,
		Timezone:       b.Timezone,
		Status:         string(b.Status),
		Notes:          b.Notes,
		Metadata:       b.Metadata,
		CreatedBy:      b.CreatedBy,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toBookingResponses(bs []booking.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bs))
	for i := range bs {
		out = append(out, toBookingResponse(&bs[i]))
	}
	return out
}
