package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dealdesk/booking-scheduler/internal/booking"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		leadID, _ := uuid.Parse(req.LeadID)
		userID, _ := uuid.Parse(req.AssignedUserID)
		createdBy, _ := uuid.Parse(req.CreatedBy)

		b, err := svc.CreateBooking(r.Context(), booking.CreateBookingInput{
			TenantID:       TenantFromContext(r.Context()),
			LeadID:         leadID,
			AssignedUserID: userID,
			BookingType:    req.BookingType,
			BookingSource:  req.BookingSource,
			ScheduledAt:    req.ScheduledAt,
			Timezone:       req.Timezone,
			Notes:          req.Notes,
			Metadata:       req.Metadata,
			CreatedBy:      createdBy,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), TenantFromContext(r.Context()), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func completeBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		b, err := svc.MarkCompleted(r.Context(), TenantFromContext(r.Context()), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func failBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req FailBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		b, err := svc.MarkFailed(r.Context(), TenantFromContext(r.Context()), id, req.Status)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func listBookingsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, ok := parseRangeParams(w, r, "from", "to")
		if !ok {
			return
		}

		bs, err := svc.ListInRange(r.Context(), TenantFromContext(r.Context()), from, to)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponses(bs))
	}
}

func listByCounsellorHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		bs, err := svc.ListByCounsellor(r.Context(), TenantFromContext(r.Context()), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponses(bs))
	}
}

func listByLeadHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		bs, err := svc.ListByLead(r.Context(), TenantFromContext(r.Context()), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponses(bs))
	}
}

func blockedSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		dayStart, dayEnd, ok := parseRangeParams(w, r, "day_start", "day_end")
		if !ok {
			return
		}

		ranges, err := svc.BlockedSlots(r.Context(), TenantFromContext(r.Context()), id, dayStart, dayEnd)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]BlockedRangeResponse, 0, len(ranges))
		for _, br := range ranges {
			out = append(out, BlockedRangeResponse{ScheduledAt: br.ScheduledAt, BufferUntil: br.BufferUntil})
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		dayStart, dayEnd, ok := parseRangeParams(w, r, "day_start", "day_end")
		if !ok {
			return
		}

		slotMinutes := 0
		if raw := r.URL.Query().Get("slot_minutes"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_slot_minutes", "slot_minutes must be a non-negative integer")
				return
			}
			slotMinutes = n
		}

		slots, err := svc.Availability(r.Context(), booking.AvailabilityQuery{
			TenantID:    TenantFromContext(r.Context()),
			UserID:      id,
			DayStart:    dayStart,
			DayEnd:      dayEnd,
			SlotMinutes: slotMinutes,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{Start: s.Start, End: s.End})
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseRangeParams(w http.ResponseWriter, r *http.Request, startName, endName string) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get(startName))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+startName, startName+" must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}

	end, err := time.Parse(time.RFC3339, q.Get(endName))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+endName, endName+" must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}

	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "invalid_range", endName+" must be after "+startName)
		return time.Time{}, time.Time{}, false
	}

	return start, end, true
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrMissingTenant):
		writeError(w, http.StatusBadRequest, "missing_tenant", "tenant header is required")
	case errors.Is(err, booking.ErrInvalidTimestamp):
		writeError(w, http.StatusBadRequest, "invalid_timestamp", err.Error())
	case errors.Is(err, booking.ErrInvalidFailureStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusBadRequest, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "calendar is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrCounsellorNotFound):
		writeError(w, http.StatusNotFound, "counsellor_not_found", err.Error())
	case errors.Is(err, booking.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
