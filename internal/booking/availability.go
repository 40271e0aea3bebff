package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AvailabilityQuery struct {
	TenantID    uuid.UUID
	UserID      uuid.UUID
	DayStart    time.Time
	DayEnd      time.Time
	SlotMinutes int
}

// Availability computes the free slots for one counsellor over a day range.
// It is stateless: every call re-derives the grid from the current blocked
// ranges, so a slightly stale answer is corrected the moment a caller
// actually tries to book.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if q.TenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}

	slotSize := time.Duration(q.SlotMinutes) * time.Minute
	if q.SlotMinutes <= 0 {
		slotSize = s.cfg.DefaultSlotSize
	}
	if slotSize <= 0 {
		return nil, fmt.Errorf("slot size must be positive, got %s", slotSize)
	}

	blocked, err := s.repo.BlockedRanges(ctx, q.TenantID, q.UserID, q.DayStart, q.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("load blocked ranges: %w", err)
	}

	return freeSlots(q.DayStart, q.DayEnd, slotSize, blocked), nil
}

// freeSlots walks a uniform grid of slotSize candidates across
// [dayStart, dayEnd) and keeps the ones that touch no blocked range.
// Intervals are half-open, so a slot ending exactly at a booking's start
// (or starting exactly at its buffer_until) is still free. A trailing
// partial period that cannot fit a full slot is never considered.
func freeSlots(dayStart, dayEnd time.Time, slotSize time.Duration, blocked []BlockedRange) []Slot {
	var free []Slot

	for cursor := dayStart; !cursor.Add(slotSize).After(dayEnd); cursor = cursor.Add(slotSize) {
		slotEnd := cursor.Add(slotSize)

		conflict := false
		for _, br := range blocked {
			if cursor.Before(br.BufferUntil) && slotEnd.After(br.ScheduledAt) {
				conflict = true
				break
			}
		}

		if !conflict {
			free = append(free, Slot{Start: cursor, End: slotEnd})
		}
	}

	return free
}
