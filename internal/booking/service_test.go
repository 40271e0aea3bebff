package booking_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk/booking-scheduler/internal/booking"
	"github.com/dealdesk/booking-scheduler/internal/config"
	redisclient "github.com/dealdesk/booking-scheduler/internal/redis"
)

// fakeRepo mirrors the SQL predicates of PgRepository over an in-memory map.
type fakeRepo struct {
	mu          sync.Mutex
	counsellors map[uuid.UUID]uuid.UUID // id -> tenant
	leads       map[uuid.UUID]uuid.UUID
	bookings    map[uuid.UUID]*booking.Booking
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counsellors: make(map[uuid.UUID]uuid.UUID),
		leads:       make(map[uuid.UUID]uuid.UUID),
		bookings:    make(map[uuid.UUID]*booking.Booking),
	}
}

func (r *fakeRepo) addCounsellor(tenantID uuid.UUID) uuid.UUID {
	id := uuid.New()
	r.counsellors[id] = tenantID
	return id
}

func (r *fakeRepo) addLead(tenantID uuid.UUID) uuid.UUID {
	id := uuid.New()
	r.leads[id] = tenantID
	return id
}

func (r *fakeRepo) GetCounsellorByID(_ context.Context, tenantID, id uuid.UUID) (*booking.Counsellor, error) {
	if r.counsellors[id] != tenantID {
		return nil, booking.ErrCounsellorNotFound
	}
	return &booking.Counsellor{ID: id, TenantID: tenantID}, nil
}

func (r *fakeRepo) GetLeadByID(_ context.Context, tenantID, id uuid.UUID) (*booking.Lead, error) {
	if r.leads[id] != tenantID {
		return nil, booking.ErrLeadNotFound
	}
	return &booking.Lead{ID: id, TenantID: tenantID}, nil
}

func (r *fakeRepo) FindOverlapping(_ context.Context, tenantID, userID uuid.UUID, from, until time.Time) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []booking.Booking
	for _, b := range r.bookings {
		if b.TenantID != tenantID || b.AssignedUserID != userID || b.IsDeleted {
			continue
		}
		blocking := b.Status.Occupying() ||
			(b.Status == booking.StatusCompleted && b.BufferUntil.After(now))
		if !blocking {
			continue
		}
		if b.ScheduledAt.Before(until) && b.BufferUntil.After(from) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *fakeRepo) GetBookingByID(_ context.Context, tenantID, id uuid.UUID) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID || b.IsDeleted {
		return nil, booking.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) Insert(_ context.Context, b booking.Booking) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.bookings[b.ID] = &b

	cp := b
	return &cp, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status booking.Status) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID || b.IsDeleted {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) UpdateStatusReleaseBuffer(_ context.Context, tenantID, id uuid.UUID, status booking.Status, releaseAt time.Time) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID || b.IsDeleted {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = status
	b.BufferUntil = releaseAt
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) ListByCounsellor(_ context.Context, tenantID, userID uuid.UUID) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Booking
	for _, b := range r.bookings {
		if b.TenantID == tenantID && b.AssignedUserID == userID && !b.IsDeleted {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *fakeRepo) ListByLead(_ context.Context, tenantID, leadID uuid.UUID) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Booking
	for _, b := range r.bookings {
		if b.TenantID == tenantID && b.LeadID == leadID && !b.IsDeleted {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListInRange(_ context.Context, tenantID uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Booking
	for _, b := range r.bookings {
		if b.TenantID == tenantID && !b.IsDeleted &&
			b.ScheduledAt.Before(to) && b.BufferUntil.After(from) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *fakeRepo) BlockedRanges(_ context.Context, tenantID, userID uuid.UUID, dayStart, dayEnd time.Time) ([]booking.BlockedRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.BlockedRange
	for _, b := range r.bookings {
		if b.TenantID != tenantID || b.AssignedUserID != userID || b.IsDeleted || !b.Status.Occupying() {
			continue
		}
		if b.ScheduledAt.Before(dayEnd) && b.BufferUntil.After(dayStart) {
			out = append(out, booking.BlockedRange{ScheduledAt: b.ScheduledAt, BufferUntil: b.BufferUntil})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *fakeRepo) MarkMissedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, b := range r.bookings {
		if b.Status == booking.StatusScheduled && !b.IsDeleted && b.BufferUntil.Before(cutoff) {
			b.Status = booking.StatusMissed
			b.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// fakeLocker runs the critical section inline; busy simulates a lock held by
// another request.
type fakeLocker struct {
	busy  bool
	calls int
}

func (l *fakeLocker) WithCalendarLock(ctx context.Context, _, _ uuid.UUID, fn func(ctx context.Context) error) error {
	l.calls++
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func testConfig() config.Config {
	return config.Config{
		CallDuration:    5 * time.Minute,
		BufferDuration:  5 * time.Minute,
		SafetyWindow:    15 * time.Minute,
		DefaultSlotSize: 5 * time.Minute,
	}
}

type fixture struct {
	repo   *fakeRepo
	locker *fakeLocker
	svc    *booking.Service

	tenantID     uuid.UUID
	counsellorID uuid.UUID
	leadID       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	locker := &fakeLocker{}
	tenantID := uuid.New()

	return &fixture{
		repo:         repo,
		locker:       locker,
		svc:          booking.NewService(repo, locker, testConfig()),
		tenantID:     tenantID,
		counsellorID: repo.addCounsellor(tenantID),
		leadID:       repo.addLead(tenantID),
	}
}

func (f *fixture) createAt(t *testing.T, scheduledAt time.Time) (*booking.Booking, error) {
	t.Helper()
	return f.svc.CreateBooking(context.Background(), booking.CreateBookingInput{
		TenantID:       f.tenantID,
		LeadID:         f.leadID,
		AssignedUserID: f.counsellorID,
		BookingType:    "intro_call",
		BookingSource:  "web",
		ScheduledAt:    scheduledAt.Format(time.RFC3339),
		CreatedBy:      f.leadID,
	})
}

func TestCreateBooking_ComputesSafetyBuffer(t *testing.T) {
	f := newFixture(t)
	scheduledAt := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	b, err := f.createAt(t, scheduledAt)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusScheduled, b.Status)
	assert.True(t, b.ScheduledAt.Equal(scheduledAt))
	assert.True(t, b.BufferUntil.Equal(scheduledAt.Add(15*time.Minute)))
}

func TestCreateBooking_MissingTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), booking.CreateBookingInput{
		TenantID:       uuid.Nil,
		LeadID:         f.leadID,
		AssignedUserID: f.counsellorID,
		ScheduledAt:    time.Now().Format(time.RFC3339),
	})

	assert.ErrorIs(t, err, booking.ErrMissingTenant)
	assert.Empty(t, f.repo.bookings)
}

func TestCreateBooking_InvalidTimestamp(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), booking.CreateBookingInput{
		TenantID:       f.tenantID,
		LeadID:         f.leadID,
		AssignedUserID: f.counsellorID,
		ScheduledAt:    "not-a-date",
	})

	assert.ErrorIs(t, err, booking.ErrInvalidTimestamp)
	assert.Empty(t, f.repo.bookings)
}

func TestCreateBooking_ConflictBoundary(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(24 * time.Hour).Truncate(time.Minute)

	first, err := f.createAt(t, base)
	require.NoError(t, err)

	// One second inside the buffer conflicts.
	_, err = f.createAt(t, first.BufferUntil.Add(-time.Second))
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	// Exactly adjacent does not.
	adjacent, err := f.createAt(t, first.BufferUntil)
	require.NoError(t, err)
	assert.True(t, adjacent.ScheduledAt.Equal(first.BufferUntil))
}

func TestCreateBooking_NoOverlapInvariant(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(24 * time.Hour).Truncate(time.Minute)

	// Attempt a burst of creations on a 5-minute grid; the 15-minute buffer
	// means most must be rejected.
	for i := 0; i < 24; i++ {
		_, err := f.createAt(t, base.Add(time.Duration(i)*5*time.Minute))
		if err != nil {
			assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
		}
	}

	all, err := f.svc.ListByCounsellor(context.Background(), f.tenantID, f.counsellorID)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if !a.Status.Occupying() || !b.Status.Occupying() {
				continue
			}
			overlap := a.ScheduledAt.Before(b.BufferUntil) && b.ScheduledAt.Before(a.BufferUntil)
			assert.False(t, overlap, "bookings %s and %s overlap", a.ID, b.ID)
		}
	}
}

func TestCreateBooking_DifferentCounsellorsDoNotContend(t *testing.T) {
	f := newFixture(t)
	other := f.repo.addCounsellor(f.tenantID)
	scheduledAt := time.Now().Add(24 * time.Hour).Truncate(time.Minute)

	_, err := f.createAt(t, scheduledAt)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(context.Background(), booking.CreateBookingInput{
		TenantID:       f.tenantID,
		LeadID:         f.leadID,
		AssignedUserID: other,
		ScheduledAt:    scheduledAt.Format(time.RFC3339),
		CreatedBy:      f.leadID,
	})
	assert.NoError(t, err)
}

func TestCreateBooking_CalendarBusy(t *testing.T) {
	f := newFixture(t)
	f.locker.busy = true

	_, err := f.createAt(t, time.Now().Add(24*time.Hour))

	assert.ErrorIs(t, err, booking.ErrCalendarBusy)
	assert.Empty(t, f.repo.bookings)
}

func TestCreateBooking_UnknownLead(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), booking.CreateBookingInput{
		TenantID:       f.tenantID,
		LeadID:         uuid.New(),
		AssignedUserID: f.counsellorID,
		ScheduledAt:    time.Now().Add(time.Hour).Format(time.RFC3339),
	})

	assert.ErrorIs(t, err, booking.ErrLeadNotFound)
}

func TestMarkFailed_ReleasesBuffer(t *testing.T) {
	f := newFixture(t)
	scheduledAt := time.Now().Add(5 * time.Minute).Truncate(time.Second)

	b, err := f.createAt(t, scheduledAt)
	require.NoError(t, err)
	require.True(t, b.BufferUntil.After(time.Now()))

	failed, err := f.svc.MarkFailed(context.Background(), f.tenantID, b.ID, "cancelled")
	require.NoError(t, err)

	assert.Equal(t, booking.StatusCancelled, failed.Status)
	assert.WithinDuration(t, time.Now(), failed.BufferUntil, 2*time.Second)

	// The slot the cancelled booking held is immediately bookable again.
	_, err = f.createAt(t, scheduledAt)
	assert.NoError(t, err)
}

func TestMarkCompleted_DoesNotReleaseBufferEarly(t *testing.T) {
	f := newFixture(t)
	scheduledAt := time.Now().Truncate(time.Second)

	b, err := f.createAt(t, scheduledAt)
	require.NoError(t, err)

	completed, err := f.svc.MarkCompleted(context.Background(), f.tenantID, b.ID)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusCompleted, completed.Status)
	assert.True(t, completed.BufferUntil.Equal(b.BufferUntil), "buffer must be untouched")

	// A slot inside the still-live buffer window keeps failing.
	_, err = f.createAt(t, scheduledAt.Add(5*time.Minute))
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
}

func TestMarkFailed_RejectsNonFailureStatus(t *testing.T) {
	f := newFixture(t)

	b, err := f.createAt(t, time.Now().Add(time.Hour))
	require.NoError(t, err)

	for _, status := range []string{"done", "completed", "scheduled", ""} {
		_, err := f.svc.MarkFailed(context.Background(), f.tenantID, b.ID, status)
		assert.ErrorIs(t, err, booking.ErrInvalidFailureStatus, "status %q", status)
	}

	got, err := f.svc.GetBooking(context.Background(), f.tenantID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusScheduled, got.Status)
	assert.True(t, got.BufferUntil.Equal(b.BufferUntil))
}

func TestMarkCompleted_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MarkCompleted(context.Background(), f.tenantID, uuid.New())
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestMarkCompleted_WrongTenant(t *testing.T) {
	f := newFixture(t)

	b, err := f.createAt(t, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.MarkCompleted(context.Background(), uuid.New(), b.ID)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestAvailability_ExcludesExactlyTheBookedSlot(t *testing.T) {
	f := newFixture(t)

	dayStart := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	dayEnd := dayStart.Add(2 * time.Hour)

	// Booking at dayStart occupies [dayStart, dayStart+15m): of the four
	// 30-minute candidates only the first intersects it.
	_, err := f.createAt(t, dayStart)
	require.NoError(t, err)

	slots, err := f.svc.Availability(context.Background(), booking.AvailabilityQuery{
		TenantID:    f.tenantID,
		UserID:      f.counsellorID,
		DayStart:    dayStart,
		DayEnd:      dayEnd,
		SlotMinutes: 30,
	})
	require.NoError(t, err)

	require.Len(t, slots, 3)
	assert.True(t, slots[0].Start.Equal(dayStart.Add(30*time.Minute)))
	assert.True(t, slots[1].Start.Equal(dayStart.Add(60*time.Minute)))
	assert.True(t, slots[2].Start.Equal(dayStart.Add(90*time.Minute)))
}

func TestAvailability_DefaultSlotSize(t *testing.T) {
	f := newFixture(t)

	dayStart := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	slots, err := f.svc.Availability(context.Background(), booking.AvailabilityQuery{
		TenantID: f.tenantID,
		UserID:   f.counsellorID,
		DayStart: dayStart,
		DayEnd:   dayStart.Add(time.Hour),
	})
	require.NoError(t, err)

	// One hour on the configured 5-minute default grid.
	assert.Len(t, slots, 12)
}

func TestAvailability_MissingTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Availability(context.Background(), booking.AvailabilityQuery{
		UserID:   f.counsellorID,
		DayStart: time.Now(),
		DayEnd:   time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, booking.ErrMissingTenant)
}

func TestBlockedSlots_OrderedAndScoped(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	second, err := f.createAt(t, base.Add(time.Hour))
	require.NoError(t, err)
	first, err := f.createAt(t, base)
	require.NoError(t, err)

	ranges, err := f.svc.BlockedSlots(context.Background(), f.tenantID, f.counsellorID, base, base.Add(4*time.Hour))
	require.NoError(t, err)

	require.Len(t, ranges, 2)
	assert.True(t, ranges[0].ScheduledAt.Equal(first.ScheduledAt))
	assert.True(t, ranges[1].ScheduledAt.Equal(second.ScheduledAt))
}

func TestSweepMissed(t *testing.T) {
	f := newFixture(t)

	// Insert a stale scheduled booking directly; CreateBooking would be
	// checked against leads/counsellors, which is irrelevant here.
	stale := time.Now().Add(-2 * time.Hour)
	_, err := f.repo.Insert(context.Background(), booking.Booking{
		TenantID:       f.tenantID,
		LeadID:         f.leadID,
		AssignedUserID: f.counsellorID,
		ScheduledAt:    stale,
		BufferUntil:    stale.Add(15 * time.Minute),
		Status:         booking.StatusScheduled,
	})
	require.NoError(t, err)

	fresh, err := f.createAt(t, time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := f.svc.SweepMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.GetBooking(context.Background(), f.tenantID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusScheduled, got.Status)
}
