package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_RollbackRestoresState(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	device := &domain.GPSDevice{OSBuildID: "build-1", Status: domain.GPSDeviceStatusAvailable}
	require.NoError(t, s.GPS().Create(ctx, device))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		require.NoError(t, r.GPS().Claim(ctx, device.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GPS().GetByID(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GPSDeviceStatusAvailable, got.Status)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		return r.GPS().Claim(ctx, device.ID)
	}))
	assert.ErrorIs(t, s.GPS().Claim(ctx, device.ID), repository.ErrDeviceUnavailable)
}

func TestBookingRepo_DuplicateAndVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	b := &domain.Booking{RenterID: 1, CarID: 2, Status: domain.BookingStatusPending, StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, s.Bookings().Create(ctx, b))
	assert.Equal(t, int32(1), b.Version)

	dup := &domain.Booking{RenterID: 1, CarID: 2, Status: domain.BookingStatusPending, StartTime: start, EndTime: start.Add(2 * time.Hour)}
	assert.ErrorIs(t, s.Bookings().Create(ctx, dup), repository.ErrDuplicate)

	stale := *b
	b.Status = domain.BookingStatusApproved
	require.NoError(t, s.Bookings().Update(ctx, b))
	assert.Equal(t, int32(2), b.Version)
	assert.ErrorIs(t, s.Bookings().Update(ctx, &stale), repository.ErrStaleVersion)
}

func TestBookingRepo_ListBlockingByCar(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	active := &domain.Booking{RenterID: 1, CarID: 2, Status: domain.BookingStatusApproved, StartTime: start, EndTime: start.Add(24 * time.Hour)}
	cancelled := &domain.Booking{RenterID: 3, CarID: 2, Status: domain.BookingStatusCancelled, StartTime: start.Add(time.Hour), EndTime: start.Add(5 * time.Hour)}
	otherCar := &domain.Booking{RenterID: 1, CarID: 9, Status: domain.BookingStatusApproved, StartTime: start, EndTime: start.Add(24 * time.Hour)}
	for _, b := range []*domain.Booking{active, cancelled, otherCar} {
		require.NoError(t, s.Bookings().Create(ctx, b))
	}

	got, err := s.Bookings().ListBlockingByCar(ctx, 2, start.Add(2*time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	got, err = s.Bookings().ListBlockingByCar(ctx, 2, start.Add(24*time.Hour), start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJobRepo_ClaimDue(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	due := &domain.ScheduledJob{Kind: domain.JobKindInspectionExpiry, EntityID: 1, RunAt: now.Add(-time.Minute)}
	later := &domain.ScheduledJob{Kind: domain.JobKindInspectionExpiry, EntityID: 2, RunAt: now.Add(time.Hour)}
	require.NoError(t, s.Jobs().Enqueue(ctx, due))
	require.NoError(t, s.Jobs().Enqueue(ctx, later))

	claimed, err := s.Jobs().ClaimDue(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, int32(1), claimed[0].Attempts)

	again, err := s.Jobs().ClaimDue(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.Jobs().MarkDone(ctx, due.ID, now))
	jobs := s.ScheduledJobs()
	assert.Equal(t, domain.JobStatusDone, jobs[0].Status)
	assert.Equal(t, domain.JobStatusPending, jobs[1].Status)
}

func TestJobRepo_ClaimDueReclaimsStaleRunningJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	job := &domain.ScheduledJob{Kind: domain.JobKindExtensionPaymentTimeout, EntityID: 1, RunAt: now, CreatedAt: now}
	require.NoError(t, s.Jobs().Enqueue(ctx, job))
	claimed, err := s.Jobs().ClaimDue(ctx, now, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The runner never reported back; the lease has not run out yet.
	later := now.Add(time.Minute)
	none, err := s.Jobs().ClaimDue(ctx, later, later.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	later = now.Add(24 * time.Hour)
	reclaimed, err := s.Jobs().ClaimDue(ctx, later, later.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, job.ID, reclaimed[0].ID)
	assert.Equal(t, int32(2), reclaimed[0].Attempts)
	assert.Equal(t, domain.JobStatusRunning, reclaimed[0].Status)
	assert.True(t, later.Equal(reclaimed[0].UpdatedAt))
}

func TestTripRepo_LatestAndList(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Trips().GetLatest(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	for _, d := range []float64{0, 10, 25} {
		require.NoError(t, s.Trips().Create(ctx, &domain.TripTracking{BookingID: 1, CumulativeDistance: d}))
	}
	require.NoError(t, s.Trips().Create(ctx, &domain.TripTracking{BookingID: 2, CumulativeDistance: 99}))

	latest, err := s.Trips().GetLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 25.0, latest.CumulativeDistance)

	all, err := s.Trips().ListByBooking(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
