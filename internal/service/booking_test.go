package service_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBookingService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()

	b := f.bookCar(car)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, int64(200), b.BasePrice)
	assert.Equal(t, int64(20), b.PlatformFee)
	assert.Equal(t, int64(220), b.TotalAmount)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "owner@test.com", "New booking request", mock.Anything)

	bc, err := f.store.Bookings().GetContract(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingContractPending, bc.Status)

	b, err = f.bookings.ApproveBooking(f.ctx, f.owner, b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusApproved, b.Status)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "renter@test.com", "Your booking was approved",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "https://carrent.test/api/v1/payments/token/")
		}))

	b, err = f.bookings.MarkBookingReadyForPickup(f.ctx, f.owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusReadyForPickup, b.Status)
	bc, err = f.store.Bookings().GetContract(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingContractConfirmed, bc.Status)

	// About 5.6 m north of the car.
	b, err = f.telemetry.StartTrip(f.ctx, f.renter, service.LocationRequest{
		BookingID: b.ID, Lat: carPoint.Lat + 0.00005, Lon: carPoint.Lon,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusOngoing, b.Status)

	trips, err := f.bookings.ListTripTrackings(f.ctx, f.renter, b.ID)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Zero(t, trips[0].Distance)
	assert.Zero(t, trips[0].CumulativeDistance)
}

func TestBookingService_CreateBooking(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	t.Run("Overlapping window", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(f.ctx, f.otherRenter, service.CreateBookingRequest{
			CarID: car.ID, StartTime: b.StartTime.Add(time.Hour), EndTime: b.EndTime.Add(time.Hour),
		})
		require.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, apperr.Message(err), "not available")
	})

	t.Run("Same window again", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(f.ctx, f.renter, service.CreateBookingRequest{
			CarID: car.ID, StartTime: b.StartTime, EndTime: b.EndTime,
		})
		require.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, apperr.Message(err), "already exists")
	})

	t.Run("Start in the past", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(f.ctx, f.otherRenter, service.CreateBookingRequest{
			CarID: car.ID, StartTime: f.now.Add(-time.Hour), EndTime: f.now.Add(time.Hour),
		})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("End before start", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(f.ctx, f.otherRenter, service.CreateBookingRequest{
			CarID: car.ID, StartTime: f.now.Add(200 * time.Hour), EndTime: f.now.Add(100 * time.Hour),
		})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("Owner role cannot book", func(t *testing.T) {
		_, err := f.bookings.CreateBooking(f.ctx, f.owner, service.CreateBookingRequest{
			CarID: car.ID, StartTime: f.now.Add(200 * time.Hour), EndTime: f.now.Add(220 * time.Hour),
		})
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("Cancelled booking frees the window", func(t *testing.T) {
		_, err := f.bookings.CancelBooking(f.ctx, f.renter, b.ID)
		require.NoError(t, err)
		other, err := f.bookings.CreateBooking(f.ctx, f.otherRenter, service.CreateBookingRequest{
			CarID: car.ID, StartTime: b.StartTime, EndTime: b.EndTime,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusPending, other.Status)
	})
}

func TestBookingService_NoSkippedTransitions(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	_, err := f.bookings.MarkBookingReadyForPickup(f.ctx, f.owner, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.telemetry.StartTrip(f.ctx, f.renter, service.LocationRequest{BookingID: b.ID, Lat: carPoint.Lat, Lon: carPoint.Lon})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.bookings.CompleteBooking(f.ctx, f.renter, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	assert.Equal(t, domain.BookingStatusPending, f.booking(b.ID).Status)
}

func TestBookingService_ApproveBooking(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	stranger := f.user("Sam Owner", "sam@test.com", domain.RoleOwner)
	_, err := f.bookings.ApproveBooking(f.ctx, stranger, b.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	b, err = f.bookings.ApproveBooking(f.ctx, f.owner, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRejected, b.Status)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "renter@test.com", "Your booking was rejected", mock.Anything)

	bc, err := f.store.Bookings().GetContract(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingContractCancelled, bc.Status)

	_, err = f.bookings.ApproveBooking(f.ctx, f.owner, b.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestBookingService_GetBookingVisibility(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	for _, c := range []service.Caller{f.renter, f.owner, f.admin} {
		got, err := f.bookings.GetBooking(f.ctx, c, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}
	_, err := f.bookings.GetBooking(f.ctx, f.otherRenter, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.bookings.GetBooking(f.ctx, f.technician, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.bookings.GetBooking(f.ctx, f.admin, 9999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBookingService_CancelBooking(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	_, err := f.bookings.CancelBooking(f.ctx, f.otherRenter, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	b, err = f.bookings.CancelBooking(f.ctx, f.renter, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)
	assert.Zero(t, b.RefundAmount)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "owner@test.com", "A booking was cancelled", mock.Anything)

	renter, err := f.store.Users().GetByID(f.ctx, f.renter.UserID, repository.ExcludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, int32(1), renter.CancelledBookings)
	gotCar, err := f.store.Cars().GetByID(f.ctx, car.ID, repository.ExcludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, int32(1), gotCar.CancelledBookings)
	bc, err := f.store.Bookings().GetContract(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingContractCancelled, bc.Status)

	_, err = f.bookings.CancelBooking(f.ctx, f.renter, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestBookingService_RescheduleBeforeStart(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)

	same, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: b.EndTime,
	})
	require.NoError(t, err)
	assert.Equal(t, b.Version, same.Version)

	moved, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime.Add(24 * time.Hour), EndTime: b.EndTime.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, b.StartTime.Add(24*time.Hour).Equal(moved.StartTime))
	assert.Equal(t, int64(300), moved.BasePrice)
	assert.Equal(t, int64(330), moved.TotalAmount)
	assert.Zero(t, moved.ExtensionAmount)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestBookingService_ReschedulePaidBookingRebalances(t *testing.T) {
	f := newFixture(t)
	b, tx := approvedBooking(t, f)
	_, err := f.payments.ProcessPaymentWebhook(f.ctx, webhook(tx.OrderCode, tx.Amount))
	require.NoError(t, err)
	paid := f.booking(b.ID)
	require.Equal(t, domain.BookingStatusReadyForPickup, paid.Status)
	require.Equal(t, int64(220), paid.PaidAmount)

	moved, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: paid.StartTime, EndTime: paid.EndTime.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusReadyForPickup, moved.Status)
	assert.True(t, paid.EndTime.Add(24*time.Hour).Equal(moved.EndTime))
	assert.Equal(t, int64(300), moved.BasePrice)
	assert.Equal(t, int64(330), moved.TotalAmount)
	assert.Equal(t, int64(220), moved.PaidAmount)
	assert.True(t, moved.IsPaid)
	assert.Equal(t, int64(110), moved.Outstanding())
	assert.Zero(t, moved.ExtensionAmount)
	assert.Equal(t, 1, f.provider.Calls(), "the difference is settled at completion")
	for _, job := range f.store.ScheduledJobs() {
		assert.NotEqual(t, domain.JobKindExtensionPaymentTimeout, job.Kind)
	}
}

func TestBookingService_RepeatedOngoingExtensionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, b := f.ongoingBooking()
	req := service.ExtendBookingRequest{BookingID: b.ID, StartTime: b.StartTime, EndTime: b.EndTime.Add(24 * time.Hour)}

	first, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, req)
	require.NoError(t, err)
	require.NotNil(t, first.ExtensionOrderCode)

	again, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, req)
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version)
	assert.Equal(t, *first.ExtensionOrderCode, *again.ExtensionOrderCode)
	assert.Equal(t, first.ExtensionAmount, again.ExtensionAmount)
	assert.Equal(t, 1, f.provider.Calls())

	jobs := 0
	for _, job := range f.store.ScheduledJobs() {
		if job.Kind == domain.JobKindExtensionPaymentTimeout {
			jobs++
		}
	}
	assert.Equal(t, 1, jobs)

	tx, err := f.store.Payments().GetByOrderCode(f.ctx, *first.ExtensionOrderCode)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, tx.Status)
	assert.Equal(t, first.Version, f.booking(b.ID).Version)
}

func extensionJob(t *testing.T, f *fixture, bookingID int32) (domain.ScheduledJob, domain.ExtensionTimeoutPayload) {
	t.Helper()
	for _, job := range f.store.ScheduledJobs() {
		if job.Kind == domain.JobKindExtensionPaymentTimeout && job.EntityID == bookingID {
			var p domain.ExtensionTimeoutPayload
			require.NoError(t, json.Unmarshal(job.Payload, &p))
			return job, p
		}
	}
	t.Fatalf("no extension timeout job for booking %d", bookingID)
	return domain.ScheduledJob{}, domain.ExtensionTimeoutPayload{}
}

func TestBookingService_UnpaidExtensionIsReverted(t *testing.T) {
	f := newFixture(t)
	_, b := f.ongoingBooking()
	originalEnd := b.EndTime

	ext, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: originalEnd.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(110), ext.ExtensionAmount)
	assert.Equal(t, int64(330), ext.TotalAmount)
	assert.False(t, ext.IsExtensionPaid)
	require.NotNil(t, ext.ExtensionOrderCode)
	require.NotNil(t, ext.PreviousEndTime)
	assert.True(t, originalEnd.Equal(*ext.PreviousEndTime))
	assert.Equal(t, 1, f.provider.Calls())
	f.notifier.AssertCalled(t, "Send", mock.Anything, "renter@test.com", "Pay for your extension", mock.Anything)

	job, payload := extensionJob(t, f, b.ID)
	assert.True(t, f.now.Add(domain.ExtensionPaymentWindow).Equal(job.RunAt))
	assert.True(t, f.now.Equal(job.CreatedAt))
	assert.True(t, f.now.Equal(job.UpdatedAt))
	assert.Equal(t, *ext.ExtensionOrderCode, payload.OrderCode)

	_, err = f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: originalEnd.Add(48 * time.Hour),
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "an extension is awaiting payment")

	f.advance(domain.ExtensionPaymentWindow)
	require.NoError(t, f.bookings.RevertUnpaidExtension(f.ctx, b.ID, payload))

	got := f.booking(b.ID)
	assert.True(t, originalEnd.Equal(got.EndTime))
	assert.Equal(t, int64(220), got.TotalAmount)
	assert.Equal(t, int64(200), got.BasePrice)
	assert.Zero(t, got.ExtensionAmount)
	assert.Nil(t, got.ExtensionOrderCode)
	assert.Nil(t, got.PreviousEndTime)

	tx, err := f.store.Payments().GetByOrderCode(f.ctx, payload.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, tx.Status)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "renter@test.com", "Your extension was cancelled", mock.Anything)

	// The job may fire twice.
	require.NoError(t, f.bookings.RevertUnpaidExtension(f.ctx, b.ID, payload))
	assert.Equal(t, got.Version, f.booking(b.ID).Version)
}

func TestBookingService_PaidExtensionSurvivesTimeout(t *testing.T) {
	f := newFixture(t)
	_, b := f.ongoingBooking()

	ext, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: b.EndTime.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	res, err := f.payments.ProcessPaymentWebhook(f.ctx, webhook(*ext.ExtensionOrderCode, ext.ExtensionAmount))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentKindExtension, res.Kind)

	_, payload := extensionJob(t, f, b.ID)
	f.advance(domain.ExtensionPaymentWindow)
	require.NoError(t, f.bookings.RevertUnpaidExtension(f.ctx, b.ID, payload))

	got := f.booking(b.ID)
	assert.True(t, ext.EndTime.Equal(got.EndTime))
	assert.True(t, got.IsExtensionPaid)
	assert.Equal(t, int64(110), got.PaidAmount)
	assert.Equal(t, int64(330), got.TotalAmount)
}

func TestBookingService_ExtendOngoingValidation(t *testing.T) {
	f := newFixture(t)
	_, b := f.ongoingBooking()

	_, err := f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime.Add(time.Hour), EndTime: b.EndTime.Add(24 * time.Hour),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "start cannot move")

	_, err = f.bookings.ExtendBookingDay(f.ctx, f.renter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: b.EndTime.Add(-time.Hour),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "end must move forward")

	_, err = f.bookings.ExtendBookingDay(f.ctx, f.otherRenter, service.ExtendBookingRequest{
		BookingID: b.ID, StartTime: b.StartTime, EndTime: b.EndTime.Add(24 * time.Hour),
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func returnPhotos() []service.Photo {
	return []service.Photo{{Name: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg bytes")}}
}

func TestBookingService_ConfirmCarReturn(t *testing.T) {
	f := newFixture(t)
	_, b := f.readyBooking()

	_, err := f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "trip not started")
	assert.Zero(t, f.objects.Len())

	_, err = f.telemetry.StartTrip(f.ctx, f.renter, service.LocationRequest{BookingID: b.ID, Lat: carPoint.Lat, Lon: carPoint.Lon})
	require.NoError(t, err)

	_, err = f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.bookings.ConfirmCarReturn(f.ctx, f.renter, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.bookings.CompleteBooking(f.ctx, f.renter, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindDomain), "return not confirmed")

	got, err := f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	require.NoError(t, err)
	assert.True(t, got.IsCarReturned)
	require.NotNil(t, got.ActualReturnTime)
	require.Len(t, got.ReturnPhotoURLs, 1)
	assert.True(t, strings.HasPrefix(got.ReturnPhotoURLs[0], "https://files.test/returns/"))
	assert.Equal(t, 1, f.objects.Len())

	_, err = f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 1, f.objects.Len())
}

func TestBookingService_CompleteLateReturn(t *testing.T) {
	f := newFixture(t)
	car := f.onboardCar()
	b := f.bookCar(car)
	_, err := f.bookings.ApproveBooking(f.ctx, f.owner, b.ID, true)
	require.NoError(t, err)
	tx, err := f.payments.CreateBookingPaymentLink(f.ctx, f.renter, b.ID)
	require.NoError(t, err)
	_, err = f.payments.ProcessPaymentWebhook(f.ctx, webhook(tx.OrderCode, tx.Amount))
	require.NoError(t, err)
	_, err = f.telemetry.StartTrip(f.ctx, f.renter, service.LocationRequest{BookingID: b.ID, Lat: carPoint.Lat, Lon: carPoint.Lon})
	require.NoError(t, err)

	f.now = b.EndTime.Add(25 * time.Hour)
	_, err = f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	require.NoError(t, err)

	done, err := f.bookings.CompleteBooking(f.ctx, f.renter, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompleted, done.Status)
	assert.Equal(t, int64(200), done.ExcessDayFee)
	assert.Zero(t, done.ExcessDistanceFee)
	assert.Equal(t, int64(420), done.TotalAmount)
	assert.Equal(t, int64(200), done.Outstanding())

	gotCar, err := f.store.Cars().GetByID(f.ctx, car.ID, repository.ExcludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, int32(1), gotCar.TotalRents)

	require.Equal(t, 2, f.provider.Calls())
	settlement := f.provider.links[1]
	assert.Equal(t, int64(200), settlement.Amount)
	f.notifier.AssertCalled(t, "Send", mock.Anything, "renter@test.com", "Your booking is complete", mock.Anything)

	res, err := f.payments.ProcessPaymentWebhook(f.ctx, webhook(settlement.OrderCode, 200))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentKindSettlement, res.Kind)
	got := f.booking(b.ID)
	assert.Equal(t, int64(420), got.PaidAmount)
	assert.Zero(t, got.Outstanding())
}

// completedBooking returns a booking completed before its EndTime.
func completedBooking(t *testing.T, f *fixture) *domain.Booking {
	t.Helper()
	_, b := f.ongoingBooking()
	_, err := f.bookings.ConfirmCarReturn(f.ctx, f.owner, service.ConfirmReturnRequest{BookingID: b.ID, Photos: returnPhotos()})
	require.NoError(t, err)
	b, err = f.bookings.CompleteBooking(f.ctx, f.owner, b.ID)
	require.NoError(t, err)
	return b
}

func TestBookingService_CreateFeedbackWindow(t *testing.T) {
	f := newFixture(t)
	b := completedBooking(t, f)
	req := service.FeedbackRequest{BookingID: b.ID, Rating: 5, Comment: "Smooth ride"}

	_, err := f.bookings.CreateFeedback(f.ctx, f.renter, req)
	require.True(t, apperr.Is(err, apperr.KindDomain), "before EndTime")

	f.now = b.EndTime.Add(time.Hour)
	fb, err := f.bookings.CreateFeedback(f.ctx, f.renter, req)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackToOwner, fb.Type)

	_, err = f.bookings.CreateFeedback(f.ctx, f.renter, req)
	require.True(t, apperr.Is(err, apperr.KindDomain))
	assert.Contains(t, apperr.Message(err), "already exists")

	_, err = f.bookings.CreateFeedback(f.ctx, f.otherRenter, req)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.bookings.CreateFeedback(f.ctx, f.renter, service.FeedbackRequest{BookingID: b.ID, Rating: 6})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.now = b.EndTime.Add(domain.FeedbackWindow + time.Minute)
	_, err = f.bookings.CreateFeedback(f.ctx, f.owner, service.FeedbackRequest{BookingID: b.ID, Rating: 4})
	assert.True(t, apperr.Is(err, apperr.KindDomain), "after the window")

	f.now = b.EndTime.Add(domain.FeedbackWindow)
	fb, err = f.bookings.CreateFeedback(f.ctx, f.owner, service.FeedbackRequest{BookingID: b.ID, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackToDriver, fb.Type)
}

func TestBookingService_FeedbackRequiresCompletedBooking(t *testing.T) {
	f := newFixture(t)
	_, b := f.ongoingBooking()
	f.now = b.EndTime.Add(time.Hour)

	_, err := f.bookings.CreateFeedback(f.ctx, f.renter, service.FeedbackRequest{BookingID: b.ID, Rating: 5})
	assert.True(t, apperr.Is(err, apperr.KindDomain))
}
