package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/storage"
	"carrent-backend/internal/utils"
)

type CreateBookingRequest struct {
	CarID     int32     `validate:"required"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required,gtfield=StartTime"`
}

// ExtendBookingRequest carries the full new window. Once the trip started
// only EndTime may change.
type ExtendBookingRequest struct {
	BookingID int32     `validate:"required"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required,gtfield=StartTime"`
}

type Photo struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type ConfirmReturnRequest struct {
	BookingID int32   `validate:"required"`
	Photos    []Photo `validate:"required,min=1,max=20"`
}

type FeedbackRequest struct {
	BookingID int32  `validate:"required"`
	Rating    int32  `validate:"min=1,max=5"`
	Comment   string `validate:"max=2000"`
}

type bookingService struct {
	Deps
	payments PaymentService
}

func NewBookingService(d Deps, payments PaymentService) BookingService {
	return &bookingService{Deps: d, payments: payments}
}

func carLabel(car *domain.Car) string {
	return car.Make + " " + car.Model
}

// loadBookingForUpdate locks the booking row for the rest of the transaction.
func loadBookingForUpdate(ctx context.Context, r repository.Repos, id int32) (*domain.Booking, error) {
	b, err := r.Bookings().GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "booking %d", id)
	}
	return b, nil
}

func saveBooking(ctx context.Context, r repository.Repos, b *domain.Booking) error {
	if err := r.Bookings().Update(ctx, b); err != nil {
		return writeErr(err, "booking %d", b.ID)
	}
	return nil
}

// ensureWindowFree fails when another blocking booking of the car overlaps
// [start, end). The booking being changed is ignored.
func ensureWindowFree(ctx context.Context, r repository.Repos, carID, self int32, start, end time.Time) error {
	blocking, err := r.Bookings().ListBlockingByCar(ctx, carID, start, end)
	if err != nil {
		return apperr.Internal(err, "list bookings of car %d", carID)
	}
	for _, other := range blocking {
		if other.ID != self {
			return apperr.Conflict("car %d is not available from %s to %s", carID, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
	}
	return nil
}

func (s *bookingService) CreateBooking(ctx context.Context, c Caller, req CreateBookingRequest) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.CreateBooking", "renterID", c.UserID, "carID", req.CarID)
	if err := authorize(c, domain.ActionCreateBooking); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	if req.StartTime.Before(now) {
		return nil, apperr.Validation("start time must not be in the past")
	}

	var (
		booking *domain.Booking
		car     *domain.Car
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		// The car row lock serialises concurrent bookings of the same car.
		if car, err = r.Cars().GetByIDForUpdate(ctx, req.CarID); err != nil {
			return lookupErr(err, "car %d", req.CarID)
		}
		if car.OwnerID == c.UserID {
			return apperr.Domain("owners cannot book their own car")
		}
		contract, err := r.Contracts().GetByCarID(ctx, car.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return lookupErr(err, "contract of car %d", car.ID)
		}
		if !car.Rentable(contract) {
			return apperr.Conflict("car %d is not available for rent", car.ID)
		}

		blocking, err := r.Bookings().ListBlockingByCar(ctx, car.ID, req.StartTime, req.EndTime)
		if err != nil {
			return apperr.Internal(err, "list bookings of car %d", car.ID)
		}
		for _, other := range blocking {
			if other.RenterID == c.UserID && other.StartTime.Equal(req.StartTime) && other.EndTime.Equal(req.EndTime) {
				return apperr.Conflict("booking already exists for car %d in this window (booking %d)", car.ID, other.ID)
			}
		}
		if len(blocking) > 0 {
			return apperr.Conflict("car %d is not available in the requested period", car.ID)
		}

		quote, err := utils.QuoteRental(req.StartTime, req.EndTime, car, s.Pricing)
		if err != nil {
			return apperr.Validation("%v", err)
		}
		booking = &domain.Booking{
			RenterID:    c.UserID,
			CarID:       car.ID,
			Status:      domain.BookingStatusPending,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			BasePrice:   quote.BasePrice,
			PlatformFee: quote.PlatformFee,
			TotalAmount: quote.Total,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.Bookings().Create(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("booking already exists for car %d starting %s", car.ID, req.StartTime.Format(time.RFC3339))
			}
			return writeErr(err, "booking")
		}
		draft := &domain.BookingContract{
			BookingID: booking.ID,
			Status:    domain.BookingContractPending,
			Terms:     bookingTerms(booking, car, quote),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.Bookings().CreateContract(ctx, draft); err != nil {
			return writeErr(err, "contract of booking %d", booking.ID)
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.CreateBooking", err)
		return nil, finish(err, "create booking")
	}

	logger.Info("Booking created", "booking_id", booking.ID, "car_id", car.ID, "total", booking.TotalAmount)
	renter, _ := s.Store.Users().GetByID(ctx, c.UserID, repository.IncludeDeleted)
	renterName := ""
	if renter != nil {
		renterName = renter.Name
	}
	s.notifyUser(ctx, car.OwnerID, "New booking request", "booking_requested", map[string]any{
		"Renter": renterName, "Car": carLabel(car),
		"Start": booking.StartTime.Format(time.RFC1123), "End": booking.EndTime.Format(time.RFC1123),
		"Total": booking.TotalAmount,
	})
	logger.ExitMethod("bookingService.CreateBooking", "bookingID", booking.ID)
	return booking, nil
}

func bookingTerms(b *domain.Booking, car *domain.Car, q utils.RentalQuote) string {
	return fmt.Sprintf("Rental of %s from %s to %s: %d day(s) and %d hour(s), base %d, platform fee %d, total %d. "+
		"Return late and each started day is charged at %d. Distance above the daily allowance is charged per km.",
		carLabel(car), b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339),
		q.Days, q.Hours, q.BasePrice, q.PlatformFee, q.Total, car.PricePerDay)
}

// viewerOf loads the booking and checks the caller is its renter, the car
// owner or an admin.
func (s *bookingService) viewerOf(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error) {
	if err := authorize(c, domain.ActionViewBooking); err != nil {
		return nil, err
	}
	b, err := s.Store.Bookings().GetByID(ctx, bookingID, repository.ExcludeDeleted)
	if err != nil {
		return nil, lookupErr(err, "booking %d", bookingID)
	}
	switch c.Role {
	case domain.RoleAdmin:
		return b, nil
	case domain.RoleDriver:
		if b.RenterID == c.UserID {
			return b, nil
		}
	case domain.RoleOwner:
		car, err := s.Store.Cars().GetByID(ctx, b.CarID, repository.IncludeDeleted)
		if err != nil {
			return nil, lookupErr(err, "car %d", b.CarID)
		}
		if car.OwnerID == c.UserID {
			return b, nil
		}
	}
	return nil, apperr.Forbidden("booking %d belongs to another user", bookingID)
}

func (s *bookingService) GetBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error) {
	return s.viewerOf(ctx, c, bookingID)
}

func (s *bookingService) ListTripTrackings(ctx context.Context, c Caller, bookingID int32) ([]domain.TripTracking, error) {
	if _, err := s.viewerOf(ctx, c, bookingID); err != nil {
		return nil, err
	}
	trips, err := s.Store.Trips().ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, apperr.Internal(err, "list trip trackings of booking %d", bookingID)
	}
	return trips, nil
}

// ownedCar loads the booking's car and checks the caller owns it.
func ownedCar(ctx context.Context, r repository.Repos, c Caller, b *domain.Booking) (*domain.Car, error) {
	car, err := r.Cars().GetByID(ctx, b.CarID, repository.IncludeDeleted)
	if err != nil {
		return nil, lookupErr(err, "car %d", b.CarID)
	}
	if car.OwnerID != c.UserID {
		return nil, apperr.Forbidden("only the owner of car %d may do this", car.ID)
	}
	return car, nil
}

func (s *bookingService) ApproveBooking(ctx context.Context, c Caller, bookingID int32, isApproved bool) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.ApproveBooking", "bookingID", bookingID, "approved", isApproved)
	if err := authorize(c, domain.ActionApproveBooking); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		b   *domain.Booking
		car *domain.Car
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, bookingID); err != nil {
			return err
		}
		if car, err = ownedCar(ctx, r, c, b); err != nil {
			return err
		}
		to := domain.BookingStatusApproved
		if !isApproved {
			to = domain.BookingStatusRejected
		}
		if err := b.TransitionTo(to, now); err != nil {
			return err
		}
		if !isApproved {
			if err := setBookingContractStatus(ctx, r, b.ID, domain.BookingContractCancelled, now); err != nil {
				return err
			}
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.ApproveBooking", err)
		return nil, finish(err, "approve booking")
	}
	logger.Info("Booking decided", "booking_id", b.ID, "status", b.Status)

	data := map[string]any{"BookingID": b.ID, "Car": carLabel(car)}
	if isApproved {
		payURL := ""
		if token, err := s.payments.IssuePaymentToken(ctx, b.ID); err != nil {
			logger.Warn("Failed to issue payment token", "booking_id", b.ID, "error", err)
		} else {
			payURL = s.PublicBaseURL + "/api/v1/payments/token/" + token
		}
		data["PayURL"] = payURL
		s.notifyUser(ctx, b.RenterID, "Your booking was approved", "booking_approved", data)
	} else {
		s.notifyUser(ctx, b.RenterID, "Your booking was rejected", "booking_rejected", data)
	}
	logger.ExitMethod("bookingService.ApproveBooking")
	return b, nil
}

func setBookingContractStatus(ctx context.Context, r repository.Repos, bookingID int32, status domain.BookingContractStatus, now time.Time) error {
	bc, err := r.Bookings().GetContract(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return lookupErr(err, "contract of booking %d", bookingID)
	}
	if bc.Status == status {
		return nil
	}
	bc.Status = status
	bc.UpdatedAt = now
	if err := r.Bookings().UpdateContract(ctx, bc); err != nil {
		return writeErr(err, "contract of booking %d", bookingID)
	}
	return nil
}

func (s *bookingService) ExtendBookingDay(ctx context.Context, c Caller, req ExtendBookingRequest) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.ExtendBookingDay", "bookingID", req.BookingID)
	if err := authorize(c, domain.ActionExtendBooking); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		b         *domain.Booking
		opened    bool
		unchanged bool
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, req.BookingID); err != nil {
			return err
		}
		if b.RenterID != c.UserID {
			return apperr.Forbidden("booking %d belongs to another renter", b.ID)
		}
		car, err := r.Cars().GetByID(ctx, b.CarID, repository.IncludeDeleted)
		if err != nil {
			return lookupErr(err, "car %d", b.CarID)
		}

		switch b.Status {
		case domain.BookingStatusPending, domain.BookingStatusApproved, domain.BookingStatusReadyForPickup:
			if b.StartTime.Equal(req.StartTime) && b.EndTime.Equal(req.EndTime) {
				unchanged = true
				return nil
			}
			if req.StartTime.Before(now) {
				return apperr.Validation("start time must not be in the past")
			}
			return s.reschedule(ctx, r, b, car, req, now)

		case domain.BookingStatusOngoing:
			if !b.StartTime.Equal(req.StartTime) {
				return apperr.Validation("start time cannot change after the trip started")
			}
			if b.EndTime.Equal(req.EndTime) {
				unchanged = true
				return nil
			}
			if b.ExtensionPending() {
				return apperr.Conflict("booking %d has an extension awaiting payment", b.ID)
			}
			if !req.EndTime.After(b.EndTime) {
				return apperr.Validation("new end time must be after the current end time %s", b.EndTime.Format(time.RFC3339))
			}
			opened, err = s.openExtension(ctx, r, b, car, req.EndTime, now)
			return err
		}
		return apperr.Conflict("booking %d is %s and cannot be extended", b.ID, b.Status)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.ExtendBookingDay", err)
		return nil, finish(err, "extend booking")
	}
	if unchanged {
		logger.Debug("Extension repeats the current window", "booking_id", b.ID)
		return b, nil
	}

	logger.Info("Booking extended", "booking_id", b.ID, "end_time", b.EndTime, "extension_amount", b.ExtensionAmount)
	if opened {
		payURL := ""
		if tx, err := s.payments.IssuePaymentLink(ctx, b.ID, domain.PaymentKindExtension); err != nil {
			logger.Warn("Failed to issue extension payment link", "booking_id", b.ID, "error", err)
		} else {
			payURL = tx.CheckoutURL
		}
		s.notifyUser(ctx, b.RenterID, "Pay for your extension", "extension_opened", map[string]any{
			"BookingID": b.ID, "End": b.EndTime.Format(time.RFC1123), "Amount": b.ExtensionAmount, "PayURL": payURL,
		})
	}
	logger.ExitMethod("bookingService.ExtendBookingDay")
	return b, nil
}

// reschedule moves a booking that has not started to a new window and reprices it.
func (s *bookingService) reschedule(ctx context.Context, r repository.Repos, b *domain.Booking, car *domain.Car, req ExtendBookingRequest, now time.Time) error {
	if err := ensureWindowFree(ctx, r, b.CarID, b.ID, req.StartTime, req.EndTime); err != nil {
		return err
	}
	quote, err := utils.QuoteRental(req.StartTime, req.EndTime, car, s.Pricing)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	if b.PaidAmount > 0 {
		// The paid amount stays; completion settles or refunds the difference.
		logger.Info("Rebalancing paid booking", "booking_id", b.ID, "paid", b.PaidAmount, "previous_total", b.TotalAmount, "total", quote.Total)
	}
	b.StartTime = req.StartTime
	b.EndTime = req.EndTime
	b.BasePrice = quote.BasePrice
	b.PlatformFee = quote.PlatformFee
	b.TotalAmount = quote.Total
	b.UpdatedAt = now
	return saveBooking(ctx, r, b)
}

// openExtension extends an ongoing booking and opens the payment window that
// the ExtensionPaymentTimeout job closes. It reports whether a payment is due.
func (s *bookingService) openExtension(ctx context.Context, r repository.Repos, b *domain.Booking, car *domain.Car, end time.Time, now time.Time) (bool, error) {
	if err := ensureWindowFree(ctx, r, b.CarID, b.ID, b.EndTime, end); err != nil {
		return false, err
	}
	quote, err := utils.QuoteRental(b.StartTime, end, car, s.Pricing)
	if err != nil {
		return false, apperr.Validation("%v", err)
	}
	delta := quote.Total - b.TotalAmount
	prevEnd := b.EndTime

	if delta <= 0 {
		b.EndTime = end
		b.UpdatedAt = now
		return false, saveBooking(ctx, r, b)
	}

	code := s.orderCode()
	payload, err := json.Marshal(domain.ExtensionTimeoutPayload{
		OrderCode:       code,
		ExtendedEndTime: end,
		PreviousEndTime: prevEnd,
		PreviousBase:    b.BasePrice,
		PreviousFee:     b.PlatformFee,
		PreviousTotal:   b.TotalAmount,
	})
	if err != nil {
		return false, apperr.Internal(err, "encode extension payload")
	}

	b.PreviousEndTime = &prevEnd
	b.EndTime = end
	b.BasePrice = quote.BasePrice
	b.PlatformFee = quote.PlatformFee
	b.TotalAmount = quote.Total
	b.ExtensionAmount = delta
	b.IsExtensionPaid = false
	b.ExtensionOrderCode = &code
	b.UpdatedAt = now

	tx := &domain.PaymentTransaction{
		OrderCode: code,
		BookingID: b.ID,
		Kind:      domain.PaymentKindExtension,
		Amount:    delta,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Payments().Create(ctx, tx); err != nil {
		return false, writeErr(err, "payment %d", code)
	}
	job := &domain.ScheduledJob{
		Kind:      domain.JobKindExtensionPaymentTimeout,
		EntityID:  b.ID,
		Payload:   payload,
		RunAt:     now.Add(domain.ExtensionPaymentWindow),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Jobs().Enqueue(ctx, job); err != nil {
		return false, writeErr(err, "extension timeout job")
	}
	return true, saveBooking(ctx, r, b)
}

func (s *bookingService) MarkBookingReadyForPickup(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error) {
	if err := authorize(c, domain.ActionMarkReadyForPickup); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	var b *domain.Booking
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, bookingID); err != nil {
			return err
		}
		if c.Role != domain.RoleAdmin {
			if _, err := ownedCar(ctx, r, c, b); err != nil {
				return err
			}
		}
		if err := b.TransitionTo(domain.BookingStatusReadyForPickup, now); err != nil {
			return err
		}
		if err := setBookingContractStatus(ctx, r, b.ID, domain.BookingContractConfirmed, now); err != nil {
			return err
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		return nil, finish(err, "mark booking ready for pickup")
	}
	logger.Info("Booking ready for pickup", "booking_id", b.ID)
	return b, nil
}

// checkReturnable verifies the booking may take a return confirmation.
func checkReturnable(b *domain.Booking) error {
	if b.Status != domain.BookingStatusOngoing {
		return apperr.Conflict("booking %d is %s; only ongoing bookings can be returned", b.ID, b.Status)
	}
	if b.IsCarReturned {
		return apperr.Conflict("return of booking %d is already confirmed", b.ID)
	}
	return nil
}

func (s *bookingService) ConfirmCarReturn(ctx context.Context, c Caller, req ConfirmReturnRequest) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.ConfirmCarReturn", "bookingID", req.BookingID, "photos", len(req.Photos))
	if err := authorize(c, domain.ActionConfirmReturn); err != nil {
		return nil, err
	}
	if len(req.Photos) == 0 {
		return nil, apperr.Validation("at least one return photo is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Check before uploading, then again under the lock.
	b, err := s.Store.Bookings().GetByID(ctx, req.BookingID, repository.ExcludeDeleted)
	if err != nil {
		return nil, lookupErr(err, "booking %d", req.BookingID)
	}
	if _, err := ownedCar(ctx, s.Store, c, b); err != nil {
		return nil, err
	}
	if err := checkReturnable(b); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	keys := make([]string, 0, len(req.Photos))
	urls := make([]string, 0, len(req.Photos))
	for _, p := range req.Photos {
		key := storage.NewObjectKey(fmt.Sprintf("returns/%d", b.ID), p.Name, now)
		url, err := s.Objects.Put(ctx, key, p.ContentType, p.Body)
		if err != nil {
			s.discardObjects(ctx, keys)
			return nil, apperr.Internal(err, "store return photo %s", p.Name)
		}
		keys = append(keys, key)
		urls = append(urls, url)
	}

	err = s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, req.BookingID); err != nil {
			return err
		}
		if err := checkReturnable(b); err != nil {
			return err
		}
		b.IsCarReturned = true
		b.ActualReturnTime = &now
		b.ReturnPhotoURLs = urls
		b.UpdatedAt = now
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		s.discardObjects(ctx, keys)
		logger.ExitMethodWithError("bookingService.ConfirmCarReturn", err)
		return nil, finish(err, "confirm car return")
	}
	logger.Info("Car return confirmed", "booking_id", b.ID, "photos", len(urls))
	logger.ExitMethod("bookingService.ConfirmCarReturn")
	return b, nil
}

func (s *bookingService) discardObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.Objects.Delete(ctx, key); err != nil {
			logger.Warn("Failed to delete orphaned object", "key", key, "error", err)
		}
	}
}

func (s *bookingService) CompleteBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.CompleteBooking", "bookingID", bookingID)
	if err := authorize(c, domain.ActionCompleteBooking); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var b *domain.Booking
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, bookingID); err != nil {
			return err
		}
		car, err := r.Cars().GetByIDForUpdate(ctx, b.CarID)
		if err != nil {
			return lookupErr(err, "car %d", b.CarID)
		}
		if b.RenterID != c.UserID && car.OwnerID != c.UserID {
			return apperr.Forbidden("booking %d belongs to another user", b.ID)
		}
		if !domain.CanTransition(b.Status, domain.BookingStatusCompleted) {
			return apperr.Conflict("booking %d is %s and cannot be completed", b.ID, b.Status)
		}
		if !b.IsCarReturned {
			return apperr.Domain("the owner has not confirmed the return of booking %d", b.ID)
		}

		latest, err := r.Trips().GetLatest(ctx, b.ID)
		switch {
		case err == nil:
			b.DistanceTraveled = latest.CumulativeDistance
		case !errors.Is(err, repository.ErrNotFound):
			return lookupErr(err, "trip tracking of booking %d", b.ID)
		}

		days, hours, err := utils.RentalDuration(b.StartTime, b.EndTime)
		if err != nil {
			return apperr.Internal(err, "rental duration of booking %d", b.ID)
		}
		billedDays := days
		if hours > 0 {
			billedDays++
		}
		returnedAt := now
		if b.ActualReturnTime != nil {
			returnedAt = *b.ActualReturnTime
		}
		b.ExcessDistanceFee = utils.ExcessDistanceFee(b.DistanceTraveled, billedDays, s.Pricing)
		b.ExcessDayFee = utils.ExcessDayFee(b.EndTime, returnedAt, car.PricePerDay)
		b.TotalAmount = b.BasePrice + b.PlatformFee + b.ExcessDayFee + b.ExcessDistanceFee
		if b.PaidAmount > b.TotalAmount {
			// Shortened before pickup after paying in full.
			b.RefundAmount = b.PaidAmount - b.TotalAmount
			b.RefundDate = &now
		}

		if b.ExtensionPending() && b.ExtensionOrderCode != nil {
			// The unpaid extension is settled with the final balance.
			if err := cancelPendingPayment(ctx, r, *b.ExtensionOrderCode, now); err != nil {
				return err
			}
		}
		if err := b.TransitionTo(domain.BookingStatusCompleted, now); err != nil {
			return err
		}
		car.TotalRents++
		car.UpdatedAt = now
		if err := r.Cars().Update(ctx, car); err != nil {
			return writeErr(err, "car %d", car.ID)
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.CompleteBooking", err)
		return nil, finish(err, "complete booking")
	}
	logger.Info("Booking completed", "booking_id", b.ID, "distance", b.DistanceTraveled, "total", b.TotalAmount, "outstanding", b.Outstanding())

	if b.Outstanding() > 0 {
		payURL := ""
		if tx, err := s.payments.IssuePaymentLink(ctx, b.ID, domain.PaymentKindSettlement); err != nil {
			logger.Warn("Failed to issue settlement payment link", "booking_id", b.ID, "error", err)
		} else {
			payURL = tx.CheckoutURL
		}
		s.notifyUser(ctx, b.RenterID, "Your booking is complete", "settlement_due", map[string]any{
			"BookingID": b.ID, "Amount": b.Outstanding(), "PayURL": payURL,
		})
	}
	logger.ExitMethod("bookingService.CompleteBooking")
	return b, nil
}

func cancelPendingPayment(ctx context.Context, r repository.Repos, orderCode int64, now time.Time) error {
	tx, err := r.Payments().GetByOrderCodeForUpdate(ctx, orderCode)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return lookupErr(err, "payment %d", orderCode)
	}
	if tx.Status != domain.PaymentStatusPending {
		return nil
	}
	tx.Status = domain.PaymentStatusCancelled
	tx.UpdatedAt = now
	if err := r.Payments().Update(ctx, tx); err != nil {
		return writeErr(err, "payment %d", orderCode)
	}
	return nil
}

func (s *bookingService) CancelBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error) {
	logger.EnterMethod("bookingService.CancelBooking", "bookingID", bookingID)
	if err := authorize(c, domain.ActionCancelBooking); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		b   *domain.Booking
		car *domain.Car
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, bookingID); err != nil {
			return err
		}
		if b.RenterID != c.UserID {
			return apperr.Forbidden("booking %d belongs to another renter", b.ID)
		}
		if err := b.TransitionTo(domain.BookingStatusCancelled, now); err != nil {
			return err
		}
		if b.PaidAmount > 0 {
			b.RefundAmount = b.PaidAmount
			b.RefundDate = &now
		}

		if err := r.Users().IncrementCancelledBookings(ctx, b.RenterID); err != nil {
			return writeErr(err, "user %d", b.RenterID)
		}
		if car, err = r.Cars().GetByIDForUpdate(ctx, b.CarID); err != nil {
			return lookupErr(err, "car %d", b.CarID)
		}
		car.CancelledBookings++
		car.UpdatedAt = now
		if err := r.Cars().Update(ctx, car); err != nil {
			return writeErr(err, "car %d", car.ID)
		}

		if err := setBookingContractStatus(ctx, r, b.ID, domain.BookingContractCancelled, now); err != nil {
			return err
		}
		pending, err := r.Payments().GetPendingByBooking(ctx, b.ID, domain.PaymentKindBooking)
		if err == nil {
			if err := cancelPendingPayment(ctx, r, pending.OrderCode, now); err != nil {
				return err
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return lookupErr(err, "pending payment of booking %d", b.ID)
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.CancelBooking", err)
		return nil, finish(err, "cancel booking")
	}
	logger.Info("Booking cancelled", "booking_id", b.ID, "refund", b.RefundAmount)
	s.notifyUser(ctx, car.OwnerID, "A booking was cancelled", "booking_cancelled", map[string]any{"BookingID": b.ID, "Car": carLabel(car)})
	logger.ExitMethod("bookingService.CancelBooking")
	return b, nil
}

func (s *bookingService) CreateFeedback(ctx context.Context, c Caller, req FeedbackRequest) (*domain.Feedback, error) {
	if err := authorize(c, domain.ActionLeaveFeedback); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var fb *domain.Feedback
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		b, err := r.Bookings().GetByID(ctx, req.BookingID, repository.ExcludeDeleted)
		if err != nil {
			return lookupErr(err, "booking %d", req.BookingID)
		}
		car, err := r.Cars().GetByID(ctx, b.CarID, repository.IncludeDeleted)
		if err != nil {
			return lookupErr(err, "car %d", b.CarID)
		}

		var kind domain.FeedbackType
		switch {
		case c.Role == domain.RoleDriver && b.RenterID == c.UserID:
			kind = domain.FeedbackToOwner
		case c.Role == domain.RoleOwner && car.OwnerID == c.UserID:
			kind = domain.FeedbackToDriver
		default:
			return apperr.Forbidden("only the renter or the car owner may review booking %d", b.ID)
		}

		if b.Status != domain.BookingStatusCompleted {
			return apperr.Domain("feedback is only accepted for completed bookings; booking %d is %s", b.ID, b.Status)
		}
		closes := b.EndTime.Add(domain.FeedbackWindow)
		if now.Before(b.EndTime) || now.After(closes) {
			return apperr.Domain("feedback for booking %d is accepted only between %s and %s",
				b.ID, b.EndTime.Format(time.RFC3339), closes.Format(time.RFC3339))
		}
		exists, err := r.Feedback().Exists(ctx, b.ID, kind)
		if err != nil {
			return apperr.Internal(err, "check feedback of booking %d", b.ID)
		}
		if exists {
			return apperr.Domain("feedback already exists for booking %d", b.ID)
		}

		fb = &domain.Feedback{
			BookingID: b.ID,
			UserID:    c.UserID,
			Type:      kind,
			Rating:    req.Rating,
			Comment:   req.Comment,
			CreatedAt: now,
		}
		if err := r.Feedback().Create(ctx, fb); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Domain("feedback already exists for booking %d", b.ID)
			}
			return writeErr(err, "feedback")
		}
		return nil
	})
	if err != nil {
		return nil, finish(err, "create feedback")
	}
	logger.Info("Feedback created", "booking_id", fb.BookingID, "type", fb.Type, "rating", fb.Rating)
	return fb, nil
}

func (s *bookingService) RevertUnpaidExtension(ctx context.Context, bookingID int32, p domain.ExtensionTimeoutPayload) error {
	now := s.Clock.now()
	var b *domain.Booking
	reverted := false
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		b, err = r.Bookings().GetByIDForUpdate(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return lookupErr(err, "booking %d", bookingID)
		}
		if b.Status != domain.BookingStatusOngoing || b.IsExtensionPaid ||
			b.ExtensionOrderCode == nil || *b.ExtensionOrderCode != p.OrderCode {
			return nil
		}

		b.EndTime = p.PreviousEndTime
		b.BasePrice = p.PreviousBase
		b.PlatformFee = p.PreviousFee
		b.TotalAmount = p.PreviousTotal
		b.ExtensionAmount = 0
		b.ExtensionOrderCode = nil
		b.PreviousEndTime = nil
		b.UpdatedAt = now
		if err := cancelPendingPayment(ctx, r, p.OrderCode, now); err != nil {
			return err
		}
		if err := saveBooking(ctx, r, b); err != nil {
			return err
		}
		reverted = true
		return nil
	})
	if err != nil {
		return finish(err, "revert unpaid extension")
	}
	if !reverted {
		logger.Debug("Extension no longer awaiting payment, revert skipped", "booking_id", bookingID, "order_code", p.OrderCode)
		return nil
	}
	logger.Info("Unpaid extension reverted", "booking_id", bookingID, "end_time", b.EndTime)
	s.notifyUser(ctx, b.RenterID, "Your extension was cancelled", "extension_reverted", map[string]any{
		"BookingID": b.ID, "End": b.EndTime.Format(time.RFC1123),
	})
	return nil
}
