package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type LocationRequest struct {
	BookingID int32   `validate:"required"`
	Lat       float64 `validate:"min=-90,max=90"`
	Lon       float64 `validate:"min=-180,max=180"`
}

type PointRequest struct {
	Lat float64 `validate:"min=-90,max=90"`
	Lon float64 `validate:"min=-180,max=180"`
}

type BatchLocationRequest struct {
	BookingID int32          `validate:"required"`
	Points    []PointRequest `validate:"required,min=1,max=500,dive"`
}

// LocationEvent is broadcast on the booking and car location topics.
type LocationEvent struct {
	CarID              int32     `json:"car_id"`
	BookingID          int32     `json:"booking_id,omitempty"`
	Lat                float64   `json:"lat"`
	Lon                float64   `json:"lon"`
	Distance           float64   `json:"distance,omitempty"`
	CumulativeDistance float64   `json:"cumulative_distance,omitempty"`
	At                 time.Time `json:"at"`
}

func BookingLocationTopic(bookingID int32) string {
	return fmt.Sprintf("bookings/%d/location", bookingID)
}

func CarLocationTopic(carID int32) string {
	return fmt.Sprintf("cars/%d/location", carID)
}

type telemetryService struct {
	Deps
}

func NewTelemetryService(d Deps) TelemetryService {
	return &telemetryService{Deps: d}
}

// publish is fire-and-forget: a broadcast failure never fails the command.
func (s *telemetryService) publish(topic string, ev LocationEvent) {
	if s.Publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("Failed to encode location event", "topic", topic, "error", err)
		return
	}
	if err := s.Publisher.Publish(topic, payload); err != nil {
		logger.Warn("Failed to broadcast location", "topic", topic, "error", err)
	}
}

func trackingEvent(carID int32, t *domain.TripTracking) LocationEvent {
	return LocationEvent{
		CarID:              carID,
		BookingID:          t.BookingID,
		Lat:                t.Location.Lat,
		Lon:                t.Location.Lon,
		Distance:           t.Distance,
		CumulativeDistance: t.CumulativeDistance,
		At:                 t.CreatedAt,
	}
}

// appendSample adds the next sample after the latest recorded one. The caller
// holds the booking lock.
func appendSample(ctx context.Context, r repository.Repos, bookingID int32, p geo.Point, at time.Time) (*domain.TripTracking, error) {
	prev, err := r.Trips().GetLatest(ctx, bookingID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, lookupErr(err, "trip tracking of booking %d", bookingID)
	}
	next := domain.NextTripTracking(bookingID, prev, p, at)
	if err := r.Trips().Create(ctx, next); err != nil {
		return nil, writeErr(err, "trip tracking of booking %d", bookingID)
	}
	return next, nil
}

// RecordLocation handles a device ping. The device location always updates;
// a trip sample is appended only when exactly one booking of the car is
// ongoing. It returns that sample, or nil.
func (s *telemetryService) RecordLocation(ctx context.Context, carID int32, lat, lon float64) (*domain.TripTracking, error) {
	p, err := validatePoint(lat, lon)
	if err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var tracking *domain.TripTracking
	err = s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.GPS().GetCarGPS(ctx, carID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("car %d has no GPS device", carID)
			}
			return lookupErr(err, "gps binding of car %d", carID)
		}
		if err := r.GPS().UpdateCarGPSLocation(ctx, carID, p, now); err != nil {
			return writeErr(err, "gps binding of car %d", carID)
		}

		ongoing, err := r.Bookings().ListOngoingByCarForUpdate(ctx, carID)
		if err != nil {
			return apperr.Internal(err, "list ongoing bookings of car %d", carID)
		}
		switch len(ongoing) {
		case 0:
			return nil
		case 1:
			tracking, err = appendSample(ctx, r, ongoing[0].ID, p, now)
			return err
		default:
			logger.Warn("Car has several ongoing bookings, trip sample skipped", "car_id", carID, "bookings", len(ongoing))
			return nil
		}
	})
	if err != nil {
		return nil, finish(err, "record location")
	}

	s.publish(CarLocationTopic(carID), LocationEvent{CarID: carID, Lat: p.Lat, Lon: p.Lon, At: now})
	if tracking != nil {
		s.publish(BookingLocationTopic(tracking.BookingID), trackingEvent(carID, tracking))
	}
	return tracking, nil
}

func (s *telemetryService) StartTrip(ctx context.Context, c Caller, req LocationRequest) (*domain.Booking, error) {
	logger.EnterMethod("telemetryService.StartTrip", "bookingID", req.BookingID)
	if err := authorize(c, domain.ActionStartTrip); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	p, err := validatePoint(req.Lat, req.Lon)
	if err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		b    *domain.Booking
		seed *domain.TripTracking
	)
	err = s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = loadBookingForUpdate(ctx, r, req.BookingID); err != nil {
			return err
		}
		if b.RenterID != c.UserID {
			return apperr.Forbidden("booking %d belongs to another renter", b.ID)
		}
		if !domain.CanTransition(b.Status, domain.BookingStatusOngoing) {
			return apperr.Conflict("booking %d is %s; the trip can start only when ready for pickup", b.ID, b.Status)
		}

		binding, err := r.GPS().GetCarGPS(ctx, b.CarID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("car %d has no GPS device", b.CarID)
			}
			return lookupErr(err, "gps binding of car %d", b.CarID)
		}
		if d := geo.DistanceMeters(binding.Location, p); d > domain.PickupRadiusMeters {
			return apperr.Conflict("you are %.1f m from the car; come within %.0f m to start the trip", d, domain.PickupRadiusMeters)
		}

		seed = domain.NextTripTracking(b.ID, nil, p, now)
		if err := r.Trips().Create(ctx, seed); err != nil {
			return writeErr(err, "trip tracking of booking %d", b.ID)
		}
		if err := b.TransitionTo(domain.BookingStatusOngoing, now); err != nil {
			return err
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		logger.ExitMethodWithError("telemetryService.StartTrip", err)
		return nil, finish(err, "start trip")
	}
	logger.Info("Trip started", "booking_id", b.ID, "car_id", b.CarID)
	s.publish(BookingLocationTopic(b.ID), trackingEvent(b.CarID, seed))
	logger.ExitMethod("telemetryService.StartTrip")
	return b, nil
}

// ongoingTrip locks the booking and checks the caller is driving it.
func ongoingTrip(ctx context.Context, r repository.Repos, c Caller, bookingID int32) (*domain.Booking, error) {
	b, err := loadBookingForUpdate(ctx, r, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RenterID != c.UserID {
		return nil, apperr.Forbidden("booking %d belongs to another renter", b.ID)
	}
	if b.Status != domain.BookingStatusOngoing {
		return nil, apperr.Conflict("booking %d is %s, not Ongoing", b.ID, b.Status)
	}
	return b, nil
}

func (s *telemetryService) TrackTripLocation(ctx context.Context, c Caller, req LocationRequest) (*domain.TripTracking, error) {
	if err := authorize(c, domain.ActionTrackTrip); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	p, err := validatePoint(req.Lat, req.Lon)
	if err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		b        *domain.Booking
		tracking *domain.TripTracking
	)
	err = s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = ongoingTrip(ctx, r, c, req.BookingID); err != nil {
			return err
		}
		tracking, err = appendSample(ctx, r, b.ID, p, now)
		return err
	})
	if err != nil {
		return nil, finish(err, "track trip location")
	}
	s.publish(BookingLocationTopic(b.ID), trackingEvent(b.CarID, tracking))
	return tracking, nil
}

func (s *telemetryService) BatchTrackTripLocation(ctx context.Context, c Caller, req BatchLocationRequest) ([]domain.TripTracking, error) {
	if err := authorize(c, domain.ActionTrackTrip); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	points := make([]geo.Point, len(req.Points))
	for i, pt := range req.Points {
		p, err := validatePoint(pt.Lat, pt.Lon)
		if err != nil {
			return nil, apperr.Validation("point %d: %s", i, apperr.Message(err))
		}
		points[i] = p
	}

	now := s.Clock.now()
	var (
		b   *domain.Booking
		out []domain.TripTracking
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if b, err = ongoingTrip(ctx, r, c, req.BookingID); err != nil {
			return err
		}
		out = make([]domain.TripTracking, 0, len(points))
		for _, p := range points {
			t, err := appendSample(ctx, r, b.ID, p, now)
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	})
	if err != nil {
		return nil, finish(err, "batch track trip location")
	}
	last := out[len(out)-1]
	s.publish(BookingLocationTopic(b.ID), trackingEvent(b.CarID, &last))
	logger.Debug("Trip samples recorded", "booking_id", b.ID, "count", len(out))
	return out, nil
}
