package postgres

import (
	"context"
	"fmt"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/repository"
)

type tripTrackingRepository struct {
	db DBTX
}

func NewTripTrackingRepository(db DBTX) repository.TripTrackingRepository {
	return &tripTrackingRepository{db: db}
}

const tripColumns = `id, booking_id, longitude, latitude, distance, cumulative_distance, created_at`

func scanTrip(s scanner) (*domain.TripTracking, error) {
	t := &domain.TripTracking{}
	err := s.Scan(&t.ID, &t.BookingID, &t.Location.Lon, &t.Location.Lat, &t.Distance, &t.CumulativeDistance, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *tripTrackingRepository) Create(ctx context.Context, t *domain.TripTracking) error {
	query := `INSERT INTO trip_trackings (booking_id, longitude, latitude, distance, cumulative_distance, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		t.BookingID, t.Location.Lon, t.Location.Lat, t.Distance, t.CumulativeDistance, t.CreatedAt).Scan(&t.ID)
	return mapError(err)
}

func (r *tripTrackingRepository) GetLatest(ctx context.Context, bookingID int32) (*domain.TripTracking, error) {
	query := `SELECT ` + tripColumns + ` FROM trip_trackings WHERE booking_id = $1 ORDER BY id DESC LIMIT 1`
	t, err := scanTrip(r.db.QueryRowContext(ctx, query, bookingID))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (r *tripTrackingRepository) ListByBooking(ctx context.Context, bookingID int32) ([]domain.TripTracking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trip_trackings WHERE booking_id = $1 ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query trip trackings: %w", err)
	}
	defer rows.Close()

	var trips []domain.TripTracking
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

type feedbackRepository struct {
	db DBTX
}

func NewFeedbackRepository(db DBTX) repository.FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) Create(ctx context.Context, f *domain.Feedback) error {
	query := `INSERT INTO feedbacks (booking_id, user_id, type, rating, comment, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, f.BookingID, f.UserID, f.Type, f.Rating, f.Comment, f.CreatedAt).Scan(&f.ID)
	return mapError(err)
}

func (r *feedbackRepository) Exists(ctx context.Context, bookingID int32, feedbackType domain.FeedbackType) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM feedbacks WHERE booking_id = $1 AND type = $2)`
	if err := r.db.QueryRowContext(ctx, query, bookingID, feedbackType).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
