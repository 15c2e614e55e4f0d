package postgres

import (
	"context"
	"fmt"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"

	"github.com/lib/pq"
)

type bookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) repository.BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, renter_id, car_id, status, start_time, end_time, actual_return_time,
	base_price, platform_fee, excess_day_fee, excess_distance_fee, total_amount, paid_amount,
	distance_traveled, is_paid, extension_amount, is_extension_paid, extension_order_code,
	previous_end_time, refund_amount, refund_date, payment_order_code, is_car_returned,
	return_photo_urls, version, created_at, updated_at, deleted_at`

func scanBooking(s scanner) (*domain.Booking, error) {
	b := &domain.Booking{}
	var photos pq.StringArray
	err := s.Scan(&b.ID, &b.RenterID, &b.CarID, &b.Status, &b.StartTime, &b.EndTime, &b.ActualReturnTime,
		&b.BasePrice, &b.PlatformFee, &b.ExcessDayFee, &b.ExcessDistanceFee, &b.TotalAmount, &b.PaidAmount,
		&b.DistanceTraveled, &b.IsPaid, &b.ExtensionAmount, &b.IsExtensionPaid, &b.ExtensionOrderCode,
		&b.PreviousEndTime, &b.RefundAmount, &b.RefundDate, &b.PaymentOrderCode, &b.IsCarReturned,
		&photos, &b.Version, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(photos) > 0 {
		b.ReturnPhotoURLs = []string(photos)
	}
	return b, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	logger.EnterMethod("bookingRepository.Create", "renterID", b.RenterID, "carID", b.CarID)

	query := `
		INSERT INTO bookings (
			renter_id, car_id, status, start_time, end_time, base_price, platform_fee,
			total_amount, is_paid, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
		RETURNING id, version
	`
	err := r.db.QueryRowContext(ctx, query,
		b.RenterID, b.CarID, b.Status, b.StartTime, b.EndTime, b.BasePrice, b.PlatformFee,
		b.TotalAmount, b.IsPaid, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID, &b.Version)
	if err != nil {
		logger.ExitMethodWithError("bookingRepository.Create", err, "carID", b.CarID)
		return mapError(err)
	}

	logger.ExitMethod("bookingRepository.Create", "bookingID", b.ID)
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int32, inc repository.Inclusion) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1` + deletedFilter(inc)
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

func (r *bookingRepository) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Booking, error) {
	logger.DatabaseCall("SELECT FOR UPDATE", "bookings", "bookingID", id)
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

func (r *bookingRepository) Update(ctx context.Context, b *domain.Booking) error {
	logger.EnterMethod("bookingRepository.Update", "bookingID", b.ID, "status", b.Status, "version", b.Version)

	query := `
		UPDATE bookings SET
			status = $1,
			start_time = $2,
			end_time = $3,
			actual_return_time = $4,
			base_price = $5,
			platform_fee = $6,
			excess_day_fee = $7,
			excess_distance_fee = $8,
			total_amount = $9,
			paid_amount = $10,
			distance_traveled = $11,
			is_paid = $12,
			extension_amount = $13,
			is_extension_paid = $14,
			extension_order_code = $15,
			previous_end_time = $16,
			refund_amount = $17,
			refund_date = $18,
			payment_order_code = $19,
			is_car_returned = $20,
			return_photo_urls = $21,
			updated_at = $22,
			deleted_at = $23,
			version = version + 1
		WHERE id = $24 AND version = $25
	`
	res, err := r.db.ExecContext(ctx, query,
		b.Status, b.StartTime, b.EndTime, b.ActualReturnTime,
		b.BasePrice, b.PlatformFee, b.ExcessDayFee, b.ExcessDistanceFee, b.TotalAmount, b.PaidAmount,
		b.DistanceTraveled, b.IsPaid, b.ExtensionAmount, b.IsExtensionPaid, b.ExtensionOrderCode,
		b.PreviousEndTime, b.RefundAmount, b.RefundDate, b.PaymentOrderCode, b.IsCarReturned,
		pq.Array(b.ReturnPhotoURLs), b.UpdatedAt, b.DeletedAt,
		b.ID, b.Version,
	)
	if err != nil {
		logger.ExitMethodWithError("bookingRepository.Update", err, "bookingID", b.ID)
		return err
	}
	if err := expectOne(res, repository.ErrStaleVersion); err != nil {
		logger.ExitMethodWithError("bookingRepository.Update", err, "bookingID", b.ID)
		return err
	}
	b.Version++

	logger.ExitMethod("bookingRepository.Update", "bookingID", b.ID)
	return nil
}

func (r *bookingRepository) ListBlockingByCar(ctx context.Context, carID int32, start, end time.Time) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE car_id = $1 AND deleted_at IS NULL
		  AND status NOT IN ($2, $3)
		  AND start_time < $4 AND end_time > $5
		ORDER BY start_time`
	return r.list(ctx, query, carID, domain.BookingStatusCancelled, domain.BookingStatusRejected, end, start)
}

func (r *bookingRepository) ListOngoingByCarForUpdate(ctx context.Context, carID int32) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE car_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY id FOR UPDATE`
	return r.list(ctx, query, carID, domain.BookingStatusOngoing)
}

func (r *bookingRepository) list(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *bookingRepository) CreateContract(ctx context.Context, c *domain.BookingContract) error {
	query := `INSERT INTO booking_contracts (booking_id, status, terms, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return mapError(r.db.QueryRowContext(ctx, query, c.BookingID, c.Status, c.Terms, c.CreatedAt, c.UpdatedAt).Scan(&c.ID))
}

func (r *bookingRepository) GetContract(ctx context.Context, bookingID int32) (*domain.BookingContract, error) {
	c := &domain.BookingContract{}
	query := `SELECT id, booking_id, status, terms, created_at, updated_at FROM booking_contracts WHERE booking_id = $1`
	err := r.db.QueryRowContext(ctx, query, bookingID).Scan(&c.ID, &c.BookingID, &c.Status, &c.Terms, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *bookingRepository) UpdateContract(ctx context.Context, c *domain.BookingContract) error {
	res, err := r.db.ExecContext(ctx, `UPDATE booking_contracts SET status = $1, terms = $2, updated_at = $3 WHERE id = $4`,
		c.Status, c.Terms, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}
