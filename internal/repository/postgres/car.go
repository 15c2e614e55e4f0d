package postgres

import (
	"context"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type carRepository struct {
	db DBTX
}

func NewCarRepository(db DBTX) repository.CarRepository {
	return &carRepository{db: db}
}

const carColumns = `id, owner_id, make, model, license_plate, encryption_key_id, price_per_hour, price_per_day,
	status, total_rents, cancelled_bookings, created_at, updated_at, deleted_at`

func scanCar(s scanner) (*domain.Car, error) {
	c := &domain.Car{}
	err := s.Scan(&c.ID, &c.OwnerID, &c.Make, &c.Model, &c.LicensePlate, &c.EncryptionKeyID, &c.PricePerHour, &c.PricePerDay,
		&c.Status, &c.TotalRents, &c.CancelledBookings, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *carRepository) Create(ctx context.Context, c *domain.Car) error {
	logger.EnterMethod("carRepository.Create", "ownerID", c.OwnerID)

	query := `
		INSERT INTO cars (
			owner_id, make, model, license_plate, encryption_key_id, price_per_hour, price_per_day,
			status, total_rents, cancelled_bookings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		c.OwnerID, c.Make, c.Model, c.LicensePlate, c.EncryptionKeyID, c.PricePerHour, c.PricePerDay,
		c.Status, c.TotalRents, c.CancelledBookings, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		logger.ExitMethodWithError("carRepository.Create", err, "ownerID", c.OwnerID)
		return mapError(err)
	}

	logger.ExitMethod("carRepository.Create", "carID", c.ID)
	return nil
}

func (r *carRepository) GetByID(ctx context.Context, id int32, inc repository.Inclusion) (*domain.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars WHERE id = $1` + deletedFilter(inc)
	c, err := scanCar(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *carRepository) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	c, err := scanCar(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *carRepository) Update(ctx context.Context, c *domain.Car) error {
	logger.EnterMethod("carRepository.Update", "carID", c.ID, "status", c.Status)

	query := `
		UPDATE cars SET
			make = $1,
			model = $2,
			license_plate = $3,
			price_per_hour = $4,
			price_per_day = $5,
			status = $6,
			total_rents = $7,
			cancelled_bookings = $8,
			updated_at = $9,
			deleted_at = $10
		WHERE id = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		c.Make, c.Model, c.LicensePlate, c.PricePerHour, c.PricePerDay, c.Status,
		c.TotalRents, c.CancelledBookings, c.UpdatedAt, c.DeletedAt, c.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("carRepository.Update", err, "carID", c.ID)
		return err
	}

	logger.ExitMethod("carRepository.Update", "carID", c.ID)
	return expectOne(res, repository.ErrNotFound)
}

type gpsDeviceRepository struct {
	db DBTX
}

func NewGPSDeviceRepository(db DBTX) repository.GPSDeviceRepository {
	return &gpsDeviceRepository{db: db}
}

func (r *gpsDeviceRepository) Create(ctx context.Context, d *domain.GPSDevice) error {
	query := `INSERT INTO gps_devices (os_build_id, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return mapError(r.db.QueryRowContext(ctx, query, d.OSBuildID, d.Name, d.Status, d.CreatedAt, d.UpdatedAt).Scan(&d.ID))
}

func (r *gpsDeviceRepository) GetByID(ctx context.Context, id int32) (*domain.GPSDevice, error) {
	d := &domain.GPSDevice{}
	query := `SELECT id, os_build_id, name, status, created_at, updated_at FROM gps_devices WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.OSBuildID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (r *gpsDeviceRepository) Claim(ctx context.Context, id int32) error {
	logger.DatabaseCall("UPDATE", "gps_devices.claim", "deviceID", id)
	query := `UPDATE gps_devices SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, domain.GPSDeviceStatusInUsed, id, domain.GPSDeviceStatusAvailable)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrDeviceUnavailable)
}

func (r *gpsDeviceRepository) CreateCarGPS(ctx context.Context, b *domain.CarGPS) error {
	query := `INSERT INTO car_gps (car_id, device_id, longitude, latitude, updated_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, b.CarID, b.DeviceID, b.Location.Lon, b.Location.Lat, b.UpdatedAt)
	return mapError(err)
}

func (r *gpsDeviceRepository) GetCarGPS(ctx context.Context, carID int32) (*domain.CarGPS, error) {
	b := &domain.CarGPS{}
	query := `SELECT car_id, device_id, longitude, latitude, updated_at FROM car_gps WHERE car_id = $1`
	err := r.db.QueryRowContext(ctx, query, carID).Scan(&b.CarID, &b.DeviceID, &b.Location.Lon, &b.Location.Lat, &b.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

func (r *gpsDeviceRepository) UpdateCarGPSLocation(ctx context.Context, carID int32, p geo.Point, at time.Time) error {
	query := `UPDATE car_gps SET longitude = $1, latitude = $2, updated_at = $3 WHERE car_id = $4`
	res, err := r.db.ExecContext(ctx, query, p.Lon, p.Lat, at, carID)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}
