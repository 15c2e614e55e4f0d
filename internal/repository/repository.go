package repository

import (
	"context"
	"errors"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrStaleVersion reports an update against an outdated row version.
	ErrStaleVersion = errors.New("stale version")
	// ErrDeviceUnavailable reports a GPS device claim that lost the race.
	ErrDeviceUnavailable = errors.New("gps device unavailable")
)

// Inclusion states whether soft-deleted rows take part in a query. Every
// query over a soft-deletable table must pass one explicitly.
type Inclusion int

const (
	ExcludeDeleted Inclusion = iota
	IncludeDeleted
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int32, inc Inclusion) (*domain.User, error)
	IncrementCancelledBookings(ctx context.Context, id int32) error
}

type CarRepository interface {
	Create(ctx context.Context, car *domain.Car) error
	GetByID(ctx context.Context, id int32, inc Inclusion) (*domain.Car, error)
	GetByIDForUpdate(ctx context.Context, id int32) (*domain.Car, error)
	Update(ctx context.Context, car *domain.Car) error
}

type GPSDeviceRepository interface {
	Create(ctx context.Context, device *domain.GPSDevice) error
	GetByID(ctx context.Context, id int32) (*domain.GPSDevice, error)
	// Claim moves a device from Available to InUsed in one statement.
	// It returns ErrDeviceUnavailable when the device is not Available.
	Claim(ctx context.Context, id int32) error
	CreateCarGPS(ctx context.Context, binding *domain.CarGPS) error
	GetCarGPS(ctx context.Context, carID int32) (*domain.CarGPS, error)
	UpdateCarGPSLocation(ctx context.Context, carID int32, location geo.Point, at time.Time) error
}

type CarContractRepository interface {
	Create(ctx context.Context, contract *domain.CarContract) error
	GetByCarID(ctx context.Context, carID int32) (*domain.CarContract, error)
	GetByCarIDForUpdate(ctx context.Context, carID int32) (*domain.CarContract, error)
	Update(ctx context.Context, contract *domain.CarContract) error
}

type InspectionScheduleRepository interface {
	Create(ctx context.Context, schedule *domain.InspectionSchedule) error
	GetByID(ctx context.Context, id int32, inc Inclusion) (*domain.InspectionSchedule, error)
	GetByIDForUpdate(ctx context.Context, id int32) (*domain.InspectionSchedule, error)
	// GetActiveByCarIDForUpdate returns the latest InProgress or Signed
	// schedule of the car.
	GetActiveByCarIDForUpdate(ctx context.Context, carID int32) (*domain.InspectionSchedule, error)
	Update(ctx context.Context, schedule *domain.InspectionSchedule) error
}

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id int32, inc Inclusion) (*domain.Booking, error)
	GetByIDForUpdate(ctx context.Context, id int32) (*domain.Booking, error)
	// Update writes the booking if its Version is current and bumps it.
	Update(ctx context.Context, booking *domain.Booking) error
	// ListBlockingByCar returns non-deleted bookings of the car that are not
	// cancelled or rejected and overlap [start, end).
	ListBlockingByCar(ctx context.Context, carID int32, start, end time.Time) ([]domain.Booking, error)
	ListOngoingByCarForUpdate(ctx context.Context, carID int32) ([]domain.Booking, error)

	CreateContract(ctx context.Context, contract *domain.BookingContract) error
	GetContract(ctx context.Context, bookingID int32) (*domain.BookingContract, error)
	UpdateContract(ctx context.Context, contract *domain.BookingContract) error
}

type TripTrackingRepository interface {
	Create(ctx context.Context, tracking *domain.TripTracking) error
	// GetLatest returns ErrNotFound when the booking has no samples yet.
	GetLatest(ctx context.Context, bookingID int32) (*domain.TripTracking, error)
	ListByBooking(ctx context.Context, bookingID int32) ([]domain.TripTracking, error)
}

type FeedbackRepository interface {
	// Create returns ErrDuplicate when the booking already has feedback of
	// the same type.
	Create(ctx context.Context, feedback *domain.Feedback) error
	Exists(ctx context.Context, bookingID int32, feedbackType domain.FeedbackType) (bool, error)
}

type EncryptionKeyRepository interface {
	Create(ctx context.Context, key *domain.EncryptionKey) error
	GetByID(ctx context.Context, id int32) (*domain.EncryptionKey, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, tx *domain.PaymentTransaction) error
	GetByOrderCode(ctx context.Context, orderCode int64) (*domain.PaymentTransaction, error)
	GetByOrderCodeForUpdate(ctx context.Context, orderCode int64) (*domain.PaymentTransaction, error)
	GetPendingByBooking(ctx context.Context, bookingID int32, kind domain.PaymentKind) (*domain.PaymentTransaction, error)
	Update(ctx context.Context, tx *domain.PaymentTransaction) error
}

type JobRepository interface {
	Enqueue(ctx context.Context, job *domain.ScheduledJob) error
	// ClaimDue atomically marks up to limit due Pending jobs Running and
	// returns them. Concurrent claimers never receive the same job. Running
	// jobs last touched at or before staleBefore are claimed again, so a job
	// whose runner crashed is not stranded.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduledJob, error)
	MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records err; the job returns to Pending at retryAt, or to
	// Failed when retryAt is nil.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) error
}

// Repos is the set of repositories bound to one connection or transaction.
type Repos interface {
	Users() UserRepository
	Cars() CarRepository
	GPS() GPSDeviceRepository
	Contracts() CarContractRepository
	Inspections() InspectionScheduleRepository
	Bookings() BookingRepository
	Trips() TripTrackingRepository
	Feedback() FeedbackRepository
	Keys() EncryptionKeyRepository
	Payments() PaymentRepository
	Jobs() JobRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos
	// WithinTx runs fn in one transaction: committed when fn returns nil,
	// rolled back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
