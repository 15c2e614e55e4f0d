// Package memory is an in-process repository.Store for tests and local runs.
// A single mutex serialises every transaction, which gives the same
// guarantees the Postgres store gets from row locks.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/repository"

	"github.com/google/uuid"
)

type data struct {
	users            map[int32]domain.User
	keys             map[int32]domain.EncryptionKey
	cars             map[int32]domain.Car
	devices          map[int32]domain.GPSDevice
	carGPS           map[int32]domain.CarGPS
	contracts        map[int32]domain.CarContract
	inspections      map[int32]domain.InspectionSchedule
	bookings         map[int32]domain.Booking
	bookingContracts map[int32]domain.BookingContract
	trips            []domain.TripTracking
	feedback         []domain.Feedback
	payments         map[int32]domain.PaymentTransaction
	jobs             map[uuid.UUID]domain.ScheduledJob
	seq              int64
}

func newData() *data {
	return &data{
		users:            map[int32]domain.User{},
		keys:             map[int32]domain.EncryptionKey{},
		cars:             map[int32]domain.Car{},
		devices:          map[int32]domain.GPSDevice{},
		carGPS:           map[int32]domain.CarGPS{},
		contracts:        map[int32]domain.CarContract{},
		inspections:      map[int32]domain.InspectionSchedule{},
		bookings:         map[int32]domain.Booking{},
		bookingContracts: map[int32]domain.BookingContract{},
		payments:         map[int32]domain.PaymentTransaction{},
		jobs:             map[uuid.UUID]domain.ScheduledJob{},
	}
}

// clone copies the tables. Stored values are never mutated in place, so a
// shallow copy of each map is enough to restore on rollback.
func (d *data) clone() *data {
	return &data{
		users:            maps.Clone(d.users),
		keys:             maps.Clone(d.keys),
		cars:             maps.Clone(d.cars),
		devices:          maps.Clone(d.devices),
		carGPS:           maps.Clone(d.carGPS),
		contracts:        maps.Clone(d.contracts),
		inspections:      maps.Clone(d.inspections),
		bookings:         maps.Clone(d.bookings),
		bookingContracts: maps.Clone(d.bookingContracts),
		trips:            slices.Clone(d.trips),
		feedback:         slices.Clone(d.feedback),
		payments:         maps.Clone(d.payments),
		jobs:             maps.Clone(d.jobs),
		seq:              d.seq,
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

type Store struct {
	mu   sync.Mutex
	data *data
	*repos
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	s := &Store{data: newData()}
	s.repos = newRepos(s, false)
	return s
}

// WithinTx runs fn while holding the store lock and restores the previous
// state when fn fails or panics. fn must only use the Repos it is given.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()

	return fn(ctx, newRepos(s, true))
}

// do runs fn against the current tables, locking unless already inside WithinTx.
func (s *Store) do(inTx bool, fn func(d *data) error) error {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

type repos struct {
	st   *Store
	inTx bool
}

func newRepos(st *Store, inTx bool) *repos {
	return &repos{st: st, inTx: inTx}
}

func (r *repos) do(fn func(d *data) error) error { return r.st.do(r.inTx, fn) }

func (r *repos) Users() repository.UserRepository { return userRepo{r} }
func (r *repos) Cars() repository.CarRepository { return carRepo{r} }
func (r *repos) GPS() repository.GPSDeviceRepository { return gpsRepo{r} }
func (r *repos) Contracts() repository.CarContractRepository { return contractRepo{r} }
func (r *repos) Inspections() repository.InspectionScheduleRepository { return inspectionRepo{r} }
func (r *repos) Bookings() repository.BookingRepository { return bookingRepo{r} }
func (r *repos) Trips() repository.TripTrackingRepository { return tripRepo{r} }
func (r *repos) Feedback() repository.FeedbackRepository { return feedbackRepo{r} }
func (r *repos) Keys() repository.EncryptionKeyRepository { return keyRepo{r} }
func (r *repos) Payments() repository.PaymentRepository { return paymentRepo{r} }
func (r *repos) Jobs() repository.JobRepository { return jobRepo{r} }
