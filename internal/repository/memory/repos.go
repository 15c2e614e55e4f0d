package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"
	"carrent-backend/internal/repository"

	"github.com/google/uuid"
)

func visible(deletedAt *time.Time, inc repository.Inclusion) bool {
	return inc == repository.IncludeDeleted || deletedAt == nil
}

type userRepo struct{ r *repos }

func (u userRepo) Create(_ context.Context, user *domain.User) error {
	return u.r.do(func(d *data) error {
		for _, existing := range d.users {
			if existing.Email == user.Email {
				return fmt.Errorf("%w: users_email_key", repository.ErrDuplicate)
			}
		}
		user.ID = int32(d.nextID())
		v := *user
		v.Phone = slices.Clone(user.Phone)
		d.users[user.ID] = v
		return nil
	})
}

func (u userRepo) GetByID(_ context.Context, id int32, inc repository.Inclusion) (*domain.User, error) {
	var out domain.User
	err := u.r.do(func(d *data) error {
		v, ok := d.users[id]
		if !ok || !visible(v.DeletedAt, inc) {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u userRepo) IncrementCancelledBookings(_ context.Context, id int32) error {
	return u.r.do(func(d *data) error {
		v, ok := d.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		v.CancelledBookings++
		d.users[id] = v
		return nil
	})
}

type keyRepo struct{ r *repos }

func (k keyRepo) Create(_ context.Context, key *domain.EncryptionKey) error {
	return k.r.do(func(d *data) error {
		key.ID = int32(d.nextID())
		d.keys[key.ID] = *key
		return nil
	})
}

func (k keyRepo) GetByID(_ context.Context, id int32) (*domain.EncryptionKey, error) {
	var out domain.EncryptionKey
	err := k.r.do(func(d *data) error {
		v, ok := d.keys[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type carRepo struct{ r *repos }

func (c carRepo) Create(_ context.Context, car *domain.Car) error {
	return c.r.do(func(d *data) error {
		car.ID = int32(d.nextID())
		d.cars[car.ID] = *car
		return nil
	})
}

func (c carRepo) GetByID(_ context.Context, id int32, inc repository.Inclusion) (*domain.Car, error) {
	var out domain.Car
	err := c.r.do(func(d *data) error {
		v, ok := d.cars[id]
		if !ok || !visible(v.DeletedAt, inc) {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c carRepo) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Car, error) {
	return c.GetByID(ctx, id, repository.ExcludeDeleted)
}

func (c carRepo) Update(_ context.Context, car *domain.Car) error {
	return c.r.do(func(d *data) error {
		if _, ok := d.cars[car.ID]; !ok {
			return repository.ErrNotFound
		}
		d.cars[car.ID] = *car
		return nil
	})
}

type gpsRepo struct{ r *repos }

func (g gpsRepo) Create(_ context.Context, device *domain.GPSDevice) error {
	return g.r.do(func(d *data) error {
		for _, existing := range d.devices {
			if existing.OSBuildID == device.OSBuildID {
				return fmt.Errorf("%w: gps_devices_os_build_id_key", repository.ErrDuplicate)
			}
		}
		device.ID = int32(d.nextID())
		d.devices[device.ID] = *device
		return nil
	})
}

func (g gpsRepo) GetByID(_ context.Context, id int32) (*domain.GPSDevice, error) {
	var out domain.GPSDevice
	err := g.r.do(func(d *data) error {
		v, ok := d.devices[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g gpsRepo) Claim(_ context.Context, id int32) error {
	return g.r.do(func(d *data) error {
		v, ok := d.devices[id]
		if !ok || v.Status != domain.GPSDeviceStatusAvailable {
			return repository.ErrDeviceUnavailable
		}
		v.Status = domain.GPSDeviceStatusInUsed
		d.devices[id] = v
		return nil
	})
}

func (g gpsRepo) CreateCarGPS(_ context.Context, b *domain.CarGPS) error {
	return g.r.do(func(d *data) error {
		if _, ok := d.carGPS[b.CarID]; ok {
			return fmt.Errorf("%w: car_gps_pkey", repository.ErrDuplicate)
		}
		for _, existing := range d.carGPS {
			if existing.DeviceID == b.DeviceID {
				return fmt.Errorf("%w: car_gps_device_id_key", repository.ErrDuplicate)
			}
		}
		d.carGPS[b.CarID] = *b
		return nil
	})
}

func (g gpsRepo) GetCarGPS(_ context.Context, carID int32) (*domain.CarGPS, error) {
	var out domain.CarGPS
	err := g.r.do(func(d *data) error {
		v, ok := d.carGPS[carID]
		if !ok {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g gpsRepo) UpdateCarGPSLocation(_ context.Context, carID int32, p geo.Point, at time.Time) error {
	return g.r.do(func(d *data) error {
		v, ok := d.carGPS[carID]
		if !ok {
			return repository.ErrNotFound
		}
		v.Location = p
		v.UpdatedAt = at
		d.carGPS[carID] = v
		return nil
	})
}

type contractRepo struct{ r *repos }

func (c contractRepo) Create(_ context.Context, contract *domain.CarContract) error {
	return c.r.do(func(d *data) error {
		for _, existing := range d.contracts {
			if existing.CarID == contract.CarID {
				return fmt.Errorf("%w: car_contracts_car_id_key", repository.ErrDuplicate)
			}
		}
		contract.ID = int32(d.nextID())
		d.contracts[contract.ID] = *contract
		return nil
	})
}

func (c contractRepo) GetByCarID(_ context.Context, carID int32) (*domain.CarContract, error) {
	var out domain.CarContract
	err := c.r.do(func(d *data) error {
		for _, v := range d.contracts {
			if v.CarID == carID {
				out = v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c contractRepo) GetByCarIDForUpdate(ctx context.Context, carID int32) (*domain.CarContract, error) {
	return c.GetByCarID(ctx, carID)
}

func (c contractRepo) Update(_ context.Context, contract *domain.CarContract) error {
	return c.r.do(func(d *data) error {
		if _, ok := d.contracts[contract.ID]; !ok {
			return repository.ErrNotFound
		}
		d.contracts[contract.ID] = *contract
		return nil
	})
}

type inspectionRepo struct{ r *repos }

func (i inspectionRepo) Create(_ context.Context, s *domain.InspectionSchedule) error {
	return i.r.do(func(d *data) error {
		s.ID = int32(d.nextID())
		d.inspections[s.ID] = *s
		return nil
	})
}

func (i inspectionRepo) GetByID(_ context.Context, id int32, inc repository.Inclusion) (*domain.InspectionSchedule, error) {
	var out domain.InspectionSchedule
	err := i.r.do(func(d *data) error {
		v, ok := d.inspections[id]
		if !ok || !visible(v.DeletedAt, inc) {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (i inspectionRepo) GetByIDForUpdate(ctx context.Context, id int32) (*domain.InspectionSchedule, error) {
	return i.GetByID(ctx, id, repository.ExcludeDeleted)
}

func (i inspectionRepo) GetActiveByCarIDForUpdate(_ context.Context, carID int32) (*domain.InspectionSchedule, error) {
	var out *domain.InspectionSchedule
	err := i.r.do(func(d *data) error {
		for _, v := range d.inspections {
			if v.CarID != carID || v.DeletedAt != nil {
				continue
			}
			if v.Status != domain.InspectionStatusInProgress && v.Status != domain.InspectionStatusSigned {
				continue
			}
			if out == nil || v.ID > out.ID {
				out = &v
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (i inspectionRepo) Update(_ context.Context, s *domain.InspectionSchedule) error {
	return i.r.do(func(d *data) error {
		if _, ok := d.inspections[s.ID]; !ok {
			return repository.ErrNotFound
		}
		d.inspections[s.ID] = *s
		return nil
	})
}

type bookingRepo struct{ r *repos }

func (b bookingRepo) Create(_ context.Context, booking *domain.Booking) error {
	return b.r.do(func(d *data) error {
		for _, v := range d.bookings {
			if v.DeletedAt == nil && v.RenterID == booking.RenterID && v.CarID == booking.CarID && v.StartTime.Equal(booking.StartTime) {
				return fmt.Errorf("%w: bookings_renter_car_start_key", repository.ErrDuplicate)
			}
		}
		booking.ID = int32(d.nextID())
		booking.Version = 1
		v := *booking
		v.ReturnPhotoURLs = slices.Clone(booking.ReturnPhotoURLs)
		d.bookings[booking.ID] = v
		return nil
	})
}

func (b bookingRepo) GetByID(_ context.Context, id int32, inc repository.Inclusion) (*domain.Booking, error) {
	var out domain.Booking
	err := b.r.do(func(d *data) error {
		v, ok := d.bookings[id]
		if !ok || !visible(v.DeletedAt, inc) {
			return repository.ErrNotFound
		}
		out = v
		out.ReturnPhotoURLs = slices.Clone(v.ReturnPhotoURLs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b bookingRepo) GetByIDForUpdate(ctx context.Context, id int32) (*domain.Booking, error) {
	return b.GetByID(ctx, id, repository.ExcludeDeleted)
}

func (b bookingRepo) Update(_ context.Context, booking *domain.Booking) error {
	return b.r.do(func(d *data) error {
		cur, ok := d.bookings[booking.ID]
		if !ok || cur.Version != booking.Version {
			return repository.ErrStaleVersion
		}
		booking.Version++
		v := *booking
		v.ReturnPhotoURLs = slices.Clone(booking.ReturnPhotoURLs)
		d.bookings[booking.ID] = v
		return nil
	})
}

func (b bookingRepo) ListBlockingByCar(_ context.Context, carID int32, start, end time.Time) ([]domain.Booking, error) {
	var out []domain.Booking
	err := b.r.do(func(d *data) error {
		for _, v := range d.bookings {
			if v.CarID == carID && v.Blocking() && v.Overlaps(start, end) {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, err
}

func (b bookingRepo) ListOngoingByCarForUpdate(_ context.Context, carID int32) ([]domain.Booking, error) {
	var out []domain.Booking
	err := b.r.do(func(d *data) error {
		for _, v := range d.bookings {
			if v.CarID == carID && v.DeletedAt == nil && v.Status == domain.BookingStatusOngoing {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (b bookingRepo) CreateContract(_ context.Context, c *domain.BookingContract) error {
	return b.r.do(func(d *data) error {
		for _, v := range d.bookingContracts {
			if v.BookingID == c.BookingID {
				return fmt.Errorf("%w: booking_contracts_booking_id_key", repository.ErrDuplicate)
			}
		}
		c.ID = int32(d.nextID())
		d.bookingContracts[c.ID] = *c
		return nil
	})
}

func (b bookingRepo) GetContract(_ context.Context, bookingID int32) (*domain.BookingContract, error) {
	var out domain.BookingContract
	err := b.r.do(func(d *data) error {
		for _, v := range d.bookingContracts {
			if v.BookingID == bookingID {
				out = v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b bookingRepo) UpdateContract(_ context.Context, c *domain.BookingContract) error {
	return b.r.do(func(d *data) error {
		if _, ok := d.bookingContracts[c.ID]; !ok {
			return repository.ErrNotFound
		}
		d.bookingContracts[c.ID] = *c
		return nil
	})
}

type tripRepo struct{ r *repos }

func (t tripRepo) Create(_ context.Context, tr *domain.TripTracking) error {
	return t.r.do(func(d *data) error {
		tr.ID = d.nextID()
		d.trips = append(d.trips, *tr)
		return nil
	})
}

func (t tripRepo) GetLatest(_ context.Context, bookingID int32) (*domain.TripTracking, error) {
	var out *domain.TripTracking
	err := t.r.do(func(d *data) error {
		for i := len(d.trips) - 1; i >= 0; i-- {
			if d.trips[i].BookingID == bookingID {
				v := d.trips[i]
				out = &v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (t tripRepo) ListByBooking(_ context.Context, bookingID int32) ([]domain.TripTracking, error) {
	var out []domain.TripTracking
	err := t.r.do(func(d *data) error {
		for _, v := range d.trips {
			if v.BookingID == bookingID {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

type feedbackRepo struct{ r *repos }

func (f feedbackRepo) Create(_ context.Context, fb *domain.Feedback) error {
	return f.r.do(func(d *data) error {
		for _, v := range d.feedback {
			if v.BookingID == fb.BookingID && v.Type == fb.Type {
				return fmt.Errorf("%w: feedbacks_booking_id_type_key", repository.ErrDuplicate)
			}
		}
		fb.ID = int32(d.nextID())
		d.feedback = append(d.feedback, *fb)
		return nil
	})
}

func (f feedbackRepo) Exists(_ context.Context, bookingID int32, feedbackType domain.FeedbackType) (bool, error) {
	var found bool
	err := f.r.do(func(d *data) error {
		for _, v := range d.feedback {
			if v.BookingID == bookingID && v.Type == feedbackType {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

type paymentRepo struct{ r *repos }

func (p paymentRepo) Create(_ context.Context, tx *domain.PaymentTransaction) error {
	return p.r.do(func(d *data) error {
		for _, v := range d.payments {
			if v.OrderCode == tx.OrderCode {
				return fmt.Errorf("%w: payment_transactions_order_code_key", repository.ErrDuplicate)
			}
		}
		tx.ID = int32(d.nextID())
		d.payments[tx.ID] = *tx
		return nil
	})
}

func (p paymentRepo) GetByOrderCodeForUpdate(ctx context.Context, orderCode int64) (*domain.PaymentTransaction, error) {
	return p.GetByOrderCode(ctx, orderCode)
}

func (p paymentRepo) GetByOrderCode(_ context.Context, orderCode int64) (*domain.PaymentTransaction, error) {
	var out domain.PaymentTransaction
	err := p.r.do(func(d *data) error {
		for _, v := range d.payments {
			if v.OrderCode == orderCode {
				out = v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p paymentRepo) GetPendingByBooking(_ context.Context, bookingID int32, kind domain.PaymentKind) (*domain.PaymentTransaction, error) {
	var out *domain.PaymentTransaction
	err := p.r.do(func(d *data) error {
		for _, v := range d.payments {
			if v.BookingID != bookingID || v.Kind != kind || v.Status != domain.PaymentStatusPending {
				continue
			}
			if out == nil || v.ID > out.ID {
				out = &v
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p paymentRepo) Update(_ context.Context, tx *domain.PaymentTransaction) error {
	return p.r.do(func(d *data) error {
		if _, ok := d.payments[tx.ID]; !ok {
			return repository.ErrNotFound
		}
		d.payments[tx.ID] = *tx
		return nil
	})
}

type jobRepo struct{ r *repos }

func (j jobRepo) Enqueue(_ context.Context, job *domain.ScheduledJob) error {
	return j.r.do(func(d *data) error {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		if _, ok := d.jobs[job.ID]; ok {
			return fmt.Errorf("%w: scheduled_jobs_pkey", repository.ErrDuplicate)
		}
		job.Status = domain.JobStatusPending
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = job.CreatedAt
		}
		d.jobs[job.ID] = *job
		return nil
	})
}

func (j jobRepo) ClaimDue(_ context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduledJob, error) {
	var out []domain.ScheduledJob
	err := j.r.do(func(d *data) error {
		var due []domain.ScheduledJob
		for _, v := range d.jobs {
			switch {
			case v.Status == domain.JobStatusPending && !v.RunAt.After(now):
				due = append(due, v)
			case v.Status == domain.JobStatusRunning && !v.UpdatedAt.After(staleBefore):
				due = append(due, v)
			}
		}
		sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
		if len(due) > limit {
			due = due[:limit]
		}
		for _, v := range due {
			v.Status = domain.JobStatusRunning
			v.Attempts++
			v.UpdatedAt = now
			d.jobs[v.ID] = v
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (j jobRepo) MarkDone(_ context.Context, id uuid.UUID, at time.Time) error {
	return j.r.do(func(d *data) error {
		v, ok := d.jobs[id]
		if !ok {
			return repository.ErrNotFound
		}
		v.Status = domain.JobStatusDone
		v.UpdatedAt = at
		d.jobs[id] = v
		return nil
	})
}

func (j jobRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) error {
	return j.r.do(func(d *data) error {
		v, ok := d.jobs[id]
		if !ok {
			return repository.ErrNotFound
		}
		v.LastError = errMsg
		v.UpdatedAt = at
		if retryAt != nil {
			v.Status = domain.JobStatusPending
			v.RunAt = *retryAt
		} else {
			v.Status = domain.JobStatusFailed
		}
		d.jobs[id] = v
		return nil
	})
}

// ScheduledJobs returns a snapshot of every scheduled job, for assertions in tests.
func (s *Store) ScheduledJobs() []domain.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduledJob, 0, len(s.data.jobs))
	for _, v := range s.data.jobs {
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RunAt.Before(out[b].RunAt) })
	return out
}
