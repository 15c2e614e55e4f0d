package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/envelope"
	"carrent-backend/internal/payment"
	"carrent-backend/internal/repository/memory"
	"carrent-backend/internal/security"
	"carrent-backend/internal/service"
	"carrent-backend/internal/utils"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	checksumKey = "test-checksum-key"
	plate       = "51A-123.45"
)

// carPoint is where the onboarded car's device last reported.
var carPoint = struct{ Lat, Lon float64 }{10.762622, 106.660172}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	args := m.Called(ctx, recipient, subject, htmlBody)
	return args.Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type fakeProvider struct {
	mu    sync.Mutex
	links []payment.LinkRequest
}

func (p *fakeProvider) CreatePaymentLink(_ context.Context, req payment.LinkRequest) (*payment.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, req)
	return &payment.Link{
		LinkID:      fmt.Sprintf("link-%d", req.OrderCode),
		CheckoutURL: fmt.Sprintf("https://pay.test/checkout/%d", req.OrderCode),
		Status:      "PENDING",
	}, nil
}

func (p *fakeProvider) VerifyWebhook(event payment.WebhookEvent) error {
	if signWebhook(event.Data) != event.Signature {
		return payment.ErrInvalidSignature
	}
	return nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (o *fakeObjects) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = body
	return "https://files.test/" + key, nil
}

func (o *fakeObjects) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key, nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *fakeObjects) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	now time.Time
	seq int64

	store     *memory.Store
	notifier  *MockNotifier
	publisher *recordingPublisher
	provider  *fakeProvider
	objects   *fakeObjects

	contracts service.ContractService
	bookings  service.BookingService
	telemetry service.TelemetryService
	payments  service.PaymentService

	owner, renter, otherRenter, technician, consultant, admin service.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		store:     memory.NewStore(),
		notifier:  new(MockNotifier),
		publisher: &recordingPublisher{},
		provider:  &fakeProvider{},
		objects:   &fakeObjects{objects: map[string][]byte{}},
	}
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	crypto, err := envelope.NewService(bytes.Repeat([]byte{7}, envelope.KeySize))
	require.NoError(t, err)

	deps := service.Deps{
		Store:         f.store,
		Crypto:        crypto,
		Notifier:      f.notifier,
		Publisher:     f.publisher,
		Objects:       f.objects,
		Provider:      f.provider,
		Tokens:        security.NewTokenManager("test-secret", time.Hour, 24*time.Hour),
		Pricing:       utils.PricingPolicy{PlatformFeePercent: 10, IncludedKmPerDay: 200, ExcessFeePerKm: 5},
		PublicBaseURL: "https://carrent.test",
		Clock:         func() time.Time { return f.now },
		OrderCode: func() int64 {
			f.seq++
			return 1000 + f.seq
		},
	}
	f.payments = service.NewPaymentService(deps)
	f.bookings = service.NewBookingService(deps, f.payments)
	f.contracts = service.NewContractService(deps)
	f.telemetry = service.NewTelemetryService(deps)

	f.owner = f.user("Olivia Owner", "owner@test.com", domain.RoleOwner)
	f.renter = f.user("Rick Renter", "renter@test.com", domain.RoleDriver)
	f.otherRenter = f.user("Rita Renter", "rita@test.com", domain.RoleDriver)
	f.technician = f.user("Tom Technician", "tech@test.com", domain.RoleTechnician)
	f.consultant = f.user("Cora Consultant", "consultant@test.com", domain.RoleConsultant)
	f.admin = f.user("Ada Admin", "admin@test.com", domain.RoleAdmin)
	return f
}

func (f *fixture) user(name, email string, role domain.Role) service.Caller {
	u := &domain.User{Name: name, Email: email, Role: role, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(f.t, f.store.Users().Create(f.ctx, u))
	return service.Caller{UserID: u.ID, Role: role}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// inspection registers a car and a device and walks the inspection up to the
// owner's signature.
func (f *fixture) inspection() (*domain.Car, *domain.GPSDevice, *domain.InspectionSchedule) {
	f.t.Helper()
	car, err := f.contracts.RegisterCar(f.ctx, f.owner, service.RegisterCarRequest{
		LicensePlate: plate, Make: "Toyota", Model: "Vios", PricePerHour: 10, PricePerDay: 100,
	})
	require.NoError(f.t, err)
	device, err := f.contracts.RegisterGPSDevice(f.ctx, f.technician, service.RegisterGPSDeviceRequest{
		OSBuildID: fmt.Sprintf("build-%d", car.ID), Name: "Tracker",
	})
	require.NoError(f.t, err)

	schedule, err := f.contracts.CreateInspectionSchedule(f.ctx, f.consultant, service.CreateInspectionScheduleRequest{
		CarID: car.ID, TechnicianID: f.technician.UserID,
		InspectionAddress: "1 Garage Street", InspectionDate: f.now.Add(time.Hour),
	})
	require.NoError(f.t, err)
	_, err = f.contracts.StartInspection(f.ctx, f.technician, schedule.ID)
	require.NoError(f.t, err)
	_, err = f.contracts.UpdateContract(f.ctx, f.technician, service.UpdateContractRequest{
		ScheduleID: schedule.ID, GPSDeviceID: &device.ID,
	})
	require.NoError(f.t, err)
	_, err = f.contracts.SignContract(f.ctx, f.owner, car.ID)
	require.NoError(f.t, err)
	return car, device, schedule
}

// onboardCar returns an Available car whose device reported carPoint.
func (f *fixture) onboardCar() *domain.Car {
	f.t.Helper()
	car, device, schedule := f.inspection()
	_, err := f.contracts.CompleteInspection(f.ctx, f.technician, service.CompleteInspectionRequest{
		ScheduleID: schedule.ID, InspectionResults: "No damage", GPSDeviceID: device.ID, IsApproved: true,
	})
	require.NoError(f.t, err)
	_, err = f.telemetry.RecordLocation(f.ctx, car.ID, carPoint.Lat, carPoint.Lon)
	require.NoError(f.t, err)
	return car
}

// bookCar creates a two-day booking starting tomorrow.
func (f *fixture) bookCar(car *domain.Car) *domain.Booking {
	f.t.Helper()
	b, err := f.bookings.CreateBooking(f.ctx, f.renter, service.CreateBookingRequest{
		CarID: car.ID, StartTime: f.now.Add(24 * time.Hour), EndTime: f.now.Add(72 * time.Hour),
	})
	require.NoError(f.t, err)
	return b
}

// readyBooking returns an approved booking marked ready by the owner.
func (f *fixture) readyBooking() (*domain.Car, *domain.Booking) {
	f.t.Helper()
	car := f.onboardCar()
	b := f.bookCar(car)
	_, err := f.bookings.ApproveBooking(f.ctx, f.owner, b.ID, true)
	require.NoError(f.t, err)
	b, err = f.bookings.MarkBookingReadyForPickup(f.ctx, f.owner, b.ID)
	require.NoError(f.t, err)
	return car, b
}

// ongoingBooking returns a booking whose trip started at carPoint.
func (f *fixture) ongoingBooking() (*domain.Car, *domain.Booking) {
	f.t.Helper()
	car, b := f.readyBooking()
	b, err := f.telemetry.StartTrip(f.ctx, f.renter, service.LocationRequest{
		BookingID: b.ID, Lat: carPoint.Lat, Lon: carPoint.Lon,
	})
	require.NoError(f.t, err)
	return car, b
}

func (f *fixture) booking(id int32) *domain.Booking {
	f.t.Helper()
	b, err := f.bookings.GetBooking(f.ctx, f.admin, id)
	require.NoError(f.t, err)
	return b
}

// webhook builds a correctly signed success event.
func webhook(orderCode, amount int64) payment.WebhookEvent {
	data := payment.WebhookData{
		OrderCode:           orderCode,
		Amount:              amount,
		Description:         "carrent",
		Reference:           fmt.Sprintf("ref-%d", orderCode),
		TransactionDateTime: "2026-03-02 09:00:00",
		Currency:            "VND",
		PaymentLinkID:       fmt.Sprintf("link-%d", orderCode),
		Code:                payment.CodeSuccess,
		Desc:                "success",
	}
	return payment.WebhookEvent{
		Code:      payment.CodeSuccess,
		Desc:      "success",
		Success:   true,
		Data:      data,
		Signature: signWebhook(data),
	}
}

// signWebhook stands in for the gateway's checksum over the data fields.
func signWebhook(d payment.WebhookData) string {
	return fmt.Sprintf("%s:%d:%d:%s", checksumKey, d.OrderCode, d.Amount, d.Reference)
}
