package service

import (
	"context"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/payment"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/security"
	"carrent-backend/internal/storage"
	"carrent-backend/internal/utils"
)

// Caller is the authenticated identity a command runs as.
type Caller struct {
	UserID int32
	Role   domain.Role
}

// Clock returns the current time. A nil Clock is the wall clock.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Crypto seals and opens PII fields with per-entity keys.
type Crypto interface {
	NewEntityKey(now time.Time) (*domain.EncryptionKey, error)
	Seal(k *domain.EncryptionKey, plaintext string) ([]byte, error)
	Open(k *domain.EncryptionKey, ciphertext []byte) (string, error)
}

// Notifier delivers e-mail. Failures are logged by the caller, never returned
// to the user.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}

// Publisher is the fire-and-forget realtime broadcast channel.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type PaymentProvider interface {
	CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error)
	VerifyWebhook(event payment.WebhookEvent) error
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store     repository.Store
	Crypto    Crypto
	Notifier  Notifier
	Publisher Publisher
	Objects   storage.ObjectStore
	Provider  PaymentProvider
	Tokens    security.TokenManager
	Pricing   utils.PricingPolicy
	// PublicBaseURL prefixes links sent in e-mails.
	PublicBaseURL string
	Clock         Clock
	// OrderCode generates payment order codes; nil uses newOrderCode.
	OrderCode func() int64
}

type ContractService interface {
	RegisterCar(ctx context.Context, c Caller, req RegisterCarRequest) (*domain.Car, error)
	RegisterGPSDevice(ctx context.Context, c Caller, req RegisterGPSDeviceRequest) (*domain.GPSDevice, error)
	CreateInspectionSchedule(ctx context.Context, c Caller, req CreateInspectionScheduleRequest) (*domain.InspectionSchedule, error)
	StartInspection(ctx context.Context, c Caller, scheduleID int32) (*domain.InspectionSchedule, error)
	UpdateContract(ctx context.Context, c Caller, req UpdateContractRequest) (*domain.CarContract, error)
	SignContract(ctx context.Context, c Caller, carID int32) (*domain.CarContract, error)
	CompleteInspection(ctx context.Context, c Caller, req CompleteInspectionRequest) (*domain.CarContract, error)
	ApproveInspectionSchedule(ctx context.Context, c Caller, req ApproveInspectionRequest) (*domain.InspectionSchedule, error)
	// ExpireInspectionSchedule is the job handler for unattended schedules.
	ExpireInspectionSchedule(ctx context.Context, scheduleID int32) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, c Caller, req CreateBookingRequest) (*domain.Booking, error)
	GetBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error)
	ApproveBooking(ctx context.Context, c Caller, bookingID int32, isApproved bool) (*domain.Booking, error)
	ExtendBookingDay(ctx context.Context, c Caller, req ExtendBookingRequest) (*domain.Booking, error)
	MarkBookingReadyForPickup(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error)
	ConfirmCarReturn(ctx context.Context, c Caller, req ConfirmReturnRequest) (*domain.Booking, error)
	CompleteBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error)
	CancelBooking(ctx context.Context, c Caller, bookingID int32) (*domain.Booking, error)
	CreateFeedback(ctx context.Context, c Caller, req FeedbackRequest) (*domain.Feedback, error)
	ListTripTrackings(ctx context.Context, c Caller, bookingID int32) ([]domain.TripTracking, error)
	// RevertUnpaidExtension is the job handler for an expired extension
	// payment window.
	RevertUnpaidExtension(ctx context.Context, bookingID int32, p domain.ExtensionTimeoutPayload) error
}

type TelemetryService interface {
	RecordLocation(ctx context.Context, carID int32, lat, lon float64) (*domain.TripTracking, error)
	StartTrip(ctx context.Context, c Caller, req LocationRequest) (*domain.Booking, error)
	TrackTripLocation(ctx context.Context, c Caller, req LocationRequest) (*domain.TripTracking, error)
	BatchTrackTripLocation(ctx context.Context, c Caller, req BatchLocationRequest) ([]domain.TripTracking, error)
}

type PaymentService interface {
	CreateBookingPaymentLink(ctx context.Context, c Caller, bookingID int32) (*domain.PaymentTransaction, error)
	// IssuePaymentLink opens or reuses a transaction of the given kind and
	// makes sure it has a checkout link.
	IssuePaymentLink(ctx context.Context, bookingID int32, kind domain.PaymentKind) (*domain.PaymentTransaction, error)
	IssuePaymentToken(ctx context.Context, bookingID int32) (string, error)
	ProcessBookingPaymentByToken(ctx context.Context, token string) (*domain.PaymentTransaction, error)
	ProcessPaymentWebhook(ctx context.Context, event payment.WebhookEvent) (*WebhookResult, error)
}
