package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentKind string

const (
	PaymentKindBooking    PaymentKind = "Booking"
	PaymentKindExtension  PaymentKind = "Extension"
	PaymentKindSettlement PaymentKind = "Settlement"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusPaid      PaymentStatus = "Paid"
	PaymentStatusCancelled PaymentStatus = "Cancelled"
)

// PaymentTransaction is one payment link issued to the renter. OrderCode is
// the external reference and the idempotency key for webhook delivery.
type PaymentTransaction struct {
	ID            int32         `json:"id"`
	OrderCode     int64         `json:"order_code"`
	BookingID     int32         `json:"booking_id"`
	Kind          PaymentKind   `json:"kind"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	PaymentLinkID string        `json:"payment_link_id"`
	CheckoutURL   string        `json:"checkout_url"`
	QRCode        string        `json:"qr_code"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type JobKind string

const (
	JobKindExtensionPaymentTimeout JobKind = "ExtensionPaymentTimeout"
	JobKindInspectionExpiry        JobKind = "InspectionExpiry"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "Pending"
	JobStatusRunning JobStatus = "Running"
	JobStatusDone    JobStatus = "Done"
	JobStatusFailed  JobStatus = "Failed"
)

// ScheduledJob is a durable deferred effect keyed by entity id. Handlers
// re-check the entity state when the job fires.
type ScheduledJob struct {
	ID        uuid.UUID       `json:"id"`
	Kind      JobKind         `json:"kind"`
	EntityID  int32           `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	RunAt     time.Time       `json:"run_at"`
	Status    JobStatus       `json:"status"`
	Attempts  int32           `json:"attempts"`
	LastError string          `json:"last_error"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExtensionTimeoutPayload captures what an unpaid extension must restore.
type ExtensionTimeoutPayload struct {
	OrderCode       int64     `json:"order_code"`
	ExtendedEndTime time.Time `json:"extended_end_time"`
	PreviousEndTime time.Time `json:"previous_end_time"`
	PreviousBase    int64     `json:"previous_base"`
	PreviousFee     int64     `json:"previous_fee"`
	PreviousTotal   int64     `json:"previous_total"`
}
