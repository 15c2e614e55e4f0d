package domain

import (
	"time"

	"carrent-backend/internal/apperr"
)

const (
	// ExtensionPaymentWindow is how long an ongoing booking's extension may
	// stay unpaid before it is reverted.
	ExtensionPaymentWindow = 15 * time.Minute
	// FeedbackWindow is how long after EndTime feedback is accepted.
	FeedbackWindow = 7 * 24 * time.Hour
)

type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "Pending"
	BookingStatusApproved       BookingStatus = "Approved"
	BookingStatusRejected       BookingStatus = "Rejected"
	BookingStatusReadyForPickup BookingStatus = "ReadyForPickup"
	BookingStatusOngoing        BookingStatus = "Ongoing"
	BookingStatusCompleted      BookingStatus = "Completed"
	BookingStatusCancelled      BookingStatus = "Cancelled"
)

// bookingTransitions is the complete edge set of the booking state machine.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:        {BookingStatusApproved, BookingStatusRejected, BookingStatusCancelled},
	BookingStatusApproved:       {BookingStatusReadyForPickup, BookingStatusCancelled},
	BookingStatusReadyForPickup: {BookingStatusOngoing},
	BookingStatusOngoing:        {BookingStatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                 int32         `json:"id"`
	RenterID           int32         `json:"renter_id"`
	CarID              int32         `json:"car_id"`
	Status             BookingStatus `json:"status"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	ActualReturnTime   *time.Time    `json:"actual_return_time,omitempty"`
	BasePrice          int64         `json:"base_price"`
	PlatformFee        int64         `json:"platform_fee"`
	ExcessDayFee       int64         `json:"excess_day_fee"`
	ExcessDistanceFee  int64         `json:"excess_distance_fee"`
	TotalAmount        int64         `json:"total_amount"`
	PaidAmount         int64         `json:"paid_amount"`
	DistanceTraveled   float64       `json:"distance_traveled"` // meters
	IsPaid             bool          `json:"is_paid"`
	ExtensionAmount    int64         `json:"extension_amount"`
	IsExtensionPaid    bool          `json:"is_extension_paid"`
	ExtensionOrderCode *int64        `json:"extension_order_code,omitempty"`
	PreviousEndTime    *time.Time    `json:"previous_end_time,omitempty"`
	RefundAmount       int64         `json:"refund_amount"`
	RefundDate         *time.Time    `json:"refund_date,omitempty"`
	PaymentOrderCode   *int64        `json:"payment_order_code,omitempty"`
	IsCarReturned      bool          `json:"is_car_returned"`
	ReturnPhotoURLs    []string      `json:"return_photo_urls,omitempty"`
	Version            int32         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	DeletedAt          *time.Time    `json:"deleted_at,omitempty"`
}

// TransitionTo moves the booking to the next status or fails with a conflict
// when the edge does not exist.
func (b *Booking) TransitionTo(to BookingStatus, at time.Time) error {
	if !CanTransition(b.Status, to) {
		return apperr.Conflict("booking %d cannot move from %s to %s", b.ID, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = at
	return nil
}

// Started reports whether the trip has begun.
func (b *Booking) Started() bool {
	switch b.Status {
	case BookingStatusOngoing, BookingStatusCompleted:
		return true
	}
	return false
}

// Blocking reports whether the booking holds the car for its window.
func (b *Booking) Blocking() bool {
	switch b.Status {
	case BookingStatusCancelled, BookingStatusRejected:
		return false
	}
	return b.DeletedAt == nil
}

// Overlaps reports whether the booking window intersects [start, end).
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}

// Outstanding is what the renter still owes.
func (b *Booking) Outstanding() int64 {
	if d := b.TotalAmount - b.PaidAmount; d > 0 {
		return d
	}
	return 0
}

// ExtensionPending reports whether an extension is still waiting for payment.
func (b *Booking) ExtensionPending() bool {
	return b.ExtensionAmount > 0 && !b.IsExtensionPaid
}

type BookingContractStatus string

const (
	BookingContractPending   BookingContractStatus = "Pending"
	BookingContractConfirmed BookingContractStatus = "Confirmed"
	BookingContractCancelled BookingContractStatus = "Cancelled"
)

// BookingContract is the rental agreement drafted with a booking.
type BookingContract struct {
	ID        int32                 `json:"id"`
	BookingID int32                 `json:"booking_id"`
	Status    BookingContractStatus `json:"status"`
	Terms     string                `json:"terms"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type FeedbackType string

const (
	// FeedbackToOwner is written by the renter.
	FeedbackToOwner FeedbackType = "ToOwner"
	// FeedbackToDriver is written by the car owner.
	FeedbackToDriver FeedbackType = "ToDriver"
)

type Feedback struct {
	ID        int32        `json:"id"`
	BookingID int32        `json:"booking_id"`
	UserID    int32        `json:"user_id"`
	Type      FeedbackType `json:"type"`
	Rating    int32        `json:"rating"`
	Comment   string       `json:"comment"`
	CreatedAt time.Time    `json:"created_at"`
}
