package http

import (
	"net/http"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/service"
)

type bookingWindowBody struct {
	CarID     int32     `json:"car_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type bookingApprovalBody struct {
	IsApproved bool `json:"is_approved"`
}

type feedbackBody struct {
	Rating  int32  `json:"rating"`
	Comment string `json:"comment"`
}

// bookingCommand runs a command that only needs the booking id.
func (h *Handler) bookingCommand(w http.ResponseWriter, r *http.Request,
	cmd func(c service.Caller, id int32) (*domain.Booking, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := cmd(callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingWindowBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bookings.CreateBooking(r.Context(), callerOf(r), service.CreateBookingRequest(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.GetBooking(r.Context(), c, id)
	})
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingApprovalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.ApproveBooking(r.Context(), c, id, body.IsApproved)
	})
}

func (h *Handler) ExtendBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingWindowBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.ExtendBookingDay(r.Context(), c, service.ExtendBookingRequest{
			BookingID: id,
			StartTime: body.StartTime,
			EndTime:   body.EndTime,
		})
	})
}

func (h *Handler) MarkReadyForPickup(w http.ResponseWriter, r *http.Request) {
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.MarkBookingReadyForPickup(r.Context(), c, id)
	})
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.CompleteBooking(r.Context(), c, id)
	})
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingCommand(w, r, func(c service.Caller, id int32) (*domain.Booking, error) {
		return h.bookings.CancelBooking(r.Context(), c, id)
	})
}

func (h *Handler) CreateFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body feedbackBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	fb, err := h.bookings.CreateFeedback(r.Context(), callerOf(r), service.FeedbackRequest{
		BookingID: id,
		Rating:    body.Rating,
		Comment:   body.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (h *Handler) ListTripTrackings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	trips, err := h.bookings.ListTripTrackings(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}
