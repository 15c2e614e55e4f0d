package http

import (
	"net/http"

	"carrent-backend/internal/logger"
	"carrent-backend/internal/service"
)

type pointBody struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type pointsBody struct {
	Points []pointBody `json:"points"`
}

func (h *Handler) StartTrip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body pointBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.telemetry.StartTrip(r.Context(), callerOf(r), service.LocationRequest{BookingID: id, Lat: body.Lat, Lon: body.Lon})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) TrackTripLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body pointBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sample, err := h.telemetry.TrackTripLocation(r.Context(), callerOf(r), service.LocationRequest{BookingID: id, Lat: body.Lat, Lon: body.Lon})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (h *Handler) BatchTrackTripLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body pointsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := service.BatchLocationRequest{BookingID: id, Points: make([]service.PointRequest, len(body.Points))}
	for i, p := range body.Points {
		req.Points[i] = service.PointRequest(p)
	}
	samples, err := h.telemetry.BatchTrackTripLocation(r.Context(), callerOf(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, samples)
}

// SubscribeBooking streams the booking's trip positions to anyone allowed to
// view the booking.
func (h *Handler) SubscribeBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.bookings.GetBooking(r.Context(), callerOf(r), id); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.Warn("Websocket upgrade failed", "booking_id", id, "error", err)
		return
	}
	h.hub.Serve(service.BookingLocationTopic(id), conn)
}
