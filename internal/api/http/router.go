// Package http exposes the rental engine over a REST API, a payment webhook
// and a websocket feed of trip positions.
package http

import (
	"net/http"
	"time"

	"carrent-backend/internal/realtime"
	"carrent-backend/internal/service"
	"carrent-backend/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type Options struct {
	// MaxUploadBytes bounds one multipart request.
	MaxUploadBytes int64
	AllowedTypes   []string
	DownloadTTL    time.Duration
	// AllowedOrigins for websocket upgrades; empty allows any.
	AllowedOrigins []string
}

type Handler struct {
	contracts service.ContractService
	bookings  service.BookingService
	telemetry service.TelemetryService
	payments  service.PaymentService
	hub       *realtime.Hub
	objects   storage.ObjectStore
	opts      Options
	upgrader  websocket.Upgrader
}

func NewHandler(
	contracts service.ContractService,
	bookings service.BookingService,
	telemetry service.TelemetryService,
	payments service.PaymentService,
	hub *realtime.Hub,
	objects storage.ObjectStore,
	opts Options,
) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	h := &Handler{
		contracts: contracts,
		bookings:  bookings,
		telemetry: telemetry,
		payments:  payments,
		hub:       hub,
		objects:   objects,
		opts:      opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// NewRouter registers every route behind the logging and auth middleware
func NewRouter(h *Handler, auth *AuthMiddleware) *mux.Router {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware, auth.Handler)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Onboarding
	api.HandleFunc("/cars", h.RegisterCar).Methods(http.MethodPost)
	api.HandleFunc("/gps-devices", h.RegisterGPSDevice).Methods(http.MethodPost)
	api.HandleFunc("/inspections", h.CreateInspectionSchedule).Methods(http.MethodPost)
	api.HandleFunc("/inspections/{id}/start", h.StartInspection).Methods(http.MethodPost)
	api.HandleFunc("/inspections/{id}/contract", h.UpdateContract).Methods(http.MethodPut)
	api.HandleFunc("/inspections/{id}/complete", h.CompleteInspection).Methods(http.MethodPost)
	api.HandleFunc("/inspections/{id}/approve", h.ApproveInspectionSchedule).Methods(http.MethodPost)
	api.HandleFunc("/cars/{id}/contract/sign", h.SignContract).Methods(http.MethodPost)

	// Bookings
	api.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/approve", h.ApproveBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/extend", h.ExtendBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/ready", h.MarkReadyForPickup).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/return", h.ConfirmCarReturn).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/complete", h.CompleteBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", h.CancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/feedback", h.CreateFeedback).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/trips", h.ListTripTrackings).Methods(http.MethodGet)

	// Trip telemetry
	api.HandleFunc("/bookings/{id}/trip/start", h.StartTrip).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/trip/location", h.TrackTripLocation).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/trip/locations", h.BatchTrackTripLocation).Methods(http.MethodPost)
	api.HandleFunc("/ws/bookings/{id}", h.SubscribeBooking).Methods(http.MethodGet)

	// Payments
	api.HandleFunc("/bookings/{id}/payment-link", h.CreatePaymentLink).Methods(http.MethodPost)
	api.HandleFunc("/payments/webhook", h.PaymentWebhook).Methods(http.MethodPost)
	api.HandleFunc("/payments/token/{token}", h.PayByToken).Methods(http.MethodGet)

	// Files
	api.HandleFunc("/download/{token}", h.Download).Methods(http.MethodGet)

	return router
}

func callerOf(r *http.Request) service.Caller {
	c, _ := CallerFromContext(r.Context())
	return c
}
