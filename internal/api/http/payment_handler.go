package http

import (
	"encoding/json"
	"net/http"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/payment"

	"github.com/gorilla/mux"
)

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := h.payments.CreateBookingPaymentLink(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PaymentWebhook acknowledges every event it could judge, rejected or not,
// so the gateway does not redeliver it. Only faults answer 500.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event payment.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusOK, webhookResponse{Success: false, Message: "malformed webhook body"})
		return
	}

	res, err := h.payments.ProcessPaymentWebhook(r.Context(), event)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			logger.ErrorContext(r.Context(), "Webhook processing failed", "order_code", event.Data.OrderCode, "error", err)
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Success: false, Message: "internal error"})
			return
		}
		logger.Warn("Webhook rejected", "order_code", event.Data.OrderCode, "error", err)
		writeJSON(w, http.StatusOK, webhookResponse{Success: false, Message: apperr.Message(err)})
		return
	}

	msg := "payment recorded"
	if res.Duplicate {
		msg = "already processed"
	}
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: msg})
}

// PayByToken opens the checkout for an e-mailed payment link.
func (h *Handler) PayByToken(w http.ResponseWriter, r *http.Request) {
	tx, err := h.payments.ProcessBookingPaymentByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, tx.CheckoutURL, http.StatusSeeOther)
}
