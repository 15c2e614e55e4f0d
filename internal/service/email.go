package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type sendGridNotifier struct {
	client    mailClient
	fromEmail string
	fromName  string
}

func NewSendGridNotifier(apiKey, fromEmail, fromName string) Notifier {
	return &sendGridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *sendGridNotifier) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	logger.ExternalServiceCall("sendgrid", "Send", "recipient", recipient, "subject", subject)
	message := mail.NewSingleEmail(mail.NewEmail(s.fromName, s.fromEmail), subject, mail.NewEmail("", recipient), "", htmlBody)

	response, err := s.client.SendWithContext(ctx, message)
	if err == nil && response.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	if err != nil {
		err = fmt.Errorf("failed to send email: %w", err)
	}
	logger.ExternalServiceResult("sendgrid", "Send", err, "recipient", recipient)
	return err
}

type logNotifier struct{}

// NewLogNotifier returns a Notifier that only logs, for local runs without
// a SendGrid key.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Send(_ context.Context, recipient, subject, _ string) error {
	logger.Info("Email not sent (log notifier)", "recipient", recipient, "subject", subject)
	return nil
}

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "booking_requested"}}<p>{{.Renter}} requested your {{.Car}} from {{.Start}} to {{.End}}.</p><p>Total: {{.Total}}</p>{{end}}
{{define "booking_approved"}}<p>Your booking #{{.BookingID}} for the {{.Car}} was approved.</p><p><a href="{{.PayURL}}">Pay now</a></p>{{end}}
{{define "booking_rejected"}}<p>Your booking #{{.BookingID}} for the {{.Car}} was rejected by the owner.</p>{{end}}
{{define "booking_cancelled"}}<p>Booking #{{.BookingID}} for your {{.Car}} was cancelled by the renter.</p>{{end}}
{{define "extension_opened"}}<p>Booking #{{.BookingID}} now ends {{.End}}. Pay {{.Amount}} within 15 minutes or the extension is reverted.</p>{{if .PayURL}}<p><a href="{{.PayURL}}">Pay now</a></p>{{end}}{{end}}
{{define "extension_reverted"}}<p>The extension of booking #{{.BookingID}} was not paid in time. The booking ends {{.End}} again.</p>{{end}}
{{define "settlement_due"}}<p>Booking #{{.BookingID}} is complete. Outstanding balance: {{.Amount}}.</p>{{if .PayURL}}<p><a href="{{.PayURL}}">Pay now</a></p>{{end}}{{end}}
{{define "payment_received"}}<p>We received {{.Amount}} for booking #{{.BookingID}}.</p>{{end}}
`))

// notifyUser renders a mail template and sends it to the user. It runs after
// the unit of work committed, so failures are only logged.
func (d Deps) notifyUser(ctx context.Context, userID int32, subject, name string, data any) {
	if d.Notifier == nil {
		return
	}
	user, err := d.Store.Users().GetByID(ctx, userID, repository.IncludeDeleted)
	if err != nil {
		logger.Warn("Notification recipient lookup failed", "user_id", userID, "template", name, "error", err)
		return
	}
	var body bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&body, name, data); err != nil {
		logger.Error("Failed to render email", "template", name, "error", err)
		return
	}
	if err := d.Notifier.Send(ctx, user.Email, subject, body.String()); err != nil {
		logger.Warn("Failed to send notification", "user_id", userID, "template", name, "error", err)
	}
}
