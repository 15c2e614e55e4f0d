package service

import (
	"context"
	"errors"
	"fmt"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/payment"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/security"
)

// WebhookResult describes what a webhook delivery changed.
type WebhookResult struct {
	OrderCode int64
	BookingID int32
	Kind      domain.PaymentKind
	// Duplicate is set when the order was already paid and nothing changed.
	Duplicate bool
}

type paymentService struct {
	Deps
}

func NewPaymentService(d Deps) PaymentService {
	return &paymentService{Deps: d}
}

// payableKind picks the transaction kind a booking currently owes.
func payableKind(b *domain.Booking) (domain.PaymentKind, error) {
	switch {
	case b.Status == domain.BookingStatusApproved && !b.IsPaid:
		return domain.PaymentKindBooking, nil
	case b.Status == domain.BookingStatusOngoing && b.ExtensionPending():
		return domain.PaymentKindExtension, nil
	case b.Status == domain.BookingStatusCompleted && b.Outstanding() > 0:
		return domain.PaymentKindSettlement, nil
	}
	return "", apperr.Conflict("booking %d has nothing to pay", b.ID)
}

// amountDue is what a transaction of kind must carry for the booking now.
func amountDue(b *domain.Booking, kind domain.PaymentKind) (int64, error) {
	switch kind {
	case domain.PaymentKindBooking:
		if b.Status == domain.BookingStatusApproved && !b.IsPaid {
			return b.TotalAmount, nil
		}
	case domain.PaymentKindExtension:
		if b.Status == domain.BookingStatusOngoing && b.ExtensionPending() {
			return b.ExtensionAmount, nil
		}
	case domain.PaymentKindSettlement:
		if b.Status == domain.BookingStatusCompleted && b.Outstanding() > 0 {
			return b.Outstanding(), nil
		}
	}
	return 0, apperr.Conflict("booking %d is %s and owes no %s payment", b.ID, b.Status, kind)
}

func (s *paymentService) CreateBookingPaymentLink(ctx context.Context, c Caller, bookingID int32) (*domain.PaymentTransaction, error) {
	if err := authorize(c, domain.ActionPay); err != nil {
		return nil, err
	}
	b, err := s.Store.Bookings().GetByID(ctx, bookingID, repository.ExcludeDeleted)
	if err != nil {
		return nil, lookupErr(err, "booking %d", bookingID)
	}
	if b.RenterID != c.UserID {
		return nil, apperr.Forbidden("booking %d belongs to another renter", bookingID)
	}
	kind, err := payableKind(b)
	if err != nil {
		return nil, err
	}
	return s.IssuePaymentLink(ctx, bookingID, kind)
}

func (s *paymentService) IssuePaymentLink(ctx context.Context, bookingID int32, kind domain.PaymentKind) (*domain.PaymentTransaction, error) {
	logger.EnterMethod("paymentService.IssuePaymentLink", "bookingID", bookingID, "kind", kind)
	now := s.Clock.now()

	var (
		tx     *domain.PaymentTransaction
		renter int32
		reuse  bool
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		b, err := loadBookingForUpdate(ctx, r, bookingID)
		if err != nil {
			return err
		}
		renter = b.RenterID
		amount, err := amountDue(b, kind)
		if err != nil {
			return err
		}

		tx, err = r.Payments().GetPendingByBooking(ctx, b.ID, kind)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return lookupErr(err, "pending payment of booking %d", b.ID)
		}
		if err == nil {
			if kind == domain.PaymentKindExtension && (b.ExtensionOrderCode == nil || *b.ExtensionOrderCode != tx.OrderCode) {
				return apperr.Conflict("extension payment of booking %d is no longer pending", b.ID)
			}
			if tx.Amount == amount {
				reuse = tx.CheckoutURL != ""
				return nil
			}
			// The amount changed since the link was issued.
			if err := cancelPendingPayment(ctx, r, tx.OrderCode, now); err != nil {
				return err
			}
		} else if kind == domain.PaymentKindExtension {
			return apperr.Conflict("extension payment of booking %d is no longer pending", b.ID)
		}

		tx = &domain.PaymentTransaction{
			OrderCode: s.orderCode(),
			BookingID: b.ID,
			Kind:      kind,
			Amount:    amount,
			Status:    domain.PaymentStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.Payments().Create(ctx, tx); err != nil {
			return writeErr(err, "payment %d", tx.OrderCode)
		}
		if kind == domain.PaymentKindBooking {
			b.PaymentOrderCode = &tx.OrderCode
			b.UpdatedAt = now
			return saveBooking(ctx, r, b)
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("paymentService.IssuePaymentLink", err)
		return nil, finish(err, "issue payment link")
	}
	if reuse {
		logger.ExitMethod("paymentService.IssuePaymentLink", "orderCode", tx.OrderCode, "reused", true)
		return tx, nil
	}

	buyer := ""
	if u, err := s.Store.Users().GetByID(ctx, renter, repository.IncludeDeleted); err == nil {
		buyer = u.Name
	}
	link, err := s.Provider.CreatePaymentLink(ctx, payment.LinkRequest{
		OrderCode:   tx.OrderCode,
		BookingID:   bookingID,
		Amount:      tx.Amount,
		Description: describePayment(kind, bookingID),
		BuyerName:   buyer,
	})
	if err != nil {
		logger.ExitMethodWithError("paymentService.IssuePaymentLink", err)
		return nil, apperr.Internal(err, "create payment link for booking %d", bookingID)
	}

	err = s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		cur, err := r.Payments().GetByOrderCodeForUpdate(ctx, tx.OrderCode)
		if err != nil {
			return lookupErr(err, "payment %d", tx.OrderCode)
		}
		cur.PaymentLinkID = link.LinkID
		cur.CheckoutURL = link.CheckoutURL
		cur.QRCode = link.QRCode
		cur.UpdatedAt = s.Clock.now()
		if err := r.Payments().Update(ctx, cur); err != nil {
			return writeErr(err, "payment %d", tx.OrderCode)
		}
		tx = cur
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("paymentService.IssuePaymentLink", err)
		return nil, finish(err, "store payment link")
	}
	logger.Info("Payment link issued", "booking_id", bookingID, "order_code", tx.OrderCode, "kind", kind, "amount", tx.Amount)
	logger.ExitMethod("paymentService.IssuePaymentLink", "orderCode", tx.OrderCode)
	return tx, nil
}

// describePayment stays within the gateway's 25 character limit.
func describePayment(kind domain.PaymentKind, bookingID int32) string {
	switch kind {
	case domain.PaymentKindExtension:
		return fmt.Sprintf("Extend booking %d", bookingID)
	case domain.PaymentKindSettlement:
		return fmt.Sprintf("Settle booking %d", bookingID)
	}
	return fmt.Sprintf("Booking %d", bookingID)
}

func (s *paymentService) IssuePaymentToken(ctx context.Context, bookingID int32) (string, error) {
	b, err := s.Store.Bookings().GetByID(ctx, bookingID, repository.ExcludeDeleted)
	if err != nil {
		return "", lookupErr(err, "booking %d", bookingID)
	}
	token, err := s.Tokens.GeneratePaymentToken(b.ID, b.RenterID)
	if err != nil {
		return "", apperr.Internal(err, "sign payment token for booking %d", bookingID)
	}
	return token, nil
}

// ProcessBookingPaymentByToken is the e-mail link path. The token stands in
// for the renter's session, so it resolves to the same checks as
// CreateBookingPaymentLink.
func (s *paymentService) ProcessBookingPaymentByToken(ctx context.Context, token string) (*domain.PaymentTransaction, error) {
	claims, err := s.Tokens.ValidateToken(token, security.TokenTypePayment)
	if err != nil {
		return nil, apperr.Forbidden("payment link is invalid or expired")
	}
	return s.CreateBookingPaymentLink(ctx, Caller{UserID: claims.UserID, Role: domain.RoleDriver}, claims.BookingID)
}

func (s *paymentService) ProcessPaymentWebhook(ctx context.Context, event payment.WebhookEvent) (*WebhookResult, error) {
	logger.EnterMethod("paymentService.ProcessPaymentWebhook", "orderCode", event.Data.OrderCode)
	if err := s.Provider.VerifyWebhook(event); err != nil {
		logger.Warn("Rejected webhook with bad signature", "order_code", event.Data.OrderCode)
		return nil, apperr.Validation("invalid webhook signature")
	}

	now := s.Clock.now()
	res := &WebhookResult{OrderCode: event.Data.OrderCode}
	var renter int32
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		// Lock order is booking then payment, as everywhere else.
		peek, err := r.Payments().GetByOrderCode(ctx, event.Data.OrderCode)
		if err != nil {
			return lookupErr(err, "payment with order code %d", event.Data.OrderCode)
		}
		b, err := loadBookingForUpdate(ctx, r, peek.BookingID)
		if err != nil {
			return err
		}
		tx, err := r.Payments().GetByOrderCodeForUpdate(ctx, event.Data.OrderCode)
		if err != nil {
			return lookupErr(err, "payment with order code %d", event.Data.OrderCode)
		}
		res.BookingID = tx.BookingID
		res.Kind = tx.Kind

		if event.Code != payment.CodeSuccess || !event.Success || event.Data.Code != payment.CodeSuccess {
			return apperr.Domain("payment %d was not successful: %s", tx.OrderCode, event.Data.Desc)
		}
		if tx.Status == domain.PaymentStatusPaid {
			res.Duplicate = true
			return nil
		}
		if event.Data.Amount != tx.Amount {
			return apperr.Domain("payment %d amount %d does not match expected %d", tx.OrderCode, event.Data.Amount, tx.Amount)
		}

		late := tx.Status == domain.PaymentStatusCancelled
		tx.Status = domain.PaymentStatusPaid
		tx.PaidAt = &now
		tx.UpdatedAt = now
		if err := r.Payments().Update(ctx, tx); err != nil {
			return writeErr(err, "payment %d", tx.OrderCode)
		}

		renter = b.RenterID
		b.PaidAmount += tx.Amount
		b.UpdatedAt = now

		switch tx.Kind {
		case domain.PaymentKindBooking:
			switch {
			case b.Status == domain.BookingStatusCancelled || b.Status == domain.BookingStatusRejected:
				b.RefundAmount += tx.Amount
				b.RefundDate = &now
				logger.Warn("Payment received for a closed booking, refund recorded", "booking_id", b.ID, "order_code", tx.OrderCode)
			case !b.IsPaid:
				b.IsPaid = true
				if b.Status == domain.BookingStatusApproved {
					if err := b.TransitionTo(domain.BookingStatusReadyForPickup, now); err != nil {
						return err
					}
					if err := setBookingContractStatus(ctx, r, b.ID, domain.BookingContractConfirmed, now); err != nil {
						return err
					}
				}
			}
		case domain.PaymentKindExtension:
			if b.ExtensionOrderCode != nil && *b.ExtensionOrderCode == tx.OrderCode && b.Status == domain.BookingStatusOngoing {
				b.IsExtensionPaid = true
			} else {
				logger.Warn("Late extension payment credited to booking", "booking_id", b.ID, "order_code", tx.OrderCode)
			}
		}
		if late {
			logger.Warn("Payment arrived after its transaction was cancelled", "booking_id", b.ID, "order_code", tx.OrderCode)
		}
		return saveBooking(ctx, r, b)
	})
	if err != nil {
		logger.ExitMethodWithError("paymentService.ProcessPaymentWebhook", err)
		return nil, finish(err, "process payment webhook")
	}
	if res.Duplicate {
		logger.Info("Duplicate webhook ignored", "order_code", res.OrderCode)
		return res, nil
	}

	logger.Info("Payment reconciled", "booking_id", res.BookingID, "order_code", res.OrderCode, "kind", res.Kind)
	s.notifyUser(ctx, renter, "Payment received", "payment_received", map[string]any{
		"BookingID": res.BookingID, "Amount": event.Data.Amount,
	})
	logger.ExitMethod("paymentService.ProcessPaymentWebhook")
	return res, nil
}
