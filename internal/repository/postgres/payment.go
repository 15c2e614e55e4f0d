package postgres

import (
	"context"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type paymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

const paymentColumns = `id, order_code, booking_id, kind, amount, status, payment_link_id, checkout_url, qr_code,
	paid_at, created_at, updated_at`

func scanPayment(s scanner) (*domain.PaymentTransaction, error) {
	p := &domain.PaymentTransaction{}
	err := s.Scan(&p.ID, &p.OrderCode, &p.BookingID, &p.Kind, &p.Amount, &p.Status, &p.PaymentLinkID, &p.CheckoutURL, &p.QRCode,
		&p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.PaymentTransaction) error {
	logger.EnterMethod("paymentRepository.Create", "orderCode", p.OrderCode, "bookingID", p.BookingID, "kind", p.Kind)

	query := `
		INSERT INTO payment_transactions (
			order_code, booking_id, kind, amount, status, payment_link_id, checkout_url, qr_code,
			paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		p.OrderCode, p.BookingID, p.Kind, p.Amount, p.Status, p.PaymentLinkID, p.CheckoutURL, p.QRCode,
		p.PaidAt, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		logger.ExitMethodWithError("paymentRepository.Create", err, "orderCode", p.OrderCode)
		return mapError(err)
	}

	logger.ExitMethod("paymentRepository.Create", "paymentID", p.ID)
	return nil
}

func (r *paymentRepository) GetByOrderCode(ctx context.Context, orderCode int64) (*domain.PaymentTransaction, error) {
	return r.getByOrderCode(ctx, orderCode, "")
}

func (r *paymentRepository) GetByOrderCodeForUpdate(ctx context.Context, orderCode int64) (*domain.PaymentTransaction, error) {
	return r.getByOrderCode(ctx, orderCode, " FOR UPDATE")
}

func (r *paymentRepository) getByOrderCode(ctx context.Context, orderCode int64, lock string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE order_code = $1` + lock
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, orderCode))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (r *paymentRepository) GetPendingByBooking(ctx context.Context, bookingID int32, kind domain.PaymentKind) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions
		WHERE booking_id = $1 AND kind = $2 AND status = $3
		ORDER BY id DESC LIMIT 1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, bookingID, kind, domain.PaymentStatusPending))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `
		UPDATE payment_transactions SET
			status = $1,
			payment_link_id = $2,
			checkout_url = $3,
			qr_code = $4,
			paid_at = $5,
			updated_at = $6
		WHERE id = $7
	`
	res, err := r.db.ExecContext(ctx, query, p.Status, p.PaymentLinkID, p.CheckoutURL, p.QRCode, p.PaidAt, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}
