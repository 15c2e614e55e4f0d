// Package payment talks to the payOS gateway through its Go SDK: it creates
// checkout links and authenticates the webhook callbacks the gateway sends.
package payment

import (
	"context"
	"errors"
	"fmt"

	"carrent-backend/internal/logger"

	payos "github.com/payOSHQ/payos-lib-golang"
)

// CodeSuccess is the gateway's success code in responses and webhooks.
const CodeSuccess = "00"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Config holds the merchant credentials issued by the gateway.
type Config struct {
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
}

// LinkRequest describes one checkout link.
type LinkRequest struct {
	OrderCode   int64
	BookingID   int32
	Amount      int64
	Description string
	BuyerName   string
}

// Link is the gateway's answer to a LinkRequest.
type Link struct {
	LinkID      string `json:"paymentLinkId"`
	CheckoutURL string `json:"checkoutUrl"`
	QRCode      string `json:"qrCode"`
	Status      string `json:"status"`
}

// WebhookData is the signed part of a webhook callback. Every field the
// gateway sends takes part in the signature, the optional ones included.
type WebhookData struct {
	OrderCode              int64   `json:"orderCode"`
	Amount                 int64   `json:"amount"`
	Description            string  `json:"description"`
	AccountNumber          string  `json:"accountNumber"`
	Reference              string  `json:"reference"`
	TransactionDateTime    string  `json:"transactionDateTime"`
	Currency               string  `json:"currency"`
	PaymentLinkID          string  `json:"paymentLinkId"`
	Code                   string  `json:"code"`
	Desc                   string  `json:"desc"`
	CounterAccountBankID   *string `json:"counterAccountBankId"`
	CounterAccountBankName *string `json:"counterAccountBankName"`
	CounterAccountName     *string `json:"counterAccountName"`
	CounterAccountNumber   *string `json:"counterAccountNumber"`
	VirtualAccountName     *string `json:"virtualAccountName"`
	VirtualAccountNumber   *string `json:"virtualAccountNumber"`
}

// WebhookEvent is the body the gateway posts to the webhook route.
type WebhookEvent struct {
	Code      string      `json:"code"`
	Desc      string      `json:"desc"`
	Success   bool        `json:"success"`
	Data      WebhookData `json:"data"`
	Signature string      `json:"signature"`
}

// Client adapts the payOS SDK to the gateway operations the services use.
type Client struct {
	cfg    Config
	create func(payos.CheckoutRequestType) (*payos.CheckoutResponseDataType, error)
	verify func(payos.WebhookType) (*payos.WebhookDataType, error)
}

// NewClient registers the merchant credentials with the SDK. The SDK keeps
// them process-wide, so build one Client per process.
func NewClient(cfg Config) (*Client, error) {
	if err := payos.Key(cfg.ClientID, cfg.APIKey, cfg.ChecksumKey); err != nil {
		return nil, fmt.Errorf("payos credentials: %w", err)
	}
	return &Client{cfg: cfg, create: payos.CreatePaymentLink, verify: payos.VerifyPaymentWebhookData}, nil
}

// CreatePaymentLink registers an order with the gateway and returns its
// checkout link.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	logger.ExternalServiceCall("payos", "CreatePaymentLink", "order_code", req.OrderCode, "booking_id", req.BookingID, "amount", req.Amount)
	// The SDK call takes no context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := payos.CheckoutRequestType{
		OrderCode:   req.OrderCode,
		Amount:      int(req.Amount),
		Description: req.Description,
		ReturnUrl:   c.cfg.ReturnURL,
		CancelUrl:   c.cfg.CancelURL,
	}
	if req.BuyerName != "" {
		buyer := req.BuyerName
		body.BuyerName = &buyer
	}

	data, err := c.create(body)
	if err == nil && data == nil {
		err = fmt.Errorf("payment gateway returned no link for order %d", req.OrderCode)
	}
	logger.ExternalServiceResult("payos", "CreatePaymentLink", err, "order_code", req.OrderCode)
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	return &Link{LinkID: data.PaymentLinkId, CheckoutURL: data.CheckoutUrl, QRCode: data.QRCode, Status: data.Status}, nil
}

// VerifyWebhook checks the event signature against the checksum key.
func (c *Client) VerifyWebhook(event WebhookEvent) error {
	d := event.Data
	_, err := c.verify(payos.WebhookType{
		Code:    event.Code,
		Desc:    event.Desc,
		Success: event.Success,
		Data: &payos.WebhookDataType{
			OrderCode:              d.OrderCode,
			Amount:                 int(d.Amount),
			Description:            d.Description,
			AccountNumber:          d.AccountNumber,
			Reference:              d.Reference,
			TransactionDateTime:    d.TransactionDateTime,
			Currency:               d.Currency,
			PaymentLinkId:          d.PaymentLinkID,
			Code:                   d.Code,
			Desc:                   d.Desc,
			CounterAccountBankId:   d.CounterAccountBankID,
			CounterAccountBankName: d.CounterAccountBankName,
			CounterAccountName:     d.CounterAccountName,
			CounterAccountNumber:   d.CounterAccountNumber,
			VirtualAccountName:     d.VirtualAccountName,
			VirtualAccountNumber:   d.VirtualAccountNumber,
		},
		Signature: event.Signature,
	})
	if err != nil {
		logger.Warn("Rejected payment webhook", "order_code", d.OrderCode, "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
