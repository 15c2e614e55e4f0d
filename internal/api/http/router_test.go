package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/payment"
	"carrent-backend/internal/realtime"
	"carrent-backend/internal/security"
	"carrent-backend/internal/service"
	"carrent-backend/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBookingService struct {
	service.BookingService
	mock.Mock
}

func (m *MockBookingService) GetBooking(ctx context.Context, c service.Caller, id int32) (*domain.Booking, error) {
	args := m.Called(ctx, c, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingService) CancelBooking(ctx context.Context, c service.Caller, id int32) (*domain.Booking, error) {
	args := m.Called(ctx, c, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingService) ConfirmCarReturn(ctx context.Context, c service.Caller, req service.ConfirmReturnRequest) (*domain.Booking, error) {
	// Photo bodies are only readable during the call.
	names := make([]string, 0, len(req.Photos))
	for _, p := range req.Photos {
		body, _ := io.ReadAll(p.Body)
		names = append(names, p.Name+":"+p.ContentType+":"+string(body))
	}
	args := m.Called(ctx, c, req.BookingID, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

type MockPaymentService struct {
	service.PaymentService
	mock.Mock
}

func (m *MockPaymentService) ProcessPaymentWebhook(ctx context.Context, event payment.WebhookEvent) (*service.WebhookResult, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WebhookResult), args.Error(1)
}

func (m *MockPaymentService) ProcessBookingPaymentByToken(ctx context.Context, token string) (*domain.PaymentTransaction, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentTransaction), args.Error(1)
}

type testServer struct {
	srv      *httptest.Server
	bookings *MockBookingService
	payments *MockPaymentService
	hub      *realtime.Hub
	objects  *storage.MockStorageService
	tokens   security.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	objects, err := storage.NewMockStorageService("http://files.test", t.TempDir())
	require.NoError(t, err)
	ts := &testServer{
		bookings: new(MockBookingService),
		payments: new(MockPaymentService),
		hub:      realtime.NewHub(),
		objects:  objects,
		tokens:   security.NewTokenManager("router-test-secret", time.Hour, time.Hour),
	}
	h := NewHandler(nil, ts.bookings, nil, ts.payments, ts.hub, objects, Options{AllowedTypes: []string{"image/jpeg"}})
	ts.srv = httptest.NewServer(NewRouter(h, NewAuthMiddleware(ts.tokens)))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, userID int32, role domain.Role) string {
	t.Helper()
	tok, err := ts.tokens.GenerateAccessToken(userID, role)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRouter_Auth(t *testing.T) {
	ts := newTestServer(t)
	renter := service.Caller{UserID: 5, Role: domain.RoleDriver}
	ts.bookings.On("GetBooking", mock.Anything, renter, int32(7)).Return(&domain.Booking{ID: 7, RenterID: 5}, nil)

	t.Run("Missing token", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/bookings/7", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Garbage token", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/bookings/7", "not-a-jwt", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Payment token is not an access token", func(t *testing.T) {
		tok, err := ts.tokens.GeneratePaymentToken(7, 5)
		require.NoError(t, err)
		resp := ts.do(t, http.MethodGet, "/api/v1/bookings/7", tok, nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Access token resolves the caller", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/bookings/7", ts.token(t, 5, domain.RoleDriver), nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var b domain.Booking
		decodeBody(t, resp, &b)
		assert.Equal(t, int32(7), b.ID)
	})

	t.Run("Health is public", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRouter_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, 5, domain.RoleDriver)
	caller := service.Caller{UserID: 5, Role: domain.RoleDriver}

	tests := []struct {
		id     int32
		err    error
		status int
		kind   string
	}{
		{1, apperr.Forbidden("not yours"), http.StatusForbidden, "forbidden"},
		{2, apperr.NotFound("booking 2 not found"), http.StatusNotFound, "not_found"},
		{3, apperr.Conflict("booking 3 is Cancelled"), http.StatusConflict, "conflict"},
		{4, apperr.Validation("bad input"), http.StatusBadRequest, "validation"},
		{5, apperr.Domain("feedback window closed"), http.StatusUnprocessableEntity, "domain"},
		{6, io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		ts.bookings.On("CancelBooking", mock.Anything, caller, tt.id).Return(nil, tt.err)
		resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", tt.id), tok, nil, "")
		assert.Equal(t, tt.status, resp.StatusCode, tt.kind)
		var body errorResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, tt.kind, body.Kind)
		if tt.kind == "internal" {
			assert.Equal(t, "internal error", body.Error)
		}
	}

	t.Run("Bad path id", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/bookings/abc/cancel", tok, nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRouter_PaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	post := func(body string) (*http.Response, webhookResponse) {
		resp := ts.do(t, http.MethodPost, "/api/v1/payments/webhook", "", strings.NewReader(body), "application/json")
		var out webhookResponse
		decodeBody(t, resp, &out)
		return resp, out
	}

	ts.payments.On("ProcessPaymentWebhook", mock.Anything, mock.MatchedBy(func(e payment.WebhookEvent) bool { return e.Data.OrderCode == 1 })).
		Return(&service.WebhookResult{OrderCode: 1}, nil)
	ts.payments.On("ProcessPaymentWebhook", mock.Anything, mock.MatchedBy(func(e payment.WebhookEvent) bool { return e.Data.OrderCode == 2 })).
		Return(&service.WebhookResult{OrderCode: 2, Duplicate: true}, nil)
	ts.payments.On("ProcessPaymentWebhook", mock.Anything, mock.MatchedBy(func(e payment.WebhookEvent) bool { return e.Data.OrderCode == 3 })).
		Return(nil, apperr.Validation("invalid webhook signature"))
	ts.payments.On("ProcessPaymentWebhook", mock.Anything, mock.MatchedBy(func(e payment.WebhookEvent) bool { return e.Data.OrderCode == 4 })).
		Return(nil, apperr.Internal(io.ErrUnexpectedEOF, "store"))

	resp, out := post(`{"code":"00","success":true,"data":{"orderCode":1,"amount":220},"signature":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	_, out = post(`{"data":{"orderCode":2}}`)
	assert.True(t, out.Success)
	assert.Equal(t, "already processed", out.Message)

	resp, out = post(`{"data":{"orderCode":3}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Success)
	assert.Equal(t, "invalid webhook signature", out.Message)

	resp, _ = post(`{"data":{"orderCode":4}}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, out = post(`{not json`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Success)
}

func TestRouter_PayByToken(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.On("ProcessBookingPaymentByToken", mock.Anything, "good").
		Return(&domain.PaymentTransaction{CheckoutURL: "https://pay.test/checkout/1001"}, nil)
	ts.payments.On("ProcessBookingPaymentByToken", mock.Anything, "bad").
		Return(nil, apperr.Forbidden("payment link is invalid or expired"))

	resp := ts.do(t, http.MethodGet, "/api/v1/payments/token/good", "", nil, "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "https://pay.test/checkout/1001", resp.Header.Get("Location"))

	resp = ts.do(t, http.MethodGet, "/api/v1/payments/token/bad", "", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouter_Download(t *testing.T) {
	ts := newTestServer(t)
	key := "returns/2026/03/02/photo.jpg"
	url, err := ts.objects.Put(context.Background(), key, "image/jpeg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	path := strings.TrimPrefix(url, "http://files.test")

	resp := ts.do(t, http.MethodGet, path, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(body))

	resp = ts.do(t, http.MethodGet, "/api/v1/download/0000?key="+key, "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func multipartPhotos(t *testing.T, parts map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, contentType := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="photos"; filename="`+name+`"`)
		hdr.Set("Content-Type", contentType)
		pw, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = pw.Write([]byte("data-" + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestRouter_ConfirmCarReturn(t *testing.T) {
	ts := newTestServer(t)
	owner := service.Caller{UserID: 2, Role: domain.RoleOwner}
	tok := ts.token(t, 2, domain.RoleOwner)

	ts.bookings.On("ConfirmCarReturn", mock.Anything, owner, int32(9), []string{"front.jpg:image/jpeg:data-front.jpg"}).
		Return(&domain.Booking{ID: 9, IsCarReturned: true}, nil)

	body, contentType := multipartPhotos(t, map[string]string{"front.jpg": "image/jpeg"})
	resp := ts.do(t, http.MethodPost, "/api/v1/bookings/9/return", tok, body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b domain.Booking
	decodeBody(t, resp, &b)
	assert.True(t, b.IsCarReturned)

	body, contentType = multipartPhotos(t, map[string]string{"notes.txt": "text/plain"})
	resp = ts.do(t, http.MethodPost, "/api/v1/bookings/9/return", tok, body, contentType)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	ts.bookings.AssertNumberOfCalls(t, "ConfirmCarReturn", 1)
}

func TestRouter_SubscribeBooking(t *testing.T) {
	ts := newTestServer(t)
	renter := service.Caller{UserID: 5, Role: domain.RoleDriver}
	ts.bookings.On("GetBooking", mock.Anything, renter, int32(7)).Return(&domain.Booking{ID: 7}, nil)
	ts.bookings.On("GetBooking", mock.Anything, mock.Anything, int32(8)).Return(nil, apperr.Forbidden("not yours"))

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/ws/bookings/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"8?access_token="+ts.token(t, 5, domain.RoleDriver), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"7?access_token="+ts.token(t, 5, domain.RoleDriver), nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := service.BookingLocationTopic(7)
	require.Eventually(t, func() bool { return ts.hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ts.hub.Publish(topic, []byte(`{"lat":10.5}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":10.5}`, string(msg))
}
