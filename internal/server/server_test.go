package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authnetservice "github.com/smallbiznis/payrelay/internal/authnet/service"
	"github.com/smallbiznis/payrelay/internal/authnet/webhook"
	"github.com/smallbiznis/payrelay/internal/clock"
	"github.com/smallbiznis/payrelay/internal/config"
	reconciledomain "github.com/smallbiznis/payrelay/internal/reconcile/domain"
	reconcilerepo "github.com/smallbiznis/payrelay/internal/reconcile/repository"
	reconcileservice "github.com/smallbiznis/payrelay/internal/reconcile/service"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSignatureKey = "746573745f7369676e61747572655f6b65795f30303031"

type fakeAccounting struct {
	invoices map[string]*zohodomain.Invoice
	payments int
}

func (f *fakeAccounting) FetchInvoice(ctx context.Context, invoiceID string) (*zohodomain.Invoice, error) {
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return nil, zohodomain.ErrInvoiceNotFound
	}
	copied := *invoice
	return &copied, nil
}

func (f *fakeAccounting) RecordPayment(ctx context.Context, invoice *zohodomain.Invoice, amount float64, reference, description string) (*zohodomain.PaymentRecord, error) {
	f.payments++
	invoice.Balance -= amount
	f.invoices[invoice.InvoiceID] = invoice
	return &zohodomain.PaymentRecord{PaymentID: "pay_1", ReferenceNumber: reference, Amount: amount}, nil
}

func newTestServer(t *testing.T, accounting *fakeAccounting, gatewayURL string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		PublicBaseURL: "https://pay.example.com",
		AuthNet: config.AuthNetConfig{
			LoginID:        "login",
			TransactionKey: "txnkey",
			SignatureKey:   testSignatureKey,
			APIBaseURL:     gatewayURL,
			PaymentPageURL: "https://test.authorize.net/payment/payment",
		},
	}

	dsn := fmt.Sprintf("file:memdb_srv_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&reconciledomain.EventRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	reconcileSvc := reconcileservice.NewService(reconcileservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Accounting: accounting,
		Repo:       reconcilerepo.Provide(),
	})
	gateway := authnetservice.NewClient(authnetservice.Params{Cfg: cfg, Log: zap.NewNop()})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:          engine,
		Log:          zap.NewNop(),
		Cfg:          cfg,
		Accounting:   accounting,
		Gateway:      gateway,
		ReconcileSvc: reconcileSvc,
	})
	srv.RegisterRoutes()
	return srv
}

func signWebhookBody(t *testing.T, body []byte) string {
	t.Helper()

	key, err := hex.DecodeString(testSignatureKey)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	mac := hmac.New(sha512.New, key)
	mac.Write(body)
	return "SHA512=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandlePay(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"hp_tok"}`)
	}))
	defer gatewaySrv.Close()

	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", InvoiceNumber: "INV-100", CustomerID: "cust_1", Balance: 100.00},
	}}
	srv := newTestServer(t, accounting, gatewaySrv.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pay?invoice_id=inv_100", nil)
	srv.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	page := rec.Body.String()
	if !strings.Contains(page, `value="hp_tok"`) {
		t.Errorf("page missing token form field: %s", page)
	}
	if !strings.Contains(page, "https://test.authorize.net/payment/payment") {
		t.Errorf("page missing gateway action url")
	}
	if !strings.Contains(page, "INV-100") {
		t.Errorf("page missing invoice number")
	}
}

func TestHandlePayMissingInvoiceID(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePayUnknownInvoice(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay?invoice_id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePayAlreadyPaid(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", InvoiceNumber: "INV-100", Balance: 0},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay?invoice_id=inv_100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already paid") {
		t.Fatalf("expected already-paid page, got: %s", rec.Body.String())
	}
}

func postWebhook(srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	srv.engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAppliesCapture(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", InvoiceNumber: "INV-100", CustomerID: "cust_1", Balance: 100.00},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	body := []byte(`{"notificationId":"note_1","eventType":"net.authcapture.created","payload":{"id":"txn_1","authAmount":100.00,"invoiceNumber":"inv_100"}}`)
	rec := postWebhook(srv, body, signWebhookBody(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != string(reconciledomain.OutcomeApplied) {
		t.Fatalf("outcome = %q, want applied", resp["outcome"])
	}
	if accounting.payments != 1 {
		t.Fatalf("payments written = %d, want 1", accounting.payments)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", Balance: 100.00},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	body := []byte(`{"notificationId":"note_1","eventType":"net.authcapture.created","payload":{"id":"txn_1","authAmount":100.00,"invoiceNumber":"inv_100"}}`)
	tampered := bytes.Replace(body, []byte("100.00"), []byte("999.00"), 1)
	rec := postWebhook(srv, tampered, signWebhookBody(t, body))

	// Tampered payloads are still acknowledged so the gateway stops
	// retrying, but nothing is applied.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if accounting.payments != 0 {
		t.Fatalf("payments written = %d, want 0", accounting.payments)
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	body := []byte(`{"notificationId":"note_1","eventType":"net.authcapture.created","payload":{"id":"txn_1"}}`)
	rec := postWebhook(srv, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", Balance: 100.00},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	body := []byte(`{"notificationId":"note_1","eventType":"net.refund.created","payload":{"id":"txn_1","invoiceNumber":"inv_100"}}`)
	rec := postWebhook(srv, body, signWebhookBody(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != string(reconciledomain.OutcomeIgnored) {
		t.Fatalf("outcome = %q, want ignored", resp["outcome"])
	}
	if accounting.payments != 0 {
		t.Fatalf("payments written = %d, want 0", accounting.payments)
	}
}

func TestWebhookRedeliveryAcknowledged(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	body := []byte(`{"notificationId":"note_1","eventType":"net.authcapture.created","payload":{"id":"txn_1","authAmount":100.00,"invoiceNumber":"inv_100"}}`)
	signature := signWebhookBody(t, body)

	if rec := postWebhook(srv, body, signature); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	rec := postWebhook(srv, body, signature)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != string(reconciledomain.OutcomeDuplicate) {
		t.Fatalf("redelivery outcome = %q, want duplicate", resp["outcome"])
	}
	if accounting.payments != 1 {
		t.Fatalf("payments written = %d, want exactly 1", accounting.payments)
	}
}

func TestPaymentReturnPages(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", InvoiceNumber: "INV-100", Balance: 0},
	}}
	srv := newTestServer(t, accounting, "http://unused.invalid")

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/success?invoice_id=inv_100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("success status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "paid in full") {
		t.Errorf("success page = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/cancel?invoice_id=inv_100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cancelled") {
		t.Errorf("cancel page = %s", rec.Body.String())
	}
}
