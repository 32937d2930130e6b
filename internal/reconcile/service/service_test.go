package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authnetdomain "github.com/smallbiznis/payrelay/internal/authnet/domain"
	"github.com/smallbiznis/payrelay/internal/clock"
	reconciledomain "github.com/smallbiznis/payrelay/internal/reconcile/domain"
	reconcilerepo "github.com/smallbiznis/payrelay/internal/reconcile/repository"
	reconcileservice "github.com/smallbiznis/payrelay/internal/reconcile/service"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeAccounting serves canned invoices and records every payment write.
type fakeAccounting struct {
	invoices map[string]*zohodomain.Invoice
	fetchErr error
	writeErr error

	payments []recordedPayment
}

type recordedPayment struct {
	invoiceID string
	amount    float64
	reference string
}

func (f *fakeAccounting) FetchInvoice(ctx context.Context, invoiceID string) (*zohodomain.Invoice, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return nil, zohodomain.ErrInvoiceNotFound
	}
	copied := *invoice
	return &copied, nil
}

func (f *fakeAccounting) RecordPayment(ctx context.Context, invoice *zohodomain.Invoice, amount float64, reference, description string) (*zohodomain.PaymentRecord, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.payments = append(f.payments, recordedPayment{
		invoiceID: invoice.InvoiceID,
		amount:    amount,
		reference: reference,
	})
	invoice.Balance -= amount
	f.invoices[invoice.InvoiceID] = invoice
	return &zohodomain.PaymentRecord{PaymentID: "pay_test", ReferenceNumber: reference, Amount: amount}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&reconciledomain.EventRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, accounting zohodomain.Service) (*reconcileservice.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := reconcileservice.NewService(reconcileservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Accounting: accounting,
		Repo:       reconcilerepo.Provide(),
	})
	return svc, db, clk
}

func captureEvent(notificationID, transactionID, invoiceRef string, amount float64) *authnetdomain.CaptureEvent {
	return &authnetdomain.CaptureEvent{
		NotificationID:   notificationID,
		EventType:        authnetdomain.EventTypeAuthCapture,
		TransactionID:    transactionID,
		Amount:           amount,
		InvoiceReference: invoiceRef,
		RawPayload:       []byte(`{"test":true}`),
	}
}

func TestReconcileAppliesPayment(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", InvoiceNumber: "INV-100", CustomerID: "cust_1", Balance: 100.00, Total: 250.00},
	}}
	svc, db, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}

	if len(accounting.payments) != 1 {
		t.Fatalf("payments written = %d, want 1", len(accounting.payments))
	}
	written := accounting.payments[0]
	if written.invoiceID != "inv_100" || written.amount != 100.00 || written.reference != "txn_1" {
		t.Fatalf("payment = %+v", written)
	}

	var record reconciledomain.EventRecord
	if err := db.Where("provider_event_id = ?", "note_1").First(&record).Error; err != nil {
		t.Fatalf("load event record: %v", err)
	}
	if record.ProcessedAt == nil {
		t.Fatalf("event record not marked processed")
	}
	if record.Outcome != string(reconciledomain.OutcomeApplied) {
		t.Fatalf("recorded outcome = %q, want applied", record.Outcome)
	}
}

func TestReconcileAlreadySettled(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 0, Total: 250.00},
	}}
	svc, _, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeAlreadySettled {
		t.Fatalf("outcome = %s, want already_settled", outcome)
	}
	if len(accounting.payments) != 0 {
		t.Fatalf("payments written = %d, want 0", len(accounting.payments))
	}
}

func TestReconcileOverpayment(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 50.00, Total: 250.00},
	}}
	svc, _, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeOverpayment {
		t.Fatalf("outcome = %s, want overpayment", outcome)
	}
	if len(accounting.payments) != 0 {
		t.Fatalf("payments written = %d, want 0", len(accounting.payments))
	}
}

func TestReconcileEpsilonTolerance(t *testing.T) {
	// A capture a hair above the balance from float noise still applies.
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00, Total: 100.00},
	}}
	svc, _, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "inv_100", 100.00005))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if len(accounting.payments) != 1 {
		t.Fatalf("payments written = %d, want 1", len(accounting.payments))
	}
}

func TestReconcileUnknownInvoice(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	svc, _, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "inv_missing", 100.00))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeNoInvoice {
		t.Fatalf("outcome = %s, want no_invoice_found", outcome)
	}
}

func TestReconcileMissingReference(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	svc, db, _ := newTestService(t, accounting)

	outcome, err := svc.Reconcile(context.Background(), captureEvent("note_1", "txn_1", "", 100.00))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeNoInvoice {
		t.Fatalf("outcome = %s, want no_invoice_found", outcome)
	}

	// Nothing to reconcile against, so no ledger row is written either.
	var count int64
	if err := db.Model(&reconciledomain.EventRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("event records = %d, want 0", count)
	}
}

func TestReconcileIgnoresNonCapture(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{}}
	svc, _, _ := newTestService(t, accounting)

	event := captureEvent("note_1", "txn_1", "inv_100", 100.00)
	event.EventType = "net.refund.created"

	outcome, err := svc.Reconcile(context.Background(), event)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != reconciledomain.OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
}

func TestReconcileRedeliveryIsDuplicate(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00, Total: 250.00},
	}}
	svc, _, _ := newTestService(t, accounting)
	ctx := context.Background()

	event := captureEvent("note_1", "txn_1", "inv_100", 100.00)
	if outcome, err := svc.Reconcile(ctx, event); err != nil || outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("first delivery: outcome=%s err=%v", outcome, err)
	}

	// Exact redelivery: caught by the ledger before any remote call.
	outcome, err := svc.Reconcile(ctx, captureEvent("note_1", "txn_1", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != reconciledomain.OutcomeDuplicate {
		t.Fatalf("redelivery outcome = %s, want duplicate", outcome)
	}
	if len(accounting.payments) != 1 {
		t.Fatalf("payments written = %d, want exactly 1", len(accounting.payments))
	}
}

func TestReconcileSecondCaptureGatedByBalance(t *testing.T) {
	// A distinct notification for an invoice that the first capture
	// settled must fall through to the balance gate, not apply twice.
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00, Total: 250.00},
	}}
	svc, _, _ := newTestService(t, accounting)
	ctx := context.Background()

	if outcome, err := svc.Reconcile(ctx, captureEvent("note_1", "txn_1", "inv_100", 100.00)); err != nil || outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("first capture: outcome=%s err=%v", outcome, err)
	}

	outcome, err := svc.Reconcile(ctx, captureEvent("note_2", "txn_2", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if outcome != reconciledomain.OutcomeAlreadySettled {
		t.Fatalf("second capture outcome = %s, want already_settled", outcome)
	}
	if len(accounting.payments) != 1 {
		t.Fatalf("payments written = %d, want exactly 1", len(accounting.payments))
	}
}

func TestReconcileRetriesAfterUpstreamFailure(t *testing.T) {
	accounting := &fakeAccounting{
		invoices: map[string]*zohodomain.Invoice{
			"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00, Total: 250.00},
		},
		fetchErr: zohodomain.ErrUpstream,
	}
	svc, _, _ := newTestService(t, accounting)
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx, captureEvent("note_1", "txn_1", "inv_100", 100.00)); !errors.Is(err, zohodomain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	// The failed attempt never marked the event processed, so the
	// gateway's redelivery can complete the application.
	accounting.fetchErr = nil
	outcome, err := svc.Reconcile(ctx, captureEvent("note_1", "txn_1", "inv_100", 100.00))
	if err != nil {
		t.Fatalf("redelivery after failure: %v", err)
	}
	if outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if len(accounting.payments) != 1 {
		t.Fatalf("payments written = %d, want 1", len(accounting.payments))
	}
}

func TestReconcileFallsBackToTransactionID(t *testing.T) {
	accounting := &fakeAccounting{invoices: map[string]*zohodomain.Invoice{
		"inv_100": {InvoiceID: "inv_100", CustomerID: "cust_1", Balance: 100.00},
	}}
	svc, db, _ := newTestService(t, accounting)

	event := captureEvent("", "txn_only", "inv_100", 100.00)
	if outcome, err := svc.Reconcile(context.Background(), event); err != nil || outcome != reconciledomain.OutcomeApplied {
		t.Fatalf("reconcile: outcome=%s err=%v", outcome, err)
	}

	var record reconciledomain.EventRecord
	if err := db.Where("provider_event_id = ?", "txn_only").First(&record).Error; err != nil {
		t.Fatalf("event keyed by transaction id: %v", err)
	}
}
