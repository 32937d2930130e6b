package domain

import "context"

// Invoice is the accounting system's view of a billable record. It is
// fetched fresh on every operation; the remote balance is authoritative.
type Invoice struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	CustomerID    string  `json:"customer_id"`
	CustomerName  string  `json:"customer_name"`
	Email         string  `json:"email"`
	Balance       float64 `json:"balance"`
	Total         float64 `json:"total"`
	Date          string  `json:"date"`
	DueDate       string  `json:"due_date"`
	Status        string  `json:"status"`
}

// PaymentRecord is a payment applied against an invoice in the
// accounting system.
type PaymentRecord struct {
	PaymentID       string  `json:"payment_id"`
	ReferenceNumber string  `json:"reference_number"`
	Amount          float64 `json:"amount"`
	Date            string  `json:"date"`
}

// Service reads invoices and writes payments against the accounting
// backend. It performs no business-rule validation; callers must have
// already checked amounts against the live balance.
type Service interface {
	FetchInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	RecordPayment(ctx context.Context, invoice *Invoice, amount float64, reference, description string) (*PaymentRecord, error)
}
