package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/payrelay/internal/clock"
	"github.com/smallbiznis/payrelay/internal/config"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"github.com/smallbiznis/payrelay/internal/zoho/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// paymentMode is the label recorded on every payment written back to the
// accounting system.
const paymentMode = "creditcard"

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Tokens *token.Cache
}

// Service is the Zoho Books client. Success and failure are discriminated
// by the `code` field in the JSON body, not the transport status.
type Service struct {
	httpClient *http.Client
	log        *zap.Logger
	clock      clock.Clock
	tokens     *token.Cache
	baseURL    string
	orgID      string
}

func NewService(p Params) zohodomain.Service {
	return &Service{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        p.Log.Named("zoho.books"),
		clock:      p.Clock,
		tokens:     p.Tokens,
		baseURL:    strings.TrimRight(p.Cfg.Zoho.APIBaseURL, "/"),
		orgID:      p.Cfg.Zoho.OrganizationID,
	}
}

type invoiceResponse struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Invoice zohodomain.Invoice `json:"invoice"`
}

func (s *Service) FetchInvoice(ctx context.Context, invoiceID string) (*zohodomain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, zohodomain.ErrInvoiceNotFound
	}

	endpoint := fmt.Sprintf("%s/invoices/%s?organization_id=%s", s.baseURL, url.PathEscape(invoiceID), url.QueryEscape(s.orgID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var body invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	if body.Code != 0 {
		if resp.StatusCode == http.StatusNotFound {
			return nil, zohodomain.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("%w: code %d: %s", zohodomain.ErrUpstream, body.Code, body.Message)
	}
	if strings.TrimSpace(body.Invoice.InvoiceID) == "" {
		return nil, zohodomain.ErrInvoiceNotFound
	}

	return &body.Invoice, nil
}

type paymentRequest struct {
	CustomerID      string                  `json:"customer_id"`
	Amount          float64                 `json:"amount"`
	Date            string                  `json:"date"`
	PaymentMode     string                  `json:"payment_mode"`
	ReferenceNumber string                  `json:"reference_number"`
	Description     string                  `json:"description,omitempty"`
	Invoices        []paymentRequestInvoice `json:"invoices"`
}

type paymentRequestInvoice struct {
	InvoiceID     string  `json:"invoice_id"`
	AmountApplied float64 `json:"amount_applied"`
}

type paymentResponse struct {
	Code    int                      `json:"code"`
	Message string                   `json:"message"`
	Payment zohodomain.PaymentRecord `json:"payment"`
}

func (s *Service) RecordPayment(ctx context.Context, invoice *zohodomain.Invoice, amount float64, reference, description string) (*zohodomain.PaymentRecord, error) {
	if invoice == nil {
		return nil, zohodomain.ErrInvoiceNotFound
	}

	payload := paymentRequest{
		CustomerID:      invoice.CustomerID,
		Amount:          amount,
		Date:            s.clock.Now().Format("2006-01-02"),
		PaymentMode:     paymentMode,
		ReferenceNumber: strings.TrimSpace(reference),
		Description:     strings.TrimSpace(description),
		Invoices: []paymentRequestInvoice{
			{InvoiceID: invoice.InvoiceID, AmountApplied: amount},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}

	endpoint := fmt.Sprintf("%s/customerpayments?organization_id=%s", s.baseURL, url.QueryEscape(s.orgID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var body paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", zohodomain.ErrUpstream, err)
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("%w: code %d: %s", zohodomain.ErrUpstream, body.Code, body.Message)
	}

	s.log.Info("payment recorded",
		zap.String("invoice_id", invoice.InvoiceID),
		zap.String("reference", payload.ReferenceNumber),
		zap.Float64("amount", amount),
	)
	return &body.Payment, nil
}

func (s *Service) authorize(ctx context.Context, req *http.Request) error {
	accessToken, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+accessToken)
	return nil
}
