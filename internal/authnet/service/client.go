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

	authnetdomain "github.com/smallbiznis/payrelay/internal/authnet/domain"
	"github.com/smallbiznis/payrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client requests short-lived hosted-payment-page tokens from the
// gateway, embedding the invoice id as a back-reference so the capture
// notification can be matched later.
type Client struct {
	httpClient     *http.Client
	log            *zap.Logger
	loginID        string
	transactionKey string
	apiURL         string
	paymentPageURL string
	publicBaseURL  string
}

func NewClient(p Params) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		log:            p.Log.Named("authnet.client"),
		loginID:        p.Cfg.AuthNet.LoginID,
		transactionKey: p.Cfg.AuthNet.TransactionKey,
		apiURL:         p.Cfg.AuthNet.APIBaseURL,
		paymentPageURL: p.Cfg.AuthNet.PaymentPageURL,
		publicBaseURL:  strings.TrimRight(p.Cfg.PublicBaseURL, "/"),
	}
}

// TokenRequest describes one hosted-payment-page token to issue.
type TokenRequest struct {
	InvoiceID     string
	InvoiceNumber string
	Amount        float64
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type order struct {
	InvoiceNumber string `json:"invoiceNumber"`
	Description   string `json:"description"`
}

type transactionRequest struct {
	TransactionType string `json:"transactionType"`
	Amount          string `json:"amount"`
	Order           order  `json:"order"`
}

type setting struct {
	SettingName  string `json:"settingName"`
	SettingValue string `json:"settingValue"`
}

type hostedPaymentSettings struct {
	Setting []setting `json:"setting"`
}

type hostedPageRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
	HostedPaymentSettings  hostedPaymentSettings  `json:"hostedPaymentSettings"`
}

type hostedPageEnvelope struct {
	GetHostedPaymentPageRequest hostedPageRequest `json:"getHostedPaymentPageRequest"`
}

type returnOptions struct {
	ShowReceipt   bool   `json:"showReceipt"`
	URL           string `json:"url"`
	URLText       string `json:"urlText"`
	CancelURL     string `json:"cancelUrl"`
	CancelURLText string `json:"cancelUrlText"`
}

type hostedPageResponse struct {
	Token    string `json:"token"`
	Messages struct {
		ResultCode string `json:"resultCode"`
		Message    []struct {
			Code string `json:"code"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"messages"`
}

// PaymentPageURL is the gateway-hosted checkout page tokens are posted to.
func (c *Client) PaymentPageURL() string {
	return c.paymentPageURL
}

// CreateHostedPaymentToken issues a token for the given invoice and
// amount. The invoice id rides along twice: in the structured order
// field and as an invoice_ref marker in the description, so the relay
// has two independent paths to recover it from the capture event.
func (c *Client) CreateHostedPaymentToken(ctx context.Context, req TokenRequest) (string, error) {
	if strings.TrimSpace(c.loginID) == "" || strings.TrimSpace(c.transactionKey) == "" {
		return "", fmt.Errorf("%w: merchant credentials not configured", authnetdomain.ErrGateway)
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		return "", fmt.Errorf("%w: missing invoice id", authnetdomain.ErrGateway)
	}

	retOpts, err := json.Marshal(returnOptions{
		ShowReceipt:   false,
		URL:           c.callbackURL("/payments/success", req.InvoiceID),
		URLText:       "Continue",
		CancelURL:     c.callbackURL("/payments/cancel", req.InvoiceID),
		CancelURLText: "Cancel",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", authnetdomain.ErrGateway, err)
	}

	description := fmt.Sprintf("invoice_ref=%s", req.InvoiceID)
	if number := strings.TrimSpace(req.InvoiceNumber); number != "" {
		description = fmt.Sprintf("Payment for %s; %s", number, description)
	}

	envelope := hostedPageEnvelope{
		GetHostedPaymentPageRequest: hostedPageRequest{
			MerchantAuthentication: merchantAuthentication{
				Name:           c.loginID,
				TransactionKey: c.transactionKey,
			},
			TransactionRequest: transactionRequest{
				TransactionType: "authCaptureTransaction",
				// Gateways commonly reject amounts with other precision.
				Amount: fmt.Sprintf("%.2f", req.Amount),
				Order: order{
					InvoiceNumber: req.InvoiceID,
					Description:   description,
				},
			},
			HostedPaymentSettings: hostedPaymentSettings{
				Setting: []setting{
					{SettingName: "hostedPaymentReturnOptions", SettingValue: string(retOpts)},
				},
			},
		},
	}

	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", authnetdomain.ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %v", authnetdomain.ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", authnetdomain.ErrGateway, err)
	}
	defer resp.Body.Close()

	var body hostedPageResponse
	if err := decodeGatewayJSON(resp, &body); err != nil {
		return "", fmt.Errorf("%w: %v", authnetdomain.ErrGateway, err)
	}
	if strings.TrimSpace(body.Token) == "" {
		text := "no token in response"
		if len(body.Messages.Message) > 0 {
			text = body.Messages.Message[0].Text
		}
		return "", fmt.Errorf("%w: %s", authnetdomain.ErrGateway, text)
	}

	c.log.Info("hosted payment token issued", zap.String("invoice_id", req.InvoiceID))
	return body.Token, nil
}

func (c *Client) callbackURL(path, invoiceID string) string {
	return c.publicBaseURL + path + "?invoice_id=" + url.QueryEscape(invoiceID)
}

// decodeGatewayJSON tolerates the UTF-8 BOM the gateway prepends to its
// JSON responses.
func decodeGatewayJSON(resp *http.Response, out any) error {
	dec := json.NewDecoder(bomStrippingReader(resp))
	return dec.Decode(out)
}

func bomStrippingReader(resp *http.Response) *bytes.Reader {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	data := bytes.TrimPrefix(buf.Bytes(), []byte("\xef\xbb\xbf"))
	return bytes.NewReader(data)
}
