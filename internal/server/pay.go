package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authnetservice "github.com/smallbiznis/payrelay/internal/authnet/service"
	"go.uber.org/zap"
)

// payFormTemplate forwards the payer to the gateway's hosted page. The
// token is only valid for a short window, so the form posts immediately.
var payFormTemplate = template.Must(template.New("pay").Parse(`<!DOCTYPE html>
<html>
<head><title>Redirecting to secure payment</title></head>
<body onload="document.forms[0].submit()">
<p>Redirecting you to our secure payment page for invoice {{.InvoiceNumber}} ({{.Amount}})&hellip;</p>
<form method="post" action="{{.PaymentPageURL}}">
<input type="hidden" name="token" value="{{.Token}}"/>
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>`))

type payFormData struct {
	InvoiceNumber  string
	Amount         string
	PaymentPageURL string
	Token          string
}

// HandlePay reads the invoice's live balance and forwards the payer to a
// hosted payment page for exactly that amount.
func (s *Server) HandlePay(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Query("invoice_id"))
	if invoiceID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	invoice, err := s.accounting.FetchInvoice(ctx, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if invoice.Balance <= 0 {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(
			"<html><body><p>Invoice %s is already paid in full. Thank you!</p></body></html>",
			template.HTMLEscapeString(invoice.InvoiceNumber),
		)))
		return
	}

	token, err := s.gateway.CreateHostedPaymentToken(ctx, authnetservice.TokenRequest{
		InvoiceID:     invoice.InvoiceID,
		InvoiceNumber: invoice.InvoiceNumber,
		Amount:        invoice.Balance,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.obsMetrics.RecordHostedToken(ctx)

	s.log.Info("payment initiated",
		zap.String("invoice_id", invoice.InvoiceID),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Float64("amount", invoice.Balance),
	)

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	_ = payFormTemplate.Execute(c.Writer, payFormData{
		InvoiceNumber:  invoice.InvoiceNumber,
		Amount:         fmt.Sprintf("$%.2f", invoice.Balance),
		PaymentPageURL: s.gateway.PaymentPageURL(),
		Token:          token,
	})
}
