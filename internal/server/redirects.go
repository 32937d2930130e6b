package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"go.uber.org/zap"
)

// HandlePaymentSuccess is where the hosted page returns the payer after a
// completed transaction. The payment itself lands through the webhook, so
// this only acknowledges; the balance shown may still reflect the old value
// if the notification has not arrived yet.
func (s *Server) HandlePaymentSuccess(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Query("invoice_id"))

	message := "Thank you! Your payment was received and is being applied to your invoice."
	if invoiceID != "" {
		invoice, err := s.accounting.FetchInvoice(c.Request.Context(), invoiceID)
		switch {
		case err == nil && invoice.Balance <= 0:
			message = fmt.Sprintf("Thank you! Invoice %s is now paid in full.",
				template.HTMLEscapeString(invoice.InvoiceNumber))
		case err == nil:
			message = fmt.Sprintf("Thank you! Your payment for invoice %s is being applied.",
				template.HTMLEscapeString(invoice.InvoiceNumber))
		case errors.Is(err, zohodomain.ErrInvoiceNotFound):
			// Keep the generic message; the payer already paid.
		default:
			s.log.Warn("post-payment invoice lookup failed",
				zap.String("invoice_id", invoiceID), zap.Error(err))
		}
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<html><body><p>"+message+"</p></body></html>"))
}

// HandlePaymentCancel is the hosted page's cancel return.
func (s *Server) HandlePaymentCancel(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Query("invoice_id"))

	message := "Your payment was cancelled. No charge was made."
	if invoiceID != "" {
		message = fmt.Sprintf(
			"Your payment for invoice %s was cancelled. No charge was made. You can return to the payment link at any time.",
			template.HTMLEscapeString(invoiceID))
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<html><body><p>"+message+"</p></body></html>"))
}
