package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	authnetdomain "github.com/smallbiznis/payrelay/internal/authnet/domain"
	"github.com/smallbiznis/payrelay/internal/authnet/webhook"
	reconciledomain "github.com/smallbiznis/payrelay/internal/reconcile/domain"
	reconcileservice "github.com/smallbiznis/payrelay/internal/reconcile/service"
	"go.uber.org/zap"
)

// HandleGatewayWebhook receives payment notifications from Authorize.Net.
// The gateway retries deliveries that do not get a 2xx back, so every
// outcome is acknowledged with 200 to avoid redelivery storms; a held
// per-invoice lock is the one exception, so that delivery comes back.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// The signature covers the raw bytes, so the body must be read
	// before any decoding touches it.
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.log.Warn("webhook body read failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(reconciledomain.OutcomeIgnored)})
		return
	}

	signature := c.GetHeader(webhook.SignatureHeader)
	verified := webhook.VerifySignature(rawBody, signature, s.cfg.AuthNet.SignatureKey)
	if !verified {
		s.obsMetrics.RecordWebhookEvent(ctx, "unknown", false)
		s.log.Warn("webhook signature rejected",
			zap.String("remote_addr", c.ClientIP()),
			zap.Int("body_bytes", len(rawBody)),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(reconciledomain.OutcomeIgnored)})
		return
	}

	event, err := webhook.ParseEvent(rawBody)
	if err != nil && !errors.Is(err, authnetdomain.ErrEventIgnored) {
		s.obsMetrics.RecordWebhookEvent(ctx, "unknown", true)
		s.log.Warn("webhook payload rejected", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(reconciledomain.OutcomeIgnored)})
		return
	}
	s.obsMetrics.RecordWebhookEvent(ctx, event.EventType, true)

	outcome, err := s.reconcileSvc.Reconcile(ctx, event)
	if err != nil {
		if errors.Is(err, reconcileservice.ErrLockHeld) {
			// Another delivery for the same invoice is in flight. A
			// non-2xx makes the gateway redeliver once it settles.
			c.JSON(http.StatusConflict, gin.H{"status": "retry", "outcome": string(outcome)})
			return
		}
		s.log.Error("webhook reconciliation failed",
			zap.String("notification_id", event.NotificationID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(outcome)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": string(outcome)})
}
