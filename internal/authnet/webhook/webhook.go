package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	authnetdomain "github.com/smallbiznis/payrelay/internal/authnet/domain"
)

// SignatureHeader is the gateway's HMAC header on every notification.
const SignatureHeader = "X-ANet-Signature"

// VerifySignature checks an inbound notification's authenticity. The
// HMAC-SHA512 is computed over the exact raw body bytes; any JSON
// re-serialization before this point would invalidate the signature.
// It returns false, never an error, on a missing or malformed header or
// an unconfigured key; the caller decides how to react.
func VerifySignature(rawBody []byte, signatureHeader, signatureKey string) bool {
	signatureKey = strings.TrimSpace(signatureKey)
	if signatureKey == "" {
		return false
	}

	header := strings.TrimSpace(signatureHeader)
	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "sha512") {
		return false
	}
	provided := strings.ToLower(strings.TrimSpace(parts[1]))
	if provided == "" {
		return false
	}

	key, err := hex.DecodeString(signatureKey)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(provided), []byte(expected))
}

type notification struct {
	NotificationID string             `json:"notificationId"`
	EventType      string             `json:"eventType"`
	Payload        notificationDetail `json:"payload"`
}

type notificationDetail struct {
	ID            string  `json:"id"`
	AuthAmount    float64 `json:"authAmount"`
	InvoiceNumber string  `json:"invoiceNumber"`
	Description   string  `json:"description"`
}

// invoiceRefPattern matches the back-reference the relay smuggles
// through the gateway's free-text description field.
var invoiceRefPattern = regexp.MustCompile(`invoice_ref=([A-Za-z0-9]+)`)

// extractors recover the invoice reference from a notification, tried in
// order, first match wins. The structured order field is preferred; the
// description parse is a last-resort fallback.
var extractors = []func(notificationDetail) string{
	func(d notificationDetail) string {
		return strings.TrimSpace(d.InvoiceNumber)
	},
	func(d notificationDetail) string {
		match := invoiceRefPattern.FindStringSubmatch(d.Description)
		if len(match) != 2 {
			return ""
		}
		return match[1]
	},
}

// ParseEvent decodes a notification into a CaptureEvent. Event types
// other than authcapture.created return ErrEventIgnored.
func ParseEvent(rawBody []byte) (*authnetdomain.CaptureEvent, error) {
	var note notification
	if err := json.Unmarshal(rawBody, &note); err != nil {
		return nil, authnetdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(note.EventType) == "" {
		return nil, authnetdomain.ErrInvalidPayload
	}

	event := &authnetdomain.CaptureEvent{
		NotificationID: strings.TrimSpace(note.NotificationID),
		EventType:      strings.TrimSpace(note.EventType),
		TransactionID:  strings.TrimSpace(note.Payload.ID),
		Amount:         note.Payload.AuthAmount,
		RawPayload:     rawBody,
	}
	if !event.IsCapture() {
		return event, authnetdomain.ErrEventIgnored
	}

	for _, extract := range extractors {
		if ref := extract(note.Payload); ref != "" {
			event.InvoiceReference = ref
			break
		}
	}

	return event, nil
}
