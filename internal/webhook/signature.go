package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"

	SignaturePrefix = "sha256="
)

// Sign returns the X-Hub-Signature-256 value GitHub would send for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC-SHA256 signature from GitHub webhook
func VerifySignature(payload []byte, signature, secret string) bool {
	// Signature must be present
	if signature == "" {
		return false
	}

	// Signature format: "sha256=<hex_digest>"
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// Verifier checks inbound deliveries against the shared webhook secret.
type Verifier struct {
	secret string
	logger *slog.Logger
}

func NewVerifier(secret string, logger *slog.Logger) *Verifier {
	return &Verifier{secret: secret, logger: logger}
}

// Verify reports whether signature matches the raw, unparsed body.
func (v *Verifier) Verify(body []byte, signature, delivery string) bool {
	if signature == "" {
		v.logger.Warn("Webhook received without signature", "delivery", delivery)
		return false
	}
	if !VerifySignature(body, signature, v.secret) {
		v.logger.Warn("Webhook signature mismatch", "delivery", delivery)
		return false
	}
	return true
}
