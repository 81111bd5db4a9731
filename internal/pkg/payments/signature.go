package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks a Razorpay webhook signature: hex-encoded
// HMAC-SHA256 over the raw request body with the shared webhook secret.
// A missing secret fails closed.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig))
}

// VerifyPaymentSignature checks the checkout callback signature Razorpay
// computes over "{payment_id}|{subscription_id}".
func VerifyPaymentSignature(paymentID, subscriptionID, signature, secret string) bool {
	return VerifyWebhookSignature([]byte(paymentID+"|"+subscriptionID), signature, secret)
}
