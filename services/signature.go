package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether provided is the hex HMAC-SHA256 of message under
// secret. The comparison is constant time. An empty secret never verifies.
func Verify(secret string, message []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyPaymentSignature checks the checkout callback signature over
// "orderId|paymentId".
func VerifyPaymentSignature(keySecret, orderID, paymentID, signature string) bool {
	return Verify(keySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifySubscriptionSignature checks the recurring checkout callback, which
// signs "paymentId|subscriptionId".
func VerifySubscriptionSignature(keySecret, paymentID, subscriptionID, signature string) bool {
	return Verify(keySecret, []byte(paymentID+"|"+subscriptionID), signature)
}

// VerifyWebhookSignature checks a webhook body against its signature header.
func VerifyWebhookSignature(webhookSecret string, body []byte, signature string) bool {
	return Verify(webhookSecret, body, signature)
}
