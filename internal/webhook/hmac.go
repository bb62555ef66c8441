package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Shopify signs webhook deliveries with HMAC-SHA256 over the raw body,
// base64-encoded in the X-Shopify-Hmac-Sha256 header.
const SignatureHeader = "X-Shopify-Hmac-Sha256"

// ShopDomainHeader carries the originating shop for a delivery.
const ShopDomainHeader = "X-Shopify-Shop-Domain"

// VerifySignature checks the platform signature over body. Comparison
// is constant time. An empty secret never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature the platform would send for body. Used by
// tests and local tooling to forge valid deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
