package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// SignatureHeader carries the HMAC of the request body
const SignatureHeader = "X-Hub-Signature-256"

// Sign returns the header value for body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" signature against body
func VerifySignature(secret, signature string, body []byte) error {
	digest, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return interfaces.NewError(interfaces.KindAuthentication, "missing or malformed %s header", SignatureHeader)
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return interfaces.NewError(interfaces.KindAuthentication, "malformed %s header", SignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return interfaces.NewError(interfaces.KindAuthentication, "webhook signature does not match")
	}
	return nil
}
