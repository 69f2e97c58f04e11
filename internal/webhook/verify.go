package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrVerification is returned when a subscription handshake is rejected.
var ErrVerification = errors.New("webhook verification failed")

const signaturePrefix = "sha256="

// Verifier authenticates requests coming from the WhatsApp Cloud API.
type Verifier struct {
	verifyToken string
	appSecret   []byte
}

func NewVerifier(verifyToken, appSecret string) *Verifier {
	return &Verifier{verifyToken: verifyToken, appSecret: []byte(appSecret)}
}

// VerifySubscription answers the one-time GET handshake. The challenge is
// returned exactly as received.
func (v *Verifier) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || v.verifyToken == "" {
		return "", ErrVerification
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.verifyToken)) != 1 {
		return "", ErrVerification
	}
	return challenge, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw, unparsed request body.
func (v *Verifier) VerifySignature(body []byte, header string) bool {
	if len(v.appSecret) == 0 {
		return false
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(header[len(signaturePrefix):]))
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, v.appSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value the platform would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
