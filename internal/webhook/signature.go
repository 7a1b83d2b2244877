package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

const (
	// SecretPrefix marks listing webhook secrets.
	SecretPrefix = "whsec_"
	// SignaturePrefix precedes the hex digest in the signature header.
	SignaturePrefix = "sha256="

	secretBytes = 32
)

// GenerateSecret returns a new random webhook secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" || !strings.HasPrefix(signature, SignaturePrefix) {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
