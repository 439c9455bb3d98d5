package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/skip2/go-qrcode"
)

const payloadPrefix = "UEVT1"

var ErrInvalidPayload = errors.New("invalid QR payload")

// Generator derives signed QR payloads from booking codes. The same code
// and secret always yield the same payload.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// Payload returns "UEVT1.<booking code>.<signature>".
func (g *Generator) Payload(bookingCode string) string {
	return payloadPrefix + "." + bookingCode + "." + g.sign(bookingCode)
}

// Verify checks the signature and returns the embedded booking code.
func (g *Generator) Verify(payload string) (string, error) {
	parts := strings.Split(payload, ".")
	if len(parts) != 3 || parts[0] != payloadPrefix || parts[1] == "" {
		return "", ErrInvalidPayload
	}
	if !hmac.Equal([]byte(parts[2]), []byte(g.sign(parts[1]))) {
		return "", ErrInvalidPayload
	}
	return parts[1], nil
}

// PNG renders the payload as a QR image.
func (g *Generator) PNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

func (g *Generator) sign(code string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(code))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:22]
}
