package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

var ErrUnauthorized = errors.New("unauthorized")

// Sign devuelve "sha256=<hex en minúscula>" del HMAC-SHA256 del body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compara en tiempo constante. Sin secreto configurado
// siempre falla. No distingue el motivo del rechazo.
func VerifySignature(secret, body []byte, header string) error {
	if len(secret) == 0 {
		return ErrUnauthorized
	}
	header = strings.ToLower(strings.TrimSpace(header))
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrUnauthorized
	}
	if !hmac.Equal([]byte(header), []byte(Sign(secret, body))) {
		return ErrUnauthorized
	}
	return nil
}
