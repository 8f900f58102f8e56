package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"escrowhub/internal/model"

	"go.uber.org/zap"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNoSecret         = errors.New("webhook secret not configured")
)

const signaturePrefix = "sha256="

// Verifier checks HMAC-SHA256 signatures over raw webhook bodies.
type Verifier struct {
	provider      model.Provider
	secret        []byte
	allowUnsigned bool
	logger        *zap.Logger
}

func NewVerifier(provider model.Provider, cfg Config, logger *zap.Logger) *Verifier {
	return &Verifier{
		provider:      provider,
		secret:        []byte(cfg.WebhookSecret),
		allowUnsigned: cfg.AllowUnsigned && cfg.WebhookSecret == "",
		logger:        logger,
	}
}

func (v *Verifier) Provider() model.Provider { return v.provider }

// Header is the request header the signature is read from.
func (v *Verifier) Header() string { return SignatureHeader(v.provider) }

// Verify compares signature, hex encoded and optionally "sha256=" prefixed,
// with the HMAC of body in constant time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		if v.allowUnsigned {
			v.logger.Warn("Accepting unsigned webhook, no secret configured",
				zap.String("provider", string(v.provider)))
			return nil
		}
		return ErrNoSecret
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	signature = strings.TrimPrefix(strings.ToLower(signature), signaturePrefix)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(v.secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the prefixed signature of body, as a provider would send it.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac([]byte(secret), body))
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}
