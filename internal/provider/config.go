package provider

import (
	"time"

	"escrowhub/internal/model"
)

// Config holds one mobile-money provider's credentials and endpoints.
type Config struct {
	WebhookSecret string `yaml:"webhook_secret"`
	// AllowUnsigned accepts unsigned webhooks, and only when WebhookSecret is
	// empty. Local development only.
	AllowUnsigned bool          `yaml:"allow_unsigned"`
	StatusBaseURL string        `yaml:"status_base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Settings is the providers section of the service config.
type Settings struct {
	MTN    Config `yaml:"mtn"`
	Orange Config `yaml:"orange"`
}

// For returns the settings of p and whether p is configured at all.
func (s Settings) For(p model.Provider) (Config, bool) {
	switch p {
	case model.ProviderMTN:
		return s.MTN, true
	case model.ProviderOrange:
		return s.Orange, true
	}
	return Config{}, false
}

// SignatureHeader is the request header carrying p's webhook signature.
func SignatureHeader(p model.Provider) string {
	switch p {
	case model.ProviderOrange:
		return "X-Orange-Signature"
	default:
		return "X-MTN-Signature"
	}
}
