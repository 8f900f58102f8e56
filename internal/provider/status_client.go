package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/pkg/circuitbreaker"
	"escrowhub/pkg/metrics"
	"escrowhub/pkg/trace"

	"go.uber.org/zap"
)

type statusResponse struct {
	Status        string  `json:"status"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PhoneNumber   string  `json:"phoneNumber"`
	FailureReason string  `json:"failureReason,omitempty"`
}

type endpoint struct {
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
}

// StatusClient asks providers for the status of a funding request. Each
// provider sits behind its own circuit breaker.
type StatusClient struct {
	httpClient *http.Client
	endpoints  map[model.Provider]*endpoint
	logger     *zap.Logger
}

var _ escrow.StatusChecker = (*StatusClient)(nil)

func NewStatusClient(settings Settings, logger *zap.Logger) *StatusClient {
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}
	c := &StatusClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		endpoints:  make(map[model.Provider]*endpoint),
		logger:     logger,
	}
	for _, p := range []model.Provider{model.ProviderMTN, model.ProviderOrange} {
		cfg, _ := settings.For(p)
		if cfg.StatusBaseURL == "" {
			continue
		}
		breaker := circuitbreaker.NewCircuitBreaker("provider_"+string(p), cbConfig)
		breaker.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Warn("Provider circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		c.endpoints[p] = &endpoint{cfg: cfg, breaker: breaker}
	}
	return c
}

// CheckStatus implements escrow.StatusChecker.
func (c *StatusClient) CheckStatus(ctx context.Context, p model.Provider, reference string) (*escrow.ProviderStatusReport, error) {
	ep, ok := c.endpoints[p]
	if !ok {
		return nil, fmt.Errorf("no status endpoint configured for provider %q", p)
	}
	if ep.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.cfg.Timeout)
		defer cancel()
	}

	var resp statusResponse
	err := ep.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.fetch(ctx, p, ep.cfg, reference, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &escrow.ProviderStatusReport{
		Status:        escrow.ProviderStatus(strings.ToUpper(resp.Status)),
		TransactionID: resp.TransactionID,
		Amount:        resp.Amount,
		Currency:      strings.ToUpper(resp.Currency),
		PhoneNumber:   resp.PhoneNumber,
		FailureReason: resp.FailureReason,
	}, nil
}

func (c *StatusClient) fetch(ctx context.Context, p model.Provider, cfg Config, reference string, out *statusResponse) error {
	start := time.Now()
	u := strings.TrimRight(cfg.StatusBaseURL, "/") + "/v1/transactions/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCallLatency(string(p), "error", time.Since(start))
		return err
	}
	defer resp.Body.Close()
	metrics.RecordProviderCallLatency(string(p), strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider status api returned %d for %s", resp.StatusCode, reference)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider status: %w", err)
	}
	return nil
}
