package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/handler"
	"escrowhub/internal/model"
	"escrowhub/internal/provider"
	"escrowhub/internal/store/memory"
	"escrowhub/pkg/rbac"
	"escrowhub/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const jwtSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, ready error) *Router {
	t.Helper()
	log := zap.NewNop()
	svc := escrow.NewService(memory.New(), escrow.DefaultConfig(), log)
	h := Handlers{
		Payments:      handler.NewPaymentHandler(svc, log),
		Contracts:     handler.NewContractHandler(svc, log),
		Milestones:    handler.NewMilestoneHandler(svc, log),
		Notifications: handler.NewNotificationHandler(svc, log),
		Webhooks:      handler.NewWebhookHandler(svc, log),
		Admin:         handler.NewAdminHandler(svc, nil, nil, log),
	}
	verifiers := map[model.Provider]*provider.Verifier{
		model.ProviderMTN:    provider.NewVerifier(model.ProviderMTN, provider.Config{WebhookSecret: "m"}, log),
		model.ProviderOrange: provider.NewVerifier(model.ProviderOrange, provider.Config{WebhookSecret: "o"}, log),
	}
	checks := map[string]ReadinessCheck{
		"store": func(context.Context) error { return ready },
	}
	return NewRouter(h, verifiers, jwtSecret, checks, log)
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, jwtSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func serve(r *Router, method, path, bearer string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestRouteProtection(t *testing.T) {
	r := newTestRouter(t, nil)
	client := token(t, "client-1", rbac.RoleClient)
	freelancer := token(t, "freelancer-1", rbac.RoleFreelancer)
	admin := token(t, "admin-1", rbac.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"no token", http.MethodGet, "/api/notifications", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/notifications", "abc", http.StatusUnauthorized},
		{"any user lists notifications", http.MethodGet, "/api/notifications", freelancer, http.StatusOK},
		{"freelancer cannot initiate", http.MethodPost, "/api/payments/mtn", freelancer, http.StatusForbidden},
		{"client cannot accept", http.MethodPost, "/api/contracts/c1/accept", client, http.StatusForbidden},
		{"client cannot resolve", http.MethodPost, "/api/contracts/c1/disputes/resolve", client, http.StatusForbidden},
		{"client cannot read anomalies", http.MethodGet, "/admin/anomalies", client, http.StatusForbidden},
		{"admin reads anomalies", http.MethodGet, "/admin/anomalies", admin, http.StatusOK},
		{"admin reconcile not configured", http.MethodPost, "/admin/reconcile", admin, http.StatusServiceUnavailable},
		{"webhook needs no token", http.MethodGet, "/api/webhooks/orange", "", http.StatusOK},
		{"unsigned webhook", http.MethodPost, "/api/webhooks/mtn", "", http.StatusUnauthorized},
		{"unknown contract", http.MethodGet, "/api/contracts/missing", client, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.bearer, []byte(`{}`))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	r := newTestRouter(t, nil)
	tok, err := util.GenerateJWT("client-1", rbac.RoleClient, jwtSecret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if w := serve(r, http.MethodGet, "/api/notifications", tok, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	if w := serve(newTestRouter(t, nil), http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := serve(newTestRouter(t, nil), http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
	w := serve(newTestRouter(t, errors.New("connection refused")), http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing store = %d", w.Code)
	}
	if w := serve(newTestRouter(t, nil), http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestTraceHeader(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "req-42" {
		t.Errorf("trace header = %q, want req-42", got)
	}

	w = serve(r, http.MethodGet, "/healthz", "", nil)
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("no trace id generated")
	}
}
