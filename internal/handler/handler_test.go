package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/model"
	"escrowhub/internal/provider"
	"escrowhub/internal/store/memory"
	"escrowhub/pkg/outbox"
	"escrowhub/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSecret   = "mtn-secret"
	clientID     = "client-1"
	freelancerID = "freelancer-1"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testIdentity stands in for the JWT middleware.
func testIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(CtxUserID, c.GetHeader("X-Test-User"))
		c.Set(CtxRole, c.GetHeader("X-Test-Role"))
		c.Next()
	}
}

type fakeReplayer struct {
	err      error
	replayed []string
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(context.Context, int) (int, error) {
	return 3, f.err
}

type env struct {
	t      *testing.T
	engine *gin.Engine
	store  *memory.Store
	svc    *escrow.Service
	replay *fakeReplayer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	store := memory.New()
	svc := escrow.NewService(store, escrow.Config{
		PlatformFeePercent: 10,
		MaxAttempts:        3,
		RetryBackoff:       time.Millisecond,
		OperationTimeout:   2 * time.Second,
	}, log)

	payments := NewPaymentHandler(svc, log)
	contracts := NewContractHandler(svc, log)
	milestones := NewMilestoneHandler(svc, log)
	notifications := NewNotificationHandler(svc, log)
	webhooks := NewWebhookHandler(svc, log)
	replay := &fakeReplayer{}
	admin := NewAdminHandler(svc, replay, nil, log)
	mtn := provider.NewVerifier(model.ProviderMTN, provider.Config{WebhookSecret: testSecret}, log)

	r := gin.New()
	r.POST("/api/webhooks/mtn", webhooks.Receive(mtn))
	r.GET("/api/webhooks/mtn", webhooks.Liveness(mtn))

	api := r.Group("/", testIdentity())
	api.POST("/api/payments/mtn", payments.Initiate(model.ProviderMTN))
	api.GET("/api/payments/:id", payments.GetPayment)
	api.POST("/api/contracts", contracts.Create)
	api.GET("/api/contracts/:id", contracts.Get)
	api.POST("/api/contracts/:id/accept", contracts.Accept)
	api.GET("/api/contracts/:id/events", contracts.Events)
	api.POST("/api/contracts/:id/disputes", contracts.OpenDispute)
	api.POST("/api/contracts/:id/disputes/resolve", contracts.ResolveDispute)
	api.POST("/api/milestones/:id/submit", milestones.Submit)
	api.POST("/api/milestones/:id/approve", milestones.Approve)
	api.POST("/api/milestones/:id/cancel", milestones.Cancel)
	api.GET("/api/notifications", notifications.List)
	api.POST("/api/notifications/:id/read", notifications.MarkRead)
	api.POST("/admin/outbox/replay", admin.ReplayOutboxEvent)
	api.POST("/admin/outbox/replay-failed", admin.ReplayFailedEvents)
	api.GET("/admin/anomalies", admin.ListAnomalies)
	api.POST("/admin/reconcile", admin.RunReconcile)

	return &env{t: t, engine: r, store: store, svc: svc, replay: replay}
}

func (e *env) do(method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *env) webhook(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mtn", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-MTN-Signature", signature)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	decode(t, w, &body)
	return body.Error.Code
}

// activeContract creates and accepts a contract with one 500 USD milestone.
func (e *env) activeContract() model.Contract {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/contracts", clientID, rbac.RoleClient, gin.H{
		"freelancerId": freelancerID,
		"title":        "Landing page",
		"currency":     "USD",
		"milestones":   []gin.H{{"title": "Design", "amount": 500}},
	})
	if w.Code != http.StatusCreated {
		e.t.Fatalf("create contract: %d %s", w.Code, w.Body.String())
	}
	var c model.Contract
	decode(e.t, w, &c)

	w = e.do(http.MethodPost, "/api/contracts/"+c.ID+"/accept", freelancerID, rbac.RoleFreelancer, nil)
	if w.Code != http.StatusOK {
		e.t.Fatalf("accept contract: %d %s", w.Code, w.Body.String())
	}
	decode(e.t, w, &c)
	return c
}

func (e *env) initiate(c model.Contract) initiatePaymentResponse {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/payments/mtn", clientID, rbac.RoleClient, gin.H{
		"amount":      500,
		"currency":    "USD",
		"phone":       "+237650000000",
		"contractId":  c.ID,
		"milestoneId": c.Milestones[0].ID,
	})
	if w.Code != http.StatusOK {
		e.t.Fatalf("initiate: %d %s", w.Code, w.Body.String())
	}
	var resp initiatePaymentResponse
	decode(e.t, w, &resp)
	return resp
}

func (e *env) signedSuccess(paymentID, txID string) *httptest.ResponseRecorder {
	e.t.Helper()
	body, _ := json.Marshal(gin.H{
		"paymentId":     paymentID,
		"status":        "SUCCESSFUL",
		"transactionId": txID,
		"amount":        500,
		"currency":      "USD",
	})
	return e.webhook(body, provider.Sign(testSecret, body))
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	c := e.activeContract()

	pay := e.initiate(c)
	if pay.Status != string(model.PaymentPending) || pay.TransactionID == "" || pay.Provider != model.ProviderMTN {
		t.Fatalf("initiate response = %+v", pay)
	}

	if w := e.signedSuccess(pay.PaymentID, "tx-1"); w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}
	// Providers redeliver; the replay is acknowledged.
	if w := e.signedSuccess(pay.PaymentID, "tx-1"); w.Code != http.StatusOK {
		t.Fatalf("replayed webhook: %d %s", w.Code, w.Body.String())
	}

	w := e.do(http.MethodGet, "/api/payments/"+pay.PaymentID, clientID, rbac.RoleClient, nil)
	var p model.Payment
	decode(t, w, &p)
	if p.Status != model.PaymentEscrowed || p.ProviderTransactionID != "tx-1" {
		t.Fatalf("payment after webhook = %s / %s", p.Status, p.ProviderTransactionID)
	}

	mid := c.Milestones[0].ID
	w = e.do(http.MethodPost, "/api/milestones/"+mid+"/submit", freelancerID, rbac.RoleFreelancer, gin.H{
		"description": "Figma file attached",
		"links":       []string{"https://figma.test/file"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	w = e.do(http.MethodPost, "/api/milestones/"+mid+"/approve", clientID, rbac.RoleClient, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	var done model.Contract
	decode(t, w, &done)
	if done.Status != model.ContractCompleted {
		t.Errorf("contract status = %s, want completed", done.Status)
	}

	w = e.do(http.MethodGet, "/api/contracts/"+c.ID+"/events", freelancerID, rbac.RoleFreelancer, nil)
	var events struct {
		Events []model.ContractEvent `json:"events"`
		Count  int                   `json:"count"`
	}
	decode(t, w, &events)
	if events.Count == 0 || events.Events[0].Type != model.EventContractCreated {
		t.Errorf("events = %+v", events)
	}
}

func TestWebhookResponses(t *testing.T) {
	e := newEnv(t)
	c := e.activeContract()
	pay := e.initiate(c)

	valid, _ := json.Marshal(gin.H{"paymentId": pay.PaymentID, "status": "FAILED", "failureReason": "insufficient_funds"})
	unknown, _ := json.Marshal(gin.H{"paymentId": "nope", "status": "FAILED"})
	incomplete, _ := json.Marshal(gin.H{"status": "FAILED"})
	noTx, _ := json.Marshal(gin.H{"paymentId": pay.PaymentID, "status": "SUCCESSFUL"})
	garbage := []byte("{not json")

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      int
	}{
		{"missing signature", valid, "", http.StatusUnauthorized},
		{"wrong signature", valid, provider.Sign("other", valid), http.StatusUnauthorized},
		{"malformed json", garbage, provider.Sign(testSecret, garbage), http.StatusBadRequest},
		{"missing payment id", incomplete, provider.Sign(testSecret, incomplete), http.StatusBadRequest},
		{"success without transaction", noTx, provider.Sign(testSecret, noTx), http.StatusBadRequest},
		{"unknown payment", unknown, provider.Sign(testSecret, unknown), http.StatusNotFound},
		{"failure applied", valid, provider.Sign(testSecret, valid), http.StatusOK},
		{"failure replayed", valid, provider.Sign(testSecret, valid), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.webhook(tt.body, tt.signature); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	p, err := e.store.GetPayment(context.Background(), pay.PaymentID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != model.PaymentFailed {
		t.Errorf("payment status = %s, want failed", p.Status)
	}
}

func TestWebhookAnomalyIsAcknowledgedAndRecorded(t *testing.T) {
	e := newEnv(t)
	pay := e.initiate(e.activeContract())
	if w := e.signedSuccess(pay.PaymentID, "tx-1"); w.Code != http.StatusOK {
		t.Fatalf("fund: %d", w.Code)
	}

	if w := e.signedSuccess(pay.PaymentID, "tx-other"); w.Code != http.StatusOK {
		t.Fatalf("mismatch: %d %s", w.Code, w.Body.String())
	}

	w := e.do(http.MethodGet, "/admin/anomalies", "admin-1", rbac.RoleAdmin, nil)
	var body struct {
		Anomalies []model.Anomaly `json:"anomalies"`
	}
	decode(t, w, &body)
	if len(body.Anomalies) != 1 || body.Anomalies[0].Kind != model.AnomalyTransactionMismatch {
		t.Fatalf("anomalies = %+v", body.Anomalies)
	}
}

func TestWebhookLiveness(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/webhooks/mtn", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["status"] != "ok" || body["provider"] != "mtn" {
		t.Errorf("body = %v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	c := e.activeContract()
	mid := c.Milestones[0].ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		role   string
		body   interface{}
		status int
		code   string
	}{
		{"initiate with missing fields", http.MethodPost, "/api/payments/mtn", clientID, rbac.RoleClient,
			gin.H{"amount": 500}, http.StatusBadRequest, "validation_failed"},
		{"initiate wrong amount", http.MethodPost, "/api/payments/mtn", clientID, rbac.RoleClient,
			gin.H{"amount": 10, "currency": "USD", "phone": "+237650000000", "contractId": c.ID, "milestoneId": mid},
			http.StatusBadRequest, "validation_failed"},
		{"initiate by stranger", http.MethodPost, "/api/payments/mtn", "someone", rbac.RoleClient,
			gin.H{"amount": 500, "currency": "USD", "phone": "+237650000000", "contractId": c.ID, "milestoneId": mid},
			http.StatusForbidden, "forbidden"},
		{"approve unfunded milestone", http.MethodPost, "/api/milestones/" + mid + "/approve", clientID, rbac.RoleClient,
			nil, http.StatusConflict, "invalid_transition"},
		{"unknown milestone", http.MethodPost, "/api/milestones/missing/approve", clientID, rbac.RoleClient,
			nil, http.StatusNotFound, "not_found"},
		{"contract read by stranger", http.MethodGet, "/api/contracts/" + c.ID, "someone", rbac.RoleClient,
			nil, http.StatusForbidden, "forbidden"},
		{"resolve bad outcome", http.MethodPost, "/api/contracts/" + c.ID + "/disputes/resolve", "admin-1", rbac.RoleAdmin,
			gin.H{"outcome": "split"}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(tt.method, tt.path, tt.user, tt.role, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
		})
	}
}

func TestOperatorCanReadAnyContract(t *testing.T) {
	e := newEnv(t)
	c := e.activeContract()
	if w := e.do(http.MethodGet, "/api/contracts/"+c.ID, "admin-1", rbac.RoleAdmin, nil); w.Code != http.StatusOK {
		t.Errorf("admin read: %d", w.Code)
	}
}

func TestDisputeLocksClientActions(t *testing.T) {
	e := newEnv(t)
	c := e.activeContract()
	pay := e.initiate(c)
	e.signedSuccess(pay.PaymentID, "tx-1")

	w := e.do(http.MethodPost, "/api/contracts/"+c.ID+"/disputes", freelancerID, rbac.RoleFreelancer,
		gin.H{"reason": "client unresponsive", "paymentId": pay.PaymentID})
	if w.Code != http.StatusOK {
		t.Fatalf("open dispute: %d %s", w.Code, w.Body.String())
	}

	mid := c.Milestones[0].ID
	w = e.do(http.MethodPost, "/api/milestones/"+mid+"/cancel", clientID, rbac.RoleClient, gin.H{"reason": "changed plans"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "contract_locked" {
		t.Fatalf("cancel during dispute: %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/api/contracts/"+c.ID+"/disputes/resolve", "admin-1", rbac.RoleAdmin,
		gin.H{"outcome": "refund", "paymentId": pay.PaymentID, "note": "no delivery"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}
	p, _ := e.store.GetPayment(context.Background(), pay.PaymentID)
	if p.Status != model.PaymentRefunded {
		t.Errorf("payment status = %s, want refunded", p.Status)
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.activeContract()

	w := e.do(http.MethodGet, "/api/notifications?unread=true&limit=10", freelancerID, rbac.RoleFreelancer, nil)
	var list struct {
		Notifications []model.Notification `json:"notifications"`
		Count         int                  `json:"count"`
	}
	decode(t, w, &list)
	if list.Count == 0 {
		t.Fatal("freelancer has no notifications")
	}
	id := list.Notifications[0].ID

	if w := e.do(http.MethodPost, "/api/notifications/"+id+"/read", clientID, rbac.RoleClient, nil); w.Code != http.StatusNotFound {
		t.Errorf("read by non-recipient: %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/notifications/"+id+"/read", freelancerID, rbac.RoleFreelancer, nil); w.Code != http.StatusOK {
		t.Errorf("read by recipient: %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/api/notifications?unread=true", freelancerID, rbac.RoleFreelancer, nil)
	decode(t, w, &list)
	for _, n := range list.Notifications {
		if n.ID == id {
			t.Errorf("notification %s still unread", id)
		}
	}
}

func TestAdminOutboxReplay(t *testing.T) {
	e := newEnv(t)

	if w := e.do(http.MethodPost, "/admin/outbox/replay", "admin-1", rbac.RoleAdmin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/admin/outbox/replay?id=evt-1", "admin-1", rbac.RoleAdmin, nil); w.Code != http.StatusOK {
		t.Errorf("replay: %d", w.Code)
	}
	if len(e.replay.replayed) != 1 || e.replay.replayed[0] != "evt-1" {
		t.Errorf("replayed = %v", e.replay.replayed)
	}

	w := e.do(http.MethodPost, "/admin/outbox/replay-failed", "admin-1", rbac.RoleAdmin, nil)
	var body struct {
		SuccessCount int `json:"success_count"`
	}
	decode(t, w, &body)
	if body.SuccessCount != 3 {
		t.Errorf("success_count = %d", body.SuccessCount)
	}

	e.replay.err = errors.Join(outbox.ErrEventNotFound)
	if w := e.do(http.MethodPost, "/admin/outbox/replay?id=gone", "admin-1", rbac.RoleAdmin, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown event: %d", w.Code)
	}

	if w := e.do(http.MethodPost, "/admin/reconcile", "admin-1", rbac.RoleAdmin, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("reconcile without reconciler: %d", w.Code)
	}
}
