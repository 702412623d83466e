package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ==========================
// Test Helper Functions
// ==========================

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*security.Claims, error) {
	switch token {
	case "engineer-token":
		return &security.Claims{Subject: "user-7", TenantID: "vessel-a", Roles: []models.Role{models.RoleEngineer}}, nil
	case "auditor-token":
		return &security.Claims{Subject: "aud-1", TenantID: "vessel-a", Roles: []models.Role{models.RoleAuditor}}, nil
	}
	return nil, errors.NewAccessDeniedError("token is not active")
}

type fakeEngine struct {
	scopes []models.TenantScope
	out    *engine.Outcome
	err    error
}

func (f *fakeEngine) Search(_ context.Context, scope models.TenantScope, text string) (*engine.Outcome, error) {
	f.scopes = append(f.scopes, scope)
	return f.out, f.err
}

func (f *fakeEngine) Query(_ context.Context, scope models.TenantScope, text string) (*engine.Outcome, error) {
	f.scopes = append(f.scopes, scope)
	return f.out, f.err
}

type fakeActions struct {
	executed  []string
	payloads  []map[string]interface{}
	confirmed []string
	cancelled []string
	result    *actions.ExecuteResult
	commit    *models.CommitResult
	err       error
}

func (f *fakeActions) Execute(_ context.Context, actionID string, _ models.TenantScope, payload map[string]interface{}) (*actions.ExecuteResult, error) {
	f.executed = append(f.executed, actionID)
	f.payloads = append(f.payloads, payload)
	return f.result, f.err
}

func (f *fakeActions) Confirm(_ context.Context, token string, _ models.TenantScope) (*models.CommitResult, error) {
	f.confirmed = append(f.confirmed, token)
	return f.commit, f.err
}

func (f *fakeActions) Cancel(_ context.Context, token string, _ models.TenantScope) error {
	f.cancelled = append(f.cancelled, token)
	return f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func createTestConfig() Config {
	return Config{
		AllowedOrigins: []string{"https://bridge.fleet.example"},
		RateLimit:      100,
		RateBurst:      100,
	}
}

func setupServer(t *testing.T, eng *fakeEngine, acts *fakeActions) *gin.Engine {
	t.Helper()
	srv := NewServer(createTestConfig(), eng, acts, fakeVerifier{},
		map[string]Pinger{"postgres": fakePinger{}}, logger.NewTestLogger(t))
	return srv.Router()
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	envelope, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "missing error envelope: %s", w.Body.String())
	return envelope["kind"].(string)
}

// ==========================
// Authentication and scope
// ==========================

func TestAuth_Refusals(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{Analysis: &engine.Analysis{}, NoResult: engine.NoResultNoEntities}}
	r := setupServer(t, eng, &fakeActions{})

	tests := []struct {
		name       string
		token      string
		body       interface{}
		wantStatus int
		wantKind   string
	}{
		{"no credential", "", gin.H{"query": "oil filter"}, http.StatusForbidden, "access_denied"},
		{"inactive credential", "revoked", gin.H{"query": "oil filter"}, http.StatusForbidden, "access_denied"},
		{"other tenant", "engineer-token", gin.H{"query": "oil filter", "tenant": "vessel-b"}, http.StatusForbidden, "access_denied"},
		{"role not granted", "engineer-token", gin.H{"query": "oil filter", "role": "captain"}, http.StatusForbidden, "access_denied"},
		{"unknown role", "engineer-token", gin.H{"query": "oil filter", "role": "admiral"}, http.StatusBadRequest, "validation_error"},
		{"missing query", "engineer-token", gin.H{"tenant": "vessel-a"}, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/search", tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, errorKind(t, w))
		})
	}
	assert.Empty(t, eng.scopes)
}

func TestSearch_ScopeFromCredential(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{Analysis: &engine.Analysis{}, Results: models.GroupedResults{}, NoResult: engine.NoResultNoMatches}}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "oil filter for tenant vessel-b"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, eng.scopes, 1)
	assert.Equal(t, models.TenantScope{TenantID: "vessel-a", ActorID: "user-7", Role: models.RoleEngineer}, eng.scopes[0])
}

// ==========================
// Search and query
// ==========================

func TestSearch_NoResult(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{Analysis: &engine.Analysis{}, NoResult: engine.NoResultActionIntent}}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "create work order for main engine"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "no_result", body["status"])
	assert.Equal(t, "action_intent", body["reason"])
	assert.NotContains(t, body, "action")
}

func TestSearch_Results(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{
		Analysis: &engine.Analysis{},
		Results: models.GroupedResults{
			models.EntityLocation: {{
				EntityType:     models.EntityLocation,
				CanonicalLabel: "BOX_3D",
				WavesRun:       1,
				Hits:           []models.SearchHit{{ID: "loc-3d", Table: "locations", Column: "code", Wave: 1}},
			}},
		},
	}}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "inventory box 3d"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["total"])
	assert.Contains(t, w.Body.String(), `"loc-3d"`)
}

func TestSearch_EchoedQueryIsEscaped(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{Analysis: &engine.Analysis{}, NoResult: engine.NoResultNoEntities}}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": `pump "a" & <b>`})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pump &#34;a&#34; &amp; &lt;b&gt;", body["query"])
	assert.NotContains(t, w.Body.String(), "<b>")
}

func TestSearch_BlockedQuery(t *testing.T) {
	eng := &fakeEngine{err: errors.NewBlockedError(string(models.ReasonInjectionShaped), "query was not routed")}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "'; DROP TABLE users; --"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	envelope := body["error"].(map[string]interface{})
	assert.Equal(t, "blocked", envelope["kind"])
	assert.Equal(t, "injection_shaped", envelope["details"].(map[string]interface{})["reason"])
}

func TestQuery_FallbackNeedsClarification(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{
		Analysis: &engine.Analysis{},
		Fallback: &engine.Interpretation{
			Status:           engine.InterpretationNeedsClarification,
			CandidateActions: []string{"order_part"},
		},
	}}
	acts := &fakeActions{}
	r := setupServer(t, eng, acts)

	w := do(r, http.MethodPost, "/v1/query", "engineer-token", gin.H{"query": "order injector for genset"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "needs_clarification", body["status"])
	fallback := body["fallback"].(map[string]interface{})
	assert.Equal(t, []interface{}{"order_part"}, fallback["candidate_actions"])
	assert.NotContains(t, body, "confirmation_token")
	assert.Empty(t, acts.executed)
}

func TestQuery_PendingConfirmation(t *testing.T) {
	expires := time.Date(2025, 6, 1, 8, 5, 0, 0, time.UTC)
	eng := &fakeEngine{out: &engine.Outcome{
		Analysis: &engine.Analysis{},
		Action: &actions.ExecuteResult{
			ActionID: "create_work_order",
			Kind:     models.ActionMutate,
			Pending: &actions.PendingConfirmation{
				Token:      "tok-1",
				MutationID: "mut-1",
				ActionID:   "create_work_order",
				State:      models.StatePendingConfirmation,
				ExpiresAt:  expires,
			},
		},
	}}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/query", "engineer-token", gin.H{"query": "create work order for main engine"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pending_confirmation", body["status"])
	assert.Equal(t, "tok-1", body["confirmation_token"])
	assert.Equal(t, "PENDING_CONFIRMATION", body["state"])
	assert.Equal(t, expires.Format(time.RFC3339), body["expires_at"])
}

func TestInternalErrorsHideDetails(t *testing.T) {
	eng := &fakeEngine{err: errors.NewDatabaseError("search", fmt.Errorf("pq: relation \"parts\" does not exist"))}
	r := setupServer(t, eng, &fakeActions{})

	w := do(r, http.MethodPost, "/v1/query", "engineer-token", gin.H{"query": "oil filter stock"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorKind(t, w))
	assert.NotContains(t, w.Body.String(), "relation")
}

// ==========================
// Actions
// ==========================

func TestExecute(t *testing.T) {
	acts := &fakeActions{result: &actions.ExecuteResult{
		ActionID: "view_part_stock",
		Kind:     models.ActionRead,
		Data:     []map[string]interface{}{{"id": "part-9", "stock_qty": 4}},
		RowCount: 1,
	}}
	r := setupServer(t, &fakeEngine{}, acts)

	w := do(r, http.MethodPost, "/v1/actions/execute", "engineer-token", gin.H{
		"action":  "view_part_stock",
		"context": gin.H{"tenant": "vessel-a"},
		"payload": gin.H{"part_id": "part-9"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["row_count"])
	assert.Equal(t, []string{"view_part_stock"}, acts.executed)
	assert.Equal(t, "part-9", acts.payloads[0]["part_id"])
}

func TestExecute_GateErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"unknown action", errors.NewUnknownActionError("paint_hull"), http.StatusNotFound, "no_match"},
		{"role refused", errors.NewRoleNotAllowedError("adjust_stock", "crew"), http.StatusForbidden, "access_denied"},
		{"missing fields", errors.NewMissingFieldsError("order_part", []string{"quantity"}), http.StatusBadRequest, "validation_error"},
		{"business rule", errors.NewBusinessRuleError("Target record not found", "wo-9"), http.StatusUnprocessableEntity, "business_rule_rejection"},
		{"conflict", errors.NewConflictError("work_orders/wo-1", "version changed"), http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupServer(t, &fakeEngine{}, &fakeActions{err: tt.err})
			w := do(r, http.MethodPost, "/v1/actions/execute", "engineer-token", gin.H{"action": "order_part"})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, errorKind(t, w))
		})
	}
}

func TestConfirm(t *testing.T) {
	acts := &fakeActions{commit: &models.CommitResult{
		MutationID:    "mut-1",
		State:         models.StateCommitted,
		EntityID:      "wo-1",
		LedgerEventID: "led-1",
	}}
	r := setupServer(t, &fakeEngine{}, acts)
	token := "6f1c1d9e-3a1b-4c55-9d8e-0a1b2c3d4e5f"

	w := do(r, http.MethodPost, "/v1/actions/confirm", "engineer-token", gin.H{
		"confirmation_token": token,
		"context":            gin.H{"tenant": "vessel-a"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "committed", body["status"])
	assert.Equal(t, "wo-1", body["entity_id"])
	assert.NotContains(t, body, "audit_record_id")
	assert.Equal(t, []string{token}, acts.confirmed)
}

func TestConfirm_MalformedToken(t *testing.T) {
	acts := &fakeActions{}
	r := setupServer(t, &fakeEngine{}, acts)

	w := do(r, http.MethodPost, "/v1/actions/confirm", "engineer-token", gin.H{"confirmation_token": "not-a-token"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, acts.confirmed)
}

func TestCancel(t *testing.T) {
	acts := &fakeActions{}
	r := setupServer(t, &fakeEngine{}, acts)

	w := do(r, http.MethodDelete, "/v1/actions/pending/tok-1", "engineer-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"tok-1"}, acts.cancelled)
}

func TestAuditTrail_GoesThroughGate(t *testing.T) {
	acts := &fakeActions{result: &actions.ExecuteResult{
		ActionID: auditTrailAction,
		Kind:     models.ActionRead,
		Data:     &models.AuditTrail{EntityID: "part-9"},
		RowCount: 0,
	}}
	r := setupServer(t, &fakeEngine{}, acts)

	w := do(r, http.MethodGet, "/v1/audit/entities/part-9", "auditor-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{auditTrailAction}, acts.executed)
	assert.Equal(t, map[string]interface{}{"entity_id": "part-9"}, acts.payloads[0])
}

// ==========================
// Boundary
// ==========================

func TestRateLimit(t *testing.T) {
	eng := &fakeEngine{out: &engine.Outcome{Analysis: &engine.Analysis{}, NoResult: engine.NoResultNoEntities}}
	cfg := createTestConfig()
	cfg.RateLimit, cfg.RateBurst = 0.001, 2
	r := NewServer(cfg, eng, &fakeActions{}, fakeVerifier{}, nil, logger.NewNoOpLogger()).Router()

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "oil filter"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(r, http.MethodPost, "/v1/search", "engineer-token", gin.H{"query": "oil filter"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "blocked", errorKind(t, w))

	w = do(r, http.MethodPost, "/v1/search", "auditor-token", gin.H{"query": "oil filter"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPreflightSkipsAuthentication(t *testing.T) {
	r := setupServer(t, &fakeEngine{}, &fakeActions{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/search", nil)
	req.Header.Set("Origin", "https://bridge.fleet.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://bridge.fleet.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthEndpoints(t *testing.T) {
	srv := NewServer(createTestConfig(), &fakeEngine{}, &fakeActions{}, fakeVerifier{}, map[string]Pinger{
		"postgres": fakePinger{},
		"redis":    fakePinger{err: fmt.Errorf("connection refused")},
	}, logger.NewTestLogger(t))
	r := srv.Router()

	w := do(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, map[string]interface{}{"postgres": "ok", "redis": "unavailable"}, body["checks"])

	w = do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "engine_http_requests_total")
}

// ==========================
// Envelope for router-level failures
// ==========================

func TestUnmatchedRequestsCarryEnvelope(t *testing.T) {
	r := setupServer(t, &fakeEngine{}, &fakeActions{})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantKind   string
	}{
		{"unknown path", http.MethodGet, "/v1/nope", http.StatusNotFound, "no_match"},
		{"unknown root path", http.MethodPost, "/search", http.StatusNotFound, "no_match"},
		{"wrong method", http.MethodGet, "/v1/search", http.StatusMethodNotAllowed, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, "engineer-token", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, errorKind(t, w))
		})
	}
}

func TestPanicAnswersInternalError(t *testing.T) {
	r := setupServer(t, &fakeEngine{}, &fakeActions{})
	r.GET("/boom", func(*gin.Context) {
		panic("assignment to entry in nil map")
	})

	w := do(r, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorKind(t, w))
	assert.NotContains(t, w.Body.String(), "nil map")
}

func TestOpsRouter_UnknownPathCarriesEnvelope(t *testing.T) {
	srv := NewServer(createTestConfig(), &fakeEngine{}, &fakeActions{}, fakeVerifier{}, nil, logger.NewTestLogger(t))

	w := do(srv.OpsRouter(), http.MethodGet, "/debug", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_match", errorKind(t, w))
}
