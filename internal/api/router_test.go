package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/models"
	"referral-bot/internal/referral"
	"referral-bot/internal/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, cidrs ...string) (*gin.Engine, *database.Store) {
	t.Helper()
	return setupRouterBehind(t, nil, cidrs...)
}

// setupRouterBehind builds a router that trusts X-Forwarded-For from proxies.
// Without cidrs the allowlist admits httptest's default peer 192.0.2.1.
func setupRouterBehind(t *testing.T, proxies []string, cidrs ...string) (*gin.Engine, *database.Store) {
	t.Helper()

	store, err := database.Open(&config.Config{
		DBDriver: database.DriverSQLite,
		DBPath:   filepath.Join(t.TempDir(), "api.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := database.EnsureSchema(ctx, store.DB(ctx)); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}

	if len(cidrs) == 0 {
		cidrs = []string{"192.0.2.0/24"}
	}
	blocks, err := utils.ParseCIDRs(cidrs)
	if err != nil {
		t.Fatalf("parse cidrs failed: %v", err)
	}

	logger := zap.NewNop()
	svc := referral.NewService(store, 0, logger)
	r, err := SetupRouter(gin.TestMode, logger, blocks, proxies, NewHandler(svc, store, logger))
	if err != nil {
		t.Fatalf("setup router failed: %v", err)
	}
	return r, store
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response failed: %v (%s)", err, w.Body.String())
		}
	}
	return w, env
}

func TestRegisterAndCountOverHTTP(t *testing.T) {
	r, _ := setupRouter(t)

	w, _ := do(t, r, http.MethodPost, "/api/v1/registrations", map[string]interface{}{"user_id": 1, "handle": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("register referrer: expected 200, got %d", w.Code)
	}

	w, env := do(t, r, http.MethodPost, "/api/v1/registrations", map[string]interface{}{"user_id": 2, "referrer_id": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("register referee: expected 200, got %d", w.Code)
	}
	var res referral.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	if !res.Created || !res.ReferralRecorded || !res.ReferrerFound {
		t.Fatalf("unexpected result: %+v", res)
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/users/1/referrals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("count: expected 200, got %d", w.Code)
	}
	var count referralCountResponse
	if err := json.Unmarshal(env.Data, &count); err != nil {
		t.Fatalf("decode count failed: %v", err)
	}
	if count.UserID != 1 || count.ReferralCount != 1 {
		t.Fatalf("unexpected count: %+v", count)
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/users/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get user: expected 200, got %d", w.Code)
	}
	var user models.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		t.Fatalf("decode user failed: %v", err)
	}
	if user.ReferrerID == nil || *user.ReferrerID != 1 {
		t.Fatalf("expected referrer 1, got %v", user.ReferrerID)
	}
}

func TestUnknownUserCountIsZeroButLookupIs404(t *testing.T) {
	r, _ := setupRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/v1/users/77/referrals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown count, got %d", w.Code)
	}
	var count referralCountResponse
	_ = json.Unmarshal(env.Data, &count)
	if count.ReferralCount != 0 {
		t.Fatalf("expected zero, got %d", count.ReferralCount)
	}

	if w, _ := do(t, r, http.MethodGet, "/api/v1/users/77", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", w.Code)
	}
}

func TestBadInputIs400(t *testing.T) {
	r, _ := setupRouter(t)

	if w, _ := do(t, r, http.MethodGet, "/api/v1/users/abc/referrals", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/v1/registrations", map[string]interface{}{"handle": "nobody"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user_id, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/v1/registrations", map[string]interface{}{"user_id": -4}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative user_id, got %d", w.Code)
	}
}

func TestStoreFailureIs503(t *testing.T) {
	r, store := setupRouter(t)
	_ = store.Close()

	w, _ := do(t, r, http.MethodGet, "/api/v1/users/1/referrals", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	if w, _ := do(t, r, http.MethodGet, "/healthz", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy after close, got %d", w.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/v1/schema", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var columns []database.Column
	if err := json.Unmarshal(env.Data, &columns); err != nil {
		t.Fatalf("decode columns failed: %v", err)
	}
	if len(columns) != 6 {
		t.Fatalf("expected 6 columns, got %+v", columns)
	}
}

func TestAllowlistBlocksOutsiders(t *testing.T) {
	// httptest requests come from 192.0.2.1
	r, _ := setupRouter(t, "10.0.0.0/8")

	if w, _ := do(t, r, http.MethodGet, "/api/v1/users/1/referrals", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 outside allowlist, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("health check should not be gated, got %d", w.Code)
	}

	r, _ = setupRouter(t, "192.0.2.0/24")
	if w, _ := do(t, r, http.MethodGet, "/api/v1/users/1/referrals", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 inside allowlist, got %d", w.Code)
	}
}

func TestForwardedForIsIgnoredFromUntrustedPeers(t *testing.T) {
	r, _ := setupRouter(t, "127.0.0.1/32")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/referrals", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("X-Real-IP", "127.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected forged X-Forwarded-For to be rejected, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/registrations", bytes.NewReader([]byte(`{"user_id":2,"referrer_id":1}`)))
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected forged registration to be rejected, got %d", w.Code)
	}
}

func TestForwardedForIsHonouredFromTrustedProxy(t *testing.T) {
	r, _ := setupRouterBehind(t, []string{"203.0.113.9"}, "127.0.0.1/32")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/referrals", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected client behind trusted proxy to pass, got %d", w.Code)
	}
}

func TestSetupRouterRejectsBadProxy(t *testing.T) {
	logger := zap.NewNop()
	if _, err := SetupRouter(gin.TestMode, logger, nil, []string{"not-a-proxy"}, NewHandler(nil, nil, logger)); err == nil {
		t.Fatalf("expected error for malformed trusted proxy")
	}
}

func TestEmptyAllowlistDeniesEverything(t *testing.T) {
	logger := zap.NewNop()
	r, err := SetupRouter(gin.TestMode, logger, nil, nil, NewHandler(nil, nil, logger))
	if err != nil {
		t.Fatalf("setup router failed: %v", err)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with empty allowlist, got %d", w.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected a generated request id")
	}
}
