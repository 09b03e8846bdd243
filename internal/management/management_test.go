package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"privacycore/internal/audit"
	"privacycore/internal/config"
	"privacycore/internal/fallback"
	"privacycore/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		GatePort:       8090,
		ManagementPort: 8091,
		GateEnabled:    true,
		LocalProviders: []string{"ollama", "lmstudio"},
	}
}

// --- LocalProviderRegistry tests ---

func TestLocalProviderRegistry_AddHasRemove(t *testing.T) {
	cfg := testConfig()
	r := NewLocalProviderRegistry(cfg, "")

	if !r.Has("ollama") {
		t.Error("expected ollama to be present")
	}
	if !r.Has("OLLAMA") {
		t.Error("Has should be case-insensitive")
	}
	if r.Has("openai") {
		t.Error("expected openai to be absent")
	}

	r.Add("newlocal")
	if !r.Has("newlocal") {
		t.Error("expected newlocal to be present after Add")
	}

	r.Remove("newlocal")
	if r.Has("newlocal") {
		t.Error("expected newlocal to be absent after Remove")
	}
}

func TestLocalProviderRegistry_All_IsSorted(t *testing.T) {
	cfg := testConfig()
	r := NewLocalProviderRegistry(cfg, "")
	r.Add("zzz")
	r.Add("aaa")

	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i-1] > all[i] {
			t.Errorf("All() not sorted: %v", all)
		}
	}
}

func TestLocalProviderRegistry_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local-providers.json")

	cfg := testConfig()
	r := NewLocalProviderRegistry(cfg, path)
	r.Add("persisted-provider")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected persist file to exist: %v", err)
	}

	r2 := NewLocalProviderRegistry(cfg, path)
	if !r2.Has("persisted-provider") {
		t.Error("expected reloaded registry to include persisted provider")
	}
}

// --- HTTP handler tests ---

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	providers := NewLocalProviderRegistry(cfg, "")
	m := metrics.New()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	fallback.Reset()
	t.Cleanup(fallback.Reset)
	return New(cfg, providers, m, log, fallback.Get(cfg))
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "running" {
		t.Errorf("status = %v, want running", body["status"])
	}
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
}

func TestHandlePrivacyScore(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/privacy/score", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	var score audit.PrivacyScore
	if err := json.Unmarshal(w.Body.Bytes(), &score); err != nil {
		t.Fatal(err)
	}
	if score.Score != 100 {
		t.Errorf("empty audit log should score 100, got %d", score.Score)
	}
}

func TestHandleFallbackStatus_MissingCapability(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/fallback/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400 for missing capability", w.Code)
	}
}

func TestHandleFallbackStatus_KnownCapability(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/fallback/status?capability=llm", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
}

func TestHandleAddProvider_Success(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"provider":"custom-local"}`)
	req := httptest.NewRequest(http.MethodPost, "/providers/add", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	if !s.providers.Has("custom-local") {
		t.Error("expected provider to be registered")
	}
}

func TestHandleAddProvider_RejectsGet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/providers/add", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", w.Code)
	}
}

func TestHandleAddProvider_RejectsInvalidName(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"provider":"../etc/passwd"}`)
	req := httptest.NewRequest(http.MethodPost, "/providers/add", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400 for invalid provider name", w.Code)
	}
}

func TestHandleRemoveProvider_Success(t *testing.T) {
	s := newTestServer(t)
	s.providers.Add("to-remove")

	body := strings.NewReader(`{"provider":"to-remove"}`)
	req := httptest.NewRequest(http.MethodPost, "/providers/remove", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	if s.providers.Has("to-remove") {
		t.Error("expected provider to be removed")
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.ManagementToken = "secret"
	providers := NewLocalProviderRegistry(cfg, "")
	m := metrics.New()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	fallback.Reset()
	defer fallback.Reset()
	s := New(cfg, providers, m, log, fallback.Get(cfg))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status code = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	cfg := testConfig()
	cfg.ManagementToken = "secret"
	providers := NewLocalProviderRegistry(cfg, "")
	m := metrics.New()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	fallback.Reset()
	defer fallback.Reset()
	s := New(cfg, providers, m, log, fallback.Get(cfg))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200 with valid token", w.Code)
	}
}
