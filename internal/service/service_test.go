package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/palabrita/palabrita/internal/config"
)

const testConfigYAML = `
server:
  port: 8080
versioning:
  default_version: v1
  versions:
    - version: v1
      default: true
    - version: v2
    - version: v3
      status: deprecated
      deprecated_at: "2025-05-01T00:00:00Z"
      sunset: "2030-01-01T00:00:00Z"
      migration_guide: "https://docs.palabrita.dev/migrate/v3"
  features:
    v2:
      pagination.cursor: true
      images.attribution: true
    v3:
      pagination.cursor: true
  migrations:
    - from: v1
      to: v2
      ops:
        move:
          words: data.items
          total: meta.total
          offset: meta.offset
          limit: meta.limit
    - from: v2
      to: v3
      ops:
        set:
          meta.schema: "v3"
`

func testService(t *testing.T) *Service {
	t.Helper()
	cfg, err := config.NewLoader().Parse([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return s
}

func do(t *testing.T, s *Service, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	s := testService(t)
	w := do(t, s, "GET", "/healthz", "", nil)
	if w.Code != 200 || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz: %d %s", w.Code, w.Body.String())
	}
}

func TestCreateThenListAcrossVersions(t *testing.T) {
	s := testService(t)

	w := do(t, s, "POST", "/api/v1/vocabulary", `{"spanish":"sol","english":"sun"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	// Same store, v2 shape.
	w = do(t, s, "GET", "/api/v2/vocabulary", "", nil)
	if w.Code != 200 {
		t.Fatalf("list v2: %d %s", w.Code, w.Body.String())
	}
	var v2 map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &v2); err != nil {
		t.Fatal(err)
	}
	items := v2["data"].(map[string]any)["items"].([]any)
	if len(items) != 1 {
		t.Errorf("v2 items = %v", items)
	}
	if w.Header().Get("X-API-Version") != "v2" {
		t.Errorf("X-API-Version = %q", w.Header().Get("X-API-Version"))
	}
}

func TestChainedMigrationToUnimplementedVersion(t *testing.T) {
	// v3 has no native handler: the default v1 handler serves and the
	// payload runs the v1->v2->v3 migration chain.
	s := testService(t)
	do(t, s, "POST", "/api/v1/vocabulary", `{"spanish":"luna","english":"moon"}`, nil)

	w := do(t, s, "GET", "/api/vocabulary", "", map[string]string{"X-API-Version": "v3"})
	if w.Code != 200 {
		t.Fatalf("list v3: %d %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	meta := body["meta"].(map[string]any)
	if meta["schema"] != "v3" {
		t.Errorf("v2->v3 step not applied: %v", meta)
	}
	if _, ok := body["data"].(map[string]any)["items"]; !ok {
		t.Errorf("v1->v2 step not applied: %v", body)
	}
	if _, ok := body["words"]; ok {
		t.Errorf("v1 field survived the chain: %v", body)
	}

	// v3 is deprecated, so the lifecycle headers ride along.
	if w.Header().Get("Deprecation") != "true" {
		t.Error("missing Deprecation header")
	}
	if w.Header().Get("Sunset") != "2030-01-01T00:00:00Z" {
		t.Errorf("Sunset = %q", w.Header().Get("Sunset"))
	}
}

func TestNegotiationChannels(t *testing.T) {
	s := testService(t)

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{"path", "/api/v2/images/search?q=lake", nil, "v2"},
		{"accept", "/api/images/search?q=lake", map[string]string{"Accept": "application/vnd.palabrita.v2+json"}, "v2"},
		{"query", "/api/images/search?q=lake&version=v2", nil, "v2"},
		{"default", "/api/images/search?q=lake", nil, "v1"},
		{"header beats path", "/api/v1/images/search?q=lake", map[string]string{"X-API-Version": "v2"}, "v2"},
	}
	for _, tt := range tests {
		w := do(t, s, "GET", tt.target, "", tt.header)
		if w.Code != 200 {
			t.Errorf("%s: status %d", tt.name, w.Code)
			continue
		}
		if got := w.Header().Get("X-API-Version"); got != tt.want {
			t.Errorf("%s: X-API-Version = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDescriptionsByID(t *testing.T) {
	s := testService(t)

	w := do(t, s, "GET", "/api/v1/descriptions/2", "", nil)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "calle") {
		t.Errorf("body = %s", w.Body.String())
	}

	w = do(t, s, "GET", "/api/v1/descriptions/42", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing id: %d", w.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	s := testService(t)
	w := do(t, s, "GET", "/api/v1/progress", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAdminVersions(t *testing.T) {
	s := testService(t)
	w := do(t, s, "GET", "/admin/versions", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Default  string `json:"default"`
		Latest   string `json:"latest"`
		Versions []struct {
			Version  string `json:"version"`
			Sequence int    `json:"sequence"`
			Status   string `json:"status"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Default != "v1" || body.Latest != "v2" {
		t.Errorf("default=%s latest=%s", body.Default, body.Latest)
	}
	if len(body.Versions) != 3 || body.Versions[2].Status != "deprecated" {
		t.Errorf("versions = %+v", body.Versions)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testService(t)
	do(t, s, "GET", "/api/v2/vocabulary", "", nil)

	w := do(t, s, "GET", "/metrics", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "palabrita_version_negotiations_total") {
		t.Error("negotiation counter not exported")
	}
}

func TestRequestIDOnResponses(t *testing.T) {
	s := testService(t)
	w := do(t, s, "GET", "/healthz", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	w = do(t, s, "GET", "/healthz", "", map[string]string{"X-Request-ID": "req-123"})
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestReloadSwapsPipeline(t *testing.T) {
	s := testService(t)
	do(t, s, "POST", "/api/v1/vocabulary", `{"spanish":"sol","english":"sun"}`, nil)

	updated := strings.Replace(testConfigYAML, "default_version: v1", "default_version: v2", 1)
	updated = strings.Replace(updated, "      default: true\n", "", 1)
	updated = strings.Replace(updated, "    - version: v2\n", "    - version: v2\n      default: true\n", 1)

	cfg, err := config.NewLoader().Parse([]byte(updated))
	if err != nil {
		t.Fatalf("updated config: %v", err)
	}
	if err := s.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// No version signal now resolves to the new default.
	w := do(t, s, "GET", "/api/vocabulary", "", nil)
	if got := w.Header().Get("X-API-Version"); got != "v2" {
		t.Errorf("X-API-Version after reload = %q", got)
	}

	// The store survived the swap.
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if items := body["data"].(map[string]any)["items"].([]any); len(items) != 1 {
		t.Errorf("items after reload = %v", items)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	s := testService(t)

	bad, err := config.NewLoader().Parse([]byte(testConfigYAML))
	if err != nil {
		t.Fatal(err)
	}
	bad.Versioning.Migrations = append(bad.Versioning.Migrations, config.MigrationConfig{From: "v1", To: "v2"})

	if err := s.Reload(bad); err == nil {
		t.Fatal("expected duplicate-edge error")
	}

	// The previous pipeline still serves.
	w := do(t, s, "GET", "/healthz", "", nil)
	if w.Code != 200 {
		t.Errorf("service broken after failed reload: %d", w.Code)
	}
}
