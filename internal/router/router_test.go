package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/palabrita/palabrita/internal/config"
	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/metrics"
	"github.com/palabrita/palabrita/internal/negotiate"
	"github.com/palabrita/palabrita/internal/transform"
	"github.com/palabrita/palabrita/internal/version"
)

var testNow = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testRegistry(t *testing.T) *version.Registry {
	t.Helper()
	r, err := version.NewBuilder().
		Add(version.Entry{Token: "v1", Default: true}).
		Add(version.Entry{Token: "v2"}).
		Add(version.Entry{
			Token:             "v0",
			Status:            version.StatusSunset,
			SunsetAt:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			MigrationGuideURL: "https://docs.palabrita.dev/migrate/v0",
		}).
		Build()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func testNegotiator(t *testing.T) *negotiate.Negotiator {
	t.Helper()
	n, err := negotiate.New(negotiate.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func testTransforms(t *testing.T) *transform.Registry {
	t.Helper()
	tr := transform.NewRegistry()
	err := tr.Register("v1", "v2", transform.Compile(config.FieldOps{
		Rename: map[string]string{"words": "items"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func jsonHandler(body string) Handler {
	return func(r *http.Request) (*Response, error) {
		return &Response{Body: []byte(body)}, nil
	}
}

func newRouter(t *testing.T, handlers map[version.Token]Handler, opts Options) *Router {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	rt, err := New(handlers, testRegistry(t), testNegotiator(t), testTransforms(t), nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func TestDispatchToResolvedVersion(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{"from":"v1"}`),
		"v2": jsonHandler(`{"from":"v2"}`),
	}, Options{})

	r := httptest.NewRequest("GET", "/api/vocabulary", nil)
	r.Header.Set("X-API-Version", "v2")
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-API-Version"); got != "v2" {
		t.Errorf("X-API-Version = %q", got)
	}
	if got := w.Header().Get("X-API-Latest-Version"); got != "v2" {
		t.Errorf("X-API-Latest-Version = %q", got)
	}
	if !strings.Contains(w.Body.String(), `"from":"v2"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDefaultFallbackWithMigration(t *testing.T) {
	// Only a v1 handler exists. A v2 request falls back to it and the
	// payload is migrated from v1's shape to v2's.
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{"words":[{"es":"sol"}]}`),
	}, Options{})

	r := httptest.NewRequest("GET", "/api/v2/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["items"]; !ok {
		t.Errorf("payload not migrated to v2 shape: %v", body)
	}
	if _, ok := body["words"]; ok {
		t.Errorf("v1 field survived migration: %v", body)
	}
}

func TestNewValidatesHandlerCoverage(t *testing.T) {
	reg := testRegistry(t)

	// v2-only handler map leaves v1 and v0 uncovered (no default fallback).
	_, err := New(map[version.Token]Handler{"v2": jsonHandler(`{}`)},
		reg, testNegotiator(t), testTransforms(t), nil, Options{Now: fixedClock})
	if err == nil {
		t.Error("expected coverage validation error")
	}

	// A handler keyed by an unregistered version is a startup error.
	_, err = New(map[version.Token]Handler{
		"v1": jsonHandler(`{}`),
		"v9": jsonHandler(`{}`),
	}, reg, testNegotiator(t), testTransforms(t), nil, Options{Now: fixedClock})
	if err == nil {
		t.Error("expected unknown-version handler error")
	}
}

func TestDeprecationHeaders(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{}`),
		"v0": jsonHandler(`{"old":true}`),
	}, Options{})

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d (sunset without enforcement must still serve)", w.Code)
	}
	if w.Header().Get("Deprecation") != "true" {
		t.Error("Deprecation header missing")
	}
	if got := w.Header().Get("Sunset"); got != "2025-06-01T00:00:00Z" {
		t.Errorf("Sunset = %q", got)
	}
	if w.Header().Get("Warning") == "" {
		t.Error("Warning header missing")
	}
	if !strings.Contains(w.Header().Get("Link"), `rel="deprecation"`) {
		t.Errorf("Link = %q", w.Header().Get("Link"))
	}
}

func TestEnforceSunsetRefusesRetiredVersion(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{}`),
		"v0": jsonHandler(`{}`),
	}, Options{EnforceSunset: true})

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "API Version Retired" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("Deprecation") != "true" {
		t.Error("refusal should still carry deprecation headers")
	}
}

func TestEnforceSunsetBeforeDateStillServes(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{}`),
		"v0": jsonHandler(`{}`),
	}, Options{
		EnforceSunset: true,
		Now:           func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) },
	})

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Errorf("status = %d, version before sunset must serve", w.Code)
	}
}

func TestNoMigrationPathServesNative(t *testing.T) {
	// The only edge is v1→v2; a v0 request served by the v1 fallback has no
	// path. Default policy serves the native payload unmigrated.
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{"words":[]}`),
	}, Options{})

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "words") {
		t.Errorf("native payload not served: %s", w.Body.String())
	}
}

func TestNoMigrationPathStrict(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{"words":[]}`),
	}, Options{StrictMigration: true})

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Version Migration Failed") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandlerAPIErrorPassedThrough(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": func(r *http.Request) (*Response, error) {
			return nil, errors.ErrNotFound.WithDetails("word not found")
		},
	}, Options{})

	r := httptest.NewRequest("GET", "/api/v1/vocabulary/99", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandlerPlainErrorBecomes500(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": func(r *http.Request) (*Response, error) {
			return nil, fmt.Errorf("database exploded")
		},
	}, Options{})

	r := httptest.NewRequest("GET", "/api/v1/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "database exploded") {
		t.Error("internal error details leaked to client")
	}
}

func TestHandlerStatusPropagated(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": func(r *http.Request) (*Response, error) {
			return &Response{Status: http.StatusCreated, Body: []byte(`{"id":1}`)}, nil
		},
	}, Options{})

	r := httptest.NewRequest("POST", "/api/v1/vocabulary", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	rt, err := New(map[version.Token]Handler{
		"v1": jsonHandler(`{"words":[]}`),
		"v2": jsonHandler(`{"items":[]}`),
		"v0": jsonHandler(`{}`),
	}, testRegistry(t), testNegotiator(t), testTransforms(t), m, Options{Now: fixedClock})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/api/v0/vocabulary", nil)
	rt.ServeHTTP(httptest.NewRecorder(), r)

	if got := testutil.ToFloat64(m.NegotiationsTotal.WithLabelValues("v0", "path")); got != 1 {
		t.Errorf("negotiations(v0,path) = %v", got)
	}
	if got := testutil.ToFloat64(m.DeprecatedRequestsTotal.WithLabelValues("v0")); got != 1 {
		t.Errorf("deprecated requests = %v", got)
	}
}

func TestConcurrentRequestsConsistent(t *testing.T) {
	rt := newRouter(t, map[version.Token]Handler{
		"v1": jsonHandler(`{"words":[]}`),
		"v2": jsonHandler(`{"items":[]}`),
		"v0": jsonHandler(`{}`),
	}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r := httptest.NewRequest("GET", "/api/v2/vocabulary", nil)
				w := httptest.NewRecorder()
				rt.ServeHTTP(w, r)
				if w.Code != 200 || w.Header().Get("X-API-Version") != "v2" {
					t.Errorf("inconsistent response: %d %q", w.Code, w.Header().Get("X-API-Version"))
					return
				}
			}
		}()
	}
	wg.Wait()
}
