// Package service wires configuration into the running HTTP surface: the
// version registry, negotiator, transform graph and per-resource version
// routers, plus the operational endpoints. Configuration reloads rebuild
// the whole pipeline and swap it in atomically; in-flight requests keep
// the pipeline they started with.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/palabrita/palabrita/internal/config"
	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/handlers"
	"github.com/palabrita/palabrita/internal/logging"
	"github.com/palabrita/palabrita/internal/metrics"
	"github.com/palabrita/palabrita/internal/middleware"
	"github.com/palabrita/palabrita/internal/negotiate"
	"github.com/palabrita/palabrita/internal/router"
	"github.com/palabrita/palabrita/internal/transform"
	"github.com/palabrita/palabrita/internal/version"
)

// Service is the composed API service. It is an http.Handler; the active
// pipeline behind it can be swapped with Reload without dropping requests.
type Service struct {
	store   *handlers.Store
	metrics *metrics.Metrics
	current atomic.Pointer[pipeline]
	handler http.Handler
	server  *http.Server
}

// pipeline is one immutable composition of config-derived components.
type pipeline struct {
	cfg        *config.Config
	registry   *version.Registry
	negotiator *negotiate.Negotiator
	flags      *version.Flags
	transforms *transform.Registry

	vocabulary   *router.Router
	descriptions *router.Router
	images       *router.Router

	mux *httprouter.Router
}

// New builds a Service from the given configuration. The vocabulary store
// and metrics registry live on the Service and survive reloads.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{
		store:   handlers.NewStore(nil),
		metrics: metrics.New(),
	}

	p, err := s.buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)

	s.handler = middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Observe(s.observe),
		middleware.AccessLog(),
	).ThenFunc(s.dispatch)

	return s, nil
}

// Reload rebuilds the pipeline from a new configuration and swaps it in.
// On error the previous pipeline stays active.
func (s *Service) Reload(cfg *config.Config) error {
	p, err := s.buildPipeline(cfg)
	if err != nil {
		return err
	}
	s.current.Store(p)
	logging.Info("configuration reloaded",
		zap.Int("versions", p.registry.Len()),
		zap.Int("migration_edges", p.transforms.EdgeCount()),
	)
	return nil
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Service) observe(method, path string, status int, elapsed time.Duration) {
	route := s.current.Load().routeKey(path)
	s.metrics.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.metrics.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (s *Service) dispatch(w http.ResponseWriter, r *http.Request) {
	s.current.Load().mux.ServeHTTP(w, r)
}

func (s *Service) buildPipeline(cfg *config.Config) (*pipeline, error) {
	registry, err := buildRegistry(cfg.Versioning)
	if err != nil {
		return nil, err
	}

	negotiator, err := negotiate.New(negotiate.Config{
		HeaderName:    cfg.Versioning.HeaderName,
		PathPrefix:    cfg.Versioning.PathPrefix,
		AcceptPattern: cfg.Versioning.AcceptPattern,
		QueryParam:    cfg.Versioning.QueryParam,
	})
	if err != nil {
		return nil, err
	}

	transforms := transform.NewRegistry()
	if err := transform.RegisterFromConfig(transforms, cfg.Versioning.Migrations); err != nil {
		return nil, err
	}

	flagTable := make(map[version.Token]map[string]bool, len(cfg.Versioning.Features))
	for v, features := range cfg.Versioning.Features {
		flagTable[version.Token(v)] = features
	}
	flags := version.NewFlags(flagTable)

	opts := router.Options{
		EnforceSunset:   cfg.Versioning.EnforceSunset,
		StrictMigration: cfg.Versioning.StrictMigration,
	}

	p := &pipeline{
		cfg:        cfg,
		registry:   registry,
		negotiator: negotiator,
		flags:      flags,
		transforms: transforms,
	}

	vocab := handlers.NewVocabulary(s.store, flags)
	descriptions := handlers.NewDescriptions(flags)
	images := handlers.NewImages(flags)

	p.vocabulary, err = router.New(registeredOnly(vocab.Handlers(), registry),
		registry, negotiator, transforms, s.metrics, opts)
	if err != nil {
		return nil, fmt.Errorf("vocabulary routes: %w", err)
	}
	p.descriptions, err = router.New(registeredOnly(descriptions.Handlers(), registry),
		registry, negotiator, transforms, s.metrics, opts)
	if err != nil {
		return nil, fmt.Errorf("description routes: %w", err)
	}
	p.images, err = router.New(registeredOnly(images.Handlers(), registry),
		registry, negotiator, transforms, s.metrics, opts)
	if err != nil {
		return nil, fmt.Errorf("image routes: %w", err)
	}

	p.mux = s.buildMux(p)
	return p, nil
}

// registeredOnly drops handler entries for versions the registry does not
// carry, so a config that retires a version does not fail startup
// validation against the handler table.
func registeredOnly(m map[version.Token]router.Handler, reg *version.Registry) map[version.Token]router.Handler {
	out := make(map[version.Token]router.Handler, len(m))
	for tok, h := range m {
		if _, ok := reg.Lookup(tok); ok {
			out[tok] = h
		}
	}
	return out
}

func (s *Service) buildMux(p *pipeline) *httprouter.Router {
	mux := httprouter.New()
	mux.HandleMethodNotAllowed = false

	mux.HandlerFunc(http.MethodGet, "/healthz", healthz)
	mux.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	mux.HandlerFunc(http.MethodGet, "/admin/versions", p.adminVersions)

	// Versioned API paths carry an optional version segment, which
	// httprouter's static trees cannot express; they route through the
	// fallback instead.
	mux.NotFound = http.HandlerFunc(p.serveAPI)
	return mux
}

// routeKey normalizes a request path to its version-agnostic route for
// metric labels, keeping label cardinality bounded.
func (p *pipeline) routeKey(path string) string {
	normalized := p.stripVersion(path)
	switch {
	case normalized == "/api/vocabulary":
		return "/api/vocabulary"
	case strings.HasPrefix(normalized, "/api/descriptions/"):
		return "/api/descriptions/:id"
	case normalized == "/api/images/search":
		return "/api/images/search"
	case normalized == "/healthz" || normalized == "/metrics" || normalized == "/admin/versions":
		return normalized
	}
	return "other"
}

// stripVersion removes a leading registered version segment from an API
// path: /api/v2/vocabulary -> /api/vocabulary.
func (p *pipeline) stripVersion(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return path
	}
	seg, tail, _ := strings.Cut(rest, "/")
	if _, registered := p.registry.Lookup(version.Token(seg)); !registered {
		return path
	}
	if tail == "" {
		return "/api"
	}
	return "/api/" + tail
}

func (p *pipeline) serveAPI(w http.ResponseWriter, r *http.Request) {
	normalized := p.stripVersion(r.URL.Path)
	switch {
	case normalized == "/api/vocabulary":
		p.vocabulary.ServeHTTP(w, r)
	case strings.HasPrefix(normalized, "/api/descriptions/"):
		p.descriptions.ServeHTTP(w, r)
	case normalized == "/api/images/search":
		p.images.ServeHTTP(w, r)
	default:
		errors.ErrNotFound.WriteJSON(w)
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

type adminVersion struct {
	Version        string `json:"version"`
	Sequence       int    `json:"sequence"`
	Status         string `json:"status"`
	Default        bool   `json:"default,omitempty"`
	DeprecatedAt   string `json:"deprecated_at,omitempty"`
	Sunset         string `json:"sunset,omitempty"`
	MigrationGuide string `json:"migration_guide,omitempty"`
}

// adminVersions reports the active version catalog for operators.
func (p *pipeline) adminVersions(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Default  string         `json:"default"`
		Latest   string         `json:"latest"`
		Versions []adminVersion `json:"versions"`
	}{
		Default: string(p.registry.Default().Token),
		Latest:  string(p.registry.Latest().Token),
	}
	for _, tok := range p.registry.Tokens() {
		e, _ := p.registry.Lookup(tok)
		av := adminVersion{
			Version:        string(e.Token),
			Sequence:       e.Sequence,
			Status:         e.Status.String(),
			Default:        e.Default,
			MigrationGuide: e.MigrationGuideURL,
		}
		if !e.DeprecatedAt.IsZero() {
			av.DeprecatedAt = e.DeprecatedAt.UTC().Format(time.RFC3339)
		}
		if !e.SunsetAt.IsZero() {
			av.Sunset = e.SunsetAt.UTC().Format(time.RFC3339)
		}
		out.Versions = append(out.Versions, av)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// buildRegistry converts validated version configuration into the
// immutable registry. Config validation has already checked the date
// formats and default uniqueness.
func buildRegistry(cfg config.VersioningConfig) (*version.Registry, error) {
	b := version.NewBuilder()
	for _, vc := range cfg.Versions {
		status, err := version.ParseStatus(vc.Status)
		if err != nil {
			return nil, err
		}
		e := version.Entry{
			Token:             version.Token(vc.Version),
			Status:            status,
			MigrationGuideURL: vc.MigrationGuide,
			Default:           vc.Default,
		}
		if vc.DeprecatedAt != "" {
			e.DeprecatedAt, err = time.Parse(time.RFC3339, vc.DeprecatedAt)
			if err != nil {
				return nil, fmt.Errorf("version %s: %w", vc.Version, err)
			}
		}
		if vc.Sunset != "" {
			e.SunsetAt, err = time.Parse(time.RFC3339, vc.Sunset)
			if err != nil {
				return nil, fmt.Errorf("version %s: %w", vc.Version, err)
			}
		}
		b.Add(e)
	}
	return b.Build()
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.current.Load().cfg
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
