// Package router dispatches requests to version-specific endpoint handlers.
// It composes negotiation, handler lookup, payload migration and deprecation
// annotation into a single http.Handler. A Router holds no per-request state
// and is safe for concurrent use.
package router

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palabrita/palabrita/internal/deprecation"
	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/logging"
	"github.com/palabrita/palabrita/internal/metrics"
	"github.com/palabrita/palabrita/internal/middleware"
	"github.com/palabrita/palabrita/internal/negotiate"
	"github.com/palabrita/palabrita/internal/transform"
	"github.com/palabrita/palabrita/internal/version"
)

// Response is a handler's domain payload in its native version's JSON shape.
type Response struct {
	Status int // zero means 200
	Body   []byte
}

// Handler produces a domain payload for one API version. Handlers are owned
// by the surrounding application; the router only dispatches to them.
type Handler func(r *http.Request) (*Response, error)

// Options tune router policy.
type Options struct {
	// EnforceSunset refuses versions past their sunset date with 410 Gone
	// instead of serving them with a warning.
	EnforceSunset bool
	// StrictMigration fails the request when no migration path exists from
	// the handler's native version to the resolved version. When false the
	// native-version payload is served unmigrated.
	StrictMigration bool
	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Router negotiates a version per request and dispatches accordingly.
type Router struct {
	handlers   map[version.Token]Handler
	registry   *version.Registry
	negotiator *negotiate.Negotiator
	transforms *transform.Registry
	emitter    *deprecation.Emitter
	metrics    *metrics.Metrics
	opts       Options
}

// New builds a Router and validates the handler table exhaustively: every
// registered version must either have its own handler or be covered by a
// handler for the default version. Missing coverage is a startup error,
// not a runtime surprise.
func New(
	handlers map[version.Token]Handler,
	registry *version.Registry,
	negotiator *negotiate.Negotiator,
	transforms *transform.Registry,
	m *metrics.Metrics,
	opts Options,
) (*Router, error) {
	for tok := range handlers {
		if _, ok := registry.Lookup(tok); !ok {
			return nil, errors.New(http.StatusInternalServerError, "handler registered for unknown version "+string(tok))
		}
	}

	_, hasDefault := handlers[registry.Default().Token]
	for _, tok := range registry.Tokens() {
		if _, ok := handlers[tok]; !ok && !hasDefault {
			return nil, errors.New(http.StatusInternalServerError, "no handler or default fallback for version "+string(tok))
		}
	}

	return &Router{
		handlers:   handlers,
		registry:   registry,
		negotiator: negotiator,
		transforms: transforms,
		emitter:    deprecation.New(opts.Now),
		metrics:    m,
		opts:       opts,
	}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := rt.negotiator.Negotiate(r, rt.registry)
	rt.observeNegotiation(res)

	entry, _ := rt.registry.Lookup(res.Version)
	latest := rt.registry.Latest().Token

	h := w.Header()
	h.Set("X-API-Version", string(res.Version))
	h.Set("X-API-Latest-Version", string(latest))

	if rt.opts.EnforceSunset && rt.emitter.PastSunset(entry) {
		if rt.metrics != nil {
			rt.metrics.SunsetBlockedTotal.WithLabelValues(string(res.Version)).Inc()
		}
		rt.emitter.Annotate(h, entry, latest)
		apiErr := errors.ErrVersionRetired.
			WithDetails("version " + string(res.Version) + " was retired on " + entry.SunsetAt.UTC().Format(time.RFC3339))
		rt.writeError(w, r, apiErr)
		return
	}

	handler, native, ok := rt.lookupHandler(res.Version)
	if !ok {
		rt.writeError(w, r, errors.ErrVersionNotImplemented.
			WithDetails("no handler for version "+string(res.Version)))
		return
	}

	resp, err := handler(r)
	if err != nil {
		if apiErr, isAPI := errors.IsAPIError(err); isAPI {
			rt.writeError(w, r, apiErr)
			return
		}
		logging.Error("handler failed",
			zap.String("version", string(native)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		rt.writeError(w, r, errors.ErrInternalServer)
		return
	}

	body, ok := rt.migrate(w, r, resp.Body, native, res.Version)
	if !ok {
		return
	}

	if entry.Status != version.StatusActive && rt.metrics != nil {
		rt.metrics.DeprecatedRequestsTotal.WithLabelValues(string(res.Version)).Inc()
	}
	rt.emitter.Annotate(h, entry, latest)

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// lookupHandler finds the handler for the resolved version, falling back to
// the default version's handler. The returned token is the handler's native
// version, which drives payload migration.
func (rt *Router) lookupHandler(tok version.Token) (Handler, version.Token, bool) {
	if h, ok := rt.handlers[tok]; ok {
		return h, tok, true
	}
	def := rt.registry.Default().Token
	if h, ok := rt.handlers[def]; ok {
		return h, def, true
	}
	return nil, "", false
}

// migrate converts the handler's native payload to the resolved version's
// shape. A missing migration path either fails the request (strict mode) or
// degrades to serving the native payload. Returns false when a response has
// already been written.
func (rt *Router) migrate(w http.ResponseWriter, r *http.Request, body []byte, native, resolved version.Token) ([]byte, bool) {
	if native == resolved {
		return body, true
	}

	path := rt.transforms.Resolve(native, resolved)
	if path == nil {
		if rt.metrics != nil {
			rt.metrics.MigrationsTotal.WithLabelValues(string(native), string(resolved), "no_path").Inc()
		}
		if rt.opts.StrictMigration {
			rt.writeError(w, r, errors.ErrMigrationFailed.
				WithDetails("no migration path from "+string(native)+" to "+string(resolved)))
			return nil, false
		}
		logging.Warn("no migration path, serving native payload",
			zap.String("native", string(native)),
			zap.String("resolved", string(resolved)),
		)
		return body, true
	}

	migrated, err := rt.transforms.Migrate(body, native, resolved)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.MigrationsTotal.WithLabelValues(string(native), string(resolved), "error").Inc()
		}
		logging.Error("payload migration failed",
			zap.String("native", string(native)),
			zap.String("resolved", string(resolved)),
			zap.Error(err),
		)
		rt.writeError(w, r, errors.ErrMigrationFailed)
		return nil, false
	}

	if rt.metrics != nil {
		rt.metrics.MigrationsTotal.WithLabelValues(string(native), string(resolved), "ok").Inc()
		rt.metrics.MigrationHops.Observe(float64(len(path)))
	}
	return migrated, true
}

func (rt *Router) observeNegotiation(res negotiate.Result) {
	if rt.metrics != nil {
		rt.metrics.NegotiationsTotal.WithLabelValues(string(res.Version), res.Source.String()).Inc()
	}
	for _, d := range res.Diagnostics {
		if rt.metrics != nil && strings.HasPrefix(d.Reason, "unregistered") {
			rt.metrics.UnknownVersionsTotal.WithLabelValues(d.Source.String()).Inc()
		}
		logging.Debug("negotiation diagnostic",
			zap.String("source", d.Source.String()),
			zap.String("candidate", d.Candidate),
			zap.String("reason", d.Reason),
		)
	}
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, apiErr *errors.APIError) {
	if reqID := middleware.GetRequestID(r); reqID != "" {
		apiErr = apiErr.WithRequestID(reqID)
	}
	apiErr.WriteJSON(w)
}
