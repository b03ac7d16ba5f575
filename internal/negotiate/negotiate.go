// Package negotiate resolves which API version an inbound request targets.
// Sources are checked in strict priority order (header, path, accept, query)
// and the first candidate that matches a registered version wins. Negotiation
// never fails: requests with no usable signal resolve to the default version.
package negotiate

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/palabrita/palabrita/internal/version"
)

// Source identifies where a version token was extracted from.
type Source int

const (
	SourceHeader Source = iota
	SourcePath
	SourceAccept
	SourceQuery
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceHeader:
		return "header"
	case SourcePath:
		return "path"
	case SourceAccept:
		return "accept"
	case SourceQuery:
		return "query"
	case SourceDefault:
		return "default"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Diagnostic records a non-fatal negotiation observation, such as an
// unregistered candidate or repeated values for the same source.
type Diagnostic struct {
	Source    Source
	Candidate string
	Reason    string
}

// Result is the outcome of negotiating one request.
type Result struct {
	Version     version.Token
	Source      Source
	Diagnostics []Diagnostic
}

// Config defines how versions are extracted from requests.
type Config struct {
	// HeaderName is the dedicated version header. Default "X-API-Version".
	HeaderName string
	// PathPrefix precedes the version segment in the URL path, e.g. "/api/"
	// for paths like /api/v2/vocabulary. Default "/api/".
	PathPrefix string
	// AcceptPattern is the vendor media type carrying the version, with a
	// {version} placeholder. Default "application/vnd.palabrita.{version}+json".
	AcceptPattern string
	// QueryParam is the query parameter name. Default "version".
	QueryParam string
}

// Negotiator extracts and validates version tokens from requests.
// Stateless; safe for concurrent use.
type Negotiator struct {
	headerName   string
	pathPrefix   string
	acceptPrefix string
	acceptSuffix string
	queryParam   string
}

// New creates a Negotiator, applying defaults for unset fields.
func New(cfg Config) (*Negotiator, error) {
	n := &Negotiator{
		headerName: cfg.HeaderName,
		pathPrefix: cfg.PathPrefix,
		queryParam: cfg.QueryParam,
	}
	if n.headerName == "" {
		n.headerName = "X-API-Version"
	}
	if n.pathPrefix == "" {
		n.pathPrefix = "/api/"
	}
	if n.queryParam == "" {
		n.queryParam = "version"
	}

	pattern := cfg.AcceptPattern
	if pattern == "" {
		pattern = "application/vnd.palabrita.{version}+json"
	}
	idx := strings.Index(pattern, "{version}")
	if idx == -1 {
		return nil, fmt.Errorf("negotiate: accept pattern %q must contain {version} placeholder", pattern)
	}
	n.acceptPrefix = pattern[:idx]
	n.acceptSuffix = pattern[idx+len("{version}"):]

	return n, nil
}

// Negotiate resolves the request's version against the registry.
// An extracted candidate that is not registered does not abort negotiation;
// the next-priority source is consulted. Only when no source yields a
// registered token does the result fall back to the default version.
func (n *Negotiator) Negotiate(r *http.Request, reg *version.Registry) Result {
	var diags []Diagnostic

	// 1. Dedicated version header.
	if vals := r.Header.Values(n.headerName); len(vals) > 0 {
		if len(vals) > 1 {
			diags = append(diags, Diagnostic{SourceHeader, vals[0], "repeated header values, first used"})
		}
		if tok, ok := n.validate(reg, vals[0]); ok {
			return Result{Version: tok, Source: SourceHeader, Diagnostics: diags}
		}
		diags = append(diags, Diagnostic{SourceHeader, vals[0], "unregistered version"})
	}

	// 2. Version segment in the URL path.
	if seg, ok := n.extractPath(r.URL.Path); ok {
		if tok, ok := n.validate(reg, seg); ok {
			return Result{Version: tok, Source: SourcePath, Diagnostics: diags}
		}
		diags = append(diags, Diagnostic{SourcePath, seg, "unregistered version"})
	}

	// 3. Vendor media type parameter in the Accept header.
	if accept := r.Header.Get("Accept"); accept != "" {
		if cand, ok := n.extractAccept(accept); ok {
			if tok, ok := n.validate(reg, cand); ok {
				return Result{Version: tok, Source: SourceAccept, Diagnostics: diags}
			}
			diags = append(diags, Diagnostic{SourceAccept, cand, "unregistered version"})
		}
	}

	// 4. Query parameter.
	if vals, ok := r.URL.Query()[n.queryParam]; ok && len(vals) > 0 {
		if len(vals) > 1 {
			diags = append(diags, Diagnostic{SourceQuery, vals[0], "repeated query values, first used"})
		}
		if tok, ok := n.validate(reg, vals[0]); ok {
			return Result{Version: tok, Source: SourceQuery, Diagnostics: diags}
		}
		diags = append(diags, Diagnostic{SourceQuery, vals[0], "unregistered version"})
	}

	// 5. Registry default.
	return Result{Version: reg.Default().Token, Source: SourceDefault, Diagnostics: diags}
}

// validate checks a candidate against the registry. Deprecated and sunset
// versions are valid negotiation targets; policy is applied downstream.
func (n *Negotiator) validate(reg *version.Registry, candidate string) (version.Token, bool) {
	if candidate == "" {
		return "", false
	}
	tok := version.Token(candidate)
	if _, ok := reg.Lookup(tok); !ok {
		return "", false
	}
	return tok, true
}

// extractPath returns the path segment following the configured prefix.
// "/api/v2/vocabulary" with prefix "/api/" yields "v2".
func (n *Negotiator) extractPath(path string) (string, bool) {
	if !strings.HasPrefix(path, n.pathPrefix) {
		return "", false
	}
	rest := path[len(n.pathPrefix):]
	if rest == "" {
		return "", false
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// extractAccept scans comma-separated Accept values for the vendor pattern.
// Malformed values are skipped rather than aborting negotiation.
func (n *Negotiator) extractAccept(accept string) (string, bool) {
	for _, val := range strings.Split(accept, ",") {
		val = strings.TrimSpace(val)

		prefixIdx := strings.Index(val, n.acceptPrefix)
		if prefixIdx == -1 {
			continue
		}
		start := prefixIdx + len(n.acceptPrefix)

		if n.acceptSuffix == "" {
			end := strings.IndexAny(val[start:], ";,")
			if end == -1 {
				return strings.TrimSpace(val[start:]), true
			}
			return strings.TrimSpace(val[start : start+end]), true
		}

		suffixIdx := strings.Index(val[start:], n.acceptSuffix)
		if suffixIdx == -1 {
			continue
		}
		if cand := val[start : start+suffixIdx]; cand != "" {
			return cand, true
		}
	}
	return "", false
}

// StripPathVersion removes the resolved version segment from a path so that
// version-agnostic route templates can match. "/api/v2/vocabulary" with
// version "v2" becomes "/api/vocabulary"; paths without the segment are
// returned unchanged.
func (n *Negotiator) StripPathVersion(path string, tok version.Token) string {
	prefix := n.pathPrefix + string(tok)
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := path[len(prefix):]
	if rest == "" {
		return strings.TrimSuffix(n.pathPrefix, "/")
	}
	if rest[0] != '/' {
		return path // prefix matched mid-segment, not a version boundary
	}
	return strings.TrimSuffix(n.pathPrefix, "/") + rest
}
