// Package deprecation annotates responses for deprecated and sunset API
// versions following RFC 8594 (Deprecation and Sunset headers).
package deprecation

import (
	"fmt"
	"net/http"
	"time"

	"github.com/palabrita/palabrita/internal/version"
)

// Emitter computes deprecation headers from a version's registry entry.
// It is a pure annotator: no state beyond the injected clock, and applying
// it twice to the same header set produces identical output (headers are
// Set, never Add).
type Emitter struct {
	now func() time.Time
}

// New creates an Emitter. A nil clock uses time.Now.
func New(now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	return &Emitter{now: now}
}

// Annotate sets deprecation headers for the entry's lifecycle state.
// Active versions leave the response unchanged. Deprecated and sunset
// versions get Deprecation, Sunset, Warning and Link headers plus the
// latest-version hint pointing clients at the migration target.
func (e *Emitter) Annotate(h http.Header, entry version.Entry, latest version.Token) {
	if entry.Status == version.StatusActive {
		return
	}

	h.Set("Deprecation", "true")
	h.Set("X-API-Latest-Version", string(latest))

	if !entry.SunsetAt.IsZero() {
		h.Set("Sunset", entry.SunsetAt.UTC().Format(time.RFC3339))
		h.Set("Warning", fmt.Sprintf("299 - %q", e.warningText(entry)))
	}

	if entry.MigrationGuideURL != "" {
		h.Set("Link", fmt.Sprintf("<%s>; rel=%q", entry.MigrationGuideURL, "deprecation"))
	}
}

// warningText renders the human-readable notice with the days remaining
// until sunset, evaluated against the emitter's clock at call time.
func (e *Emitter) warningText(entry version.Entry) string {
	days := int(entry.SunsetAt.Sub(e.now()).Hours() / 24)
	switch {
	case days > 1:
		return fmt.Sprintf("API version %s is deprecated and will be retired in %d days", entry.Token, days)
	case days >= 0:
		return fmt.Sprintf("API version %s is deprecated and will be retired imminently", entry.Token)
	default:
		return fmt.Sprintf("API version %s is past its sunset date and may stop working at any time", entry.Token)
	}
}

// PastSunset reports whether the entry's sunset date has passed at call time.
// Entries without a sunset date are never past sunset.
func (e *Emitter) PastSunset(entry version.Entry) bool {
	return !entry.SunsetAt.IsZero() && e.now().After(entry.SunsetAt)
}
