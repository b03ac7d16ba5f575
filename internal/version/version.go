// Package version holds the registry of supported API version tokens and
// their lifecycle metadata. The registry is built once at startup and is
// immutable afterwards; configuration reloads build and swap in a fresh
// registry rather than mutating the live one.
package version

import (
	"fmt"
	"time"
)

// Token is a registered API version identifier (e.g. "v1"). Tokens are
// opaque strings; ordering is defined by registration sequence, not by
// lexical or semver comparison.
type Token string

// Status is the lifecycle state of a registered version.
type Status int

const (
	// StatusActive versions are served without any deprecation signaling.
	StatusActive Status = iota
	// StatusDeprecated versions are served with Deprecation/Sunset headers.
	StatusDeprecated
	// StatusSunset versions are past or approaching retirement. A sunset
	// entry always carries a sunset date.
	StatusSunset
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeprecated:
		return "deprecated"
	case StatusSunset:
		return "sunset"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus parses a status string as used in configuration files.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "", "active":
		return StatusActive, nil
	case "deprecated":
		return StatusDeprecated, nil
	case "sunset":
		return StatusSunset, nil
	}
	return 0, fmt.Errorf("unknown version status %q", s)
}

// Entry describes one registered version.
type Entry struct {
	Token             Token
	Sequence          int // assigned at registration, strictly increasing
	Status            Status
	DeprecatedAt      time.Time // zero unless the version was deprecated
	SunsetAt          time.Time // zero unless a sunset date is scheduled
	MigrationGuideURL string
	Default           bool
}

// Registry is the immutable catalog of supported versions.
// Safe for unsynchronized concurrent reads.
type Registry struct {
	entries map[Token]Entry
	ordered []Token
	def     Entry
	latest  Entry
}

// Builder accumulates version entries in registration order.
type Builder struct {
	entries []Entry
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers a version entry. The sequence number is assigned from the
// Add order; any Sequence value on the input is ignored.
func (b *Builder) Add(e Entry) *Builder {
	e.Sequence = len(b.entries) + 1
	b.entries = append(b.entries, e)
	return b
}

// Build validates the accumulated entries and returns an immutable Registry.
func (b *Builder) Build() (*Registry, error) {
	if len(b.entries) == 0 {
		return nil, fmt.Errorf("version registry: no versions registered")
	}

	r := &Registry{
		entries: make(map[Token]Entry, len(b.entries)),
		ordered: make([]Token, 0, len(b.entries)),
	}

	defaults := 0
	for _, e := range b.entries {
		if e.Token == "" {
			return nil, fmt.Errorf("version registry: empty version token")
		}
		if _, dup := r.entries[e.Token]; dup {
			return nil, fmt.Errorf("version registry: duplicate version %q", e.Token)
		}
		if e.Status == StatusSunset && e.SunsetAt.IsZero() {
			return nil, fmt.Errorf("version registry: version %q has status sunset but no sunset date", e.Token)
		}
		if e.Default {
			defaults++
			r.def = e
		}
		r.entries[e.Token] = e
		r.ordered = append(r.ordered, e.Token)
	}

	if defaults != 1 {
		return nil, fmt.Errorf("version registry: exactly one default version required, got %d", defaults)
	}

	// Latest is the active entry with the highest sequence number. A registry
	// with no active entries (everything deprecated) reports the default.
	r.latest = r.def
	for _, e := range b.entries {
		if e.Status == StatusActive {
			r.latest = e
		}
	}

	return r, nil
}

// Lookup returns the entry for a token. Any status (active, deprecated,
// sunset) is a valid lookup target.
func (r *Registry) Lookup(t Token) (Entry, bool) {
	e, ok := r.entries[t]
	return e, ok
}

// Default returns the default version entry.
func (r *Registry) Default() Entry {
	return r.def
}

// Latest returns the active entry with the highest sequence number.
func (r *Registry) Latest() Entry {
	return r.latest
}

// Tokens returns all registered tokens in registration order.
func (r *Registry) Tokens() []Token {
	out := make([]Token, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered versions.
func (r *Registry) Len() int {
	return len(r.ordered)
}
