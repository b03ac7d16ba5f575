package version

// Flags is the per-version capability table. A capability is keyed by a
// dot-separated feature path (e.g. "pagination.cursor"); absent entries
// are false. Immutable after NewFlags; safe for concurrent reads.
type Flags struct {
	byVersion map[Token]map[string]bool
}

// NewFlags builds a Flags table from the given map. The input is copied.
func NewFlags(table map[Token]map[string]bool) *Flags {
	f := &Flags{byVersion: make(map[Token]map[string]bool, len(table))}
	for v, features := range table {
		m := make(map[string]bool, len(features))
		for path, enabled := range features {
			m[path] = enabled
		}
		f.byVersion[v] = m
	}
	return f
}

// Has reports whether the feature is enabled for the version.
// Unknown versions and unknown feature paths report false.
func (f *Flags) Has(v Token, featurePath string) bool {
	if f == nil {
		return false
	}
	return f.byVersion[v][featurePath]
}

// Versions returns the tokens that have at least one flag entry.
func (f *Flags) Versions() []Token {
	out := make([]Token, 0, len(f.byVersion))
	for v := range f.byVersion {
		out = append(out, v)
	}
	return out
}
