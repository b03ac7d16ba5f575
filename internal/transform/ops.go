package transform

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/palabrita/palabrita/internal/config"
	"github.com/palabrita/palabrita/internal/version"
)

// Compile turns declarative field operations from configuration into a pure
// Transform. Operation groups run in a fixed order (set, default, copy,
// move, rename, remove) and keys within a group are applied in sorted order
// so the compiled transform is deterministic.
func Compile(ops config.FieldOps) Transform {
	set := sortedKeys(ops.Set)
	defaults := sortedKeys(ops.Default)
	copies := sortedKeys(ops.Copy)
	moves := sortedKeys(ops.Move)
	renames := sortedKeys(ops.Rename)

	return func(payload []byte) ([]byte, error) {
		if !gjson.ValidBytes(payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}

		var err error
		for _, path := range set {
			if payload, err = sjson.SetBytes(payload, path, ops.Set[path]); err != nil {
				return nil, fmt.Errorf("set %q: %w", path, err)
			}
		}

		for _, path := range defaults {
			if gjson.GetBytes(payload, path).Exists() {
				continue
			}
			if payload, err = sjson.SetBytes(payload, path, ops.Default[path]); err != nil {
				return nil, fmt.Errorf("default %q: %w", path, err)
			}
		}

		for _, src := range copies {
			payload, err = copyField(payload, src, ops.Copy[src])
			if err != nil {
				return nil, err
			}
		}

		for _, src := range moves {
			payload, err = copyField(payload, src, ops.Move[src])
			if err != nil {
				return nil, err
			}
			if payload, err = sjson.DeleteBytes(payload, src); err != nil {
				return nil, fmt.Errorf("move %q: %w", src, err)
			}
		}

		for _, old := range renames {
			payload, err = copyField(payload, old, ops.Rename[old])
			if err != nil {
				return nil, err
			}
			if payload, err = sjson.DeleteBytes(payload, old); err != nil {
				return nil, fmt.Errorf("rename %q: %w", old, err)
			}
		}

		for _, path := range ops.Remove {
			if payload, err = sjson.DeleteBytes(payload, path); err != nil {
				return nil, fmt.Errorf("remove %q: %w", path, err)
			}
		}

		return payload, nil
	}
}

// copyField copies the raw JSON value at src to dst. Missing sources are
// skipped: a migration must tolerate optional fields.
func copyField(payload []byte, src, dst string) ([]byte, error) {
	val := gjson.GetBytes(payload, src)
	if !val.Exists() {
		return payload, nil
	}
	out, err := sjson.SetRawBytes(payload, dst, []byte(val.Raw))
	if err != nil {
		return nil, fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return out, nil
}

// RegisterFromConfig compiles and registers every migration edge declared in
// the versioning configuration.
func RegisterFromConfig(r *Registry, migrations []config.MigrationConfig) error {
	for _, m := range migrations {
		if err := r.Register(version.Token(m.From), version.Token(m.To), Compile(m.Ops)); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
