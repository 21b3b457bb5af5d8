package engine

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var metaJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ReadMeta loads the `.meta` sidecar, returning an empty map if it
// does not exist yet.
func (e *DocumentEngine) ReadMeta() (map[string]any, error) {
	buf, err := os.ReadFile(e.metaPath)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read meta: %w", err)
	}
	var m map[string]any
	if err := metaJSON.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("engine: decode meta: %w", err)
	}
	return m, nil
}

// WriteMeta overwrites the `.meta` sidecar with m. Meta is freeform
// and opaque to the engine; it is never read back for query purposes.
func (e *DocumentEngine) WriteMeta(m map[string]any) error {
	if e.readOnly {
		return ErrReadOnly
	}
	buf, err := metaJSON.Marshal(m)
	if err != nil {
		return fmt.Errorf("engine: encode meta: %w", err)
	}
	if err := os.WriteFile(e.metaPath, buf, 0o644); err != nil {
		return fmt.Errorf("engine: write meta: %w", err)
	}
	return nil
}
