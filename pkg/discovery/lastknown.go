package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LastKnownFile persists the fallback endpoint across restarts as a
// small JSON file.
type LastKnownFile struct {
	path string
}

// NewLastKnownFile creates a store at the given path.
func NewLastKnownFile(path string) *LastKnownFile {
	return &LastKnownFile{path: path}
}

// Load reads the stored endpoint. A missing file returns ok=false, not
// an error.
func (f *LastKnownFile) Load() (LastKnown, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return LastKnown{}, false, nil
	}
	if err != nil {
		return LastKnown{}, false, fmt.Errorf("read last-known file: %w", err)
	}

	var lk LastKnown
	if err := json.Unmarshal(data, &lk); err != nil {
		return LastKnown{}, false, fmt.Errorf("parse last-known file: %w", err)
	}
	if lk.Address == "" || isLoopback(lk.Address) {
		// A loopback fallback is worse than none.
		return LastKnown{}, false, nil
	}
	return lk, true, nil
}

// Save writes the endpoint atomically via a temp file rename.
func (f *LastKnownFile) Save(lk LastKnown) error {
	if lk.Address == "" || isLoopback(lk.Address) {
		return fmt.Errorf("discovery: refusing to persist fallback address %q", lk.Address)
	}

	data, err := json.MarshalIndent(lk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode last-known endpoint: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create last-known directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lastknown-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write last-known endpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace last-known file: %w", err)
	}
	return nil
}
