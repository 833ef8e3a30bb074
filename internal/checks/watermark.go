package checks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WatermarkStore persists per-source high-water timestamps so a
// restarted daemon does not re-report messages it already surfaced.
type WatermarkStore interface {
	Load() (map[string]time.Time, error)
	Save(map[string]time.Time) error
}

// FileWatermarks keeps the map in a single JSON file. A missing file
// is an empty map. Writes are atomic.
type FileWatermarks struct {
	mu   sync.Mutex
	path string
}

func NewFileWatermarks(path string) *FileWatermarks {
	return &FileWatermarks{path: path}
}

func (f *FileWatermarks) Load() (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("read watermarks: %w", err)
	}
	marks := map[string]time.Time{}
	if err := json.Unmarshal(b, &marks); err != nil {
		return nil, fmt.Errorf("parse watermarks %s: %w", f.path, err)
	}
	return marks, nil
}

func (f *FileWatermarks) Save(marks map[string]time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(marks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermarks: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watermark dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp watermark file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write watermarks: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync watermarks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close watermarks: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace watermarks: %w", err)
	}
	return nil
}
