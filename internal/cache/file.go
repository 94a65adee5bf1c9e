package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// keyPattern guards against path traversal: keys are hex digests.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{16,64}$`)

// File is a Cache persisted as one JSON file per entry under a directory,
// so memoized outputs survive across runs. A per-stage "latest" marker
// serves the use-cache fallback after a restart.
type File struct {
	mu  sync.Mutex
	dir string
}

// NewFile creates (if needed) the cache directory and returns a
// file-backed cache.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the cache directory.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) Lookup(key string) (Entry, bool) {
	if !keyPattern.MatchString(key) {
		return Entry{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readEntry(f.entryPath(key))
}

func (f *File) Store(key string, e Entry) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("malformed cache key %q", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	// Write-then-rename so a crash never leaves a torn entry behind.
	if err := writeAtomic(f.entryPath(key), data); err != nil {
		return err
	}
	return writeAtomic(f.latestPath(e.Stage), []byte(key))
}

func (f *File) LatestFor(stage string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.latestPath(stage))
	if err != nil {
		return Entry{}, false
	}
	key := strings.TrimSpace(string(data))
	if !keyPattern.MatchString(key) {
		return Entry{}, false
	}
	return f.readEntry(f.entryPath(key))
}

// Clear removes every persisted entry. The external "invalidate across
// runs" decision (e.g. a --no-cache flag) lands here.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	names, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, entry := range names {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") && !strings.HasSuffix(entry.Name(), ".latest") {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (f *File) entryPath(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *File) latestPath(stage string) string {
	// Stage names must not escape the cache directory.
	safe := strings.ReplaceAll(stage, string(os.PathSeparator), "_")
	return filepath.Join(f.dir, safe+".latest")
}

func (f *File) readEntry(path string) (Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
