package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

const (
	filePrefix = "gfs_velocity_"
	fileSuffix = ".json"
)

// FileCache implements Cache with one JSON file per key in a directory.
// Freshness comes from the file modification time. Writes for a key are
// serialized and land atomically via rename; different keys never contend.
type FileCache struct {
	dir    string
	maxAge time.Duration
	clock  clockwork.Clock

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewFileCache creates dir if needed and returns a cache rooted there.
func NewFileCache(dir string, maxAge time.Duration, clock clockwork.Clock) (*FileCache, error) {
	if dir == "" {
		return nil, errors.New("file cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file cache: create %s: %w", dir, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &FileCache{
		dir:    dir,
		maxAge: maxAge,
		clock:  clock,
		locks:  make(map[string]*sync.RWMutex),
	}, nil
}

// Dir returns the cache directory.
func (c *FileCache) Dir() string { return c.dir }

// Path returns the file path for key.
func (c *FileCache) Path(key models.CycleKey) string {
	return filepath.Join(c.dir, key.FileName())
}

func (c *FileCache) lockFor(key models.CycleKey) *sync.RWMutex {
	name := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		c.locks[name] = l
	}
	return l
}

// Get reads the entry for key. A file older than the max age is a miss.
func (c *FileCache) Get(ctx context.Context, key models.CycleKey) (models.WindDocuments, bool, error) {
	l := c.lockFor(key)
	l.RLock()
	defer l.RUnlock()

	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.WindDocuments{}, false, nil
		}
		return models.WindDocuments{}, false, fmt.Errorf("file cache: stat %s: %w", key, err)
	}
	if c.clock.Since(info.ModTime()) >= c.maxAge {
		return models.WindDocuments{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.WindDocuments{}, false, fmt.Errorf("file cache: read %s: %w", key, err)
	}
	var docs models.WindDocuments
	if err := json.Unmarshal(data, &docs); err != nil {
		return models.WindDocuments{}, false, fmt.Errorf("file cache: parse %s: %w", key, err)
	}
	return docs, true, nil
}

// Set writes docs for key through a temp file and rename, then stamps the file
// with the cache clock so freshness follows injected time.
func (c *FileCache) Set(ctx context.Context, key models.CycleKey, docs models.WindDocuments) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, key, err)
	}

	l := c.lockFor(key)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(c.dir, "."+filePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrWrite, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, key, err)
	}
	now := c.clock.Now()
	if err := os.Chtimes(tmpName, now, now); err != nil {
		return fmt.Errorf("%w: stamp %s: %v", ErrWrite, key, err)
	}
	if err := os.Rename(tmpName, c.Path(key)); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrWrite, key, err)
	}
	return nil
}

// Prune removes cache files last written more than olderThan ago and returns
// how many were removed. Files that are not cache entries are left alone.
func (c *FileCache) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("file cache: list %s: %w", c.dir, err)
	}
	cutoff := c.clock.Now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Ping checks that the cache directory is still usable.
func (c *FileCache) Ping() error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("file cache: %s is not a directory", c.dir)
	}
	return nil
}
