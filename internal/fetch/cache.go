package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileCache stores fetched resources on disk, keyed by the SHA-256 of their
// locator.
//
// Structure:
//
//	{Dir}/
//	  {key[0:2]}/
//	    {key}
type FileCache struct {
	Dir string
}

// NewFileCache creates a cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

// Key returns the cache key of a locator.
func Key(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) entryPath(locator string) string {
	key := Key(locator)
	return filepath.Join(c.Dir, key[:2], key)
}

// Get returns the cached content of locator. ok is false on a miss.
func (c *FileCache) Get(locator string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(c.entryPath(locator))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	return data, true, nil
}

// Put stores data for locator. The entry appears atomically.
func (c *FileCache) Put(locator string, data []byte) error {
	path := c.entryPath(locator)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache entry: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

// CacheRecorder observes cache lookups.
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
}

// CachingFetcher serves resources from a FileCache and falls back to Next,
// storing what Next returns. Failed retrievals are not cached.
type CachingFetcher struct {
	Next     Fetcher
	Cache    *FileCache
	Recorder CacheRecorder
}

// Fetch implements Fetcher.
func (f *CachingFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if f.Cache == nil {
		return f.Next.Fetch(ctx, locator)
	}

	data, ok, err := f.Cache.Get(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if ok {
		if f.Recorder != nil {
			f.Recorder.CacheHit()
		}
		return data, nil
	}
	if f.Recorder != nil {
		f.Recorder.CacheMiss()
	}

	data, err = f.Next.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	if err := f.Cache.Put(locator, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	return data, nil
}
