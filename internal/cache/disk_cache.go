package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// DiskStore implements Store with one file per key under a root directory.
// Keys may contain '/' to nest files in subdirectories.
type DiskStore struct {
	mu       sync.Mutex
	cacheDir string
	maxBytes int64
	used     int64
}

// NewDisk creates a new disk store rooted at cacheDir. maxBytes <= 0 disables the quota.
func NewDisk(cacheDir string, maxBytes int64) *DiskStore {
	return &DiskStore{
		cacheDir: cacheDir,
		maxBytes: maxBytes,
	}
}

// path resolves key to a file below the cache directory
func (d *DiskStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") {
		return "", ErrInvalidKey
	}
	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes cache directory", ErrInvalidKey, key)
	}
	return filepath.Join(d.cacheDir, rel), nil
}

// Get retrieves the stored value, or nil, nil if there is none
func (d *DiskStore) Get(key string) ([]byte, error) {
	cachePath, err := d.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cachePath, err)
	}
	return data, nil
}

// Set stores a value, refusing writes that would go over the quota
func (d *DiskStore) Set(key string, data []byte) error {
	cachePath, err := d.path(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var prev int64
	if info, err := os.Stat(cachePath); err == nil {
		prev = info.Size()
	}
	size := int64(len(data))
	if d.maxBytes > 0 && d.used-prev+size > d.maxBytes {
		return fmt.Errorf("writing %s (%s, %s of %s in use): %w", key,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(d.used)), humanize.IBytes(uint64(d.maxBytes)),
			ErrQuotaExceeded)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return err
	}

	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		return err
	}
	d.used += size - prev

	logrus.Debugf("Stored %s (%s)", cachePath, humanize.IBytes(uint64(size)))
	return nil
}

// Delete removes the file backing key
func (d *DiskStore) Delete(key string) error {
	cachePath, err := d.path(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(cachePath); err != nil {
		return fmt.Errorf("failed to remove cache file %s: %w", cachePath, err)
	}
	d.used -= info.Size()
	return nil
}

// Keys walks the cache directory and returns every stored key
func (d *DiskStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.cacheDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.cacheDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.cacheDir, err)
	}
	return keys, nil
}

// Clear deletes the whole cache directory and recreates it empty
func (d *DiskStore) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(d.cacheDir); err != nil {
		return fmt.Errorf("clearing %s: %w", d.cacheDir, err)
	}
	d.used = 0
	return os.MkdirAll(d.cacheDir, 0755)
}

// Init ensures the cache directory exists and accounts for what it already holds
func (d *DiskStore) Init() error {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return err
	}

	var used int64
	err := filepath.WalkDir(d.cacheDir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		used += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("measuring %s: %w", d.cacheDir, err)
	}

	d.mu.Lock()
	d.used = used
	d.mu.Unlock()
	return nil
}

// Used returns the number of bytes accounted to the store
func (d *DiskStore) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}
