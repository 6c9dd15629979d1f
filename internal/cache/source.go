// Package cache holds the in-memory source cache shared by all translation
// units of a workspace. Headers included from many units are read once and
// served from memory until they change on disk.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/maypok86/otter"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxBytes = 64 << 20
	DefaultTTL      = 10 * time.Minute
)

// ErrNotRegular is returned when a path names a directory or device.
var ErrNotRegular = errors.New("not a regular file")

// source is one cached file. It is valid while the file's modification time
// and size are unchanged.
type source struct {
	modTime time.Time
	size    int64
	data    []byte
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// SourceCache reads files through a size-bounded, expiring cache keyed by
// cleaned path. Concurrent misses on the same path share one read.
type SourceCache struct {
	fs     afero.Fs
	logger *slog.Logger
	cache  otter.Cache[string, *source]
	group  singleflight.Group
}

// Option configures a SourceCache.
type Option func(*options)

type options struct {
	fs       afero.Fs
	logger   *slog.Logger
	maxBytes int
	ttl      time.Duration
}

// WithFs reads files from fs instead of the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxBytes bounds the total size of cached file contents.
func WithMaxBytes(n int) Option {
	return func(o *options) {
		o.maxBytes = n
	}
}

// WithTTL sets how long an entry lives after it was read.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// NewSourceCache creates a cache. It fails only on an invalid capacity.
func NewSourceCache(opts ...Option) (*SourceCache, error) {
	o := options{
		fs:       afero.NewOsFs(),
		logger:   slog.New(slog.DiscardHandler),
		maxBytes: DefaultMaxBytes,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBytes <= 0 {
		return nil, fmt.Errorf("source cache capacity must be positive, got %d", o.maxBytes)
	}

	b := otter.MustBuilder[string, *source](o.maxBytes).
		CollectStats().
		Cost(func(_ string, s *source) uint32 {
			// Empty files still occupy a slot.
			return uint32(min(len(s.data)+1, int(^uint32(0))))
		})
	var (
		c   otter.Cache[string, *source]
		err error
	)
	if o.ttl > 0 {
		c, err = b.WithTTL(o.ttl).Build()
	} else {
		c, err = b.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("build source cache: %w", err)
	}

	return &SourceCache{fs: o.fs, logger: o.logger, cache: c}, nil
}

// Fs returns the file system the cache reads from.
func (c *SourceCache) Fs() afero.Fs { return c.fs }

// Read returns the contents of path. The returned slice is shared and must
// not be modified.
func (c *SourceCache) Read(path string) ([]byte, error) {
	path = filepath.Clean(path)

	info, err := c.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	if s, ok := c.cache.Get(path); ok && s.size == info.Size() && s.modTime.Equal(info.ModTime()) {
		return s.data, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			return nil, err
		}
		s := &source{modTime: info.ModTime(), size: int64(len(data)), data: data}
		if !c.cache.Set(path, s) {
			c.logger.Debug("file too large for source cache", "path", path, "bytes", len(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops the cached contents of path.
func (c *SourceCache) Invalidate(path string) {
	c.cache.Delete(filepath.Clean(path))
}

// Clear drops every entry.
func (c *SourceCache) Clear() {
	c.cache.Clear()
}

// Stats returns hit and miss counters and the current number of entries.
func (c *SourceCache) Stats() Stats {
	st := c.cache.Stats()
	return Stats{Hits: st.Hits(), Misses: st.Misses(), Size: c.cache.Size()}
}

// Close releases the cache's background resources.
func (c *SourceCache) Close() {
	c.cache.Close()
}
