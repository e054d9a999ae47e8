// Package disk implements the bounded on-disk cache tier.
//
// Every key maps to a deterministic file under the cache directory. Callers
// ask for the path (Get), write the bytes there and register the file (Put);
// Write does both through a temp file and a rename. Eviction is least
// recently used, where "used" is the last Put or Get of the path; the file
// modification time mirrors that stamp so the order survives restarts.
//
// On construction a background scan registers the files already in the
// directory. Operations never wait for it, so size accounting is only
// eventually accurate until Ready is closed.
package disk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/internal/util"
	"github.com/IvanBrykalov/tiercache/safefile"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("disk: cache closed")

// tmpPrefix marks in-flight writes; scans and Clear leave them alone.
const tmpPrefix = ".tmp-"

// Cache is a size- or count-bounded directory of cache files.
// All methods are safe for concurrent use by multiple goroutines.
type Cache struct {
	dir   string
	limit int64
	opt   Options
	reg   *safefile.Registry
	log   logrus.FieldLogger

	size atomic.Int64

	// ---- guarded by mu ----
	mu      sync.Mutex
	entries map[string]*entry // by path

	scan   errgroup.Group
	ready  chan struct{}
	closed atomic.Bool

	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicInt64
}

type entry struct {
	key  string // empty for files found by the startup scan
	size int64
	used int64 // unix nanos
}

// Stats is a point-in-time snapshot of a disk cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Size      int64
	Limit     int64
}

var _ cache.DiskCache = (*Cache)(nil)

// New creates the cache directory if needed and starts the startup scan.
func New(opt Options) (*Cache, error) {
	if opt.Dir == "" {
		return nil, errors.New("disk: empty cache directory")
	}
	opt.defaults()
	dir := filepath.Clean(opt.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create %s: %w", dir, err)
	}

	c := &Cache{
		dir:     dir,
		limit:   opt.Limit,
		opt:     opt,
		reg:     opt.Registry,
		log:     opt.Logger.WithField("dir", dir),
		entries: make(map[string]*entry),
		ready:   make(chan struct{}),
	}
	c.scan.Go(func() error {
		defer close(c.ready)
		return c.scanDir()
	})
	return c, nil
}

// NewSizeLimited returns a cache bounded by total file bytes.
func NewSizeLimited(dir string, limitBytes int64) (*Cache, error) {
	return New(Options{Dir: dir, Limit: limitBytes, Sizer: Bytes})
}

// NewCountLimited returns a cache bounded by number of files.
func NewCountLimited(dir string, limitFiles int64) (*Cache, error) {
	return New(Options{Dir: dir, Limit: limitFiles, Sizer: Count})
}

// scanDir registers files already present. Paths a concurrent Put registered
// first are left as they are.
func (c *Cache) scanDir() error {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.WithField("action", "scan").WithError(err).Warn("cache scan failed")
		return fmt.Errorf("disk: scan %s: %w", c.dir, err)
	}
	var n int
	for _, de := range des {
		if c.closed.Load() {
			break
		}
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed underneath us
		}
		path := filepath.Join(c.dir, de.Name())
		sz := c.opt.Sizer(info)

		c.mu.Lock()
		if _, ok := c.entries[path]; !ok {
			c.entries[path] = &entry{size: sz, used: info.ModTime().UnixNano()}
			c.size.Add(sz)
			n++
		}
		c.mu.Unlock()
	}
	c.log.WithFields(logrus.Fields{
		"action": "scan",
		"files":  n,
		"size":   humanize.IBytes(uint64(max(c.size.Load(), 0))),
	}).Debug("cache scan complete")
	c.reportSize()
	return nil
}

// Ready is closed when the startup scan has finished.
func (c *Cache) Ready() <-chan struct{} { return c.ready }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file path for key. It has no side effects.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, c.opt.Names.Generate(key))
}

// Get returns the path for key and stamps it as just used, both in the
// bookkeeping and as the file's modification time. The path is returned even
// when no file exists there.
func (c *Cache) Get(key string) string {
	path := c.Path(key)
	if c.closed.Load() {
		return path
	}
	if c.touch(path) {
		c.hits.Add(1)
		c.opt.Metrics.Hit()
	} else {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
	}
	return path
}

func (c *Cache) touch(path string) bool {
	now := c.opt.Clock.NowUnixNano()
	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		e.used = now
	}
	c.mu.Unlock()

	t := time.Unix(0, now)
	_ = os.Chtimes(path, t, t) // absent files are fine
	return ok
}

// Open returns a guarded read handle on the file for key and stamps it as
// used. Eviction of an open file is deferred until the handle is closed.
func (c *Cache) Open(key string) (*safefile.Handle, error) {
	path := c.Get(key)
	h, err := c.reg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", key, err)
	}
	return h, nil
}

// Put registers the file at path, which the caller has already written, and
// evicts least recently used files until it fits. A file larger than the
// whole limit is kept once everything else is gone; the cache is then over
// its limit until the next Put.
func (c *Cache) Put(key, path string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("disk: put %s: %w", key, err)
	}
	incoming := c.opt.Sizer(info)

	// A reader may still hold an evicted copy of this path; the new file
	// must survive that reader's Close.
	c.reg.Cancel(path)

	c.mu.Lock()
	if old, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.size.Add(-old.size)
	}
	c.mu.Unlock()

	c.evictFor(incoming)

	now := c.opt.Clock.NowUnixNano()
	c.mu.Lock()
	c.entries[path] = &entry{key: key, size: incoming, used: now}
	c.mu.Unlock()
	c.size.Add(incoming)

	t := time.Unix(0, now)
	if err := os.Chtimes(path, t, t); err != nil {
		c.log.WithFields(logrus.Fields{"action": "put", "key": key, "path": path}).
			WithError(err).Debug("stamp mtime failed")
	}
	c.reportSize()
	return nil
}

// evictFor removes oldest entries until incoming fits. It stops early when
// the cache is empty or a delete fails.
func (c *Cache) evictFor(incoming int64) {
	if c.limit <= 0 {
		return
	}
	for c.size.Load()+incoming > c.limit {
		c.mu.Lock()
		path, e := c.oldestLocked()
		c.mu.Unlock()
		if e == nil {
			return
		}
		if !c.drop(path, e, cache.EvictCapacity) {
			return
		}
	}
}

// oldestLocked returns the entry with the smallest use stamp. Caller holds mu.
func (c *Cache) oldestLocked() (string, *entry) {
	var (
		path string
		old  *entry
	)
	for p, e := range c.entries {
		if old == nil || e.used < old.used {
			path, old = p, e
		}
	}
	return path, old
}

// drop deletes the file outside the lock and forgets the entry. A deferred
// deletion counts as done: the entry leaves the accounting now, and the
// directory may hold more than the limit until the last reader closes. A failed
// delete leaves the entry tracked and reports false.
func (c *Cache) drop(path string, e *entry, reason cache.EvictReason) bool {
	done, err := c.reg.Delete(path)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"action": "evict",
			"key":    e.key,
			"path":   path,
			"size":   humanize.IBytes(uint64(max(e.size, 0))),
		}).WithError(err).Warn("cache file delete failed")
		return false
	}

	c.mu.Lock()
	if cur, ok := c.entries[path]; ok && cur == e {
		delete(c.entries, path)
		c.size.Add(-e.size)
	}
	c.mu.Unlock()

	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	c.log.WithFields(logrus.Fields{
		"action":   "evict",
		"key":      e.key,
		"path":     path,
		"reason":   reason.String(),
		"deferred": !done,
	}).Debug("cache file evicted")
	return true
}

// Write streams r into Path(key) through WriteFile and registers the result.
// Readers never observe a partial file.
func (c *Cache) Write(key string, r io.Reader) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	path := c.Path(key)
	if err := WriteFile(path, r); err != nil {
		return "", fmt.Errorf("disk: write %s: %w", key, err)
	}
	if err := c.Put(key, path); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile copies r into a temp file next to path and renames it onto path.
// The temp name is skipped by directory scans and Clear.
func WriteFile(path string, r io.Reader) error {
	tmp := filepath.Join(filepath.Dir(path), tmpPrefix+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Remove deletes the file for key. It reports whether the entry was tracked.
// The file is removed even when it was not tracked.
func (c *Cache) Remove(key string) bool {
	path := c.Path(key)

	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		delete(c.entries, path)
		c.size.Add(-e.size)
	}
	c.mu.Unlock()

	if _, err := c.reg.Delete(path); err != nil {
		c.log.WithFields(logrus.Fields{"action": "remove", "key": key, "path": path}).
			WithError(err).Warn("cache file delete failed")
	}
	c.reportSize()
	return ok
}

// Keys returns the keys registered through Put that are still tracked.
// Files found by the startup scan have no known key and are not listed.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		if e.key != "" {
			out = append(out, e.key)
		}
	}
	return out
}

// Clear deletes every file in the cache directory and resets accounting.
// Files with open handles are deleted when the last handle closes. In-flight
// Write temp files are skipped.
func (c *Cache) Clear() error {
	c.mu.Lock()
	clear(c.entries)
	c.size.Store(0)
	c.mu.Unlock()

	des, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("disk: clear %s: %w", c.dir, err)
	}
	var errs []error
	for _, de := range des {
		if de.IsDir() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		if _, err := c.reg.Delete(filepath.Join(c.dir, de.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	c.reportSize()
	c.log.WithField("action", "clear").Info("cache cleared")
	return errors.Join(errs...)
}

// ModTime returns the modification time of the file for key.
func (c *Cache) ModTime(key string) (time.Time, bool) {
	info, err := os.Stat(c.Path(key))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Size returns the accounted size of tracked files.
func (c *Cache) Size() int64 { return c.size.Load() }

// Len returns the number of tracked files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns counters and current occupancy.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Entries:   c.Len(),
		Size:      c.size.Load(),
		Limit:     c.limit,
	}
}

// Close stops accepting writes and waits for the startup scan.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return c.scan.Wait()
}

func (c *Cache) reportSize() {
	c.opt.Metrics.Size(c.Len(), c.size.Load())
}

// IsNotExist reports whether err means a cache file is missing.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
