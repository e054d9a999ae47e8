// Package loader is the fetch-and-decode pipeline in front of the two cache
// tiers. An Engine is constructed explicitly, passed to whoever needs it and
// shut down by its owner; there is no package-level instance.
//
// Load(k) checks the memory tier, then the disk tier (fetching the source
// into it when absent), decodes through a guarded read handle and stores the
// result in memory. Concurrent loads of one Key share a single decode and
// concurrent loads of one URI share a single fetch.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/internal/logging"
	"github.com/IvanBrykalov/tiercache/internal/singleflight"
	"github.com/IvanBrykalov/tiercache/safefile"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoFetcher is returned when a source is missing on disk and the engine
// has no Fetcher.
var ErrNoFetcher = errors.New("loader: no fetcher configured")

// ErrShutdown is returned by loads after Shutdown.
var ErrShutdown = errors.New("loader: engine shut down")

// Options wire an Engine. Memory, Disk and Decoder are required.
type Options[V any] struct {
	Memory  cache.MemoryCache[Key, V]
	Disk    cache.DiskCache
	Fetcher Fetcher
	Decoder Decoder[V]

	// Registry must be the one guarding Disk's files, so eviction never
	// deletes a file mid-decode. Nil => a private registry.
	Registry *safefile.Registry

	// Workers bounds LoadAll concurrency; <= 0 => 4.
	Workers int

	// Closers are closed by Shutdown in order.
	Closers []io.Closer

	Logger logrus.FieldLogger
}

// Engine loads values through the memory and disk tiers.
type Engine[V any] struct {
	id      string
	mem     cache.MemoryCache[Key, V]
	disk    cache.DiskCache
	fetcher Fetcher
	decoder Decoder[V]
	reg     *safefile.Registry
	workers int
	closers []io.Closer
	log     logrus.FieldLogger

	loads   singleflight.Group[Key, V]
	fetches singleflight.Group[string, string]

	stop sync.Once
	done chan struct{}
}

// New returns an Engine over already constructed caches.
func New[V any](opt Options[V]) (*Engine[V], error) {
	if opt.Memory == nil || opt.Disk == nil || opt.Decoder == nil {
		return nil, errors.New("loader: Memory, Disk and Decoder are required")
	}
	if opt.Registry == nil {
		opt.Registry = safefile.New(safefile.Options{})
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.Logger == nil {
		opt.Logger = logging.Discard()
	}
	id := uuid.NewString()
	return &Engine[V]{
		id:      id,
		mem:     opt.Memory,
		disk:    opt.Disk,
		fetcher: opt.Fetcher,
		decoder: opt.Decoder,
		reg:     opt.Registry,
		workers: opt.Workers,
		closers: opt.Closers,
		log:     opt.Logger.WithField("engine", id),
		done:    make(chan struct{}),
	}, nil
}

// ID identifies this engine in logs.
func (e *Engine[V]) ID() string { return e.id }

// Memory returns the memory tier as wired.
func (e *Engine[V]) Memory() cache.MemoryCache[Key, V] { return e.mem }

// Disk returns the disk tier as wired.
func (e *Engine[V]) Disk() cache.DiskCache { return e.disk }

// Load returns the value for k, fetching and decoding it on a miss.
func (e *Engine[V]) Load(ctx context.Context, k Key) (V, error) {
	var zero V
	if e.isShutdown() {
		return zero, ErrShutdown
	}
	if v, ok := e.mem.Get(k); ok {
		return v, nil
	}
	v, shared, err := e.loads.Do(ctx, k, func(ctx context.Context) (V, error) {
		// Another caller may have finished between our miss and Do.
		if v, ok := e.mem.Get(k); ok {
			return v, nil
		}
		return e.load(ctx, k)
	})
	if err != nil {
		return zero, err
	}
	if shared {
		e.log.WithFields(logrus.Fields{"action": "load", "key": k.String()}).Trace("load coalesced")
	}
	return v, nil
}

func (e *Engine[V]) load(ctx context.Context, k Key) (V, error) {
	var zero V
	h, path, err := e.open(ctx, k.URI)
	if err != nil {
		return zero, err
	}
	v, err := e.decoder.Decode(h, k)
	_ = h.Close()
	if err != nil {
		// Unreadable bytes must not be served again.
		e.disk.Remove(k.URI)
		e.log.WithFields(logrus.Fields{"action": "decode", "key": k.String(), "path": path}).
			WithError(err).Warn("decode failed, dropped cached file")
		return zero, err
	}

	if !e.mem.Put(k, v) {
		e.log.WithFields(logrus.Fields{"action": "load", "key": k.String()}).
			Debug("value larger than memory tier, kept reclaimable only")
	}
	return v, nil
}

// open returns a guarded handle on the cached bytes for uri. A file evicted
// between lookup and open is fetched once more.
func (e *Engine[V]) open(ctx context.Context, uri string) (*safefile.Handle, string, error) {
	for attempt := 0; ; attempt++ {
		path, err := e.source(ctx, uri)
		if err != nil {
			return nil, "", err
		}
		h, err := e.reg.Open(path)
		if err == nil {
			return h, path, nil
		}
		if attempt > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("loader: open cached %s: %w", uri, err)
		}
	}
}

// source returns the path of the cached bytes for uri, fetching on a miss.
func (e *Engine[V]) source(ctx context.Context, uri string) (string, error) {
	path := e.disk.Get(uri)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	path, _, err := e.fetches.Do(ctx, uri, func(ctx context.Context) (string, error) {
		return e.fetch(ctx, uri)
	})
	return path, err
}

func (e *Engine[V]) fetch(ctx context.Context, uri string) (string, error) {
	path := e.disk.Get(uri)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if e.fetcher == nil {
		return "", ErrNoFetcher
	}
	rc, err := e.fetcher.Fetch(ctx, uri)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if err := disk.WriteFile(path, rc); err != nil {
		return "", fmt.Errorf("loader: store %s: %w", uri, err)
	}
	if err := e.disk.Put(uri, path); err != nil {
		return "", err
	}
	e.log.WithFields(logrus.Fields{"action": "fetch", "key": uri, "path": path}).Debug("source cached")
	return path, nil
}

// LoadAll loads keys with at most Workers loads in flight. Results are in
// key order; the first error cancels the rest.
func (e *Engine[V]) LoadAll(ctx context.Context, keys []Key) ([]V, error) {
	out := make([]V, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, k := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := e.Load(ctx, k)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown stops new loads and closes the configured closers. Later calls
// are no-ops.
func (e *Engine[V]) Shutdown() error {
	var err error
	e.stop.Do(func() {
		close(e.done)
		var errs []error
		for _, c := range e.closers {
			if cerr := c.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
		e.log.WithField("action", "shutdown").Debug("engine stopped")
	})
	return err
}

func (e *Engine[V]) isShutdown() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
