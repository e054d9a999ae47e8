package loader

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/decorator"
	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/filename"
	"github.com/IvanBrykalov/tiercache/internal/config"
	"github.com/IvanBrykalov/tiercache/internal/logging"
	"github.com/IvanBrykalov/tiercache/metrics/prom"
	"github.com/IvanBrykalov/tiercache/policy"
	"github.com/IvanBrykalov/tiercache/policy/fifo"
	"github.com/IvanBrykalov/tiercache/policy/lru"
	"github.com/IvanBrykalov/tiercache/safefile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators Open cannot derive from configuration.
type Deps[V any] struct {
	Fetcher Fetcher
	Decoder Decoder[V]
	Sizer   cache.Sizer[V]
	Logger  logrus.FieldLogger

	// Registerer receives per-tier metrics; nil disables them.
	Registerer prometheus.Registerer
}

// Open builds both tiers from cfg and returns an engine owning them:
//
//	memory: Memory -> KeyEquivalent(SameSource) [-> TTL]
//	disk:   disk.Cache [-> TTL], files under SourceDir(cfg.CacheDir)
//
// Shutdown closes both tiers.
func Open[V any](cfg *config.Config, deps Deps[V]) (*Engine[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}

	var memMetrics, diskMetrics cache.Metrics
	if deps.Registerer != nil {
		memMetrics = prom.New(deps.Registerer, "tiercache", prom.TierMemory)
		diskMetrics = prom.New(deps.Registerer, "tiercache", prom.TierDisk)
	}

	mem := cache.New(cache.Options[Key, V]{
		SizeLimit: int64(cfg.Memory.Size),
		Sizer:     deps.Sizer,
		Policy:    policyFor[V](cfg.Memory.Policy),
		Shards:    cfg.Memory.Shards,
		Metrics:   memMetrics,
	})
	var memTier cache.MemoryCache[Key, V] = decorator.NewKeyEquivalentMemory[Key, V](
		mem, SameSource, decorator.Options{Metrics: memMetrics})
	if cfg.Memory.TTL > 0 {
		memTier = decorator.NewTTLMemory(memTier, cfg.Memory.TTL, decorator.Options{Metrics: memMetrics})
	}

	reg := safefile.New(safefile.Options{OnDelete: func(path string, err error) {
		if err != nil {
			log.WithFields(logrus.Fields{"action": "deferred_delete", "path": path}).
				WithError(err).Warn("cache file delete failed")
		}
	}})
	names, ok := filename.ByName(cfg.Disk.Naming)
	if !ok {
		return nil, fmt.Errorf("loader: unknown naming %q", cfg.Disk.Naming)
	}
	limit, countFiles := cfg.DiskLimit()
	sizer := disk.Bytes
	if countFiles {
		sizer = disk.Count
	}
	dsk, err := disk.New(disk.Options{
		Dir:      SourceDir(cfg.CacheDir),
		Limit:    limit,
		Sizer:    sizer,
		Names:    names,
		Registry: reg,
		Metrics:  diskMetrics,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	var diskTier cache.DiskCache = dsk
	if cfg.Disk.TTL > 0 {
		diskTier = decorator.NewTTLDisk(dsk, cfg.Disk.TTL, decorator.Options{Metrics: diskMetrics})
	}

	return New(Options[V]{
		Memory:   memTier,
		Disk:     diskTier,
		Fetcher:  deps.Fetcher,
		Decoder:  deps.Decoder,
		Registry: reg,
		Workers:  cfg.Fetch.Workers,
		Closers:  []io.Closer{mem, dsk},
		Logger:   log,
	})
}

// SourceDir is where Open keeps fetched source files.
func SourceDir(cacheDir string) string { return filepath.Join(cacheDir, "sources") }

func policyFor[V any](name string) policy.Policy[Key, V] {
	if name == "fifo" {
		return fifo.New[Key, V]()
	}
	return lru.New[Key, V]()
}
