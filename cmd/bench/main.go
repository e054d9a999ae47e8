// Command bench drives a Zipf-distributed read/write workload against one
// cache tier and reports throughput, hit rate and occupancy. Metrics and
// pprof can be served while it runs.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/metrics/prom"
	"github.com/IvanBrykalov/tiercache/policy/fifo"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// tier is the slice of the cache API the workload needs.
type tier interface {
	get(k string) bool
	put(k string, v []byte)
	occupancy() (entries int, size int64)
}

type memTier struct{ c *cache.Memory[string, []byte] }

func (m memTier) get(k string) bool       { _, ok := m.c.Get(k); return ok }
func (m memTier) put(k string, v []byte)  { m.c.Put(k, v) }
func (m memTier) occupancy() (int, int64) { return m.c.Len(), m.c.Size() }

type diskTier struct{ c *disk.Cache }

func (d diskTier) get(k string) bool {
	_, err := os.Stat(d.c.Get(k))
	return err == nil
}
func (d diskTier) put(k string, v []byte) {
	if _, err := d.c.Write(k, bytes.NewReader(v)); err != nil {
		logrus.WithError(err).Warn("disk write failed")
	}
}
func (d diskTier) occupancy() (int, int64) { return d.c.Len(), d.c.Size() }

func main() {
	var (
		kind      = flag.String("tier", "memory", "tier under test: memory | disk")
		limitStr  = flag.String("limit", "64MiB", "size limit (bytes, e.g. 64MiB)")
		valueSize = flag.Int("value", 4096, "value size in bytes")
		policy    = flag.String("policy", "lru", "memory eviction policy: lru | fifo")
		shards    = flag.Int("shards", 0, "reclaimable-map shards (0=auto)")
		dir       = flag.String("dir", "", "disk tier directory (default: temp dir)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 100_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
	)
	flag.Parse()

	limit, err := humanize.ParseBytes(*limitStr)
	if err != nil {
		logrus.WithError(err).Fatal("bad -limit")
	}

	if *pprofAddr != "" {
		go func() {
			logrus.WithField("addr", *pprofAddr).Info("pprof serving")
			logrus.Warn(http.ListenAndServe(*pprofAddr, nil))
		}()
	}
	var metrics cache.Metrics
	if *metricsAddr != "" {
		metrics = prom.New(nil, "tiercache", *kind)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logrus.WithField("addr", *metricsAddr).Info("metrics serving")
			logrus.Warn(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	var t tier
	switch *kind {
	case "memory":
		opt := cache.Options[string, []byte]{
			SizeLimit: int64(limit),
			Sizer:     func(b []byte) int { return len(b) },
			Shards:    *shards,
			Metrics:   metrics,
		}
		switch *policy {
		case "lru":
		case "fifo":
			opt.Policy = fifo.New[string, []byte]()
		default:
			logrus.Fatalf("unknown policy %q (use lru or fifo)", *policy)
		}
		c := cache.New(opt)
		defer func() { _ = c.Close() }()
		t = memTier{c}
	case "disk":
		d := *dir
		if d == "" {
			if d, err = os.MkdirTemp("", "tiercache-bench-"); err != nil {
				logrus.WithError(err).Fatal("temp dir")
			}
			defer os.RemoveAll(d)
		}
		c, err := disk.New(disk.Options{Dir: d, Limit: int64(limit), Metrics: metrics})
		if err != nil {
			logrus.WithError(err).Fatal("open disk tier")
		}
		<-c.Ready()
		defer func() { _ = c.Close() }()
		t = diskTier{c}
	default:
		logrus.Fatalf("unknown tier %q (use memory or disk)", *kind)
	}

	workersN := max(*workers, 1)
	keysMax := uint64(max(*keys-1, 1))
	value := bytes.Repeat([]byte{'v'}, *valueSize)

	var reads, writes, hits, total atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < workersN; w++ {
		g.Go(func() error {
			// rand.Rand is not goroutine-safe: one per worker.
			r := rand.New(rand.NewSource(*seed + int64(w)*9973))
			z := rand.NewZipf(r, *zipfS, *zipfV, keysMax)

			for ctx.Err() == nil {
				total.Add(1)
				k := "k:" + strconv.FormatUint(z.Uint64(), 10)
				if int(r.Int31n(100)) < *readPct {
					reads.Add(1)
					if t.get(k) {
						hits.Add(1)
					}
				} else {
					writes.Add(1)
					t.put(k, value)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	hitRate := 0.0
	if n := reads.Load(); n > 0 {
		hitRate = float64(hits.Load()) / float64(n) * 100
	}
	entries, size := t.occupancy()

	fmt.Printf("tier=%s policy=%s limit=%s value=%s workers=%d keys=%d dur=%v seed=%d\n",
		*kind, *policy, humanize.IBytes(limit), humanize.IBytes(uint64(*valueSize)), workersN, *keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		total.Load(), float64(total.Load())/elapsed.Seconds(), reads.Load(), writes.Load())
	fmt.Printf("hits=%d  hit-rate=%.2f%%\n", hits.Load(), hitRate)
	fmt.Printf("entries=%d  size=%s\n", entries, humanize.IBytes(uint64(size)))
}
