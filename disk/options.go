package disk

import (
	"io/fs"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/filename"
	"github.com/IvanBrykalov/tiercache/internal/logging"
	"github.com/IvanBrykalov/tiercache/safefile"
	"github.com/sirupsen/logrus"
)

// Sizer measures a cached file. The size-limited and count-limited caches
// differ only in their Sizer.
type Sizer func(info fs.FileInfo) int64

// Bytes sizes a file by its length.
func Bytes(info fs.FileInfo) int64 { return info.Size() }

// Count sizes every file as 1, turning Limit into a file count.
func Count(fs.FileInfo) int64 { return 1 }

// Options configure a Cache. Only Dir is required.
//   - Limit <= 0     => unlimited (nothing is evicted)
//   - nil Sizer      => Bytes
//   - nil Names      => filename.HashGenerator
//   - nil Registry   => private registry that logs failed deferred deletes
//   - nil Clock      => cache.SystemClock
//   - nil Metrics    => cache.NoopMetrics
//   - nil Logger     => discard
type Options struct {
	Dir   string
	Limit int64
	Sizer Sizer
	Names filename.Generator

	// Registry guards files against deletion while they are being read.
	// Share one registry between caches that read each other's files.
	Registry *safefile.Registry

	Clock   cache.Clock
	Metrics cache.Metrics
	Logger  logrus.FieldLogger
}

func (o *Options) defaults() {
	if o.Sizer == nil {
		o.Sizer = Bytes
	}
	if o.Names == nil {
		o.Names = filename.HashGenerator{}
	}
	if o.Clock == nil {
		o.Clock = cache.SystemClock{}
	}
	if o.Metrics == nil {
		o.Metrics = cache.NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Registry == nil {
		log := o.Logger
		o.Registry = safefile.New(safefile.Options{OnDelete: func(path string, err error) {
			if err != nil {
				log.WithFields(logrus.Fields{"action": "deferred_delete", "path": path}).
					WithError(err).Warn("cache file delete failed")
			}
		}})
	}
}
