package loader

import (
	"fmt"
	"io"
)

// Key identifies a decoded value: a source and the size it was decoded to.
// Zero Width or Height means "natural size" on that axis.
type Key struct {
	URI    string
	Width  int
	Height int
}

// String renders the key as "uri@WxH". It also feeds the memory tier's
// shard hash.
func (k Key) String() string {
	return fmt.Sprintf("%s@%dx%d", k.URI, k.Width, k.Height)
}

// SameSource treats keys for one URI as equivalent regardless of target
// size, so the memory tier keeps one decoded size per source.
func SameSource(a, b Key) bool { return a.URI == b.URI }

// Decoder turns cached bytes into a value for k.
type Decoder[V any] interface {
	Decode(r io.Reader, k Key) (V, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[V any] func(r io.Reader, k Key) (V, error)

// Decode implements Decoder.
func (f DecoderFunc[V]) Decode(r io.Reader, k Key) (V, error) { return f(r, k) }
