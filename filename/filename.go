// Package filename maps cache keys to file names. Every generator is
// deterministic across process runs, so a disk entry written by one run is
// found again by the next. Distinct keys may collide; that is accepted.
package filename

import (
	"crypto/md5"
	"hash"
	"math/big"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Generator produces the file name for a cache key.
type Generator interface {
	Generate(key string) string
}

// Func adapts a plain function to Generator.
type Func func(key string) string

// Generate implements Generator.
func (f Func) Generate(key string) string { return f(key) }

// HashGenerator names files by the decimal xxhash64 of the key.
type HashGenerator struct{}

// Generate implements Generator.
func (HashGenerator) Generate(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 10)
}

// DigestGenerator names files by a cryptographic digest of the key rendered
// in base 36. A digest that cannot be computed falls back to Fallback
// (HashGenerator when nil); it never yields a name built from a nil digest.
type DigestGenerator struct {
	// New constructs the digest; nil => MD5.
	New func() hash.Hash
	// Fallback names the key when hashing fails.
	Fallback Generator
}

// NewDigest returns an MD5-based DigestGenerator.
func NewDigest() DigestGenerator { return DigestGenerator{New: md5.New} }

// Generate implements Generator.
func (g DigestGenerator) Generate(key string) string {
	sum, ok := g.digest(key)
	if !ok {
		return g.fallback().Generate(key)
	}
	return new(big.Int).SetBytes(sum).Text(36)
}

func (g DigestGenerator) digest(key string) (sum []byte, ok bool) {
	defer func() {
		if recover() != nil {
			sum, ok = nil, false
		}
	}()
	newHash := g.New
	if newHash == nil {
		newHash = md5.New
	}
	h := newHash()
	if h == nil {
		return nil, false
	}
	if _, err := h.Write([]byte(key)); err != nil {
		return nil, false
	}
	sum = h.Sum(nil)
	if len(sum) == 0 {
		return nil, false
	}
	return sum, true
}

func (g DigestGenerator) fallback() Generator {
	if g.Fallback != nil {
		return g.Fallback
	}
	return HashGenerator{}
}

// ByName returns the generator registered under name: "hash" or "md5".
// Unknown names report false.
func ByName(name string) (Generator, bool) {
	switch name {
	case "", "hash":
		return HashGenerator{}, true
	case "md5":
		return NewDigest(), true
	default:
		return nil, false
	}
}
