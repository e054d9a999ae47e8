package util

import "runtime"

// NextPow2 returns the smallest power of two >= x (1 for x <= 1).
// Results that would overflow 64 bits are clamped to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ShardCount normalizes a requested shard count: values <= 0 select
// nextPow2(2*GOMAXPROCS), everything is rounded up to a power of two and
// clamped to [1..256].
func ShardCount(requested int) int {
	if requested <= 0 {
		p := runtime.GOMAXPROCS(0)
		if p < 1 {
			p = 1
		}
		requested = 2 * p
	}
	n := int(NextPow2(uint64(requested)))
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a 64-bit hash onto n shards. n must be a power of two.
func ShardIndex(hash uint64, n int) int {
	return int(hash & uint64(n-1))
}
