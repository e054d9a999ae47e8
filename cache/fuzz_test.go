package cache

import (
	"strings"
	"testing"
)

// Fuzz basic Put/Get/Remove semantics under arbitrary string inputs.
// NOTE: the limit is large enough that every fuzzed value is strongly
// retained, so Get must hit deterministically.
func FuzzMemory_PutGetRemove(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) >= limit {
			v = v[:limit-1]
		}

		c := New[string, string](Options[string, string]{
			SizeLimit: limit,
			Sizer:     func(s string) int { return len(s) },
		})

		if !c.Put(k, v) {
			t.Fatalf("Put of %d bytes must be admitted", len(v))
		}
		got, ok := c.Get(k)
		if !ok || got != v {
			t.Fatalf("after Put/Get: want %q, got %q ok=%v", v, got, ok)
		}
		if c.Size() != int64(len(v)) {
			t.Fatalf("size want %d, got %d", len(v), c.Size())
		}

		c.Remove(k)
		if _, ok := c.Get(k); ok {
			t.Fatalf("key must be absent after Remove")
		}
		if c.Size() != 0 {
			t.Fatalf("size must be 0 after Remove, got %d", c.Size())
		}
	})
}
