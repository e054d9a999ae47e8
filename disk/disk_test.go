package disk

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeClock advances one second per reading, so every stamp is distinct.
type fakeClock struct{ n atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64 {
	return time.Unix(1_700_000_000, 0).Add(time.Duration(f.n.Add(1)) * time.Second).UnixNano()
}

func newCache(t *testing.T, opt Options) *Cache {
	t.Helper()
	if opt.Dir == "" {
		opt.Dir = t.TempDir()
	}
	if opt.Clock == nil {
		opt.Clock = &fakeClock{}
	}
	c, err := New(opt)
	if err != nil {
		t.Fatal(err)
	}
	<-c.Ready()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// put writes n bytes at Path(key) and registers the file.
func put(t *testing.T, c *Cache, key string, n int) string {
	t.Helper()
	p := c.Get(key)
	if err := os.WriteFile(p, bytes.Repeat([]byte{'x'}, n), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(key, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func dirBytes(t *testing.T, dir string) int64 {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var n int64
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().IsRegular() {
			n += info.Size()
		}
	}
	return n
}

func TestGet_DeterministicNonEmptyPath(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 100})
	p := c.Get("k")
	if p == "" || p != c.Get("k") || p != c.Path("k") {
		t.Fatalf("paths differ: %q", p)
	}
	if filepath.Dir(p) != c.Dir() {
		t.Fatalf("path %q outside %q", p, c.Dir())
	}
	if exists(p) {
		t.Fatal("Get must not create the file")
	}
}

// A get between two puts protects the touched entry.
func TestEviction_LRUTouchOnGet(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 25})
	a := put(t, c, "A", 10)
	b := put(t, c, "B", 10)
	_ = c.Get("A")
	cp := put(t, c, "C", 10)

	if !exists(a) || !exists(cp) {
		t.Fatal("A and C must survive")
	}
	if exists(b) {
		t.Fatal("B was least recently used and must be evicted")
	}
	if c.Size() != 20 || c.Len() != 2 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Fatalf("evictions=%d", st.Evictions)
	}
}

func TestEviction_SizeBoundHolds(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 50})
	for i := 0; i < 40; i++ {
		put(t, c, strings.Repeat("k", i+1), 3+i%9)
		if got := dirBytes(t, c.Dir()); got > 50 {
			t.Fatalf("after put %d: dir holds %d bytes > 50", i, got)
		}
		if c.Size() > 50 {
			t.Fatalf("accounted size %d > 50", c.Size())
		}
	}
}

// A single file bigger than the limit is tolerated when nothing else is left.
func TestEviction_OversizedFileOnEmptyCache(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 10})
	big := put(t, c, "big", 100)
	if !exists(big) || c.Size() != 100 {
		t.Fatalf("oversized file must be kept, size=%d", c.Size())
	}

	small := put(t, c, "small", 4)
	if exists(big) {
		t.Fatal("next put must evict the oversized file")
	}
	if !exists(small) || c.Size() != 4 {
		t.Fatalf("size=%d", c.Size())
	}
}

func TestCountLimited(t *testing.T) {
	t.Parallel()

	c, err := NewCountLimited(t.TempDir(), 3)
	if err != nil {
		t.Fatal(err)
	}
	<-c.Ready()
	defer c.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		put(t, c, k, 1000)
	}
	if c.Len() != 3 || c.Size() != 3 {
		t.Fatalf("len=%d size=%d", c.Len(), c.Size())
	}
	des, _ := os.ReadDir(c.Dir())
	if len(des) != 3 {
		t.Fatalf("%d files on disk", len(des))
	}
}

func TestUnlimited_NeverEvicts(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{})
	for i := 0; i < 20; i++ {
		put(t, c, strings.Repeat("u", i+1), 64)
	}
	if c.Len() != 20 || c.Stats().Evictions != 0 {
		t.Fatalf("len=%d evictions=%d", c.Len(), c.Stats().Evictions)
	}
}

func TestPut_ReplaceDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 100})
	put(t, c, "k", 30)
	put(t, c, "k", 40)
	if c.Size() != 40 || c.Len() != 1 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}
}

func TestPut_MissingFile(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 100})
	err := c.Put("k", c.Path("k"))
	if err == nil || !IsNotExist(err) {
		t.Fatalf("want not-exist error, got %v", err)
	}
}

func TestWrite_AtomicNoTempLeft(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 1 << 20})
	p, err := c.Write("img", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if p != c.Path("img") {
		t.Fatalf("path %q", p)
	}
	got, err := os.ReadFile(p)
	if err != nil || string(got) != "hello" {
		t.Fatalf("content %q, %v", got, err)
	}
	des, _ := os.ReadDir(c.Dir())
	for _, de := range des {
		if strings.HasPrefix(de.Name(), tmpPrefix) {
			t.Fatalf("temp file left behind: %s", de.Name())
		}
	}
	if len(des) != 1 || c.Size() != 5 {
		t.Fatalf("files=%d size=%d", len(des), c.Size())
	}
}

// Evicting a file that is open defers the delete but frees its bytes now.
// Until the reader closes, the directory holds more than the limit.
func TestEviction_DeferredWhileOpen(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 15})
	a := put(t, c, "A", 10)
	h, err := c.Open("A")
	if err != nil {
		t.Fatal(err)
	}
	put(t, c, "B", 10)

	if !exists(a) {
		t.Fatal("open file deleted under the reader")
	}
	if c.Size() != 10 || c.Len() != 1 {
		t.Fatalf("evicted bytes still counted: size=%d len=%d", c.Size(), c.Len())
	}
	if n := dirBytes(t, c.Dir()); n != 20 {
		t.Fatalf("dir holds %d bytes while the reader is open, want 20 (over the 15 limit)", n)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if exists(a) {
		t.Fatal("file must be deleted on close")
	}
	if n := dirBytes(t, c.Dir()); n != 10 {
		t.Fatalf("dir holds %d bytes after close, want 10", n)
	}
}

// Rewriting a path with a pending deletion keeps the new file.
func TestPut_CancelsPendingDeletion(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 15})
	a := put(t, c, "A", 10)
	h, err := c.Open("A")
	if err != nil {
		t.Fatal(err)
	}
	put(t, c, "B", 10) // evicts A, deferred
	if _, err := c.Write("A", strings.NewReader("0123456789")); err != nil {
		t.Fatal(err)
	}
	_ = h.Close()
	if !exists(a) {
		t.Fatal("rewritten file was deleted by a stale reader")
	}
}

// A stale reader closing between WriteFile and Put must not delete the
// file that replaced the one it held.
func TestWriteFile_StaleReaderKeepsReplacement(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 100})
	p := put(t, c, "k", 10)
	h, err := c.Open("k")
	if err != nil {
		t.Fatal(err)
	}
	c.Remove("k") // deferred while h is open
	if err := WriteFile(p, strings.NewReader("fresh")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if !exists(p) {
		t.Fatal("fresh file deleted by the old reader")
	}
	if err := c.Put("k", p); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(c.Get("k"))
	if err != nil || string(got) != "fresh" {
		t.Fatalf("content = %q, %v", got, err)
	}
	if c.Size() != 5 || c.Len() != 1 {
		t.Fatalf("size=%d len=%d, want 5/1", c.Size(), c.Len())
	}
}

// The startup scan registers existing files with their mtime as last use.
func TestScan_Accounting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Unix(1_000_000, 0)
	for i, name := range []string{"old", "mid", "new"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, bytes.Repeat([]byte{'x'}, 5+i), 0o644); err != nil {
			t.Fatal(err)
		}
		ts := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(p, ts, ts); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, tmpPrefix+"x"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newCache(t, Options{Dir: dir, Limit: 20})
	if c.Size() != 18 || c.Len() != 3 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}
	if len(c.Keys()) != 0 {
		t.Fatal("scanned files have no keys")
	}

	put(t, c, "k", 5)
	if exists(filepath.Join(dir, "old")) {
		t.Fatal("oldest scanned file must go first")
	}
	if !exists(filepath.Join(dir, "mid")) || !exists(filepath.Join(dir, "new")) {
		t.Fatal("newer files must survive")
	}
}

func TestRemoveKeysClear(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 1000})
	a := put(t, c, "a", 10)
	put(t, c, "b", 10)
	if len(c.Keys()) != 2 {
		t.Fatalf("keys=%v", c.Keys())
	}
	if !c.Remove("a") || exists(a) {
		t.Fatal("Remove must report and delete")
	}
	if c.Remove("a") {
		t.Fatal("second Remove must report false")
	}
	if c.Size() != 10 {
		t.Fatalf("size=%d", c.Size())
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	des, _ := os.ReadDir(c.Dir())
	if len(des) != 0 || c.Size() != 0 || c.Len() != 0 || len(c.Keys()) != 0 {
		t.Fatalf("clear left files=%d size=%d len=%d", len(des), c.Size(), c.Len())
	}
}

// A failed delete is logged, the entry stays tracked and eviction stops.
func TestEviction_DeleteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	c := newCache(t, Options{Limit: 1, Sizer: Count, Logger: logger})

	// A non-empty directory cannot be removed with os.Remove.
	stuck := filepath.Join(c.Dir(), "stuck")
	if err := os.MkdirAll(filepath.Join(stuck, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("stuck", stuck); err != nil {
		t.Fatal(err)
	}
	p := put(t, c, "next", 1)

	if !exists(stuck) || !exists(p) {
		t.Fatal("both entries must remain on disk")
	}
	if c.Len() != 2 {
		t.Fatalf("failed victim must stay tracked, len=%d", c.Len())
	}
	last := hook.LastEntry()
	if last == nil || last.Level != logrus.WarnLevel || last.Data["action"] != "evict" {
		t.Fatalf("expected an evict warning, got %+v", last)
	}
}

func TestClosed(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 10})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write("k", strings.NewReader("x")); err != ErrClosed {
		t.Fatalf("Write after Close: %v", err)
	}
	if c.Get("k") == "" {
		t.Fatal("Get must still return the path")
	}
}

func TestNew_EmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatal("empty Dir must fail")
	}
}

// A failing reader leaves neither the target nor a temp file behind.
func TestWrite_ReaderErrorCleansUp(t *testing.T) {
	t.Parallel()

	c := newCache(t, Options{Limit: 100})
	if _, err := c.Write("k", iotest.ErrReader(os.ErrDeadlineExceeded)); err == nil {
		t.Fatal("expected error")
	}
	des, _ := os.ReadDir(c.Dir())
	if len(des) != 0 || c.Len() != 0 {
		t.Fatalf("files=%d len=%d after failed write", len(des), c.Len())
	}
}

func TestOptions_DefaultLoggerDiscards(t *testing.T) {
	t.Parallel()

	var o Options
	o.defaults()
	l, ok := o.Logger.(*logrus.Logger)
	if !ok || l.Out != io.Discard {
		t.Fatalf("default logger = %#v", o.Logger)
	}
	if o.Registry == nil || o.Names == nil || o.Sizer == nil {
		t.Fatal("defaults not applied")
	}
}
