package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set("cache_dir", dir)

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Size != 64<<20 || cfg.Memory.Policy != "lru" {
		t.Fatalf("memory defaults: %+v", cfg.Memory)
	}
	if cfg.Disk.Size != 256<<20 || cfg.Disk.Naming != "hash" {
		t.Fatalf("disk defaults: %+v", cfg.Disk)
	}
	if cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.Workers != 4 {
		t.Fatalf("fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.CacheDir != dir {
		t.Fatalf("cache_dir = %s", cfg.CacheDir)
	}
	if limit, count := cfg.DiskLimit(); limit != 256<<20 || count {
		t.Fatalf("DiskLimit = %d, %v", limit, count)
	}
}

func TestLoad_YAMLWithHumanSizes(t *testing.T) {
	p := writeConfig(t, "tiercache.yaml", `
cache_dir: `+t.TempDir()+`
memory:
  size: 10MB
  policy: fifo
  ttl: 90s
disk:
  size: 2GiB
  naming: md5
  ttl: 24h
fetch:
  workers: 8
log:
  level: debug
`)
	cfg, err := Load(New(), p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Size != 10_000_000 || cfg.Memory.Policy != "fifo" || cfg.Memory.TTL != 90*time.Second {
		t.Fatalf("memory: %+v", cfg.Memory)
	}
	if cfg.Disk.Size != 2<<30 || cfg.Disk.Naming != "md5" || cfg.Disk.TTL != 24*time.Hour {
		t.Fatalf("disk: %+v", cfg.Disk)
	}
	if cfg.Fetch.Workers != 8 || cfg.Log.Level != "debug" {
		t.Fatalf("fetch/log: %+v %+v", cfg.Fetch, cfg.Log)
	}
}

func TestLoad_TOMLNumericSize(t *testing.T) {
	p := writeConfig(t, "tiercache.toml", `
cache_dir = "`+filepath.ToSlash(t.TempDir())+`"
[disk]
size = 4096
max_files = 12
`)
	cfg, err := Load(New(), p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Disk.Size != 4096 {
		t.Fatalf("disk.size = %d", cfg.Disk.Size)
	}
	if limit, count := cfg.DiskLimit(); limit != 12 || !count {
		t.Fatalf("DiskLimit = %d, %v", limit, count)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TIERCACHE_CACHE_DIR", t.TempDir())
	t.Setenv("TIERCACHE_MEMORY_SIZE", "1KiB")
	t.Setenv("TIERCACHE_FETCH_WORKERS", "2")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Size != 1024 || cfg.Fetch.Workers != 2 {
		t.Fatalf("env not applied: %+v %+v", cfg.Memory, cfg.Fetch)
	}
}

func TestLoad_Invalid(t *testing.T) {
	p := writeConfig(t, "bad.yaml", `
cache_dir: `+t.TempDir()+`
memory:
  policy: random
disk:
  naming: sha1
fetch:
  workers: 0
`)
	_, err := Load(New(), p)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"memory.policy", "disk.naming", "fetch.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_BadSize(t *testing.T) {
	p := writeConfig(t, "bad.yaml", "memory:\n  size: lots\n")
	if _, err := Load(New(), p); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestByteSize(t *testing.T) {
	t.Parallel()

	cases := map[string]ByteSize{"": 0, "512": 512, "1KiB": 1024, "1kB": 1000, " 2 MiB ": 2 << 20}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil || got != want {
			t.Fatalf("ParseByteSize(%q) = %d, %v", in, got, err)
		}
	}
	if ByteSize(1536).String() != "1.5 KiB" {
		t.Fatalf("String = %s", ByteSize(1536))
	}
}
