package loader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPFetcher_HTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "tiercache-test" {
			http.Error(w, "agent", http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "bytes")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, "tiercache-test")
	rc, err := f.Fetch(context.Background(), srv.URL+"/img")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "bytes" {
		t.Fatalf("body = %q", b)
	}

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPFetcher_LocalFiles(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "local.bin")
	if err := os.WriteFile(p, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &HTTPFetcher{}
	for _, uri := range []string{p, "file://" + filepath.ToSlash(p)} {
		rc, err := f.Fetch(context.Background(), uri)
		if err != nil {
			t.Fatalf("%s: %v", uri, err)
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(b) != "local" {
			t.Fatalf("%s: body = %q", uri, b)
		}
	}
}

func TestHTTPFetcher_UnsupportedScheme(t *testing.T) {
	t.Parallel()

	_, err := (&HTTPFetcher{}).Fetch(context.Background(), "ftp://host/x")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPFetcher_ContextCancel(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewHTTPFetcher(0, "").Fetch(ctx, srv.URL); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
