package assets

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestServer(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch {
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		default:
			_, _ = w.Write([]byte("payload:" + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openTestStore(t *testing.T, base string) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "v1", base, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestCacheFirstFetchOnceThenServeCached(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	s := openTestStore(t, srv.URL)
	ctx := context.Background()

	data, err := s.Get(ctx, "audio/notes/1.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "payload:/audio/notes/1.mp3" {
		t.Fatalf("unexpected payload %q", data)
	}
	if hits != 1 {
		t.Fatalf("network hits = %d, want 1", hits)
	}

	again, err := s.Get(ctx, "audio/notes/1.mp3")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("cached payload differs")
	}
	if hits != 1 {
		t.Fatalf("cached hit still touched the network: %d", hits)
	}
	if !s.Cached("audio/notes/1.mp3") {
		t.Fatalf("entry should be cached")
	}
}

func TestInstallManifestToleratesFailures(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	s := openTestStore(t, srv.URL)

	var peak int64
	err := s.Install(context.Background(), []string{"a.css", "missing", "b.js"}, func(pct int) {
		for {
			old := atomic.LoadInt64(&peak)
			if int64(pct) <= old || atomic.CompareAndSwapInt64(&peak, old, int64(pct)) {
				break
			}
		}
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if atomic.LoadInt64(&peak) != 100 {
		t.Fatalf("peak progress = %d, want 100", peak)
	}
	if !s.Cached("a.css") || !s.Cached("b.js") {
		t.Fatalf("healthy manifest entries should be cached")
	}
	if s.Cached("missing") {
		t.Fatalf("failed entry must not be cached")
	}
}

func TestInstallCanceledWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	s := openTestStore(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int64
	done := make(chan error, 1)
	go func() {
		done <- s.Install(ctx, []string{"a.css", "b.css", "c.css", "d.css"}, func(pct int) {
			atomic.AddInt64(&calls, 1)
		})
	}()
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("install after cancel = %v, want context.Canceled", err)
	}

	// Every fetch goroutine must have finished before Install returned, so
	// the progress callback never fires again.
	before := atomic.LoadInt64(&calls)
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt64(&calls); after != before {
		t.Fatalf("progress fired after Install returned: %d -> %d", before, after)
	}
}

func TestAudioPathOnlySecondChance(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	s := openTestStore(t, srv.URL)
	ctx := context.Background()

	if _, err := s.Get(ctx, "audio/notes/2.mp3"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := atomic.LoadInt64(&hits)

	// Same path, different query string: must hit the path-only fallback.
	data, err := s.Get(ctx, srv.URL+"/audio/notes/2.mp3?cachebust=9")
	if err != nil {
		t.Fatalf("query-string variant: %v", err)
	}
	if string(data) != "payload:/audio/notes/2.mp3" {
		t.Fatalf("unexpected payload %q", data)
	}
	if atomic.LoadInt64(&hits) != before {
		t.Fatalf("path-only match should not refetch")
	}
}

func TestOfflineFallbacks(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	s := openTestStore(t, srv.URL)
	ctx := context.Background()

	if _, err := s.Get(ctx, "index.html"); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	srv.Close() // network goes away

	// A new .html page falls back to the cached index.
	data, err := s.Get(ctx, "other.html")
	if err != nil {
		t.Fatalf("html fallback: %v", err)
	}
	if string(data) != "payload:/index.html" {
		t.Fatalf("fallback payload = %q", data)
	}

	// Everything else surfaces ErrUnavailable.
	if _, err := s.Get(ctx, "audio/notes/9.mp3"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestNon200IsNotCached(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	s := openTestStore(t, srv.URL)
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("404 should be an error")
	}
	if s.Cached("missing") {
		t.Fatalf("error responses must not populate the cache")
	}
}

func TestActivatePurgesStaleVersions(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "static-v0")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(root, "keepme")
	if err := os.MkdirAll(unrelated, 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := Open(root, "v1", "", testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale version dir should be removed")
	}
	for _, keep := range []string{"static-v1", "general-v1", "keepme"} {
		if _, err := os.Stat(filepath.Join(root, keep)); err != nil {
			t.Fatalf("%s should survive activation: %v", keep, err)
		}
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	var hits int64
	srv := newTestServer(t, &hits)
	root := t.TempDir()
	s, err := Open(root, "v1", srv.URL, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Get(context.Background(), "app.js"); err != nil {
		t.Fatalf("get: %v", err)
	}

	s2, err := Open(root, "v1", srv.URL, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	before := atomic.LoadInt64(&hits)
	if _, err := s2.Get(context.Background(), "app.js"); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if atomic.LoadInt64(&hits) != before {
		t.Fatalf("reopened store should serve from disk")
	}
}
