// Package assets is a cache-first store for the piano's static and audio
// files. Assets are looked up in versioned on-disk caches before any network
// request; fetched responses are written back so the instrument keeps
// working offline. Two named caches are kept: "static" holds the installed
// manifest, "general" collects whatever else is fetched at runtime.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/remeh/sizedwaitgroup"
)

// ErrUnavailable reports that an asset was neither cached nor reachable over
// the network.
var ErrUnavailable = errors.New("assets: unavailable")

const (
	staticCache  = "static"
	generalCache = "general"
	indexFile    = "index.json"
)

// audioExts gets the path-only second-chance lookup, tolerating query-string
// and origin variations between the manifest and runtime requests.
var audioExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true}

type cacheDir struct {
	dir string
	// index maps full request URL -> cached filename.
	index map[string]string
}

// Store is the cache-first asset layer.
type Store struct {
	root    string
	version string
	baseURL string
	client  *http.Client
	logger  *log.Logger

	mu     sync.Mutex
	caches map[string]*cacheDir
}

// Open prepares the versioned cache directories under root. baseURL is
// prefixed onto relative asset paths when fetching.
func Open(root, version, baseURL string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if version == "" {
		version = "v1"
	}
	s := &Store{
		root:    root,
		version: version,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		logger:  logger,
		caches:  make(map[string]*cacheDir),
	}
	for _, name := range []string{staticCache, generalCache} {
		c, err := s.openCache(name)
		if err != nil {
			return nil, err
		}
		s.caches[name] = c
	}
	return s, nil
}

// SetClient overrides the HTTP client, mainly for tests.
func (s *Store) SetClient(c *http.Client) { s.client = c }

func (s *Store) cacheName(name string) string {
	return name + "-" + s.version
}

func (s *Store) openCache(name string) (*cacheDir, error) {
	dir := filepath.Join(s.root, s.cacheName(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: open cache %s: %w", name, err)
	}
	c := &cacheDir{dir: dir, index: make(map[string]string)}
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err == nil {
		if err := json.Unmarshal(data, &c.index); err != nil {
			// A corrupt index only costs re-fetching; start fresh.
			c.index = make(map[string]string)
		}
	}
	return c, nil
}

func (s *Store) saveIndex(c *cacheDir) {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return
	}
	tmp := filepath.Join(c.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Printf("assets: save index: %v", err)
		return
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, indexFile)); err != nil {
		s.logger.Printf("assets: save index: %v", err)
	}
}

// Install preloads the manifest into the static cache, fetching in parallel
// bounded by the CPU count. Individual failures are logged and skipped so a
// flaky resource cannot block installation. progress, when non-nil, receives
// integer percentages 0..100.
func (s *Store) Install(ctx context.Context, manifest []string, progress func(pct int)) error {
	if progress != nil {
		progress(0)
	}
	if len(manifest) == 0 {
		if progress != nil {
			progress(100)
		}
		return nil
	}
	var done int64
	swg := sizedwaitgroup.New(runtime.NumCPU())
	for _, p := range manifest {
		// Stop launching on cancellation but still wait for in-flight
		// fetches below, so progress is never invoked after we return.
		if ctx.Err() != nil {
			break
		}
		swg.Add()
		go func(p string) {
			defer swg.Done()
			if _, err := s.fetchInto(ctx, staticCache, p); err != nil {
				s.logger.Printf("assets: install %s: %v (skipped)", p, err)
			}
			n := atomic.AddInt64(&done, 1)
			if progress != nil {
				progress(int(n * 100 / int64(len(manifest))))
			}
		}(p)
	}
	swg.Wait()
	return ctx.Err()
}

// Activate removes cache directories left behind by other versions and
// keeps the current ones.
func (s *Store) Activate() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("assets: activate: %w", err)
	}
	keep := map[string]bool{
		s.cacheName(staticCache):  true,
		s.cacheName(generalCache): true,
	}
	for _, e := range entries {
		if !e.IsDir() || keep[e.Name()] {
			continue
		}
		if !strings.HasPrefix(e.Name(), staticCache+"-") && !strings.HasPrefix(e.Name(), generalCache+"-") {
			continue
		}
		stale := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(stale); err != nil {
			s.logger.Printf("assets: purge %s: %v", stale, err)
		} else {
			s.logger.Printf("assets: purged stale cache %s", e.Name())
		}
	}
	return nil
}

// Get returns the asset bytes for a URL or relative path, serving from cache
// first. Misses go to the network exactly once and are stored on success.
// When the network is unreachable, .html requests fall back to the cached
// index page; everything else fails with ErrUnavailable.
func (s *Store) Get(ctx context.Context, rawurl string) ([]byte, error) {
	full := s.resolve(rawurl)

	if data, ok := s.cached(full); ok {
		return data, nil
	}
	if isAudioPath(full) {
		if data, ok := s.cachedByPath(full); ok {
			return data, nil
		}
	}

	data, err := s.fetchInto(ctx, generalCache, rawurl)
	if err == nil {
		return data, nil
	}
	if strings.HasSuffix(urlPath(full), ".html") {
		if data, ok := s.cachedByPath(s.resolve("index.html")); ok {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, rawurl, err)
}

// Cached reports whether the full URL has a cache entry, without touching
// the network.
func (s *Store) Cached(rawurl string) bool {
	_, ok := s.cached(s.resolve(rawurl))
	return ok
}

func (s *Store) resolve(rawurl string) string {
	if strings.Contains(rawurl, "://") || s.baseURL == "" {
		return rawurl
	}
	return s.baseURL + "/" + strings.TrimLeft(rawurl, "/")
}

func urlPath(full string) string {
	u, err := url.Parse(full)
	if err != nil {
		return full
	}
	return u.Path
}

func isAudioPath(full string) bool {
	return audioExts[strings.ToLower(path.Ext(urlPath(full)))]
}

func (s *Store) cached(full string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caches {
		if fn, ok := c.index[full]; ok {
			data, err := os.ReadFile(filepath.Join(c.dir, fn))
			if err == nil {
				return data, true
			}
			// Entry without a file: drop it and fall through to refetch.
			delete(c.index, full)
		}
	}
	return nil, false
}

// cachedByPath matches on the URL path alone, ignoring scheme, host and
// query string.
func (s *Store) cachedByPath(full string) ([]byte, bool) {
	want := urlPath(full)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caches {
		for stored, fn := range c.index {
			if urlPath(stored) != want {
				continue
			}
			data, err := os.ReadFile(filepath.Join(c.dir, fn))
			if err == nil {
				return data, true
			}
		}
	}
	return nil, false
}

func (s *Store) fetchInto(ctx context.Context, cache string, rawurl string) ([]byte, error) {
	full := s.resolve(rawurl)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", full, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("assets: fetched %s (%s)", full, humanize.Bytes(uint64(len(data))))

	// A failed write must not fail the request; the bytes are already here.
	if err := s.put(cache, full, data); err != nil {
		s.logger.Printf("assets: store %s: %v", full, err)
	}
	return data, nil
}

func (s *Store) put(cache, full string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cache]
	if !ok {
		return fmt.Errorf("unknown cache %q", cache)
	}
	sum := sha256.Sum256([]byte(full))
	fn := hex.EncodeToString(sum[:16]) + path.Ext(urlPath(full))
	tmp := filepath.Join(c.dir, fn+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, fn)); err != nil {
		return err
	}
	c.index[full] = fn
	s.saveIndex(c)
	return nil
}
