// Package sampler plays recorded note samples: whole files under the
// primary scheme, fixed segments of shared sprite files under the alternate
// scheme. Decoded buffers are cached per path and invalidated wholesale when
// the scheme changes.
package sampler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cbegin/vpiano-go/internal/notes"
	"github.com/cbegin/vpiano-go/internal/voices"
)

// Fetcher provides raw sample bytes for a path, normally backed by the
// cache-first asset store.
type Fetcher interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

const (
	// fileSafetyTimeout is the backstop for whole-file playback whose end
	// event might be missed.
	fileSafetyTimeout = 5 * time.Second
	// spriteFadeIn and spriteFadeOut shape segment playback so slicing into
	// the middle of a file stays click-free.
	spriteFadeIn  = 70 * time.Millisecond
	spriteFadeOut = 800 * time.Millisecond
	// spriteMaxDuration bounds segment length to limit overlap artifacts.
	spriteMaxDuration = 1.2
	// spriteCleanupSlack schedules the segment backstop just past its end.
	spriteCleanupSlack = 100 * time.Millisecond
)

// Engine resolves notes to samples under the active scheme and plays them.
type Engine struct {
	sampleRate int
	reg        *voices.Registry
	fetcher    Fetcher
	logger     *log.Logger

	mu     sync.Mutex
	scheme notes.Scheme
	volume float64
	cache  map[string]*Buffer
}

func New(sampleRate int, scheme notes.Scheme, reg *voices.Registry, fetcher Fetcher, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		sampleRate: sampleRate,
		reg:        reg,
		fetcher:    fetcher,
		logger:     logger,
		scheme:     scheme,
		volume:     1,
		cache:      make(map[string]*Buffer),
	}
}

// SetScheme switches the active note-to-sample mapping and invalidates every
// decoded buffer of the old one.
func (e *Engine) SetScheme(s notes.Scheme) {
	e.mu.Lock()
	if e.scheme != s {
		e.scheme = s
		e.cache = make(map[string]*Buffer)
	}
	e.mu.Unlock()
}

func (e *Engine) Scheme() notes.Scheme {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheme
}

// SetVolume sets the engine-local volume scalar in [0,1], multiplied with
// velocity per trigger. The registry applies the master gain on top.
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// ClearCache drops all decoded buffers.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*Buffer)
	e.mu.Unlock()
}

// CacheSize reports the number of decoded buffers currently held.
func (e *Engine) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// PlayFile plays the note's entire sample file. Returns the instance id, or
// "" when the note is unmapped or the sample cannot be fetched or decoded.
func (e *Engine) PlayFile(ctx context.Context, note string, velocity float64) string {
	ref, ok := notes.Sample(e.Scheme(), note)
	if !ok {
		e.logger.Printf("sampler: note %q has no sample mapping, dropping", note)
		return ""
	}
	buf, err := e.buffer(ctx, ref.Path)
	if err != nil {
		e.logger.Printf("sampler: load %s: %v", ref.Path, err)
		return ""
	}
	gain := e.gain(velocity)
	v := newSampleVoice(e.sampleRate, buf, segment{}, gain)
	return e.reg.Add(note, voices.KindStream, v, fileSafetyTimeout)
}

// PlaySprite plays the note's segment of the active scheme's sprite file,
// with a short fade-in and a long fade-out so adjacent segments do not pop.
func (e *Engine) PlaySprite(ctx context.Context, note string, velocity float64) string {
	ref, ok := notes.Sample(e.Scheme(), note)
	if !ok {
		e.logger.Printf("sampler: note %q has no sample mapping, dropping", note)
		return ""
	}
	buf, err := e.buffer(ctx, ref.Path)
	if err != nil {
		e.logger.Printf("sampler: load %s: %v", ref.Path, err)
		return ""
	}
	dur := ref.Duration
	if dur <= 0 || dur > spriteMaxDuration {
		dur = spriteMaxDuration
	}
	seg := segment{
		offset:   ref.Offset,
		duration: dur,
		fadeIn:   spriteFadeIn.Seconds(),
		fadeOut:  spriteFadeOut.Seconds(),
	}
	gain := e.gain(velocity)
	v := newSampleVoice(e.sampleRate, buf, seg, gain)
	safety := time.Duration(dur*float64(time.Second)) + spriteCleanupSlack
	return e.reg.Add(note, voices.KindSample, v, safety)
}

func (e *Engine) gain(velocity float64) float64 {
	if velocity <= 0 || velocity > 1 {
		velocity = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return velocity * e.volume
}

// buffer returns the decoded sample for a path, decoding and caching on
// first use.
func (e *Engine) buffer(ctx context.Context, path string) (*Buffer, error) {
	e.mu.Lock()
	if buf, ok := e.cache[path]; ok {
		e.mu.Unlock()
		return buf, nil
	}
	e.mu.Unlock()

	data, err := e.fetcher.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	buf, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[path] = buf
	e.mu.Unlock()
	return buf, nil
}
