// Package voices owns every in-flight sound instance from registration until
// cleanup. The registry doubles as the mixer: the audio stream pulls it for
// interleaved stereo frames, and voices that finish naturally are reaped
// during that pull. Cleanup is idempotent so the natural-end path, explicit
// stops, eviction, and the safety timers can all race safely.
package voices

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags the underlying generator of a voice.
type Kind int

const (
	KindOscillator Kind = iota
	KindSample
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindOscillator:
		return "oscillator"
	case KindSample:
		return "sample"
	default:
		return "stream"
	}
}

// Voice is one sounding instance of a note. RenderFrame advances the voice
// by one output frame; Active reports false once the voice has fully decayed.
// Stop begins a fade-out and must tolerate being called more than once.
type Voice interface {
	RenderFrame() (float32, float32)
	Active() bool
	Stop(fade time.Duration)
}

// StopFade is the short anti-click fade applied when a live voice is stopped
// explicitly (retrigger, eviction, stop-all).
const StopFade = 25 * time.Millisecond

type entry struct {
	id      string
	note    string
	kind    Kind
	seq     uint64
	started time.Time
	voice   Voice
	safety  *time.Timer
}

// Registry tracks active voices and enforces the concurrency bound.
type Registry struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	entries map[string]*entry
	logger  *log.Logger

	masterGain uint64 // float64 bits, atomic

	// OnEvict, when set before playback starts, is invoked (without the
	// registry lock) whenever the concurrency bound forces out a voice.
	OnEvict func(id, note string)
}

const DefaultMaxVoices = 40

func NewRegistry(max int, logger *log.Logger) *Registry {
	if max <= 0 {
		max = DefaultMaxVoices
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		max:     max,
		entries: make(map[string]*entry),
		logger:  logger,
	}
	r.SetMasterGain(1)
	return r
}

// Add registers a voice under a freshly minted instance id and returns it.
// When the registry is at capacity the oldest voice is evicted first. A
// positive safety duration arms a backstop timer that cleans the voice up
// even if its end event never fires.
func (r *Registry) Add(note string, kind Kind, v Voice, safety time.Duration) string {
	evicted := r.evictWhileFull()

	r.mu.Lock()
	r.seq++
	e := &entry{
		id:      fmt.Sprintf("%s-%d-%04x", note, time.Now().UnixMilli(), rand.Intn(0x10000)),
		note:    note,
		kind:    kind,
		seq:     r.seq,
		started: time.Now(),
		voice:   v,
	}
	r.entries[e.id] = e
	if safety > 0 {
		id := e.id
		e.safety = time.AfterFunc(safety, func() { r.Cleanup(id) })
	}
	r.mu.Unlock()

	for _, ev := range evicted {
		if r.OnEvict != nil {
			r.OnEvict(ev.id, ev.note)
		}
	}
	return e.id
}

func (r *Registry) evictWhileFull() []*entry {
	var evicted []*entry
	r.mu.Lock()
	for len(r.entries) >= r.max {
		e := r.oldestLocked()
		if e == nil {
			break
		}
		e.voice.Stop(StopFade)
		r.removeLocked(e.id)
		evicted = append(evicted, e)
		r.logger.Printf("voices: at capacity (%d), evicted oldest %s", r.max, e.id)
	}
	r.mu.Unlock()
	return evicted
}

// oldestLocked scans for the minimum registration sequence. Linear: the
// registry is bounded by max (default 40).
func (r *Registry) oldestLocked() *entry {
	var oldest *entry
	for _, e := range r.entries {
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	return oldest
}

func (r *Registry) removeLocked(id string) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.safety != nil {
		e.safety.Stop()
	}
	delete(r.entries, id)
}

// Cleanup detaches a voice from the registry. Safe to call any number of
// times and for ids that already completed.
func (r *Registry) Cleanup(id string) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.voice.Stop(0)
		r.removeLocked(id)
	}
	r.mu.Unlock()
}

// CleanupAll stops and removes every voice.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	for id, e := range r.entries {
		e.voice.Stop(0)
		r.removeLocked(id)
	}
	r.mu.Unlock()
}

// StopVoice fades one voice out and removes it once the fade has elapsed.
func (r *Registry) StopVoice(id string, fade time.Duration) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.voice.Stop(fade)
	}
	r.mu.Unlock()
	if ok {
		time.AfterFunc(fade+10*time.Millisecond, func() { r.Cleanup(id) })
	}
}

// StopNote fades out every voice of a note. The fade avoids the audible
// click of a hard stop; cleanup follows once it has elapsed.
func (r *Registry) StopNote(note string, fade time.Duration) {
	r.mu.Lock()
	var ids []string
	for id, e := range r.entries {
		if e.note == note {
			e.voice.Stop(fade)
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	time.AfterFunc(fade+10*time.Millisecond, func() {
		for _, id := range ids {
			r.Cleanup(id)
		}
	})
}

// StopOldest evicts the longest-lived voice.
func (r *Registry) StopOldest() {
	r.mu.Lock()
	e := r.oldestLocked()
	if e != nil {
		e.voice.Stop(StopFade)
		r.removeLocked(e.id)
	}
	r.mu.Unlock()
	if e != nil && r.OnEvict != nil {
		r.OnEvict(e.id, e.note)
	}
}

// SetMax adjusts the concurrency bound, evicting oldest voices if the
// registry is already over the new cap.
func (r *Registry) SetMax(max int) {
	if max <= 0 {
		max = DefaultMaxVoices
	}
	r.mu.Lock()
	r.max = max
	var evicted []*entry
	for len(r.entries) > r.max {
		e := r.oldestLocked()
		if e == nil {
			break
		}
		e.voice.Stop(StopFade)
		r.removeLocked(e.id)
		evicted = append(evicted, e)
	}
	r.mu.Unlock()
	for _, e := range evicted {
		if r.OnEvict != nil {
			r.OnEvict(e.id, e.note)
		}
	}
}

// Max returns the configured concurrency bound.
func (r *Registry) Max() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Has reports whether an instance id is still registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// NoteVoices returns the instance ids currently sounding for a note.
func (r *Registry) NoteVoices(note string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, e := range r.entries {
		if e.note == note {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetMasterGain sets the output scalar applied after mixing. Lock-free so
// the UI thread can adjust volume while the audio thread renders.
func (r *Registry) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&r.masterGain, math.Float64bits(gain))
}

func (r *Registry) MasterGain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&r.masterGain))
}

// Process mixes every active voice into dst (interleaved stereo float32).
// Voices whose envelopes have run out are reaped here, which is the
// "natural end" cleanup path; the safety timers are the backstop.
func (r *Registry) Process(dst []float32) {
	gain := float32(r.MasterGain())
	r.mu.Lock()
	var done []string
	for i := 0; i+1 < len(dst); i += 2 {
		var l, rch float32
		for _, e := range r.entries {
			if !e.voice.Active() {
				continue
			}
			vl, vr := e.voice.RenderFrame()
			l += vl
			rch += vr
		}
		dst[i] = clamp32(l * gain)
		dst[i+1] = clamp32(rch * gain)
	}
	for id, e := range r.entries {
		if !e.voice.Active() {
			done = append(done, id)
		}
	}
	for _, id := range done {
		r.removeLocked(id)
	}
	r.mu.Unlock()
}

func clamp32(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
