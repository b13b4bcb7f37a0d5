// Package osc synthesizes piano notes from raw oscillators shaped by an
// attack-decay-sustain-release envelope. Voices are handed to the shared
// registry at trigger time; parameter setters only affect triggers that
// happen afterwards.
package osc

import (
	"log"
	"sync"
	"time"

	"github.com/cbegin/vpiano-go/internal/notes"
	"github.com/cbegin/vpiano-go/internal/voices"
)

// Params is the per-trigger envelope and tone configuration. A snapshot is
// taken on every trigger, so mutating the engine mid-note never bends a
// voice already in flight.
type Params struct {
	Waveform notes.Waveform
	// Volume is the envelope peak in [0,1], scaled further by velocity.
	Volume float64
	// Duration is the total voice length in seconds, at least 0.1.
	Duration float64
	Attack   float64
	Decay    float64
	// Sustain is a level in [0,1] relative to the peak, not a time.
	Sustain float64
	Release float64
	// PitchMode shifts all frequencies by an octave down/none/up.
	PitchMode notes.PitchMode
	// TuneSineTriangle keeps the historical one-semitone-up correction for
	// sine and triangle waveforms.
	TuneSineTriangle bool
	// SustainRelease is the fade applied when a held note is released.
	SustainRelease float64
}

func DefaultParams() Params {
	return Params{
		Waveform:         notes.WaveSine,
		Volume:           0.8,
		Duration:         2.0,
		Attack:           0.02,
		Decay:            0.3,
		Sustain:          0.5,
		Release:          0.8,
		PitchMode:        notes.PitchMedium,
		TuneSineTriangle: true,
		SustainRelease:   0.3,
	}
}

func (p Params) normalized() Params {
	if p.Duration < 0.1 {
		p.Duration = 0.1
	}
	p.Volume = clamp(p.Volume, 0, 1)
	p.Sustain = clamp(p.Sustain, 0, 1)
	if p.Attack < 0 {
		p.Attack = 0
	}
	if p.Decay < 0 {
		p.Decay = 0
	}
	if p.Release < 0 {
		p.Release = 0
	}
	if p.Release > p.Duration {
		p.Release = p.Duration
	}
	if p.SustainRelease <= 0 {
		p.SustainRelease = 0.3
	}
	return p
}

// safetySlack pads the cleanup backstop past the scheduled voice end.
const safetySlack = 500 * time.Millisecond

// Engine triggers oscillator voices. Safe for concurrent use.
type Engine struct {
	sampleRate int
	reg        *voices.Registry
	logger     *log.Logger

	mu     sync.Mutex
	params Params
	held   map[string]string // note id -> sustained instance id
}

func New(sampleRate int, params Params, reg *voices.Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		sampleRate: sampleRate,
		reg:        reg,
		logger:     logger,
		params:     params.normalized(),
		held:       make(map[string]string),
	}
}

func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	e.params = p.normalized()
	e.mu.Unlock()
}

func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// PlayNote triggers an enveloped voice and returns its instance id, or ""
// when the note's frequency cannot be resolved.
func (e *Engine) PlayNote(note string, velocity float64) string {
	p := e.Params()
	freq, ok := notes.Frequency(note, p.PitchMode, p.Waveform, p.TuneSineTriangle)
	if !ok {
		e.logger.Printf("osc: no frequency for note %q, dropping", note)
		return ""
	}
	velocity = clamp(velocity, 0, 1)
	v := newEnvelopedVoice(e.sampleRate, freq, p, velocity)
	safety := time.Duration(p.Duration*float64(time.Second)) + safetySlack
	return e.reg.Add(note, voices.KindOscillator, v, safety)
}

// PlaySustained starts a voice that holds at constant gain until the note is
// released. Idempotent: a note already sustaining returns its existing id
// rather than stacking a duplicate.
func (e *Engine) PlaySustained(note string, velocity float64) string {
	e.mu.Lock()
	p := e.params
	if id, ok := e.held[note]; ok {
		if e.reg.Has(id) {
			e.mu.Unlock()
			return id
		}
		// The registry evicted it behind our back; forget the stale entry.
		delete(e.held, note)
	}
	e.mu.Unlock()

	freq, ok := notes.Frequency(note, p.PitchMode, p.Waveform, p.TuneSineTriangle)
	if !ok {
		e.logger.Printf("osc: no frequency for sustained note %q, dropping", note)
		return ""
	}
	velocity = clamp(velocity, 0, 1)
	v := newSustainedVoice(e.sampleRate, freq, p.Waveform, velocity*p.Volume)
	id := e.reg.Add(note, voices.KindOscillator, v, 0)

	e.mu.Lock()
	e.held[note] = id
	e.mu.Unlock()
	return id
}

// StopSustained releases a held note with an exponential fade. A note that
// is not sustaining is a no-op, so double releases are harmless.
func (e *Engine) StopSustained(note string) {
	e.mu.Lock()
	id, ok := e.held[note]
	if ok {
		delete(e.held, note)
	}
	release := e.params.SustainRelease
	e.mu.Unlock()
	if !ok {
		return
	}
	e.reg.StopVoice(id, time.Duration(release*float64(time.Second)))
}

// Sustaining reports whether the note currently has a held voice.
func (e *Engine) Sustaining(note string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.held[note]
	return ok && e.reg.Has(id)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
