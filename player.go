// Package vpiano is a virtual-piano playback engine: a 19-key instrument
// with a synthesized-oscillator timbre and two sampled timbres, a bounded
// pool of concurrent voices, per-key retrigger debouncing, and a cache-first
// asset layer so sample files keep playing offline.
package vpiano

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	intassets "github.com/cbegin/vpiano-go/internal/assets"
	intaudio "github.com/cbegin/vpiano-go/internal/audio"
	intnotes "github.com/cbegin/vpiano-go/internal/notes"
	intosc "github.com/cbegin/vpiano-go/internal/osc"
	intsampler "github.com/cbegin/vpiano-go/internal/sampler"
	intvoices "github.com/cbegin/vpiano-go/internal/voices"
)

// Timbre selects which engine renders a triggered note.
type Timbre string

const (
	TimbreOscillator   Timbre = "oscillator"
	TimbreSampleFile   Timbre = "sample-file"
	TimbreSampleSprite Timbre = "sample-sprite"
)

// Waveform of the oscillator timbre.
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSquare   Waveform = "square"
	WaveTriangle Waveform = "triangle"
	WaveSawtooth Waveform = "sawtooth"
)

// PitchMode shifts the whole keyboard an octave down, none, or up.
type PitchMode string

const (
	PitchLow    PitchMode = "low"
	PitchMedium PitchMode = "medium"
	PitchHigh   PitchMode = "high"
)

// Scheme names one of the two interchangeable sample sets.
type Scheme string

const (
	SchemePrimary   Scheme = "primary"
	SchemeAlternate Scheme = "alternate"
)

// Envelope configures the oscillator timbre's ADSR shape. Sustain is a
// level in [0,1]; the other fields are seconds. Zero fields keep the
// current values when applied.
type Envelope struct {
	Volume   float64
	Duration float64
	Attack   float64
	Decay    float64
	Sustain  float64
	Release  float64
}

// DefaultDebounceWindow suppresses same-note retriggers arriving faster
// than a fast trill.
const DefaultDebounceWindow = 150 * time.Millisecond

// EventKind labels playback events delivered by Watch.
type EventKind int

const (
	// EventNoteStarted fires when a trigger produced a voice.
	EventNoteStarted EventKind = iota
	// EventNoteEvicted fires when the concurrency bound forced a voice out.
	EventNoteEvicted
	// EventPreloadProgress carries integer percent 0..100 during Preload.
	EventPreloadProgress
)

// Event is a playback notification.
type Event struct {
	Kind    EventKind
	Note    string
	VoiceID string
	Percent int
}

// NoteInfo describes one of the instrument's 19 keys.
type NoteInfo struct {
	ID    string
	Black bool
}

// Notes lists the instrument's keys in keyboard order.
func Notes() []NoteInfo {
	all := intnotes.All()
	out := make([]NoteInfo, len(all))
	for i, n := range all {
		out[i] = NoteInfo{ID: n.ID, Black: n.Color == intnotes.Black}
	}
	return out
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	timbre       Timbre
	waveform     Waveform
	pitchMode    PitchMode
	scheme       Scheme
	envelope     Envelope
	sustainMode  bool
	maxVoices    int
	debounce     time.Duration
	logger       *log.Logger
	assetDir     string
	assetVersion string
	assetBaseURL string
	settingsPath string
}

func defaultPlayerConfig() playerConfig {
	dp := intosc.DefaultParams()
	return playerConfig{
		timbre:    TimbreOscillator,
		waveform:  Waveform(dp.Waveform),
		pitchMode: PitchMode(dp.PitchMode),
		scheme:    SchemePrimary,
		envelope: Envelope{
			Volume:   dp.Volume,
			Duration: dp.Duration,
			Attack:   dp.Attack,
			Decay:    dp.Decay,
			Sustain:  dp.Sustain,
			Release:  dp.Release,
		},
		maxVoices: intvoices.DefaultMaxVoices,
		debounce:  DefaultDebounceWindow,
	}
}

func WithTimbre(t Timbre) PlayerOption {
	return func(cfg *playerConfig) { cfg.timbre = t }
}

func WithWaveform(w Waveform) PlayerOption {
	return func(cfg *playerConfig) { cfg.waveform = w }
}

func WithPitchMode(m PitchMode) PlayerOption {
	return func(cfg *playerConfig) { cfg.pitchMode = m }
}

func WithScheme(s Scheme) PlayerOption {
	return func(cfg *playerConfig) { cfg.scheme = s }
}

func WithEnvelope(e Envelope) PlayerOption {
	return func(cfg *playerConfig) { cfg.envelope = e }
}

// WithSustainMode starts the player holding notes until release. Sustain
// mode also bypasses the debounce window so held-key slides never drop.
func WithSustainMode(enabled bool) PlayerOption {
	return func(cfg *playerConfig) { cfg.sustainMode = enabled }
}

func WithMaxVoices(n int) PlayerOption {
	return func(cfg *playerConfig) { cfg.maxVoices = n }
}

func WithDebounceWindow(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) { cfg.debounce = d }
}

func WithLogger(l *log.Logger) PlayerOption {
	return func(cfg *playerConfig) { cfg.logger = l }
}

// WithAssets points the player at an on-disk asset cache rooted at dir,
// named by version, fetching misses relative to baseURL. Sampled timbres
// require it.
func WithAssets(dir, version, baseURL string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.assetDir = dir
		cfg.assetVersion = version
		cfg.assetBaseURL = baseURL
	}
}

// WithSettingsPath persists the master volume to a JSON file and restores
// it at startup.
func WithSettingsPath(path string) PlayerOption {
	return func(cfg *playerConfig) { cfg.settingsPath = path }
}

// Player is the composition root: it owns the voice registry, both engines
// and the dispatch policy, and routes note triggers to the engine selected
// by the active timbre.
type Player struct {
	sampleRate int
	logger     *log.Logger

	reg  *intvoices.Registry
	osc  *intosc.Engine
	samp *intsampler.Engine

	store *intassets.Store

	mu          sync.Mutex
	timbre      Timbre
	sustainMode bool
	debounce    time.Duration
	limiters    map[string]*rate.Limiter
	volume      float64
	out         *intaudio.Output

	settingsPath string

	eventMu sync.Mutex
	eventCh chan Event
}

var errNoAssets = errors.New("vpiano: sampled timbres need an asset store (WithAssets)")

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}
	if _, ok := intnotes.ParseScheme(string(cfg.scheme)); !ok {
		return nil, errors.New("unknown scheme " + string(cfg.scheme))
	}

	reg := intvoices.NewRegistry(cfg.maxVoices, cfg.logger)

	var store *intassets.Store
	if cfg.assetDir != "" {
		var err error
		store, err = intassets.Open(cfg.assetDir, cfg.assetVersion, cfg.assetBaseURL, cfg.logger)
		if err != nil {
			return nil, err
		}
	}

	oscParams := intosc.DefaultParams()
	oscParams.Waveform = intnotes.Waveform(cfg.waveform)
	oscParams.PitchMode = intnotes.PitchMode(cfg.pitchMode)
	applyEnvelope(&oscParams, cfg.envelope)

	p := &Player{
		sampleRate:   sampleRate,
		logger:       cfg.logger,
		reg:          reg,
		osc:          intosc.New(sampleRate, oscParams, reg, cfg.logger),
		timbre:       cfg.timbre,
		sustainMode:  cfg.sustainMode,
		debounce:     cfg.debounce,
		limiters:     make(map[string]*rate.Limiter),
		volume:       1,
		store:        store,
		settingsPath: cfg.settingsPath,
	}
	if store != nil {
		p.samp = intsampler.New(sampleRate, intnotes.Scheme(cfg.scheme), reg, store, cfg.logger)
	}
	reg.OnEvict = func(id, note string) {
		p.sendEvent(Event{Kind: EventNoteEvicted, Note: note, VoiceID: id})
	}

	if cfg.settingsPath != "" {
		if st, err := LoadSettings(cfg.settingsPath); err == nil {
			p.applyVolume(st.Volume, false)
		}
	}
	return p, nil
}

func applyEnvelope(p *intosc.Params, e Envelope) {
	if e.Volume > 0 {
		p.Volume = e.Volume
	}
	if e.Duration > 0 {
		p.Duration = e.Duration
	}
	if e.Attack > 0 {
		p.Attack = e.Attack
	}
	if e.Decay > 0 {
		p.Decay = e.Decay
	}
	if e.Sustain > 0 {
		p.Sustain = e.Sustain
	}
	if e.Release > 0 {
		p.Release = e.Release
	}
}

// Start opens the realtime audio stream. The core is fully functional
// without it (offline rendering, tests); Start is what makes keys audible.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		return nil
	}
	out, err := intaudio.NewOutput(p.sampleRate, p)
	if err != nil {
		return err
	}
	p.out = out
	out.Play()
	return nil
}

// Close stops every voice and tears down the audio stream.
func (p *Player) Close() error {
	p.reg.CleanupAll()
	p.mu.Lock()
	out := p.out
	p.out = nil
	p.mu.Unlock()
	if out != nil {
		return out.Close()
	}
	return nil
}

// Process mixes the next frames into dst (interleaved stereo float32). The
// live output pulls this; offline rendering and tests may call it directly.
func (p *Player) Process(dst []float32) {
	p.reg.Process(dst)
}

// PlayNote triggers a note on the active timbre and returns the new voice's
// instance id. Returns "" when the trigger was debounced or the note could
// not be played; failures are logged, never raised.
func (p *Player) PlayNote(note string, velocity float64) string {
	if velocity <= 0 || velocity > 1 {
		velocity = 1
	}
	if !p.allow(note) {
		return ""
	}
	// One voice per note: silence any instance already sounding for it.
	p.reg.StopNote(note, intvoices.StopFade)

	p.mu.Lock()
	timbre := p.timbre
	p.mu.Unlock()

	var id string
	switch timbre {
	case TimbreSampleFile, TimbreSampleSprite:
		if p.samp == nil {
			p.logger.Printf("vpiano: note %q dropped: %v", note, errNoAssets)
			return ""
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if timbre == TimbreSampleFile {
			id = p.samp.PlayFile(ctx, note, velocity)
		} else {
			id = p.samp.PlaySprite(ctx, note, velocity)
		}
	default:
		id = p.osc.PlayNote(note, velocity)
	}
	if id != "" {
		p.sendEvent(Event{Kind: EventNoteStarted, Note: note, VoiceID: id})
	}
	return id
}

// PressNote is the key-down entry point. In sustain mode with the
// oscillator timbre the note holds until ReleaseNote; otherwise it behaves
// like PlayNote.
func (p *Player) PressNote(note string, velocity float64) string {
	p.mu.Lock()
	sustained := p.sustainMode && p.timbre == TimbreOscillator
	p.mu.Unlock()
	if !sustained {
		return p.PlayNote(note, velocity)
	}
	if velocity <= 0 || velocity > 1 {
		velocity = 1
	}
	id := p.osc.PlaySustained(note, velocity)
	if id != "" {
		p.sendEvent(Event{Kind: EventNoteStarted, Note: note, VoiceID: id})
	}
	return id
}

// ReleaseNote is the key-up entry point. Only sustained voices react; a
// release without a matching press is a no-op.
func (p *Player) ReleaseNote(note string) {
	p.osc.StopSustained(note)
}

// StopNote fades out every voice of a note.
func (p *Player) StopNote(note string) {
	p.osc.StopSustained(note)
	p.reg.StopNote(note, intvoices.StopFade)
}

// StopAll silences the instrument immediately.
func (p *Player) StopAll() {
	p.reg.CleanupAll()
}

// allow applies the per-note debounce gate. The first trigger of a note is
// always honored; later ones must arrive at least the debounce window
// apart. Sustain mode bypasses the gate entirely.
func (p *Player) allow(note string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sustainMode || p.debounce <= 0 {
		return true
	}
	lim, ok := p.limiters[note]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.debounce), 1)
		p.limiters[note] = lim
	}
	return lim.Allow()
}

// SetDebounceWindow replaces the retrigger window for subsequent triggers.
func (p *Player) SetDebounceWindow(d time.Duration) {
	p.mu.Lock()
	p.debounce = d
	p.limiters = make(map[string]*rate.Limiter)
	p.mu.Unlock()
}

func (p *Player) DebounceWindow() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debounce
}

func (p *Player) SetTimbre(t Timbre) {
	p.mu.Lock()
	p.timbre = t
	p.mu.Unlock()
}

func (p *Player) Timbre() Timbre {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timbre
}

func (p *Player) SetSustainMode(enabled bool) {
	p.mu.Lock()
	p.sustainMode = enabled
	p.mu.Unlock()
}

func (p *Player) SustainMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sustainMode
}

// SetWaveform changes the oscillator waveform for subsequent triggers.
// Voices already sounding keep the shape they started with.
func (p *Player) SetWaveform(w Waveform) {
	params := p.osc.Params()
	params.Waveform = intnotes.Waveform(w)
	p.osc.SetParams(params)
}

func (p *Player) Waveform() Waveform {
	return Waveform(p.osc.Params().Waveform)
}

func (p *Player) SetPitchMode(m PitchMode) {
	params := p.osc.Params()
	params.PitchMode = intnotes.PitchMode(m)
	p.osc.SetParams(params)
}

func (p *Player) PitchMode() PitchMode {
	return PitchMode(p.osc.Params().PitchMode)
}

// SetEnvelope updates the oscillator ADSR for subsequent triggers. Zero
// fields keep their current values.
func (p *Player) SetEnvelope(e Envelope) {
	params := p.osc.Params()
	applyEnvelope(&params, e)
	p.osc.SetParams(params)
}

// SetMaxVoices adjusts the concurrency bound, evicting oldest voices if
// the new bound is already exceeded.
func (p *Player) SetMaxVoices(n int) {
	p.reg.SetMax(n)
}

// ActiveVoices reports how many voices are currently registered.
func (p *Player) ActiveVoices() int {
	return p.reg.Len()
}

// SwitchScheme activates the other sample set and drops every decoded
// buffer of the old one.
func (p *Player) SwitchScheme(s Scheme) error {
	scheme, ok := intnotes.ParseScheme(string(s))
	if !ok {
		return errors.New("unknown scheme " + string(s))
	}
	if p.samp == nil {
		return errNoAssets
	}
	p.samp.SetScheme(scheme)
	return nil
}

// ActiveScheme returns the sample set currently in use, or "" when no
// asset store is configured.
func (p *Player) ActiveScheme() Scheme {
	if p.samp == nil {
		return ""
	}
	return Scheme(p.samp.Scheme())
}

// SampleCacheSize reports the decoded-sample cache population; mainly
// useful to observe scheme switches.
func (p *Player) SampleCacheSize() int {
	if p.samp == nil {
		return 0
	}
	return p.samp.CacheSize()
}

// SetMasterVolume sets the post-mix gain, clamped to [0,1], and persists
// it when a settings path is configured.
func (p *Player) SetMasterVolume(v float64) {
	p.applyVolume(v, true)
}

func (p *Player) applyVolume(v float64, persist bool) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	path := p.settingsPath
	p.mu.Unlock()
	// Master gain is applied once, post-mix, in the registry. The sampler's
	// engine-local volume stays at its default so sampled voices scale as
	// velocity times master, same as oscillator voices.
	p.reg.SetMasterGain(v)
	if persist && path != "" {
		if err := SaveSettings(path, Settings{Volume: v, LastUsed: time.Now().UnixMilli()}); err != nil {
			p.logger.Printf("vpiano: persist volume: %v", err)
		}
	}
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Preload installs the active scheme's sample manifest into the asset
// cache, purging caches left behind by older versions. Progress is emitted
// as EventPreloadProgress events.
func (p *Player) Preload(ctx context.Context) error {
	if p.store == nil {
		return errNoAssets
	}
	scheme := intnotes.SchemePrimary
	if p.samp != nil {
		scheme = p.samp.Scheme()
	}
	manifest := intnotes.SchemeManifest(scheme)
	err := p.store.Install(ctx, manifest, func(pct int) {
		p.sendEvent(Event{Kind: EventPreloadProgress, Percent: pct})
	})
	if err != nil {
		return err
	}
	return p.store.Activate()
}

// Watch returns a buffered channel of playback events. Only the most
// recently returned channel receives events; slow receivers drop rather
// than block playback.
func (p *Player) Watch() <-chan Event {
	ch := make(chan Event, 16)
	p.eventMu.Lock()
	p.eventCh = ch
	p.eventMu.Unlock()
	return ch
}

func (p *Player) sendEvent(ev Event) {
	p.eventMu.Lock()
	ch := p.eventCh
	p.eventMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Receiver is behind; drop rather than stall a trigger.
		}
	}
}
