package osc

import (
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/cbegin/vpiano-go/internal/notes"
	"github.com/cbegin/vpiano-go/internal/voices"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestEngine(p Params) (*Engine, *voices.Registry) {
	reg := voices.NewRegistry(voices.DefaultMaxVoices, testLogger())
	return New(48000, p, reg, testLogger()), reg
}

func TestPlayNoteProducesSignal(t *testing.T) {
	for _, wave := range []notes.Waveform{notes.WaveSine, notes.WaveSquare, notes.WaveTriangle, notes.WaveSawtooth} {
		t.Run(string(wave), func(t *testing.T) {
			p := DefaultParams()
			p.Waveform = wave
			e, reg := newTestEngine(p)
			id := e.PlayNote("5", 1)
			if id == "" {
				t.Fatalf("expected an instance id")
			}
			buf := make([]float32, 4096)
			reg.Process(buf)
			var energy float64
			for _, s := range buf {
				energy += math.Abs(float64(s))
			}
			if energy == 0 {
				t.Fatalf("expected non-zero audio energy for %s", wave)
			}
		})
	}
}

func TestPlayNoteUnknownNoteReturnsEmpty(t *testing.T) {
	e, reg := newTestEngine(DefaultParams())
	if id := e.PlayNote("nope", 1); id != "" {
		t.Fatalf("unresolvable note returned id %q", id)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry should stay empty, has %d", reg.Len())
	}
}

// Mirrors a full trigger: velocity 0.7, sine, duration 0.5s, attack 10ms,
// decay 100ms, sustain 0.3, release 0.5s. The gain trace must start at zero,
// peak at the end of the attack, sit at peak*sustain after the decay, and
// decay to near the floor by the scheduled end, after which the voice reaps
// itself.
func TestEnvelopeGainTrace(t *testing.T) {
	const sr = 48000
	p := Params{
		Waveform:  notes.WaveSine,
		Volume:    1.0,
		Duration:  0.5,
		Attack:    0.01,
		Decay:     0.1,
		Sustain:   0.3,
		Release:   0.5,
		PitchMode: notes.PitchMedium,
	}
	v := newEnvelopedVoice(sr, 440, p.normalized(), 0.7)

	peak := 0.7
	at := func(sec float64) float64 { return v.gainAt(int(sec * sr)) }

	if g := at(0); g != 0 {
		t.Fatalf("gain at t=0 = %v, want 0", g)
	}
	if g := at(0.01); math.Abs(g-peak) > peak*0.02 {
		t.Fatalf("gain at attack end = %v, want ~%v", g, peak)
	}
	if g := at(0.11); math.Abs(g-peak*0.3) > peak*0.3*0.05 {
		t.Fatalf("gain after decay = %v, want ~%v", g, peak*0.3)
	}
	// Release spans the whole remaining duration (duration-release = 0.11
	// after breakpoint normalization), so by 0.5s we are near the floor.
	if g := at(0.499); g > 0.01 {
		t.Fatalf("gain near end = %v, want near floor", g)
	}

	for i := 0; i < int(0.5*sr)+2; i++ {
		v.RenderFrame()
	}
	if v.Active() {
		t.Fatalf("voice should deactivate after its scheduled duration")
	}
}

func TestExponentialRampsNeverReachZero(t *testing.T) {
	if g := expRamp(0.5, 0, 1); g < envFloor {
		t.Fatalf("ramp target below floor: %v", g)
	}
	if g := expRamp(0, 0.5, 0); g < envFloor {
		t.Fatalf("ramp start below floor: %v", g)
	}
}

func TestSustainedIdempotentPerNote(t *testing.T) {
	e, reg := newTestEngine(DefaultParams())
	id1 := e.PlaySustained("3", 0.9)
	if id1 == "" {
		t.Fatalf("expected sustained voice id")
	}
	id2 := e.PlaySustained("3", 0.9)
	if id2 != id1 {
		t.Fatalf("second press should return existing id: %q vs %q", id2, id1)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry holds %d voices, want 1", reg.Len())
	}
}

func TestStopSustainedTwiceIsNoOp(t *testing.T) {
	e, reg := newTestEngine(DefaultParams())
	e.PlaySustained("3", 0.9)
	e.StopSustained("3")
	e.StopSustained("3") // must not disturb anything
	if e.Sustaining("3") {
		t.Fatalf("note 3 should no longer be held")
	}
	// The release fade schedules cleanup; wait past it.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sustained voice never cleaned up, registry=%d", reg.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSustainedVoiceHoldsUntilReleased(t *testing.T) {
	const sr = 48000
	v := newSustainedVoice(sr, 440, notes.WaveSquare, 0.6)
	for i := 0; i < sr*2; i++ {
		v.RenderFrame()
	}
	if !v.Active() {
		t.Fatalf("sustained voice must not expire on its own")
	}
	v.Stop(50 * time.Millisecond)
	for i := 0; i < sr/10; i++ {
		v.RenderFrame()
	}
	if v.Active() {
		t.Fatalf("sustained voice should deactivate after its release fade")
	}
}

func TestParamSnapshotPerTrigger(t *testing.T) {
	e, reg := newTestEngine(DefaultParams())
	id := e.PlayNote("1", 1)
	if id == "" {
		t.Fatalf("expected voice")
	}
	p := e.Params()
	p.Volume = 0
	e.SetParams(p)
	// The in-flight voice keeps its snapshot: rendering still produces energy.
	buf := make([]float32, 8192)
	reg.Process(buf)
	var energy float64
	for _, s := range buf {
		energy += math.Abs(float64(s))
	}
	if energy == 0 {
		t.Fatalf("in-flight voice should be unaffected by later setter calls")
	}
}

func TestNormalizeClampsDuration(t *testing.T) {
	p := Params{Duration: 0.01, Volume: 2, Sustain: -1}
	n := p.normalized()
	if n.Duration != 0.1 {
		t.Fatalf("duration = %v, want 0.1 minimum", n.Duration)
	}
	if n.Volume != 1 || n.Sustain != 0 {
		t.Fatalf("volume/sustain not clamped: %+v", n)
	}
}
