package osc

import (
	"math"
	"time"

	"github.com/cbegin/vpiano-go/internal/notes"
)

const twoPi = math.Pi * 2

// envFloor is the target of the exponential ramps. Exponential approaches
// can never reach zero, so the envelope lands on a small positive floor and
// the voice deactivates there.
const envFloor = 1e-4

// centerPan is the equal-power gain for a centered mono source.
const centerPan = 0.70710678

// voice renders one oscillator note. All methods are serialized by the
// owning registry, so no internal locking is needed.
type voice struct {
	sampleRate float64
	wave       notes.Waveform
	phase      float64
	dt         float64

	n int // frames rendered so far

	// Envelope breakpoints in frames. sustained voices leave totalFrames 0
	// and hold constGain until stopped.
	sustained    bool
	constGain    float64
	peak         float64
	sustainLevel float64
	attackEnd    int
	decayEnd     int
	releaseStart int
	totalFrames  int

	// Stop-fade state. Stopping cancels the remaining envelope schedule and
	// fades exponentially from the gain at the moment of the stop.
	stopped    bool
	fadeFrom   float64
	fadeStart  int
	fadeFrames int

	inactive bool
}

func newEnvelopedVoice(sampleRate int, freq float64, p Params, velocity float64) *voice {
	sr := float64(sampleRate)
	total := int(p.Duration * sr)
	attack := int(p.Attack * sr)
	decay := int(p.Decay * sr)
	release := int(p.Release * sr)
	releaseStart := total - release
	if attack > total {
		attack = total
	}
	if attack+decay > total {
		decay = total - attack
	}
	if releaseStart < attack+decay {
		releaseStart = attack + decay
	}
	return &voice{
		sampleRate:   sr,
		wave:         p.Waveform,
		dt:           freq / sr,
		peak:         p.Volume * velocity,
		sustainLevel: p.Sustain,
		attackEnd:    attack,
		decayEnd:     attack + decay,
		releaseStart: releaseStart,
		totalFrames:  total,
	}
}

func newSustainedVoice(sampleRate int, freq float64, wave notes.Waveform, gain float64) *voice {
	return &voice{
		sampleRate: float64(sampleRate),
		wave:       wave,
		dt:         freq / float64(sampleRate),
		sustained:  true,
		constGain:  gain,
	}
}

func (v *voice) Active() bool { return !v.inactive }

// Stop begins an exponential fade to the floor over the given duration and
// deactivates the voice afterwards. A zero fade kills the voice outright.
// Calling Stop on a stopped or finished voice is a no-op.
func (v *voice) Stop(fade time.Duration) {
	if v.inactive {
		return
	}
	if fade <= 0 {
		v.inactive = true
		return
	}
	if v.stopped {
		return
	}
	v.fadeFrom = v.gainAt(v.n)
	v.stopped = true
	v.fadeStart = v.n
	v.fadeFrames = int(fade.Seconds() * v.sampleRate)
	if v.fadeFrames < 1 {
		v.fadeFrames = 1
	}
}

func (v *voice) RenderFrame() (float32, float32) {
	if v.inactive {
		return 0, 0
	}
	g := v.currentGain()
	if v.inactive {
		return 0, 0
	}
	s := v.renderWave() * g * centerPan
	v.n++
	out := float32(s)
	return out, out
}

func (v *voice) currentGain() float64 {
	if v.stopped {
		t := float64(v.n-v.fadeStart) / float64(v.fadeFrames)
		if t >= 1 {
			v.inactive = true
			return 0
		}
		return expRamp(v.fadeFrom, envFloor, t)
	}
	if v.sustained {
		return v.constGain
	}
	if v.n >= v.totalFrames {
		v.inactive = true
		return 0
	}
	return v.gainAt(v.n)
}

// gainAt evaluates the scheduled ADSR curve at frame n:
// 0 -> linear to peak over the attack, exponential down to peak*sustain over
// the decay, hold, then exponential to the floor across the release.
func (v *voice) gainAt(n int) float64 {
	if v.stopped {
		t := float64(n-v.fadeStart) / float64(v.fadeFrames)
		if t >= 1 {
			return envFloor
		}
		return expRamp(v.fadeFrom, envFloor, t)
	}
	if v.sustained {
		return v.constGain
	}
	switch {
	case n < v.attackEnd:
		return v.peak * float64(n) / float64(v.attackEnd)
	case n < v.decayEnd:
		t := float64(n-v.attackEnd) / float64(v.decayEnd-v.attackEnd)
		return expRamp(v.peak, v.peak*v.sustainLevel, t)
	case n < v.releaseStart:
		return v.peak * v.sustainLevel
	case n < v.totalFrames:
		t := float64(n-v.releaseStart) / float64(v.totalFrames-v.releaseStart)
		return expRamp(v.peak*v.sustainLevel, envFloor, t)
	default:
		return envFloor
	}
}

// expRamp interpolates from a to b exponentially for t in [0,1]. Endpoints
// at or below the floor are lifted onto it first, mirroring how audio-rate
// exponential ramps cannot pass through zero.
func expRamp(a, b, t float64) float64 {
	if a < envFloor {
		a = envFloor
	}
	if b < envFloor {
		b = envFloor
	}
	return a * math.Pow(b/a, t)
}

// polyBLEP smooths waveform discontinuities to reduce aliasing.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func (v *voice) renderWave() float64 {
	v.phase += v.dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	switch v.wave {
	case notes.WaveSine:
		return math.Sin(twoPi * v.phase)
	case notes.WaveTriangle:
		return 2*math.Abs(2*v.phase-1) - 1
	case notes.WaveSquare:
		out := -1.0
		if v.phase < 0.5 {
			out = 1
		}
		out += polyBLEP(v.phase, v.dt)
		out -= polyBLEP(math.Mod(v.phase+0.5, 1), v.dt)
		return out
	case notes.WaveSawtooth:
		out := 2*v.phase - 1
		out -= polyBLEP(v.phase, v.dt)
		return out
	default:
		return math.Sin(twoPi * v.phase)
	}
}
