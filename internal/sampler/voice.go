package sampler

import "time"

// segment selects a window of a buffer with linear fades at both edges. The
// zero value means whole-buffer playback with no fades.
type segment struct {
	offset   float64 // seconds into the buffer
	duration float64 // seconds to play; 0 = to the end
	fadeIn   float64 // seconds of linear fade-in
	fadeOut  float64 // seconds of linear fade-out, ending at the segment end
}

// sampleVoice plays a decoded buffer at the output rate using linear
// resampling. Methods are serialized by the owning registry.
type sampleVoice struct {
	buf  *Buffer
	gain float64

	pos  float64 // position in source frames
	step float64 // source frames per output frame
	end  float64 // exclusive end position in source frames

	n            int // output frames rendered
	totalFrames  int
	fadeInFrames int
	fadeOutStart int

	stopped    bool
	fadeFrom   float64
	fadeStart  int
	fadeFrames int

	inactive bool
}

const samplePan = 0.70710678

func newSampleVoice(outRate int, buf *Buffer, seg segment, gain float64) *sampleVoice {
	step := float64(buf.SampleRate) / float64(outRate)
	start := seg.offset * float64(buf.SampleRate)
	if start > float64(len(buf.Data)) {
		start = float64(len(buf.Data))
	}
	end := float64(len(buf.Data))
	if seg.duration > 0 {
		if e := start + seg.duration*float64(buf.SampleRate); e < end {
			end = e
		}
	}
	total := int((end - start) / step)
	v := &sampleVoice{
		buf:         buf,
		gain:        gain,
		pos:         start,
		step:        step,
		end:         end,
		totalFrames: total,
	}
	if seg.fadeIn > 0 {
		v.fadeInFrames = int(seg.fadeIn * float64(outRate))
	}
	v.fadeOutStart = total
	if seg.fadeOut > 0 {
		if fo := int(seg.fadeOut * float64(outRate)); fo < total {
			v.fadeOutStart = total - fo
		} else {
			v.fadeOutStart = 0
		}
	}
	return v
}

func (v *sampleVoice) Active() bool { return !v.inactive }

func (v *sampleVoice) Stop(fade time.Duration) {
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
	v.fadeFrom = v.envelope()
	v.stopped = true
	v.fadeStart = v.n
	// Linear anti-click fade; the sample itself carries the musical decay.
	v.fadeFrames = int(fade.Seconds() * float64(v.buf.SampleRate) / v.step)
	if v.fadeFrames < 1 {
		v.fadeFrames = 1
	}
}

// envelope is the fade profile at the current output frame.
func (v *sampleVoice) envelope() float64 {
	if v.stopped {
		t := float64(v.n-v.fadeStart) / float64(v.fadeFrames)
		if t >= 1 {
			return 0
		}
		return v.fadeFrom * (1 - t)
	}
	g := 1.0
	if v.fadeInFrames > 0 && v.n < v.fadeInFrames {
		g = float64(v.n) / float64(v.fadeInFrames)
	}
	if v.fadeOutStart < v.totalFrames && v.n >= v.fadeOutStart {
		out := 1 - float64(v.n-v.fadeOutStart)/float64(v.totalFrames-v.fadeOutStart)
		if out < 0 {
			out = 0
		}
		g *= out
	}
	return g
}

func (v *sampleVoice) RenderFrame() (float32, float32) {
	if v.inactive {
		return 0, 0
	}
	if v.n >= v.totalFrames || v.pos >= v.end-1 {
		v.inactive = true
		return 0, 0
	}
	env := v.envelope()
	if v.stopped && env <= 0 {
		v.inactive = true
		return 0, 0
	}

	// Linear interpolation between neighboring source frames.
	i := int(v.pos)
	frac := v.pos - float64(i)
	s := float64(v.buf.Data[i])*(1-frac) + float64(v.buf.Data[i+1])*frac

	v.pos += v.step
	v.n++
	out := float32(s * env * v.gain * samplePan)
	return out, out
}
