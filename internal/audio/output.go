// Package audio connects the voice mixer to the operating-system audio
// device. The device pulls: Output wraps the mixer in an io.Reader of
// little-endian stereo float32 frames and hands it to the shared ebiten
// audio context.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ebitenaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Source produces interleaved stereo float32 frames on demand. The piano's
// voice registry is the canonical implementation.
type Source interface {
	Process(dst []float32)
}

// reader adapts a Source to the byte stream the audio context consumes.
type reader struct {
	mu     sync.Mutex
	source Source
	buf    []float32
}

func (r *reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *reader) Close() error { return nil }

var (
	contextOnce sync.Once
	context     *ebitenaudio.Context
	contextRate int
)

// sharedContext returns the process-wide audio context. ebiten allows only
// one context per process, so the first sample rate wins.
func sharedContext(sampleRate int) (*ebitenaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		context = ebitenaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz (requested %d Hz)", contextRate, sampleRate)
	}
	return context, nil
}

// Output is a live audio stream pulling from a Source.
type Output struct {
	player *ebitenaudio.Player
	reader *reader
}

// NewOutput opens a stream at the given sample rate. The stream stays silent
// until Play is called.
func NewOutput(sampleRate int, source Source) (*Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	r := &reader{source: source}
	pl, err := ctx.NewPlayerF32(r)
	if err != nil {
		return nil, err
	}
	return &Output{player: pl, reader: r}, nil
}

func (o *Output) Play()  { o.player.Play() }
func (o *Output) Pause() { o.player.Pause() }

func (o *Output) IsPlaying() bool { return o.player.IsPlaying() }

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
