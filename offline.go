package vpiano

import (
	"encoding/binary"
	"math"
	"sort"
	"time"
)

// NoteEvent is one scheduled trigger for offline rendering.
type NoteEvent struct {
	Note     string
	Velocity float64
	At       time.Duration
}

// RenderNotes renders a scored sequence of note triggers into interleaved
// stereo float32 frames without opening an audio device. Debouncing is
// disabled so every scheduled event sounds.
func RenderNotes(events []NoteEvent, sampleRate int, seconds float64, opts ...PlayerOption) ([]float32, error) {
	opts = append(opts, WithDebounceWindow(0))
	p, err := NewPlayer(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	sorted := make([]NoteEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })

	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)

	// Render in blocks, firing triggers when their frame comes due.
	const block = 256
	next := 0
	for frame := 0; frame < frames; frame += block {
		t := time.Duration(float64(frame) / float64(sampleRate) * float64(time.Second))
		for next < len(sorted) && sorted[next].At <= t {
			p.PlayNote(sorted[next].Note, sorted[next].Velocity)
			next++
		}
		n := block
		if frames-frame < n {
			n = frames - frame
		}
		p.Process(out[frame*2 : (frame+n)*2])
	}
	return out, nil
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a RIFF/WAVE
// container (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
