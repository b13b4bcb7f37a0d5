package sampler

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// Buffer is a decoded sample: mono float32 frames at the source's native
// rate. Voices resample to the output rate at play time.
type Buffer struct {
	Data       []float32
	SampleRate int
}

// Duration in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Data)) / float64(b.SampleRate)
}

// Decode turns raw sample-file bytes into a Buffer. RIFF/WAVE content is
// detected by magic regardless of extension (CDNs occasionally serve WAV
// under an .mp3 name); everything else is picked by extension.
func Decode(p string, data []byte) (*Buffer, error) {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return decodeWAV(data)
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".mp3":
		return decodeMP3(data)
	case ".wav":
		return decodeWAV(data)
	default:
		return nil, fmt.Errorf("decode %s: unsupported sample format", p)
	}
}

// decodeMP3 decodes to 16-bit stereo PCM and folds it to mono.
func decodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 read: %w", err)
	}
	// go-mp3 always yields interleaved stereo int16 little-endian.
	frames := len(pcm) / 4
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		r := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		out[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return &Buffer{Data: out, SampleRate: dec.SampleRate()}, nil
}

func decodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: invalid file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav read: %w", err)
	}
	return foldToMono(pcm)
}

// foldToMono averages the channels of an integer PCM buffer into normalized
// mono float32 frames.
func foldToMono(pcm *audio.IntBuffer) (*Buffer, error) {
	ch := pcm.Format.NumChannels
	if ch < 1 {
		return nil, fmt.Errorf("wav: no channels")
	}
	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	scale := float32(int(1) << (depth - 1))
	frames := len(pcm.Data) / ch
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += float32(pcm.Data[i*ch+c])
		}
		out[i] = sum / float32(ch) / scale
	}
	return &Buffer{Data: out, SampleRate: pcm.Format.SampleRate}, nil
}
