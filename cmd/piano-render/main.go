// Command piano-render renders a scored sequence of piano key triggers to
// a WAV file without opening an audio device.
//
// The score is a comma-separated list of note@millisecond pairs, e.g.
//
//	piano-render -score "1@0,5@250,8@500,13@750" -seconds 2 -out take.wav
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	vpiano "github.com/cbegin/vpiano-go"
)

const defaultScore = "1@0,5@300,8@600,13@900,8@1200,5@1500,1@1800"

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		score      = flag.String("score", defaultScore, "note@ms pairs, comma separated")
		seconds    = flag.Float64("seconds", 3, "length of the rendered take")
		velocity   = flag.Float64("velocity", 0.8, "trigger velocity (0..1)")
		waveform   = flag.String("waveform", "sine", "oscillator waveform: sine|square|triangle|sawtooth")
		pitchMode  = flag.String("pitch", "medium", "pitch mode: low|medium|high")
		outPath    = flag.String("out", "piano.wav", "output WAV path")
	)
	flag.Parse()

	events, err := parseScore(*score, *velocity)
	if err != nil {
		log.Fatal(err)
	}

	samples, err := vpiano.RenderNotes(events, *sampleRate, *seconds,
		vpiano.WithWaveform(vpiano.Waveform(*waveform)),
		vpiano.WithPitchMode(vpiano.PitchMode(*pitchMode)),
	)
	if err != nil {
		log.Fatal(err)
	}
	wav := vpiano.EncodeWAVFloat32LE(samples, *sampleRate, 2)
	if err := os.WriteFile(*outPath, wav, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%s, %d events, %.1fs)\n",
		*outPath, humanize.Bytes(uint64(len(wav))), len(events), *seconds)
}

func parseScore(score string, velocity float64) ([]vpiano.NoteEvent, error) {
	var events []vpiano.NoteEvent
	for _, part := range strings.Split(score, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		note, at, ok := strings.Cut(part, "@")
		if !ok {
			return nil, fmt.Errorf("bad score entry %q, want note@ms", part)
		}
		ms, err := strconv.Atoi(at)
		if err != nil {
			return nil, fmt.Errorf("bad offset in %q: %w", part, err)
		}
		events = append(events, vpiano.NoteEvent{
			Note:     note,
			Velocity: velocity,
			At:       time.Duration(ms) * time.Millisecond,
		})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("empty score")
	}
	return events, nil
}
