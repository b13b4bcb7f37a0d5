// Package notes holds the fixed 19-key note table of the virtual piano:
// identifiers "1".."19", key colors, and frequency resolution including the
// pitch-mode multiplier and the per-waveform tuning correction.
package notes

import (
	"math"
	"strconv"
)

// Count is the number of keys on the keyboard.
const Count = 19

// BaseFrequency is middle C; key "1" sounds here in medium pitch mode.
const BaseFrequency = 261.626

type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

type PitchMode string

const (
	PitchLow    PitchMode = "low"
	PitchMedium PitchMode = "medium"
	PitchHigh   PitchMode = "high"
)

type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSquare   Waveform = "square"
	WaveTriangle Waveform = "triangle"
	WaveSawtooth Waveform = "sawtooth"
)

// Note is one key of the keyboard. The table is fixed at startup and
// immutable afterwards.
type Note struct {
	ID    string
	Index int // 0-based semitone offset from BaseFrequency
	Color Color
}

// freqTable is the primary frequency source: equal-tempered semitones up
// from middle C. Identifiers not present here fall back to the computed
// value in Frequency.
var freqTable = map[string]float64{
	"1":  261.63,
	"2":  277.18,
	"3":  293.66,
	"4":  311.13,
	"5":  329.63,
	"6":  349.23,
	"7":  369.99,
	"8":  392.00,
	"9":  415.30,
	"10": 440.00,
	"11": 466.16,
	"12": 493.88,
	"13": 523.25,
	"14": 554.37,
	"15": 587.33,
	"16": 622.25,
	"17": 659.26,
	"18": 698.46,
	"19": 739.99,
}

// blackPitchClasses are the semitone offsets within an octave that land on
// raised keys.
var blackPitchClasses = map[int]bool{1: true, 3: true, 6: true, 8: true, 10: true}

var table = buildTable()

func buildTable() map[string]Note {
	m := make(map[string]Note, Count)
	for i := 0; i < Count; i++ {
		id := strconv.Itoa(i + 1)
		color := White
		if blackPitchClasses[i%12] {
			color = Black
		}
		m[id] = Note{ID: id, Index: i, Color: color}
	}
	return m
}

// Lookup returns the note for an identifier, or false for unknown ids.
func Lookup(id string) (Note, bool) {
	n, ok := table[id]
	return n, ok
}

// All returns the keyboard in ascending pitch order.
func All() []Note {
	out := make([]Note, 0, Count)
	for i := 0; i < Count; i++ {
		out = append(out, table[strconv.Itoa(i+1)])
	}
	return out
}

func pitchMultiplier(mode PitchMode) float64 {
	switch mode {
	case PitchLow:
		return 0.5
	case PitchHigh:
		return 2
	default:
		return 1
	}
}

// semitone is the equal-tempered step ratio.
var semitone = math.Pow(2, 1.0/12.0)

// Frequency resolves the playback frequency for a note identifier. The
// static table is consulted first; unknown but numeric identifiers fall back
// to BaseFrequency * 2^(i/12). correctTuning applies the one-semitone-up
// shift used for sine and triangle waveforms so their perceived tuning lines
// up with the harmonically richer waveforms.
func Frequency(id string, mode PitchMode, wave Waveform, correctTuning bool) (float64, bool) {
	f, ok := freqTable[id]
	if !ok {
		i, err := strconv.Atoi(id)
		if err != nil || i < 1 {
			return 0, false
		}
		f = BaseFrequency * math.Pow(2, float64(i-1)/12.0)
	}
	f *= pitchMultiplier(mode)
	if correctTuning && (wave == WaveSine || wave == WaveTriangle) {
		f *= semitone
	}
	return f, true
}
