package notes

import (
	"strconv"
	"testing"
)

func TestFrequenciesStrictlyIncreasing(t *testing.T) {
	for _, mode := range []PitchMode{PitchLow, PitchMedium, PitchHigh} {
		prev := 0.0
		for i := 1; i <= Count; i++ {
			f, ok := Frequency(strconv.Itoa(i), mode, WaveSquare, false)
			if !ok {
				t.Fatalf("note %d unresolved in mode %s", i, mode)
			}
			if f <= prev {
				t.Fatalf("mode %s: note %d freq %v not above previous %v", mode, i, f, prev)
			}
			prev = f
		}
	}
}

func TestPitchModeMultipliers(t *testing.T) {
	low, _ := Frequency("1", PitchLow, WaveSquare, false)
	med, _ := Frequency("1", PitchMedium, WaveSquare, false)
	high, _ := Frequency("1", PitchHigh, WaveSquare, false)
	if low*2 != med || med*2 != high {
		t.Fatalf("pitch modes not octave-spaced: low=%v med=%v high=%v", low, med, high)
	}
}

func TestTuningCorrectionOnlyForSineAndTriangle(t *testing.T) {
	base, _ := Frequency("5", PitchMedium, WaveSquare, true)
	for _, wave := range []Waveform{WaveSine, WaveTriangle} {
		f, _ := Frequency("5", PitchMedium, wave, true)
		ratio := f / base
		if ratio < 1.059 || ratio > 1.060 {
			t.Fatalf("%s correction ratio = %v, want one semitone (~1.0595)", wave, ratio)
		}
	}
	saw, _ := Frequency("5", PitchMedium, WaveSawtooth, true)
	if saw != base {
		t.Fatalf("sawtooth should be uncorrected: got %v want %v", saw, base)
	}
	off, _ := Frequency("5", PitchMedium, WaveSine, false)
	if off != base {
		t.Fatalf("correction disabled should match square: got %v want %v", off, base)
	}
}

func TestFallbackFrequencyBeyondTable(t *testing.T) {
	f, ok := Frequency("25", PitchMedium, WaveSquare, false)
	if !ok {
		t.Fatalf("numeric id beyond the table should resolve via fallback")
	}
	// 24 semitones above middle C = two octaves.
	want := BaseFrequency * 4
	if f < want*0.999 || f > want*1.001 {
		t.Fatalf("fallback freq = %v, want ~%v", f, want)
	}
	if _, ok := Frequency("bogus", PitchMedium, WaveSquare, false); ok {
		t.Fatalf("non-numeric id should not resolve")
	}
}

func TestKeyboardColors(t *testing.T) {
	wantBlack := map[string]bool{"2": true, "4": true, "7": true, "9": true, "11": true, "14": true, "16": true, "19": true}
	for _, n := range All() {
		want := White
		if wantBlack[n.ID] {
			want = Black
		}
		if n.Color != want {
			t.Errorf("note %s color = %s, want %s", n.ID, n.Color, want)
		}
	}
}

func TestSchemeMappings(t *testing.T) {
	ref, ok := Sample(SchemePrimary, "3")
	if !ok || ref.Path != "audio/notes/3.mp3" || ref.Offset != 0 || ref.Duration != 0 {
		t.Fatalf("primary mapping for note 3 = %+v ok=%v", ref, ok)
	}
	ref, ok = Sample(SchemeAlternate, "3")
	if !ok || ref.Path != spriteFile {
		t.Fatalf("alternate mapping for note 3 = %+v ok=%v", ref, ok)
	}
	if ref.Offset != 2*spriteSlotLen || ref.Duration != spriteSegmentLen {
		t.Fatalf("alternate segment = %+v", ref)
	}
	if _, ok := Sample(SchemePrimary, "99"); ok {
		t.Fatalf("unknown note should not map")
	}
	if _, ok := Sample(Scheme("other"), "1"); ok {
		t.Fatalf("unknown scheme should not map")
	}
}

func TestSchemeManifest(t *testing.T) {
	if got := len(SchemeManifest(SchemePrimary)); got != Count {
		t.Fatalf("primary manifest has %d entries, want %d", got, Count)
	}
	if got := len(SchemeManifest(SchemeAlternate)); got != 1 {
		t.Fatalf("alternate manifest has %d entries, want 1", got)
	}
}
