package vpiano

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigUnmarshal(t *testing.T) {
	var c Config
	err := json.Unmarshal([]byte(defaultConfig), &c)
	if err != nil {
		t.Fatalf("error unmarshalling: %v", err)
	}
	if c.MaxVoices != 40 {
		t.Fatalf("maxVoices = %d, want 40", c.MaxVoices)
	}
	if c.DebounceWindowMs != 150 {
		t.Fatalf("debounceWindowMs = %d, want 150", c.DebounceWindowMs)
	}
	if c.Envelope.Attack == 0 {
		t.Fatal("expected envelope attack to be set")
	}
}

func TestReadConfigWritesDefaultWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if c.Waveform != "sine" {
		t.Fatalf("waveform = %q, want sine", c.Waveform)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file should exist: %v", err)
	}
}

func TestReadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadConfig(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestApplyConfig(t *testing.T) {
	p := newTestPlayer(t)
	c := &Config{
		Timbre:           string(TimbreOscillator),
		Waveform:         "square",
		PitchMode:        "high",
		SustainMode:      true,
		MasterVolume:     0.5,
		MaxVoices:        8,
		DebounceWindowMs: 80,
		Envelope:         EnvelopeConfig{Attack: 0.05, Release: 0.2},
	}
	if err := p.ApplyConfig(c); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if got := p.Waveform(); got != WaveSquare {
		t.Fatalf("waveform = %q, want square", got)
	}
	if got := p.PitchMode(); got != PitchHigh {
		t.Fatalf("pitch mode = %q, want high", got)
	}
	if !p.SustainMode() {
		t.Fatal("sustain mode should be on")
	}
	if got := p.MasterVolume(); got != 0.5 {
		t.Fatalf("master volume = %v, want 0.5", got)
	}
	if got := p.DebounceWindow(); got != 80*time.Millisecond {
		t.Fatalf("debounce window = %v, want 80ms", got)
	}
}

func TestApplyConfigOmittedVolumeKeepsCurrent(t *testing.T) {
	p := newTestPlayer(t)
	p.SetMasterVolume(0.7)
	// A config with no masterVolume field unmarshals to zero; applying it
	// must not mute the instrument.
	if err := p.ApplyConfig(&Config{Waveform: "square"}); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if got := p.MasterVolume(); got != 0.7 {
		t.Fatalf("master volume = %v, want 0.7", got)
	}
}

func TestApplyConfigRejectsUnknownValues(t *testing.T) {
	p := newTestPlayer(t)
	if err := p.ApplyConfig(&Config{ActiveScheme: "bogus"}); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if err := p.ApplyConfig(&Config{Timbre: "theremin"}); err == nil {
		t.Fatal("expected error for unknown timbre")
	}
	if err := p.ApplyConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestWatchConfigDeliversUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if _, err := ReadConfig(path); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	configs := make(chan *Config, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	if err := WatchConfig(path, configs, errs, done); err != nil {
		t.Fatalf("watch config: %v", err)
	}

	updated := `{"waveform":"sawtooth","maxVoices":12,"debounceWindowMs":150,"masterVolume":1,"envelope":{"attack":0.02}}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-configs:
		if c.Waveform != "sawtooth" {
			t.Fatalf("waveform = %q, want sawtooth", c.Waveform)
		}
		if c.MaxVoices != 12 {
			t.Fatalf("maxVoices = %d, want 12", c.MaxVoices)
		}
	case err := <-errs:
		t.Fatalf("watch error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config update")
	}
}

func TestWatchConfigMissingFile(t *testing.T) {
	configs := make(chan *Config, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	missing := filepath.Join(t.TempDir(), "nope", "config.json")
	if err := WatchConfig(missing, configs, errs, done); err == nil {
		t.Fatal("expected error watching a missing file")
	}
}
