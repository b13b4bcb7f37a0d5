package vpiano

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	intnotes "github.com/cbegin/vpiano-go/internal/notes"
)

const defaultConfig = `
{
	"timbre": "oscillator",
	"waveform": "sine",
	"pitchMode": "medium",
	"activeScheme": "primary",
	"sustainMode": false,
	"masterVolume": 1,
	"maxVoices": 40,
	"debounceWindowMs": 150,
	"watchConfig": true,
	"envelope": {
		"volume": 0.8,
		"duration": 2,
		"attack": 0.02,
		"decay": 0.3,
		"sustain": 0.5,
		"release": 0.8
	}
}
`

// EnvelopeConfig mirrors Envelope in the JSON config file.
type EnvelopeConfig struct {
	Volume   float64 `json:"volume"`
	Duration float64 `json:"duration"`
	Attack   float64 `json:"attack"`
	Decay    float64 `json:"decay"`
	Sustain  float64 `json:"sustain"`
	Release  float64 `json:"release"`
}

// Config is the on-disk instrument configuration. Every field may be
// changed at runtime and re-applied through Player.ApplyConfig.
type Config struct {
	Timbre           string         `json:"timbre"`
	Waveform         string         `json:"waveform"`
	PitchMode        string         `json:"pitchMode"`
	ActiveScheme     string         `json:"activeScheme"`
	SustainMode      bool           `json:"sustainMode"`
	MasterVolume     float64        `json:"masterVolume"`
	MaxVoices        int            `json:"maxVoices"`
	DebounceWindowMs int            `json:"debounceWindowMs"`
	WatchConfig      bool           `json:"watchConfig"`
	Envelope         EnvelopeConfig `json:"envelope"`
}

// ReadConfig loads the config at p, writing the default config there first
// when the file does not exist yet.
func ReadConfig(p string) (*Config, error) {
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		err = os.WriteFile(p, []byte(defaultConfig), 0o644)
		if err != nil {
			return nil, fmt.Errorf("can't write default config: %w", err)
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("can't read config: %w", err)
	}
	var c Config
	err = json.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &c, nil
}

// ApplyConfig pushes every configurable field of c into the live player.
// Invalid scheme or timbre values are rejected before anything is applied.
// Zero values keep the player's current setting, so a partial config file
// never mutes or resets the instrument; SustainMode is the one exception,
// a bool snapshot that is always applied.
func (p *Player) ApplyConfig(c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.ActiveScheme != "" {
		if _, ok := intnotes.ParseScheme(c.ActiveScheme); !ok {
			return fmt.Errorf("unknown scheme %q", c.ActiveScheme)
		}
	}
	switch Timbre(c.Timbre) {
	case "", TimbreOscillator, TimbreSampleFile, TimbreSampleSprite:
	default:
		return fmt.Errorf("unknown timbre %q", c.Timbre)
	}

	if c.Timbre != "" {
		p.SetTimbre(Timbre(c.Timbre))
	}
	if c.Waveform != "" {
		p.SetWaveform(Waveform(c.Waveform))
	}
	if c.PitchMode != "" {
		p.SetPitchMode(PitchMode(c.PitchMode))
	}
	p.SetSustainMode(c.SustainMode)
	if c.MaxVoices > 0 {
		p.SetMaxVoices(c.MaxVoices)
	}
	if c.DebounceWindowMs >= 0 {
		p.SetDebounceWindow(time.Duration(c.DebounceWindowMs) * time.Millisecond)
	}
	p.SetEnvelope(Envelope(c.Envelope))
	if c.MasterVolume > 0 {
		p.SetMasterVolume(c.MasterVolume)
	}
	if c.ActiveScheme != "" && p.samp != nil {
		if err := p.SwitchScheme(Scheme(c.ActiveScheme)); err != nil {
			return err
		}
	}
	return nil
}
