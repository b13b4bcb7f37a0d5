// Command vpiano is a terminal piano: nineteen keys on the qwerty row,
// switchable timbres and waveforms, and live config reload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	vpiano "github.com/cbegin/vpiano-go"
)

const uiSampleRate = 48000

// qwerty keys in keyboard order, one per instrument key.
var keyBindings = []string{
	"q", "w", "e", "r", "t", "y", "u", "i", "o", "p",
	"a", "s", "d", "f", "g", "h", "j", "k", "l",
}

var (
	whiteKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("235")).
			Background(lipgloss.Color("255")).
			Padding(0, 1)
	blackKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
	activeKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("33")).
			Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type configMsg *vpiano.Config

type model struct {
	player   *vpiano.Player
	bindings map[string]string // qwerty key -> note id
	lit      map[string]time.Time
	status   string
	configs  chan *vpiano.Config
	watchErr chan error
}

func newModel(p *vpiano.Player, configs chan *vpiano.Config, watchErr chan error) model {
	bindings := make(map[string]string, len(keyBindings))
	for i, n := range vpiano.Notes() {
		if i < len(keyBindings) {
			bindings[keyBindings[i]] = n.ID
		}
	}
	return model{
		player:   p,
		bindings: bindings,
		lit:      make(map[string]time.Time),
		configs:  configs,
		watchErr: watchErr,
	}
}

func (m model) pollConfig() tea.Cmd {
	if m.configs == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case c := <-m.configs:
			return configMsg(c)
		case err := <-m.watchErr:
			return err
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.pollConfig())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		now := time.Time(msg)
		for k, at := range m.lit {
			if now.Sub(at) > 200*time.Millisecond {
				delete(m.lit, k)
			}
		}
		return m, tick()

	case configMsg:
		if err := m.player.ApplyConfig((*vpiano.Config)(msg)); err != nil {
			m.status = "config rejected: " + err.Error()
		} else {
			m.status = "config reloaded"
		}
		return m, m.pollConfig()

	case error:
		m.status = "config watch: " + msg.Error()
		return m, m.pollConfig()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.player.StopAll()
			return m, tea.Quit
		case "tab":
			m.cycleTimbre()
			return m, nil
		case "1":
			m.player.SetWaveform(vpiano.WaveSine)
			return m, nil
		case "2":
			m.player.SetWaveform(vpiano.WaveSquare)
			return m, nil
		case "3":
			m.player.SetWaveform(vpiano.WaveTriangle)
			return m, nil
		case "4":
			m.player.SetWaveform(vpiano.WaveSawtooth)
			return m, nil
		case "up":
			m.player.SetMasterVolume(m.player.MasterVolume() + 0.05)
			return m, nil
		case "down":
			m.player.SetMasterVolume(m.player.MasterVolume() - 0.05)
			return m, nil
		case "left", "right":
			m.cyclePitchMode(msg.String() == "right")
			return m, nil
		case "enter":
			// Terminals have no key-up events, so note keys stay on
			// PlayNote; toggling sustain here only lifts the retrigger
			// debounce. Press/release sustain needs the library API.
			m.player.SetSustainMode(!m.player.SustainMode())
			return m, nil
		case "ctrl+s":
			m.toggleScheme()
			return m, nil
		case " ":
			m.player.StopAll()
			return m, nil
		}
		if note, ok := m.bindings[msg.String()]; ok {
			if id := m.player.PlayNote(note, 1); id != "" {
				m.lit[msg.String()] = time.Now()
			}
			return m, nil
		}
		return m, nil
	}
	return m, nil
}

func (m *model) cycleTimbre() {
	switch m.player.Timbre() {
	case vpiano.TimbreOscillator:
		m.player.SetTimbre(vpiano.TimbreSampleFile)
	case vpiano.TimbreSampleFile:
		m.player.SetTimbre(vpiano.TimbreSampleSprite)
	default:
		m.player.SetTimbre(vpiano.TimbreOscillator)
	}
}

func (m *model) cyclePitchMode(up bool) {
	order := []vpiano.PitchMode{vpiano.PitchLow, vpiano.PitchMedium, vpiano.PitchHigh}
	cur := m.player.PitchMode()
	for i, mode := range order {
		if mode != cur {
			continue
		}
		if up && i < len(order)-1 {
			m.player.SetPitchMode(order[i+1])
		} else if !up && i > 0 {
			m.player.SetPitchMode(order[i-1])
		}
		return
	}
}

func (m *model) toggleScheme() {
	next := vpiano.SchemeAlternate
	if m.player.ActiveScheme() == vpiano.SchemeAlternate {
		next = vpiano.SchemePrimary
	}
	if err := m.player.SwitchScheme(next); err != nil {
		m.status = err.Error()
		return
	}
	m.status = "scheme: " + string(next)
}

func (m model) View() string {
	var keys []string
	for i, n := range vpiano.Notes() {
		if i >= len(keyBindings) {
			break
		}
		kb := keyBindings[i]
		style := whiteKeyStyle
		if n.Black {
			style = blackKeyStyle
		}
		if _, lit := m.lit[kb]; lit {
			style = activeKeyStyle
		}
		keys = append(keys, style.Render(strings.ToUpper(kb)))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("vpiano"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, keys...))
	b.WriteString("\n\n")
	b.WriteString(statusStyle.Render(fmt.Sprintf(
		"timbre %s | wave %s | pitch %s | sustain %v | vol %.0f%% | voices %d",
		m.player.Timbre(), m.player.Waveform(), m.player.PitchMode(),
		m.player.SustainMode(), m.player.MasterVolume()*100, m.player.ActiveVoices())))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("tab timbre · 1-4 wave · ←/→ pitch · ↑/↓ vol · enter sustain · ctrl+s scheme · space stop · esc quit"))
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	return b.String()
}

func main() {
	var (
		configPath   = flag.String("config", "vpiano.json", "path to the instrument config")
		settingsPath = flag.String("settings", "vpiano-settings.json", "path to the persisted settings")
		assetDir     = flag.String("assets", "", "asset cache directory (enables sampled timbres)")
		assetVersion = flag.String("asset-version", "v1", "asset cache version")
		baseURL      = flag.String("base-url", "", "base URL for sample downloads")
		preload      = flag.Bool("preload", false, "download the active scheme's samples before starting")
	)
	flag.Parse()

	cfg, err := vpiano.ReadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	opts := []vpiano.PlayerOption{
		vpiano.WithSettingsPath(*settingsPath),
	}
	if *assetDir != "" {
		opts = append(opts, vpiano.WithAssets(*assetDir, *assetVersion, *baseURL))
	}
	pl, err := vpiano.NewPlayer(uiSampleRate, opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	if err := pl.ApplyConfig(cfg); err != nil {
		log.Fatal(err)
	}
	if *preload {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := pl.Preload(ctx)
		stop()
		if err != nil {
			log.Fatal(err)
		}
	}
	if err := pl.Start(); err != nil {
		log.Fatal(err)
	}

	var configs chan *vpiano.Config
	var watchErr chan error
	if cfg.WatchConfig {
		configs = make(chan *vpiano.Config, 1)
		watchErr = make(chan error, 1)
		done := make(chan struct{})
		defer close(done)
		if err := vpiano.WatchConfig(*configPath, configs, watchErr, done); err != nil {
			log.Printf("config watch disabled: %v", err)
			configs = nil
		}
	}

	prog := tea.NewProgram(newModel(pl, configs, watchErr))
	if _, err := prog.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
