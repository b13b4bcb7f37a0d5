package vpiano

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings is the small per-user state the player persists between runs.
type Settings struct {
	Volume   float64 `json:"volume"`
	LastUsed int64   `json:"lastUsed"`
}

// LoadSettings reads settings from path. A missing file is not an error;
// it returns full volume.
func LoadSettings(path string) (Settings, error) {
	st := Settings{Volume: 1}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Settings{Volume: 1}, err
	}
	if st.Volume < 0 {
		st.Volume = 0
	}
	if st.Volume > 1 {
		st.Volume = 1
	}
	return st, nil
}

// SaveSettings writes settings to path atomically via a temp file rename.
func SaveSettings(path string, st Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
