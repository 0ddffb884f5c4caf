package skill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Settings overrides the defaults of a built-in skill. Zero fields keep the
// built-in default.
type Settings struct {
	Enabled            *bool    `json:"enabled,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	CPMThreshold       float64  `json:"cpm_threshold,omitempty"`
	BackspaceThreshold int      `json:"backspace_threshold,omitempty"`
	MinIdleSeconds     float64  `json:"min_idle_seconds,omitempty"`
	Default            string   `json:"default,omitempty"`
	Command            string   `json:"command,omitempty"`
	Prompt             string   `json:"prompt,omitempty"`
}

// IsEnabled reports whether the skill should be registered.
func (s *Settings) IsEnabled() bool {
	return s == nil || s.Enabled == nil || *s.Enabled
}

// LoadSettings scans dir for per-skill subdirectories named after the skill ID.
// Each subdirectory should contain a skill.json file and optionally a prompt.md
// that overrides the prompt field. If dir doesn't exist, returns an empty map
// without error.
func LoadSettings(dir string) (map[string]*Settings, error) {
	out := make(map[string]*Settings)
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("reading skill directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		s, err := loadSettingsFromSubdir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading skill %s: %w", entry.Name(), err)
		}
		if s != nil {
			out[entry.Name()] = s
		}
	}

	return out, nil
}

func loadSettingsFromSubdir(dir string) (*Settings, error) {
	jsonPath := filepath.Join(dir, "skill.json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skill.json: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing skill.json in %s: %w", dir, err)
	}

	// Optionally override prompt with prompt.md content.
	promptPath := filepath.Join(dir, "prompt.md")
	if promptData, err := os.ReadFile(promptPath); err == nil {
		s.Prompt = strings.TrimSpace(string(promptData))
	}

	return &s, nil
}
