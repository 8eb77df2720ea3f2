package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/sairing/pkg/icron"
	"golang.org/x/text/language"
)

const DefaultRuntimeSettingsFile = "./config/settings.json"

// RuntimeSettings is the subset of Config an operator may pin in a settings
// file. Empty fields leave the environment value in place.
type RuntimeSettings struct {
	LLMProvider  string `json:"llm_provider,omitempty"`
	LLMAPIURL    string `json:"llm_api_url,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
	VisionModel  string `json:"vision_model,omitempty"`
	SweepCron    string `json:"sweep_cron,omitempty"`
	OCRLanguages string `json:"ocr_languages,omitempty"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.LLMProvider)) {
	case "", ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported llm_provider: %q", s.LLMProvider)
	}
	if strings.TrimSpace(s.SweepCron) != "" {
		if _, err := icron.Parse(s.SweepCron); err != nil {
			return fmt.Errorf("invalid sweep_cron: %w", err)
		}
	}
	if strings.TrimSpace(s.OCRLanguages) != "" {
		if _, err := parseLanguages(s.OCRLanguages); err != nil {
			return err
		}
	}
	return nil
}

// RuntimeSettings captures the effective settings of c.
func (c *Config) RuntimeSettings() RuntimeSettings {
	langs := make([]string, 0, len(c.Media.OCRLanguages))
	for _, tag := range c.Media.OCRLanguages {
		langs = append(langs, tag.String())
	}
	return RuntimeSettings{
		LLMProvider:  c.LLM.Provider,
		LLMAPIURL:    c.LLM.APIURL,
		LLMModel:     c.LLM.Model,
		VisionModel:  c.LLM.VisionModel,
		SweepCron:    c.Cache.SweepCron,
		OCRLanguages: strings.Join(langs, ","),
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if v := strings.TrimSpace(settings.LLMProvider); v != "" {
			c.LLM.Provider = strings.ToLower(v)
		}
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.VisionModel) != "" {
			c.LLM.VisionModel = settings.VisionModel
		}
		if strings.TrimSpace(settings.SweepCron) != "" {
			c.Cache.SweepCron = settings.SweepCron
		}
		if tags, err := parseLanguages(settings.OCRLanguages); err == nil && strings.TrimSpace(settings.OCRLanguages) != "" {
			c.Media.OCRLanguages = tags
		}
	}
}

// LoadRuntimeSettingsFile reads a settings file. A missing file is reported
// through os.IsNotExist on the returned error.
func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Tags renders OCR language tags for display.
func Tags(tags []language.Tag) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return strings.Join(out, ",")
}
