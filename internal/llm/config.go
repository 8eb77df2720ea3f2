package llm

import (
	"fmt"
)

// Config holds the configuration for an OpenAI-compatible API.
//
// Model serves text completions, VisionModel image description and
// TranscribeModel speech-to-text. Empty model names fall back to Model.
type Config struct {
	APIKey          string  `json:"api_key"`
	APIURL          string  `json:"api_url"`
	Model           string  `json:"model"`
	VisionModel     string  `json:"vision_model"`
	TranscribeModel string  `json:"transcribe_model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	Timeout         int     `json:"timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

func (c *Config) visionModel() string {
	if c.VisionModel != "" {
		return c.VisionModel
	}
	return c.Model
}

func (c *Config) transcribeModel() string {
	if c.TranscribeModel != "" {
		return c.TranscribeModel
	}
	return c.Model
}

// GetHeaders returns the headers for a JSON request.
func (c *Config) GetHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}
}
