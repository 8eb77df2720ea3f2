package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/sairing/pkg/icron"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds the media pipeline configuration.
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: openai or gemini (default: openai)
// - LLM_API_KEY: API key for the OpenAI-compatible provider
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: model used for text completion (default: gpt-4o-mini)
// - LLM_VISION_MODEL: model used for image description (default: gpt-4o)
// - LLM_TRANSCRIBE_MODEL: model used for speech-to-text (default: gpt-4o-transcribe)
// - LLM_MAX_TOKENS: maximum tokens for responses (default: 500)
// - LLM_TEMPERATURE: temperature for responses (default: 0.2)
// - LLM_TIMEOUT: request timeout in seconds (default: 120)
// - GEMINI_API_KEY: API key for the Gemini provider
// - GEMINI_MODEL: Gemini model name (default: gemini-1.5-flash)
//
// Cache Configuration:
// - CACHE_DIR: directory holding the persisted artifact store (default: ./cache)
// - CACHE_BACKEND: json or sqlite (default: json)
// - CACHE_SWEEP_CRON: schedule for expired-entry sweeps (default: @hourly)
//
// Media Configuration:
// - WORK_DIR: scratch directory for transcodes and frames (default: ./assets)
// - FFMPEG_PATH / FFPROBE_PATH / TESSERACT_PATH: binaries (default: looked up on PATH)
// - OCR_LANGUAGES: comma separated BCP-47 tags (default: id,en)
// - SEGMENT_SECONDS: audio segment length (default: 60)
// - FRAME_INTERVAL_SECONDS: seconds of video per sampled frame (default: 5)
//
// System Configuration:
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - CONCURRENCY: messages processed at once (default: 2)
type Config struct {
	LLM    LLMConfig    `json:"llm"`
	Cache  CacheConfig  `json:"cache"`
	Media  MediaConfig  `json:"media"`
	System SystemConfig `json:"system"`

	skipProviderCheck bool
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider        string  `json:"provider"`
	APIKey          string  `json:"api_key"`
	APIURL          string  `json:"api_url"`
	Model           string  `json:"model"`
	VisionModel     string  `json:"vision_model"`
	TranscribeModel string  `json:"transcribe_model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	Timeout         int     `json:"timeout"`
	GeminiAPIKey    string  `json:"gemini_api_key"`
	GeminiModel     string  `json:"gemini_model"`
}

func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type CacheConfig struct {
	Dir       string `json:"dir"`
	Backend   string `json:"backend"`
	SweepCron string `json:"sweep_cron"`
}

// DBPath is where the sqlite backend keeps its database.
func (c CacheConfig) DBPath() string {
	return filepath.Join(c.Dir, "media_cache.db")
}

type MediaConfig struct {
	WorkDir              string         `json:"work_dir"`
	FFmpegPath           string         `json:"ffmpeg_path"`
	FFprobePath          string         `json:"ffprobe_path"`
	TesseractPath        string         `json:"tesseract_path"`
	OCRLanguages         []language.Tag `json:"ocr_languages"`
	SegmentSeconds       int            `json:"segment_seconds"`
	FrameIntervalSeconds int            `json:"frame_interval_seconds"`
}

type SystemConfig struct {
	LogLevel    string `json:"log_level"`
	Concurrency int    `json:"concurrency"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithCacheDir overrides CACHE_DIR.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.Cache.Dir = dir
		}
	}
}

// WithBackend overrides CACHE_BACKEND.
func WithBackend(backend string) Option {
	return func(c *Config) {
		if strings.TrimSpace(backend) != "" {
			c.Cache.Backend = strings.ToLower(strings.TrimSpace(backend))
		}
	}
}

// WithoutProvider skips the API key check, for commands that never call a
// model.
func WithoutProvider() Option {
	return func(c *Config) {
		c.skipProviderCheck = true
	}
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Warn("Failed to load %s: %v", f, err)
		}
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	ocrLanguages, err := parseLanguages(getEnvString("OCR_LANGUAGES", "id,en"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		LLM: LLMConfig{
			Provider:        strings.ToLower(getEnvString("LLM_PROVIDER", ProviderOpenAI)),
			APIKey:          getEnvString("LLM_API_KEY", ""),
			APIURL:          getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:           getEnvString("LLM_MODEL", "gpt-4o-mini"),
			VisionModel:     getEnvString("LLM_VISION_MODEL", "gpt-4o"),
			TranscribeModel: getEnvString("LLM_TRANSCRIBE_MODEL", "gpt-4o-transcribe"),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 500),
			Temperature:     getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:         getEnvInt("LLM_TIMEOUT", 120),
			GeminiAPIKey:    getEnvString("GEMINI_API_KEY", ""),
			GeminiModel:     getEnvString("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		Cache: CacheConfig{
			Dir:       getEnvString("CACHE_DIR", "./cache"),
			Backend:   strings.ToLower(getEnvString("CACHE_BACKEND", BackendJSON)),
			SweepCron: getEnvString("CACHE_SWEEP_CRON", "@hourly"),
		},
		Media: MediaConfig{
			WorkDir:              getEnvString("WORK_DIR", "./assets"),
			FFmpegPath:           getEnvString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:          getEnvString("FFPROBE_PATH", "ffprobe"),
			TesseractPath:        getEnvString("TESSERACT_PATH", "tesseract"),
			OCRLanguages:         ocrLanguages,
			SegmentSeconds:       getEnvInt("SEGMENT_SECONDS", 60),
			FrameIntervalSeconds: getEnvInt("FRAME_INTERVAL_SECONDS", 5),
		},
		System: SystemConfig{
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
			Concurrency: getEnvInt("CONCURRENCY", 2),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: provider=%s model=%s cache=%s(%s) work=%s",
		config.LLM.Provider, config.LLM.Model, config.Cache.Dir, config.Cache.Backend, config.Media.WorkDir)

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" && !c.skipProviderCheck {
			return fmt.Errorf("LLM_API_KEY is required")
		}
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" && !c.skipProviderCheck {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %q", c.LLM.Provider)
	}

	switch c.Cache.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND: %q", c.Cache.Backend)
	}

	if _, err := icron.Parse(c.Cache.SweepCron); err != nil {
		return fmt.Errorf("invalid CACHE_SWEEP_CRON: %w", err)
	}
	if c.Media.SegmentSeconds <= 0 {
		return fmt.Errorf("SEGMENT_SECONDS must be positive")
	}
	if c.Media.FrameIntervalSeconds <= 0 {
		return fmt.Errorf("FRAME_INTERVAL_SECONDS must be positive")
	}
	if c.System.Concurrency <= 0 {
		c.System.Concurrency = 1
	}
	return nil
}

func parseLanguages(raw string) ([]language.Tag, error) {
	var tags []language.Tag
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag, err := language.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid OCR_LANGUAGES entry %q: %w", part, err)
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	return tags, nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
