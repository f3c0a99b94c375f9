package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type Config struct {
	Provider string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AppReferer        string
	AppTitle          string

	GeminiAPIKey  string
	GeminiBaseURL string

	ImageModel    string
	AnalysisModel string

	PromptsDir string
	OutputDir  string

	RetryBackoff     time.Duration
	RetryAnalysis    bool
	ModelMinInterval time.Duration

	LogLevel    string
	PreferIPv4  bool
	HTTPTimeout time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Provider:          strings.ToLower(getEnv("MODEL_PROVIDER", ProviderOpenRouter)),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		AppReferer:        getEnv("APP_REFERER", ""),
		AppTitle:          getEnv("APP_TITLE", "kingfisher"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", ""),
		PromptsDir:        getEnv("PROMPTS_DIR", "prompts"),
		OutputDir:         getEnv("OUTPUT_DIR", "output"),
		RetryBackoff:      time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 15)) * time.Second,
		RetryAnalysis:     getEnvBool("RETRY_ANALYSIS", true),
		ModelMinInterval:  time.Duration(getEnvInt("MODEL_MIN_INTERVAL_MS", 0)) * time.Millisecond,
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PreferIPv4:        getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:       time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
	}

	cfg.OpenRouterAPIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))

	var imageDefault, analysisDefault string
	switch cfg.Provider {
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return Config{}, errors.New("OPENROUTER_API_KEY is required")
		}
		imageDefault, analysisDefault = "google/gemini-2.5-flash-image-preview", "google/gemini-2.5-flash"
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, errors.New("GEMINI_API_KEY is required")
		}
		imageDefault, analysisDefault = "gemini-2.5-flash-image", "gemini-2.5-flash"
	default:
		return Config{}, fmt.Errorf("unknown MODEL_PROVIDER %q", cfg.Provider)
	}

	cfg.ImageModel = getEnv("IMAGE_MODEL", imageDefault)
	cfg.AnalysisModel = getEnv("ANALYSIS_MODEL", analysisDefault)

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Second
	}
	if cfg.ModelMinInterval < 0 {
		cfg.ModelMinInterval = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
