package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from environment variables, optionally overridden by a
// renloc.toml project file, with sensible defaults.
//
// Environment Variables:
// Backend Configuration:
// - LLM_API_KEY: API key for the provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_PROVIDER: Adapter to use, "chat" or "openai" (default: chat)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Project Configuration:
// - RENLOC_PROJECT_DIR: project root containing game/ (default: .)
// - RENLOC_TL_NAME: translation directory name under game/tl/ (required)
// - RENLOC_GLOSSARY_DIR: directory holding glossary files (default: project dir)
// - RENLOC_CACHE_PATH: sqlite cache location (default: <project>/.renloc/cache.db)
//
// Translate Configuration:
// - RENLOC_TARGET_LANG: BCP 47 target language (default: zh)
// - RENLOC_SOURCE_LANG: BCP 47 source language (default: en)
// - RENLOC_MAX_ATTEMPTS: dispatch attempts per batch (default: 3)
// - RENLOC_KEEP_TRANSLATED: retranslate lines that already have text (default: false)
// - RENLOC_CONCURRENCY / RENLOC_RPS / RENLOC_RPM / RENLOC_BATCH_SIZE:
//   scheduler overrides; zero keeps the adapter defaults
// - CRON_EXPR: watch mode schedule (default: "@every 10m")

type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Project   ProjectConfig   `json:"project"`
	Translate TranslateConfig `json:"translate"`
	Watch     WatchConfig     `json:"watch"`
}

// BackendConfig holds the provider client settings. Any OpenAI-compatible
// endpoint works with the "chat" provider.
type BackendConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// ProjectConfig locates the script project on disk.
type ProjectConfig struct {
	Dir         string `json:"dir"`
	TLName      string `json:"tl_name"`
	GlossaryDir string `json:"glossary_dir"`
	CachePath   string `json:"cache_path"`
}

// TLDir returns the translation directory for the configured language.
func (p ProjectConfig) TLDir() string {
	return fmt.Sprintf("%s/game/tl/%s", p.Dir, p.TLName)
}

type TranslateConfig struct {
	TargetLanguage language.Tag `json:"target_language"`
	SourceLanguage language.Tag `json:"source_language"`
	MaxAttempts    int          `json:"max_attempts"`
	KeepTranslated bool         `json:"keep_translated"`

	Concurrency       int `json:"concurrency"`
	RequestsPerSecond int `json:"requests_per_second"`
	RequestsPerMinute int `json:"requests_per_minute"`
	BatchSize         int `json:"batch_size"`
}

type WatchConfig struct {
	CronExpr string `json:"cron_expr"`
}

// Option is a function type for adjusting a Config after load.
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Backend: BackendConfig{
			Provider:    getEnvString("LLM_PROVIDER", "chat"),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Project: ProjectConfig{
			Dir:         getEnvString("RENLOC_PROJECT_DIR", "."),
			TLName:      getEnvString("RENLOC_TL_NAME", ""),
			GlossaryDir: getEnvString("RENLOC_GLOSSARY_DIR", ""),
			CachePath:   getEnvString("RENLOC_CACHE_PATH", ""),
		},
		Translate: TranslateConfig{
			TargetLanguage:    getEnvLang("RENLOC_TARGET_LANG", language.Chinese),
			SourceLanguage:    getEnvLang("RENLOC_SOURCE_LANG", language.English),
			MaxAttempts:       getEnvInt("RENLOC_MAX_ATTEMPTS", 3),
			KeepTranslated:    getEnvBool("RENLOC_KEEP_TRANSLATED", false),
			Concurrency:       getEnvInt("RENLOC_CONCURRENCY", 0),
			RequestsPerSecond: getEnvInt("RENLOC_RPS", 0),
			RequestsPerMinute: getEnvInt("RENLOC_RPM", 0),
			BatchSize:         getEnvInt("RENLOC_BATCH_SIZE", 0),
		},
		Watch: WatchConfig{
			CronExpr: getEnvString("CRON_EXPR", "@every 10m"),
		},
	}

	if path := getEnvString("RENLOC_CONFIG", "renloc.toml"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	if config.Project.GlossaryDir == "" {
		config.Project.GlossaryDir = config.Project.Dir
	}
	if config.Project.CachePath == "" {
		config.Project.CachePath = config.Project.Dir + "/.renloc/cache.db"
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Backend.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Project.TLName == "" {
		return fmt.Errorf("RENLOC_TL_NAME is required")
	}
	return nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvLang(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}
