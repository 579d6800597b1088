package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("RENLOC_TL_NAME", "french")
	// Keep tests independent of any renloc.toml in the working directory.
	t.Setenv("RENLOC_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
}

func TestNewFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	require.Equal(t, "chat", cfg.Backend.Provider)
	require.Equal(t, "https://openrouter.ai/api/v1", cfg.Backend.APIURL)
	require.Equal(t, language.Chinese, cfg.Translate.TargetLanguage)
	require.Equal(t, language.English, cfg.Translate.SourceLanguage)
	require.Equal(t, 3, cfg.Translate.MaxAttempts)
	require.Equal(t, "./game/tl/french", cfg.Project.TLDir())
	require.Equal(t, "./.renloc/cache.db", cfg.Project.CachePath)
	require.Equal(t, ".", cfg.Project.GlossaryDir)
}

func TestNewFromEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("RENLOC_TARGET_LANG", "fr")
	t.Setenv("RENLOC_PROJECT_DIR", "/games/demo")
	t.Setenv("RENLOC_RPM", "30")
	t.Setenv("RENLOC_KEEP_TRANSLATED", "true")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	require.Equal(t, "openai", cfg.Backend.Provider)
	require.Equal(t, language.French, cfg.Translate.TargetLanguage)
	require.Equal(t, 30, cfg.Translate.RequestsPerMinute)
	require.True(t, cfg.Translate.KeepTranslated)
	require.Equal(t, "/games/demo/game/tl/french", cfg.Project.TLDir())
	require.Equal(t, "/games/demo/.renloc/cache.db", cfg.Project.CachePath)
}

func TestNewFromEnvRequiresAPIKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LLM_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestNewFromEnvRequiresTLName(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RENLOC_TL_NAME", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "RENLOC_TL_NAME")
}

func TestProjectFileOverridesEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RENLOC_TARGET_LANG", "zh")

	path := filepath.Join(t.TempDir(), "renloc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
model = "openai/gpt-4o"

[project]
dir = "/games/demo"
tl_name = "german"

[translate]
target_lang = "de"
batch_size = 5
keep_translated = true

[watch]
cron_expr = "@every 1h"
`), 0o644))
	t.Setenv("RENLOC_CONFIG", path)

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	require.Equal(t, "openai/gpt-4o", cfg.Backend.Model)
	require.Equal(t, "german", cfg.Project.TLName)
	require.Equal(t, language.German, cfg.Translate.TargetLanguage)
	require.Equal(t, 5, cfg.Translate.BatchSize)
	require.True(t, cfg.Translate.KeepTranslated)
	require.Equal(t, "@every 1h", cfg.Watch.CronExpr)
}

func TestProjectFileRejectsBadLanguage(t *testing.T) {
	setBaseEnv(t)

	path := filepath.Join(t.TempDir(), "renloc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[translate]
target_lang = "not a language"
`), 0o644))
	t.Setenv("RENLOC_CONFIG", path)

	_, err := NewFromEnv()
	require.Error(t, err)
}

func TestOptionsApplyLast(t *testing.T) {
	setBaseEnv(t)

	cfg, err := NewFromEnv(func(c *Config) {
		c.Translate.Concurrency = 8
	})
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Translate.Concurrency)
}
