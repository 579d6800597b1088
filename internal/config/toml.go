package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

// fileConfig mirrors Config for the renloc.toml project file. Only set
// fields override the environment; languages are BCP 47 strings.
type fileConfig struct {
	Backend struct {
		Provider    string  `toml:"provider"`
		APIURL      string  `toml:"api_url"`
		Model       string  `toml:"model"`
		MaxTokens   int     `toml:"max_tokens"`
		Temperature float64 `toml:"temperature"`
		Timeout     int     `toml:"timeout"`
	} `toml:"backend"`

	Project struct {
		Dir         string `toml:"dir"`
		TLName      string `toml:"tl_name"`
		GlossaryDir string `toml:"glossary_dir"`
		CachePath   string `toml:"cache_path"`
	} `toml:"project"`

	Translate struct {
		TargetLang        string `toml:"target_lang"`
		SourceLang        string `toml:"source_lang"`
		MaxAttempts       int    `toml:"max_attempts"`
		KeepTranslated    *bool  `toml:"keep_translated"`
		Concurrency       int    `toml:"concurrency"`
		RequestsPerSecond int    `toml:"requests_per_second"`
		RequestsPerMinute int    `toml:"requests_per_minute"`
		BatchSize         int    `toml:"batch_size"`
	} `toml:"translate"`

	Watch struct {
		CronExpr string `toml:"cron_expr"`
	} `toml:"watch"`
}

// applyFile overlays a renloc.toml onto the current values. A missing
// file is not an error; a malformed one is.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.Backend.Provider, f.Backend.Provider)
	setString(&c.Backend.APIURL, f.Backend.APIURL)
	setString(&c.Backend.Model, f.Backend.Model)
	setInt(&c.Backend.MaxTokens, f.Backend.MaxTokens)
	if f.Backend.Temperature != 0 {
		c.Backend.Temperature = f.Backend.Temperature
	}
	setInt(&c.Backend.Timeout, f.Backend.Timeout)

	setString(&c.Project.Dir, f.Project.Dir)
	setString(&c.Project.TLName, f.Project.TLName)
	setString(&c.Project.GlossaryDir, f.Project.GlossaryDir)
	setString(&c.Project.CachePath, f.Project.CachePath)

	if err := setLang(&c.Translate.TargetLanguage, f.Translate.TargetLang); err != nil {
		return fmt.Errorf("parse %s: target_lang: %w", path, err)
	}
	if err := setLang(&c.Translate.SourceLanguage, f.Translate.SourceLang); err != nil {
		return fmt.Errorf("parse %s: source_lang: %w", path, err)
	}
	setInt(&c.Translate.MaxAttempts, f.Translate.MaxAttempts)
	if f.Translate.KeepTranslated != nil {
		c.Translate.KeepTranslated = *f.Translate.KeepTranslated
	}
	setInt(&c.Translate.Concurrency, f.Translate.Concurrency)
	setInt(&c.Translate.RequestsPerSecond, f.Translate.RequestsPerSecond)
	setInt(&c.Translate.RequestsPerMinute, f.Translate.RequestsPerMinute)
	setInt(&c.Translate.BatchSize, f.Translate.BatchSize)

	setString(&c.Watch.CronExpr, f.Watch.CronExpr)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setLang(dst *language.Tag, v string) error {
	if v == "" {
		return nil
	}
	tag, err := language.Parse(v)
	if err != nil {
		return err
	}
	*dst = tag
	return nil
}
