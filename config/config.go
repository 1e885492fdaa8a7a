// Package config loads chart settings from an optional YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chartcore/internal/downsample"
	"chartcore/internal/indicator"
	"chartcore/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Symbol     string  `yaml:"symbol"`
	TF         string  `yaml:"timeframe"`
	LogLevel   string  `yaml:"log_level"`
	Indicators string  `yaml:"indicators"` // TYPE:PERIOD[:K],...
	BollingerK float64 `yaml:"bollinger_k"`
	MaxBars    int     `yaml:"max_bars"` // 0 keeps every bar
	PixelWidth int     `yaml:"pixel_width"`
	RenderMode string  `yaml:"render_mode"`
	SQLitePath string  `yaml:"sqlite_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Symbol:     "DEMO",
		TF:         "1m",
		LogLevel:   "info",
		Indicators: "EMA:20,SMA:50,BB:20,RSI:14",
		BollingerK: indicator.DefaultBollingerK,
		PixelWidth: 800,
		RenderMode: string(downsample.ModeAuto),
		SQLitePath: "data/bars.db",
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then environment variables. A .env file in the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Symbol = getEnv("CHART_SYMBOL", c.Symbol)
	c.TF = getEnv("CHART_TIMEFRAME", c.TF)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Indicators = getEnv("CHART_INDICATORS", c.Indicators)
	c.RenderMode = getEnv("CHART_RENDER_MODE", c.RenderMode)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	var err error
	if c.MaxBars, err = getEnvInt("CHART_MAX_BARS", c.MaxBars); err != nil {
		return err
	}
	if c.PixelWidth, err = getEnvInt("CHART_PIXEL_WIDTH", c.PixelWidth); err != nil {
		return err
	}
	return nil
}

// Validate checks every field that has a constrained domain.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", model.ErrInvalidParameter)
	}
	if _, err := c.Timeframe(); err != nil {
		return err
	}
	if _, err := c.IndicatorConfigs(); err != nil {
		return err
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.MaxBars < 0 {
		return fmt.Errorf("%w: max_bars %d", model.ErrInvalidParameter, c.MaxBars)
	}
	if c.PixelWidth <= 0 {
		return fmt.Errorf("%w: pixel_width %d", model.ErrInvalidParameter, c.PixelWidth)
	}
	return nil
}

// Timeframe parses the configured base timeframe.
func (c *Config) Timeframe() (model.Timeframe, error) {
	tf, err := model.ParseTimeframe(c.TF)
	if err != nil {
		return 0, fmt.Errorf("config timeframe: %w", err)
	}
	return tf, nil
}

// IndicatorConfigs parses the indicator list. BollingerK applies to BB
// entries that do not carry their own multiplier.
func (c *Config) IndicatorConfigs() ([]indicator.Config, error) {
	cfgs, err := indicator.ParseConfigs(c.Indicators, c.BollingerK)
	if err != nil {
		return nil, fmt.Errorf("config indicators: %w", err)
	}
	return cfgs, nil
}

// Mode parses the render mode.
func (c *Config) Mode() (downsample.Mode, error) {
	return downsample.ParseMode(c.RenderMode)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", model.ErrInvalidParameter, key, v)
	}
	return n, nil
}
