// Package config provides configuration management for the pattern scanner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"pattern-scanner/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Volume     VolumeConfig     `mapstructure:"volume"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Stability  StabilityConfig  `mapstructure:"stability"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Templates  []TemplateConfig `mapstructure:"templates"`
}

// EngineConfig holds window and gating parameters.
type EngineConfig struct {
	WindowSize    int     `mapstructure:"window_size"`
	ExtremaOrder  int     `mapstructure:"extrema_order"`
	MinVolatility float64 `mapstructure:"min_volatility"`
}

// VolumeConfig holds breakout volume confirmation parameters.
type VolumeConfig struct {
	Lookback   int     `mapstructure:"lookback"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// ProjectionConfig holds target projection parameters.
type ProjectionConfig struct {
	Factor    float64 `mapstructure:"factor"`
	Steps     int     `mapstructure:"steps"`
	StartX    float64 `mapstructure:"start_x"`
	NecklineX float64 `mapstructure:"neckline_x"`
	DeadlineX float64 `mapstructure:"deadline_x"`
	Jitter    float64 `mapstructure:"jitter"`
	Seed      int64   `mapstructure:"seed"` // 0 seeds from the clock
}

// StabilityConfig holds hysteresis gate parameters.
type StabilityConfig struct {
	ReinforceStep      int     `mapstructure:"reinforce_step"`
	DecayStep          int     `mapstructure:"decay_step"`
	MaxStability       int     `mapstructure:"max_stability"`
	LockThreshold      int     `mapstructure:"lock_threshold"`
	OverrideConfidence float64 `mapstructure:"override_confidence"`
	DisplayConfidence  float64 `mapstructure:"display_confidence"`
	DisplayStability   int     `mapstructure:"display_stability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            bool          `mapstructure:"cors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// StoreConfig holds candle store configuration.
type StoreConfig struct {
	DBPath  string        `mapstructure:"db_path"`
	Circuit CircuitConfig `mapstructure:"circuit"`
}

// CircuitConfig tunes the circuit breaker in front of the candle store when serving.
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// TemplateConfig declares an extra pattern template.
type TemplateConfig struct {
	Name  string    `mapstructure:"name"`
	Shape []float64 `mapstructure:"shape"`
	Bias  string    `mapstructure:"bias"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pattern-scanner"
	}
	return filepath.Join(home, ".config", "pattern-scanner")
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Config file not found, create template and continue with defaults
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.window_size", 120)
	v.SetDefault("engine.extrema_order", 3)
	v.SetDefault("engine.min_volatility", 0.0001)

	v.SetDefault("volume.lookback", 20)
	v.SetDefault("volume.multiplier", 1.5)

	v.SetDefault("projection.factor", 0.9)
	v.SetDefault("projection.steps", 10)
	v.SetDefault("projection.start_x", 40.0)
	v.SetDefault("projection.neckline_x", 55.0)
	v.SetDefault("projection.deadline_x", 75.0)
	v.SetDefault("projection.jitter", 0.2)
	v.SetDefault("projection.seed", 0)

	v.SetDefault("stability.reinforce_step", 1)
	v.SetDefault("stability.decay_step", 2)
	v.SetDefault("stability.max_stability", 15)
	v.SetDefault("stability.lock_threshold", 5)
	v.SetDefault("stability.override_confidence", 0.99)
	v.SetDefault("stability.display_confidence", 0.45)
	v.SetDefault("stability.display_stability", 3)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors", true)

	logCfg := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logCfg.Level)
	v.SetDefault("logging.console", logCfg.Console)
	v.SetDefault("logging.file", logCfg.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "scanner.log"))
	v.SetDefault("logging.max_size", logCfg.MaxSize)
	v.SetDefault("logging.max_backups", logCfg.MaxBackups)
	v.SetDefault("logging.max_age", logCfg.MaxAge)

	v.SetDefault("store.db_path", filepath.Join(configDir, "candles.db"))
	v.SetDefault("store.circuit.failure_threshold", 5)
	v.SetDefault("store.circuit.success_threshold", 2)
	v.SetDefault("store.circuit.open_timeout", "30s")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCANNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCANNER_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SCANNER_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be at least 2")
	}
	if c.Engine.ExtremaOrder < 1 {
		return fmt.Errorf("engine.extrema_order must be positive")
	}
	if c.Engine.MinVolatility < 0 {
		return fmt.Errorf("engine.min_volatility must be non-negative")
	}

	if c.Volume.Lookback < 1 {
		return fmt.Errorf("volume.lookback must be positive")
	}
	if c.Volume.Multiplier <= 0 {
		return fmt.Errorf("volume.multiplier must be positive")
	}

	if c.Projection.Factor < 0 {
		return fmt.Errorf("projection.factor must be non-negative")
	}
	if c.Projection.Steps < 2 {
		return fmt.Errorf("projection.steps must be at least 2")
	}
	if c.Projection.Jitter < 0 {
		return fmt.Errorf("projection.jitter must be non-negative")
	}

	s := c.Stability
	if s.ReinforceStep < 1 || s.DecayStep < 1 {
		return fmt.Errorf("stability steps must be positive")
	}
	if s.MaxStability < 1 {
		return fmt.Errorf("stability.max_stability must be positive")
	}
	if s.LockThreshold < 1 || s.LockThreshold > s.MaxStability {
		return fmt.Errorf("stability.lock_threshold must be between 1 and max_stability")
	}
	if s.OverrideConfidence < 0 || s.OverrideConfidence > 1 {
		return fmt.Errorf("stability.override_confidence must be between 0 and 1")
	}
	if s.DisplayConfidence < 0 || s.DisplayConfidence > 1 {
		return fmt.Errorf("stability.display_confidence must be between 0 and 1")
	}
	if s.DisplayStability < 0 || s.DisplayStability > s.MaxStability {
		return fmt.Errorf("stability.display_stability must be between 0 and max_stability")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if cc := c.Store.Circuit; cc.FailureThreshold < 1 || cc.SuccessThreshold < 1 || cc.OpenTimeout <= 0 {
		return fmt.Errorf("store.circuit thresholds and open_timeout must be positive")
	}

	for i, t := range c.Templates {
		if t.Name == "" {
			return fmt.Errorf("templates[%d]: name is required", i)
		}
		if len(t.Shape) < 5 || len(t.Shape) > 9 {
			return fmt.Errorf("templates[%d] %s: shape must have 5 to 9 points", i, t.Name)
		}
		if t.Bias != "bullish" && t.Bias != "bearish" {
			return fmt.Errorf("templates[%d] %s: bias must be 'bullish' or 'bearish'", i, t.Name)
		}
	}

	return nil
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}
