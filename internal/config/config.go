// Package config provides configuration management for the intake
// console.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Call    CallConfig    `mapstructure:"call"`
	Payment PaymentConfig `mapstructure:"payment"`
	Log     LogConfig     `mapstructure:"log"`
}

// BackendConfig points at the consultation backend.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TraceConfig tunes the realtime trace channel.
type TraceConfig struct {
	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// CallConfig tunes voice turn-taking.
type CallConfig struct {
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	CalibrationWindow time.Duration `mapstructure:"calibration_window"`
	SilenceWindow     time.Duration `mapstructure:"silence_window"`
	MaxTurnDuration   time.Duration `mapstructure:"max_turn_duration"`
	NoiseFloorMin     float64       `mapstructure:"noise_floor_min"`
	SpeechMargin      float64       `mapstructure:"speech_margin"`
	BargeInMargin     float64       `mapstructure:"barge_in_margin"`
	BargeInConfirm    time.Duration `mapstructure:"barge_in_confirm"`
}

// PaymentConfig tunes checkout polling.
type PaymentConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultConfig returns sensible defaults for a local backend.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Trace: TraceConfig{
			ReconnectBase: time.Second,
			MaxAttempts:   5,
		},
		Call: CallConfig{
			SampleInterval:    50 * time.Millisecond,
			CalibrationWindow: 800 * time.Millisecond,
			SilenceWindow:     1500 * time.Millisecond,
			MaxTurnDuration:   15 * time.Second,
			NoiseFloorMin:     0.01,
			SpeechMargin:      0.025,
			BargeInMargin:     0.05,
			BargeInConfirm:    400 * time.Millisecond,
		},
		Payment: PaymentConfig{
			PollInterval: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads configuration from file and environment. Missing files
// fall back to defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".medisync"))
	}

	v.SetEnvPrefix("MEDISYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
