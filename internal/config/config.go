package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	OutputDir string        `json:"output_dir"`
	LogLevel  string        `json:"log_level"`
	Audio     AudioConfig   `json:"audio"`
	Silence   SilenceConfig `json:"silence"`
	Mix       MixConfig     `json:"mix"`
}

type AudioConfig struct {
	DeviceID      string `json:"device_id"`
	MicSampleRate int    `json:"mic_sample_rate"`
}

type SilenceConfig struct {
	MicThreshold      float64 `json:"mic_threshold"`
	LoopbackThreshold float64 `json:"loopback_threshold"`
	CheckPeriodSec    int     `json:"check_period_sec"`
	AutoStopAfterSec  int     `json:"auto_stop_after_sec"`
}

type MixConfig struct {
	MinLoopbackBytes int64 `json:"min_loopback_bytes"`
	TimeoutSec       int   `json:"timeout_sec"`
}

// CheckPeriod returns the silence check period as a duration.
func (s SilenceConfig) CheckPeriod() time.Duration {
	return time.Duration(s.CheckPeriodSec) * time.Second
}

// AutoStopAfter returns the silence auto-stop window as a duration.
func (s SilenceConfig) AutoStopAfter() time.Duration {
	return time.Duration(s.AutoStopAfterSec) * time.Second
}

// Timeout returns the mix export cap as a duration.
func (m MixConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config from an explicit path, filling defaults
// for anything the file does not set.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		OutputDir: defaultOutputDir(),
		LogLevel:  "info",
		Audio: AudioConfig{
			DeviceID:      "",
			MicSampleRate: 44100,
		},
		Silence: SilenceConfig{
			MicThreshold:      0.005,
			LoopbackThreshold: 0.001,
			CheckPeriodSec:    30,
			AutoStopAfterSec:  300,
		},
		Mix: MixConfig{
			MinLoopbackBytes: 64 * 1024,
			TimeoutSec:       120,
		},
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "callrec", "config.json")
}

// defaultOutputDir returns the platform-specific recordings directory.
func defaultOutputDir() string {
	home := os.Getenv("HOME")
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
	}
	return filepath.Join(home, "Recordings")
}
