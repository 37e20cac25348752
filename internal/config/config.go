package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.campus/config.toml.
type Config struct {
	DefaultProfile string             `toml:"default_profile"`
	Backend        BackendConfig      `toml:"backend"`
	Cache          CacheConfig        `toml:"cache"`
	Connectivity   ConnectivityConfig `toml:"connectivity"`
	Typing         TypingConfig       `toml:"typing"`
	Notifications  NotifyConfig       `toml:"notifications"`
}

// BackendConfig locates the remote campus service.
type BackendConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// CacheConfig holds the freshness window for each cache namespace.
type CacheConfig struct {
	Events        Duration `toml:"events"`
	Posts         Duration `toml:"posts"`
	Profile       Duration `toml:"profile"`
	Courses       Duration `toml:"courses"`
	Notifications Duration `toml:"notifications"`
	Messages      Duration `toml:"messages"`
}

// ConnectivityConfig tunes reachability change detection.
type ConnectivityConfig struct {
	Settle Duration `toml:"settle"`
}

// TypingConfig holds the typing indicator timers.
type TypingConfig struct {
	Idle   Duration `toml:"idle"`
	Expiry Duration `toml:"expiry"`
}

// NotifyConfig toggles user-facing notifications.
type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration is a time.Duration that reads and writes Go duration strings ("5m", "2s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Events:        Duration{5 * time.Minute},
			Posts:         Duration{5 * time.Minute},
			Profile:       Duration{24 * time.Hour},
			Courses:       Duration{24 * time.Hour},
			Notifications: Duration{2 * time.Minute},
			Messages:      Duration{time.Minute},
		},
		Connectivity:  ConnectivityConfig{Settle: Duration{500 * time.Millisecond}},
		Typing:        TypingConfig{Idle: Duration{2 * time.Second}, Expiry: Duration{3 * time.Second}},
		Notifications: NotifyConfig{Enabled: true},
	}
}

// Load reads config from the given path on top of the defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overlays backend settings from the environment. Variables found in
// envFile (if it exists) are loaded first without overriding the real environment.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if v := os.Getenv("CAMPUS_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CAMPUS_BACKEND_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("CAMPUS_USER_ID"); v != "" {
		c.Backend.UserID = v
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
