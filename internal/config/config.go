// Package config loads ~/.livesync/config.toml.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.livesync/config.toml.
type Config struct {
	DataDir    string `toml:"data_dir"`
	SocketPath string `toml:"socket_path"`
	LogLevel   string `toml:"log_level"`

	Thread        Thread        `toml:"thread"`
	Conversations Conversations `toml:"conversations"`
	Resync        Resync        `toml:"resync"`
	WhatsApp      WhatsApp      `toml:"whatsapp"`
	Metrics       Metrics       `toml:"metrics"`
	NATS          NATS          `toml:"nats"`
}

// Thread tunes the message thread view.
type Thread struct {
	PageSize          int      `toml:"page_size"`
	Overscan          int      `toml:"overscan"`
	BottomThreshold   int      `toml:"bottom_threshold"`
	EstimateRowHeight int      `toml:"estimate_row_height"`
	SendTimeout       Duration `toml:"send_timeout"`
}

// Conversations tunes the conversation list view.
type Conversations struct {
	RowHeight int `toml:"row_height"`
	Overscan  int `toml:"overscan"`
	PageSize  int `toml:"page_size"`
}

// Resync bounds the backoff between resubscribe attempts.
type Resync struct {
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// WhatsApp configures the WhatsApp connection of the daemon. When disabled,
// sends are accepted locally.
type WhatsApp struct {
	Enabled    bool   `toml:"enabled"`
	DeviceName string `toml:"device_name"`
}

// Metrics configures the Prometheus endpoint. Empty disables it.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// NATS configures the optional change event mirror. Empty URL disables it.
type NATS struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Duration is a time.Duration written as a string such as "250ms".
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
		DataDir:  filepath.Join(homeDir(), ".livesync"),
		LogLevel: "info",
		Thread: Thread{
			PageSize:          200,
			Overscan:          5,
			BottomThreshold:   2,
			EstimateRowHeight: 2,
			SendTimeout:       Duration{30 * time.Second},
		},
		Conversations: Conversations{
			RowHeight: 2,
			Overscan:  3,
			PageSize:  200,
		},
		Resync: Resync{
			InitialBackoff: Duration{250 * time.Millisecond},
			MaxBackoff:     Duration{10 * time.Second},
		},
		WhatsApp: WhatsApp{
			Enabled:    true,
			DeviceName: "livesync",
		},
		NATS: NATS{
			SubjectPrefix: "livesync",
		},
	}
}

// DefaultPath returns ~/.livesync/config.toml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".livesync", "config.toml")
}

// Load reads config from the given path. Keys missing from the file keep
// their defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.DataDir = expand(cfg.DataDir)
	cfg.SocketPath = expand(cfg.SocketPath)
	return cfg, nil
}

// Resolve loads path, falling back to defaults when the file does not exist.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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

func homeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

func expand(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(homeDir(), rest)
	}
	return p
}
