package config

import (
	"os"
	"path/filepath"
)

// Socket returns the daemon's Unix domain socket path.
func (c *Config) Socket() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.DataDir, "daemon.sock")
}

// DBPath returns the daemon-owned livesync.db path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "livesync.db")
}

// DevicePath returns the whatsmeow device store path.
func (c *Config) DevicePath() string {
	return filepath.Join(c.DataDir, "device.db")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the log file of a component such as livesyncd.
func (c *Config) LogPath(component string) string {
	return filepath.Join(c.LogDir(), component+".log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
