// Package config loads ~/.counter-deck/config.toml.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment overrides.
const (
	EnvConfigPath = "COUNTER_DECK_CONFIG"
	EnvLogLevel   = "COUNTER_DECK_LOG_LEVEL"
)

// Config is the full configuration file.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Store   StoreConfig   `toml:"store"`
	Host    HostConfig    `toml:"host"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error". Default: "info".
	Level string `toml:"level"`
}

// StoreConfig controls where the counter is persisted.
type StoreConfig struct {
	// Path of the store file. Default: ~/.counter-deck/store.toml
	Path string `toml:"path"`
	// Watch re-reads the store when another process edits it.
	Watch bool `toml:"watch"`
}

// HostConfig controls the host process.
type HostConfig struct {
	// ListenAddr is where secondary windows connect. Loopback only.
	// Default: 127.0.0.1:0 (random port)
	ListenAddr string `toml:"listen_addr"`
	// RelayDir is the base directory for relative write-to-file names.
	// Empty means the working directory.
	RelayDir string `toml:"relay_dir"`
}

// Package-level hooks for testing.
var (
	getEnvVar   = os.Getenv
	userHomeDir = os.UserHomeDir
)

// DefaultPath returns the config path, honouring COUNTER_DECK_CONFIG.
func DefaultPath() string {
	if p := getEnvVar(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(baseDir(), "config.toml")
}

func baseDir() string {
	home, err := userHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".counter-deck")
	}
	return filepath.Join(home, ".counter-deck")
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Path:  filepath.Join(baseDir(), "store.toml"),
			Watch: true,
		},
		Host: HostConfig{
			ListenAddr: "127.0.0.1:0",
		},
	}
}

// Load reads the config at path. A missing or unparsable file yields the
// defaults; other read errors are returned with the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		applyEnv(cfg)
		return cfg, err
	}

	// Decode over the defaults so absent keys keep their default value.
	if _, err := toml.Decode(string(data), cfg); err != nil {
		cfg = Defaults()
	}

	normalize(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Logging.Level = normalizeLevel(cfg.Logging.Level)

	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = filepath.Join(baseDir(), "store.toml")
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)

	if cfg.Host.ListenAddr == "" {
		cfg.Host.ListenAddr = "127.0.0.1:0"
	}
	cfg.Host.RelayDir = expandHome(cfg.Host.RelayDir)
}

func applyEnv(cfg *Config) {
	if lvl := getEnvVar(EnvLogLevel); lvl != "" {
		cfg.Logging.Level = normalizeLevel(lvl)
	}
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "debug", "info", "warn", "error":
		return level
	case "warning":
		return "warn"
	default:
		return "info"
	}
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := userHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// EnsureFile writes the defaults to path when no config file exists yet, so
// users have a file to edit. It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return false, err
	}
	if err := Save(path, Defaults()); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# counter-deck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}
