package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultBaseURL       = "http://localhost:8000"
	defaultTimeout       = 10 * time.Second
	defaultDebounce      = 300 * time.Millisecond
	defaultSubjectPrefix = "taskstream"
	defaultBackend       = "bbolt"
)

type CoreConfig struct {
	Server  ServerConfig  `toml:"server"`
	User    UserConfig    `toml:"user"`
	Storage StorageConfig `toml:"storage"`
	Cache   CacheConfig   `toml:"cache"`
	Events  EventsConfig  `toml:"events"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
}

type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

type UserConfig struct {
	ID int64 `toml:"id"`
}

type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type CacheConfig struct {
	Debounce string `toml:"debounce"`
}

type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type DebugConfig struct {
	StreamDebug bool `toml:"stream_debug"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Server: ServerConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout.String(),
		},
		User: UserConfig{ID: 1},
		Storage: StorageConfig{
			Backend: defaultBackend,
		},
		Cache: CacheConfig{
			Debounce: defaultDebounce.String(),
		},
		Events: EventsConfig{
			SubjectPrefix: defaultSubjectPrefix,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return LoadCoreConfigFromPath(path)
}

func LoadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

// Encode renders the config as TOML.
func (c CoreConfig) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c CoreConfig) BaseURL() string {
	raw := strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	if raw == "" {
		return defaultBaseURL
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	if _, err := url.Parse(raw); err != nil {
		return defaultBaseURL
	}
	return raw
}

func (c CoreConfig) RequestTimeout() time.Duration {
	return parseDuration(c.Server.Timeout, defaultTimeout)
}

func (c CoreConfig) UserID() int64 {
	if c.User.ID <= 0 {
		return 1
	}
	return c.User.ID
}

func (c CoreConfig) StorageBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "file", "json":
		return "file"
	default:
		return defaultBackend
	}
}

// StoragePath resolves the storage location for the configured backend.
// Relative paths are taken from the data dir.
func (c CoreConfig) StoragePath() (string, error) {
	if raw := strings.TrimSpace(c.Storage.Path); raw != "" {
		return resolveConfigPath(raw)
	}
	if c.StorageBackend() == "file" {
		return StatePath()
	}
	return DatabasePath()
}

func (c CoreConfig) CacheDebounce() time.Duration {
	return parseDuration(c.Cache.Debounce, defaultDebounce)
}

func (c CoreConfig) NATSURL() string {
	return strings.TrimSpace(c.Events.NATSURL)
}

func (c CoreConfig) SubjectPrefix() string {
	prefix := strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if prefix == "" {
		return defaultSubjectPrefix
	}
	return prefix
}

func (c CoreConfig) MetricsAddr() string {
	return strings.TrimSpace(c.Metrics.Addr)
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) StreamDebugEnabled() bool {
	return c.Debug.StreamDebug
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
