package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName = ".taskstream"
	homeEnvVar = "TASKSTREAM_HOME"
)

// DataDir returns the base data directory. TASKSTREAM_HOME overrides the
// default of ~/.taskstream.
func DataDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(homeEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// ConfigPath returns the path to config.toml.
func ConfigPath() (string, error) {
	return dataPath("config.toml")
}

// StatePath returns the path to the JSON state file used by the file backend.
func StatePath() (string, error) {
	return dataPath("state.json")
}

// DatabasePath returns the path to the bbolt database.
func DatabasePath() (string, error) {
	return dataPath("taskstream.db")
}

// StreamLogPath returns the path the stream debug log is appended to.
func StreamLogPath() (string, error) {
	return dataPath("stream.log")
}

func dataPath(name string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}
