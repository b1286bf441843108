package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"taskstream/internal/types"
)

const stateSchemaVersion = 1

type stateFileData struct {
	Version   int                                      `json:"version"`
	AppStates map[int64]*types.AppState                `json:"app_states"`
	Ledgers   map[int64]map[string]types.PendingAction `json:"ledgers"`
}

// stateFile serializes every access to one JSON document. The ledger and
// app state stores share it.
type stateFile struct {
	path string
	mu   sync.Mutex
}

func newStateFile(path string) *stateFile {
	return &stateFile{path: path}
}

func (f *stateFile) load() (*stateFileData, error) {
	data := &stateFileData{}
	if err := readJSON(f.path, data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if data.AppStates == nil {
		data.AppStates = map[int64]*types.AppState{}
	}
	if data.Ledgers == nil {
		data.Ledgers = map[int64]map[string]types.PendingAction{}
	}
	return data, nil
}

func (f *stateFile) view(fn func(*stateFileData) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	return fn(data)
}

func (f *stateFile) update(fn func(*stateFileData) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	changed, err := fn(data)
	if err != nil || !changed {
		return err
	}
	data.Version = stateSchemaVersion
	return writeJSONAtomic(f.path, data)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty file")
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(file.Name())
	}()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), path)
}
