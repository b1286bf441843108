package store

import (
	"context"
	"errors"

	"taskstream/internal/types"
)

type AppStateStore interface {
	Load(ctx context.Context, userID int64) (*types.AppState, error)
	Save(ctx context.Context, state *types.AppState) error
}

type FileAppStateStore struct {
	file *stateFile
}

func NewFileAppStateStore(path string) *FileAppStateStore {
	return &FileAppStateStore{file: newStateFile(path)}
}

func (s *FileAppStateStore) Load(ctx context.Context, userID int64) (*types.AppState, error) {
	state := &types.AppState{UserID: userID}
	err := s.file.view(func(data *stateFileData) error {
		if existing, ok := data.AppStates[userID]; ok && existing != nil {
			*state = *existing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *FileAppStateStore) Save(ctx context.Context, state *types.AppState) error {
	if state == nil {
		return errors.New("state is required")
	}
	copy := *state
	return s.file.update(func(data *stateFileData) (bool, error) {
		data.AppStates[copy.UserID] = &copy
		return true, nil
	})
}
