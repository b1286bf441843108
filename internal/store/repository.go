package store

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	RepositoryBackendFile  = "file"
	RepositoryBackendBbolt = "bbolt"
)

var ErrNotFound = errors.New("not found")

// Repository groups the stores the conversation engine persists to.
// Transcripts are scoped to SessionID; the ledger and app state are not.
type Repository interface {
	Ledger() LedgerStore
	AppState() AppStateStore
	Transcripts() TranscriptStore
	Backend() string
	SessionID() string
	Close() error
}

type RepositoryPaths struct {
	StatePath string
	DBPath    string
}

type RepositoryOptions struct {
	// SessionID scopes the transcript cache. When empty a fresh id is
	// generated and that session's transcripts are dropped on Close.
	SessionID string
}

func (o RepositoryOptions) session() (id string, ephemeral bool) {
	if id := strings.TrimSpace(o.SessionID); id != "" {
		return id, false
	}
	return uuid.NewString(), true
}

type fileRepository struct {
	sessionID   string
	ledger      *FileLedgerStore
	appState    *FileAppStateStore
	transcripts *MemoryTranscriptStore
}

// NewFileRepository keeps the ledger and app state in one JSON file and the
// transcript cache in memory, so transcripts never outlive the process.
func NewFileRepository(paths RepositoryPaths, opts RepositoryOptions) Repository {
	sessionID, _ := opts.session()
	state := newStateFile(paths.StatePath)
	return &fileRepository{
		sessionID:   sessionID,
		ledger:      &FileLedgerStore{file: state},
		appState:    &FileAppStateStore{file: state},
		transcripts: NewMemoryTranscriptStore(),
	}
}

func (r *fileRepository) Ledger() LedgerStore {
	return r.ledger
}

func (r *fileRepository) AppState() AppStateStore {
	return r.appState
}

func (r *fileRepository) Transcripts() TranscriptStore {
	return r.transcripts
}

func (r *fileRepository) Backend() string {
	return RepositoryBackendFile
}

func (r *fileRepository) SessionID() string {
	return r.sessionID
}

func (r *fileRepository) Close() error {
	r.transcripts.reset()
	return nil
}

func OpenRepository(paths RepositoryPaths, backend string, opts RepositoryOptions) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendBbolt:
		if strings.TrimSpace(paths.DBPath) == "" {
			return nil, errors.New("db path is required for bbolt repository")
		}
		return NewBboltRepository(paths.DBPath, opts)
	case RepositoryBackendFile:
		if strings.TrimSpace(paths.StatePath) == "" {
			return nil, errors.New("state path is required for file repository")
		}
		return NewFileRepository(paths, opts), nil
	default:
		return nil, errors.New("unsupported repository backend: " + backend)
	}
}
