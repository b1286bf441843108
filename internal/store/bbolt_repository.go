package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"taskstream/internal/types"
)

var (
	bucketAppState    = []byte("app_state")
	bucketLedger      = []byte("ledger")
	bucketTranscripts = []byte("transcripts")
)

type bboltRepository struct {
	db          *bolt.DB
	sessionID   string
	ephemeral   bool
	ledger      LedgerStore
	appState    AppStateStore
	transcripts TranscriptStore
}

// NewBboltRepository opens path and drops transcripts cached by any other
// session.
func NewBboltRepository(path string, opts RepositoryOptions) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	sessionID, ephemeral := opts.session()
	if err := purgeOtherSessions(db, sessionID); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:          db,
		sessionID:   sessionID,
		ephemeral:   ephemeral,
		ledger:      &bboltLedgerStore{db: db},
		appState:    &bboltAppStateStore{db: db},
		transcripts: &bboltTranscriptStore{db: db, sessionID: sessionID},
	}, nil
}

func (r *bboltRepository) Ledger() LedgerStore {
	return r.ledger
}

func (r *bboltRepository) AppState() AppStateStore {
	return r.appState
}

func (r *bboltRepository) Transcripts() TranscriptStore {
	return r.transcripts
}

func (r *bboltRepository) Backend() string {
	return RepositoryBackendBbolt
}

func (r *bboltRepository) SessionID() string {
	return r.sessionID
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	var dropErr error
	if r.ephemeral {
		dropErr = r.db.Update(func(tx *bolt.Tx) error {
			return deletePrefix(tx.Bucket(bucketTranscripts), sessionPrefix(r.sessionID))
		})
	}
	return errors.Join(dropErr, r.db.Close())
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAppState, bucketLedger, bucketTranscripts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func purgeOtherSessions(db *bolt.DB, sessionID string) error {
	keep := sessionPrefix(sessionID)
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscripts)
		var stale [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			if !bytes.HasPrefix(k, keep) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	if b == nil {
		return nil
	}
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func userKey(userID int64) []byte {
	return []byte(strconv.FormatInt(userID, 10))
}

func ledgerUserPrefix(userID int64) []byte {
	return []byte(strconv.FormatInt(userID, 10) + "\x00")
}

func ledgerKey(userID int64, actionID string) []byte {
	return append(ledgerUserPrefix(userID), actionID...)
}

func sessionPrefix(sessionID string) []byte {
	return []byte(sessionID + "\x00")
}

func transcriptUserPrefix(sessionID string, userID int64) []byte {
	return []byte(fmt.Sprintf("%s\x00%d\x00", sessionID, userID))
}

func transcriptKeyBytes(sessionID string, userID, dialogueID int64) []byte {
	return append(transcriptUserPrefix(sessionID, userID), strconv.FormatInt(dialogueID, 10)...)
}

type bboltLedgerStore struct {
	db *bolt.DB
}

func (s *bboltLedgerStore) Load(ctx context.Context, userID int64) (map[string]types.PendingAction, error) {
	var out map[string]types.PendingAction
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = readLedger(tx.Bucket(bucketLedger), userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltLedgerStore) Update(ctx context.Context, userID int64, fn func(entries map[string]types.PendingAction) (bool, error)) error {
	if fn == nil {
		return errors.New("update func is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		if b == nil {
			return errors.New("ledger bucket missing")
		}
		entries, err := readLedger(b, userID)
		if err != nil {
			return err
		}
		changed, err := fn(entries)
		if err != nil || !changed {
			return err
		}
		if err := deletePrefix(b, ledgerUserPrefix(userID)); err != nil {
			return err
		}
		for id, entry := range entries {
			entry.ActionID = id
			raw, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put(ledgerKey(userID, id), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func readLedger(b *bolt.Bucket, userID int64) (map[string]types.PendingAction, error) {
	out := map[string]types.PendingAction{}
	if b == nil {
		return out, nil
	}
	prefix := ledgerUserPrefix(userID)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var entry types.PendingAction
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil, err
		}
		out[string(k[len(prefix):])] = entry
	}
	return out, nil
}

type bboltAppStateStore struct {
	db *bolt.DB
}

func (s *bboltAppStateStore) Load(ctx context.Context, userID int64) (*types.AppState, error) {
	state := &types.AppState{UserID: userID}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return nil
		}
		raw := b.Get(userKey(userID))
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *bboltAppStateStore) Save(ctx context.Context, state *types.AppState) error {
	if state == nil {
		return errors.New("state is required")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return errors.New("app state bucket missing")
		}
		return b.Put(userKey(state.UserID), raw)
	})
}

type bboltTranscriptStore struct {
	db        *bolt.DB
	sessionID string
}

func (s *bboltTranscriptStore) Load(ctx context.Context, userID, dialogueID int64) ([]types.Message, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscripts)
		if b == nil {
			return nil
		}
		if v := b.Get(transcriptKeyBytes(s.sessionID, userID, dialogueID)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}
	messages, err := decodeTranscript(raw)
	if err != nil {
		return nil, false, err
	}
	return messages, true, nil
}

func (s *bboltTranscriptStore) Save(ctx context.Context, userID, dialogueID int64, messages []types.Message) error {
	raw, err := encodeTranscript(messages)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscripts)
		if b == nil {
			return errors.New("transcripts bucket missing")
		}
		return b.Put(transcriptKeyBytes(s.sessionID, userID, dialogueID), raw)
	})
}

func (s *bboltTranscriptStore) Delete(ctx context.Context, userID, dialogueID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscripts)
		if b == nil {
			return errors.New("transcripts bucket missing")
		}
		key := transcriptKeyBytes(s.sessionID, userID, dialogueID)
		if b.Get(key) == nil {
			return ErrNotFound
		}
		return b.Delete(key)
	})
}

func (s *bboltTranscriptStore) List(ctx context.Context, userID int64) ([]int64, error) {
	out := make([]int64, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscripts)
		if b == nil {
			return nil
		}
		prefix := transcriptUserPrefix(s.sessionID, userID)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id, err := strconv.ParseInt(string(k[len(prefix):]), 10, 64)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
