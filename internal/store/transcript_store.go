package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"taskstream/internal/types"
)

// TranscriptStore caches dialogue transcripts for the current session.
type TranscriptStore interface {
	Load(ctx context.Context, userID, dialogueID int64) ([]types.Message, bool, error)
	Save(ctx context.Context, userID, dialogueID int64, messages []types.Message) error
	Delete(ctx context.Context, userID, dialogueID int64) error
	List(ctx context.Context, userID int64) ([]int64, error)
}

type transcriptKey struct {
	userID     int64
	dialogueID int64
}

// MemoryTranscriptStore holds encoded transcripts so callers never share
// slices with the cache.
type MemoryTranscriptStore struct {
	mu    sync.Mutex
	items map[transcriptKey][]byte
}

func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{items: map[transcriptKey][]byte{}}
}

func (s *MemoryTranscriptStore) Load(ctx context.Context, userID, dialogueID int64) ([]types.Message, bool, error) {
	s.mu.Lock()
	raw, ok := s.items[transcriptKey{userID, dialogueID}]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	messages, err := decodeTranscript(raw)
	if err != nil {
		return nil, false, err
	}
	return messages, true, nil
}

func (s *MemoryTranscriptStore) Save(ctx context.Context, userID, dialogueID int64, messages []types.Message) error {
	raw, err := encodeTranscript(messages)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[transcriptKey{userID, dialogueID}] = raw
	return nil
}

func (s *MemoryTranscriptStore) Delete(ctx context.Context, userID, dialogueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := transcriptKey{userID, dialogueID}
	if _, ok := s.items[key]; !ok {
		return ErrNotFound
	}
	delete(s.items, key)
	return nil
}

func (s *MemoryTranscriptStore) List(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0)
	for key := range s.items {
		if key.userID == userID {
			out = append(out, key.dialogueID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryTranscriptStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[transcriptKey][]byte{}
}

func encodeTranscript(messages []types.Message) ([]byte, error) {
	if messages == nil {
		messages = []types.Message{}
	}
	return json.Marshal(messages)
}

func decodeTranscript(raw []byte) ([]types.Message, error) {
	messages := []types.Message{}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
