package clips

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps clips in process for local use.
type InMemoryStore struct {
	mu    sync.RWMutex
	clips map[string]Clip
	order []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{clips: make(map[string]Clip)}
}

func (s *InMemoryStore) Save(_ context.Context, clip Clip) (Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	clip.WAV = append([]byte(nil), clip.WAV...)
	if _, exists := s.clips[clip.ID]; !exists {
		s.order = append(s.order, clip.ID)
	}
	s.clips[clip.ID] = clip
	return clip, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clip, ok := s.clips[id]
	if !ok {
		return Clip{}, ErrNotFound
	}
	clip.WAV = append([]byte(nil), clip.WAV...)
	return clip, nil
}

func (s *InMemoryStore) List(_ context.Context, sessionID string, limit int) ([]Clip, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Clip, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		clip := s.clips[s.order[i]]
		if sessionID != "" && clip.SessionID != sessionID {
			continue
		}
		clip.WAV = nil
		out = append(out, clip)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SetTranscript(_ context.Context, id, transcript string, redacted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip, ok := s.clips[id]
	if !ok {
		return ErrNotFound
	}
	clip.Transcript = transcript
	clip.PIIRedacted = redacted
	s.clips[id] = clip
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
