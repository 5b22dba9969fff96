package records

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("job record not found")

// Record is one archived mesh-generation run.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Strategy    string    `json:"strategy"`
	Status      string    `json:"status"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Store archives job outcomes. The in-memory implementation is the default;
// Postgres is selected when a database URL is configured.
type Store interface {
	SaveJob(ctx context.Context, rec Record) error
	GetJob(ctx context.Context, id string) (Record, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// NewStore picks the backend: Postgres when a database URL is configured,
// otherwise the in-memory archive.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Record)}
}

func (s *MemoryStore) SaveJob(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, 8)
	for _, rec := range s.jobs {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
