package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState is the coarse per-session job guard. Fine-grained phases of a
// running job are reported as progress events, not stored here.
type JobState string

const (
	JobIdle       JobState = "idle"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

var ErrNotFound = errors.New("session not found")

// Participant is one connected client in a session room. Events delivers
// broadcast messages; the channel is bounded and messages are dropped when a
// slow consumer saturates it.
type Participant struct {
	ID   string
	Role string
	ch   chan any
}

func (p *Participant) Events() <-chan any { return p.ch }

type room struct {
	participants map[string]*Participant
	jobState     JobState
	lastActivity time.Time
}

// Manager is the in-memory session registry: who is connected to which
// session, and whether a mesh job is currently running for it.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*room

	onEmpty func(sessionID string)
}

func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*room)}
}

// SetEmptyHook registers a callback invoked when the last participant of a
// session disconnects.
func (m *Manager) SetEmptyHook(hook func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmpty = hook
}

// Join registers a participant and returns it along with a leave function.
func (m *Manager) Join(sessionID, role string) (*Participant, func()) {
	p := &Participant{
		ID:   uuid.NewString(),
		Role: role,
		ch:   make(chan any, 256),
	}

	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	if !ok {
		r = &room{
			participants: make(map[string]*Participant),
			jobState:     JobIdle,
		}
		m.rooms[sessionID] = r
	}
	r.participants[p.ID] = p
	r.lastActivity = time.Now().UTC()
	m.mu.Unlock()

	leave := func() {
		m.mu.Lock()
		r, ok := m.rooms[sessionID]
		if !ok {
			m.mu.Unlock()
			return
		}
		if _, ok := r.participants[p.ID]; ok {
			delete(r.participants, p.ID)
			close(p.ch)
		}
		empty := len(r.participants) == 0
		if empty && r.jobState != JobProcessing {
			delete(m.rooms, sessionID)
		}
		hook := m.onEmpty
		m.mu.Unlock()

		if empty && hook != nil {
			hook(sessionID)
		}
	}
	return p, leave
}

// Broadcast delivers msg to every participant of the session.
func (m *Manager) Broadcast(sessionID string, msg any) {
	m.broadcast(sessionID, "", msg)
}

// BroadcastExcept delivers msg to every participant except the sender.
func (m *Manager) BroadcastExcept(sessionID, senderID string, msg any) {
	m.broadcast(sessionID, senderID, msg)
}

func (m *Manager) broadcast(sessionID, skipID string, msg any) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		return
	}
	for id, p := range r.participants {
		if id == skipID {
			continue
		}
		select {
		case p.ch <- msg:
		default:
			// Slow consumer; drop rather than stall other sessions.
		}
	}
}

// TryBeginJob atomically transitions the session into JobProcessing. It
// fails when a job is already running, enforcing at most one active job per
// session.
func (m *Manager) TryBeginJob(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		r = &room{
			participants: make(map[string]*Participant),
			jobState:     JobIdle,
		}
		m.rooms[sessionID] = r
	}
	if r.jobState == JobProcessing {
		return false
	}
	r.jobState = JobProcessing
	r.lastActivity = time.Now().UTC()
	return true
}

// FinishJob records the terminal state of the session's job. A failed
// session stays joinable and can be retriggered.
func (m *Manager) FinishJob(sessionID string, state JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		return
	}
	r.jobState = state
	r.lastActivity = time.Now().UTC()
	if len(r.participants) == 0 {
		delete(m.rooms, sessionID)
	}
}

func (m *Manager) JobStateOf(sessionID string) (JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return r.jobState, nil
}

// Participants returns the roles currently connected to a session.
func (m *Manager) Participants(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		roles = append(roles, p.Role)
	}
	return roles
}

// ActiveCount reports how many sessions have at least one participant.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.rooms {
		if len(r.participants) > 0 {
			count++
		}
	}
	return count
}
