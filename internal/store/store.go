package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound         = errors.New("file not found in session storage")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidPath      = errors.New("path escapes session storage")
)

const (
	framePrefix = "frame_"
	frameExt    = ".jpg"

	// ArtifactBase is the filename stem of the generated mesh inside a
	// session directory; the extension depends on the strategy.
	ArtifactBase = "reconstruction"
)

// Frame is one captured image on disk. Seq reflects arrival order.
type Frame struct {
	Name string
	Path string
	Seq  int
}

// Store maps session ids to directories of captured frames under a single
// upload root. Writes within one session are serialized; sessions are
// independent.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("upload root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Root() string { return s.root }

// Ensure creates the session directory if absent. Safe to call concurrently
// for the same id.
func (s *Store) Ensure(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// SaveFrame writes one frame under the next sequence-derived name and
// returns the resulting on-disk frame count. Names are zero-padded so
// lexicographic order matches arrival order.
func (s *Store) SaveFrame(sessionID string, data []byte) (Frame, int, error) {
	lock, err := s.sessionLock(sessionID)
	if err != nil {
		return Frame{}, 0, err
	}
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.Ensure(sessionID)
	if err != nil {
		return Frame{}, 0, err
	}
	frames, err := listFramesDir(dir)
	if err != nil {
		return Frame{}, 0, err
	}
	seq := 1
	if n := len(frames); n > 0 {
		seq = frames[n-1].Seq + 1
	}
	name := fmt.Sprintf("%s%06d%s", framePrefix, seq, frameExt)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Frame{}, 0, fmt.Errorf("write frame: %w", err)
	}
	now := time.Now()
	_ = os.Chtimes(dir, now, now)
	return Frame{Name: name, Path: path, Seq: seq}, len(frames) + 1, nil
}

// ListFrames returns the session's captured frames in arrival order. A
// session with no frames (or no directory yet) yields an empty slice.
func (s *Store) ListFrames(sessionID string) ([]Frame, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, sessionID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return []Frame{}, nil
		}
		return nil, err
	}
	return listFramesDir(dir)
}

// Resolve maps a filename inside a session directory to its absolute path,
// rejecting anything that would escape the session's storage.
func (s *Store) Resolve(sessionID, filename string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	if filename == "" || filename != filepath.Base(filename) ||
		filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return "", ErrInvalidPath
	}
	dir := filepath.Join(s.root, sessionID)
	path := filepath.Join(dir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// ArtifactPath is where the generated mesh for a session is written.
func (s *Store) ArtifactPath(sessionID, ext string) (string, error) {
	dir, err := s.Ensure(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ArtifactBase+"."+strings.TrimPrefix(ext, ".")), nil
}

// Touch bumps the session directory's modification time, which the janitor
// uses as the last-activity clock.
func (s *Store) Touch(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	now := time.Now()
	return os.Chtimes(filepath.Join(s.root, sessionID), now, now)
}

// Remove deletes a session directory and everything in it.
func (s *Store) Remove(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, sessionID))
}

func (s *Store) sessionLock(sessionID string) (*sync.Mutex, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock, nil
}

func listFramesDir(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, frameExt) {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(name, framePrefix+"%06d"+frameExt, &seq); err != nil {
			continue
		}
		frames = append(frames, Frame{Name: name, Path: filepath.Join(dir, name), Seq: seq})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Seq < frames[j].Seq })
	return frames, nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." {
		return ErrInvalidSessionID
	}
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return ErrInvalidSessionID
		}
	}
	return nil
}
