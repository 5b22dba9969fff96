package store

import (
	"errors"
	"os"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestEnsureIdempotentAndConcurrent(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Ensure("room-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Ensure() error = %v", err)
	}
}

func TestSaveFrameOrderingAcrossSessions(t *testing.T) {
	s := newTestStore(t)
	// Interleave writes to two sessions; each must keep its own order.
	for i := 0; i < 5; i++ {
		if _, _, err := s.SaveFrame("alpha", []byte{byte(i)}); err != nil {
			t.Fatalf("SaveFrame(alpha) error = %v", err)
		}
		if _, _, err := s.SaveFrame("beta", []byte{byte(i)}); err != nil {
			t.Fatalf("SaveFrame(beta) error = %v", err)
		}
	}
	for _, id := range []string{"alpha", "beta"} {
		frames, err := s.ListFrames(id)
		if err != nil {
			t.Fatalf("ListFrames(%s) error = %v", id, err)
		}
		if len(frames) != 5 {
			t.Fatalf("ListFrames(%s) len = %d, want 5", id, len(frames))
		}
		for i, f := range frames {
			if f.Seq != i+1 {
				t.Fatalf("%s frame %d seq = %d, want %d", id, i, f.Seq, i+1)
			}
		}
	}
}

func TestSaveFrameCountRecomputedFromDisk(t *testing.T) {
	s := newTestStore(t)
	for want := 1; want <= 3; want++ {
		_, count, err := s.SaveFrame("room", []byte("jpg"))
		if err != nil {
			t.Fatalf("SaveFrame() error = %v", err)
		}
		if count != want {
			t.Fatalf("count = %d, want %d", count, want)
		}
	}
}

func TestListFramesEmptyForUnknownSession(t *testing.T) {
	s := newTestStore(t)
	frames, err := s.ListFrames("nothing-here")
	if err != nil {
		t.Fatalf("ListFrames() error = %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("len = %d, want 0", len(frames))
	}
}

func TestListFramesExcludesArtifact(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.SaveFrame("room", []byte("jpg")); err != nil {
		t.Fatalf("SaveFrame() error = %v", err)
	}
	path, err := s.ArtifactPath("room", "stl")
	if err != nil {
		t.Fatalf("ArtifactPath() error = %v", err)
	}
	if err := writeFileHelper(path); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	frames, err := s.ListFrames("room")
	if err != nil {
		t.Fatalf("ListFrames() error = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len = %d, want 1 (artifact must not be listed)", len(frames))
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.SaveFrame("room", []byte("jpg")); err != nil {
		t.Fatalf("SaveFrame() error = %v", err)
	}
	for _, name := range []string{"../room/frame_000001.jpg", "..", "a/b.jpg", `a\b.jpg`, ""} {
		if _, err := s.Resolve("room", name); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Resolve(%q) error = %v, want ErrInvalidPath", name, err)
		}
	}
	if _, err := s.Resolve("../room", "frame_000001.jpg"); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("traversal session id error = %v, want ErrInvalidSessionID", err)
	}
}

func TestResolveFoundAndMissing(t *testing.T) {
	s := newTestStore(t)
	frame, _, err := s.SaveFrame("room", []byte("jpg"))
	if err != nil {
		t.Fatalf("SaveFrame() error = %v", err)
	}
	if _, err := s.Resolve("room", frame.Name); err != nil {
		t.Fatalf("Resolve(%q) error = %v", frame.Name, err)
	}
	if _, err := s.Resolve("room", "ghost.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file error = %v, want ErrNotFound", err)
	}
}

func TestValidateSessionID(t *testing.T) {
	for _, id := range []string{"", ".", "..", "a/b", "a b", "a:b"} {
		if err := validateSessionID(id); err == nil {
			t.Fatalf("validateSessionID(%q) = nil, want error", id)
		}
	}
	for _, id := range []string{"room-1", "ROOM_2", "abc123"} {
		if err := validateSessionID(id); err != nil {
			t.Fatalf("validateSessionID(%q) = %v, want nil", id, err)
		}
	}
}

func writeFileHelper(path string) error {
	return os.WriteFile(path, []byte("solid"), 0o644)
}
