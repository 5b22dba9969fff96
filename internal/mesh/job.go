package mesh

import (
	"context"
	"errors"
	"fmt"
)

// Origin discriminates how an artifact was produced.
type Origin string

const (
	OriginRemote      Origin = "remote"
	OriginLocal       Origin = "local"
	OriginPlaceholder Origin = "placeholder"
	OriginMock        Origin = "mock"
)

var (
	ErrNoFrames           = errors.New("no captured frames")
	ErrInsufficientFrames = errors.New("need at least 3 frames for hull carving")
	ErrCloudSync          = errors.New("cloud sync failed")
	ErrTimedOut           = errors.New("generation timed out")
	ErrNoModelURL         = errors.New("task succeeded without a model url")
)

// SubmitError is a non-zero response code from the generation provider when
// submitting a task.
type SubmitError struct {
	Code int
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("task submit rejected with code %d", e.Code)
}

// TaskFailedError is a terminal provider status other than success.
type TaskFailedError struct {
	Status string
}

func (e *TaskFailedError) Error() string {
	return "task " + e.Status
}

// Request describes one generation run for a session.
type Request struct {
	SessionID string
	// FramePaths are the captured frames in arrival order.
	FramePaths []string
	// ArtifactPath is where a produced or downloaded mesh is written.
	ArtifactPath string
}

// Artifact references the generated mesh. URL is either a filename relative
// to the session's storage (servable via /files) or an absolute URL.
type Artifact struct {
	URL    string
	Origin Origin
}

// Job is one mesh-generation strategy. Generate blocks until the artifact
// is ready or a terminal error occurs, reporting coarse progress at phase
// transitions only.
type Job interface {
	Generate(ctx context.Context, req Request, progress func(step string)) (Artifact, error)
	Name() string
}
