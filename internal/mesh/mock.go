package mesh

import (
	"context"
	"time"
)

// DefaultMockModelURL is a public sample model served with permissive CORS.
const DefaultMockModelURL = "https://raw.githack.com/KhronosGroup/glTF-Sample-Models/master/2.0/Duck/glTF-Binary/Duck.glb"

// MockJob is an injected stand-in strategy for development and tests. It
// never touches the network or spends credits.
type MockJob struct {
	ModelURL string
	Delay    time.Duration
}

func NewMockJob() *MockJob {
	return &MockJob{ModelURL: DefaultMockModelURL, Delay: 100 * time.Millisecond}
}

func (j *MockJob) Name() string { return "mock" }

func (j *MockJob) Generate(ctx context.Context, req Request, progress func(step string)) (Artifact, error) {
	if len(req.FramePaths) == 0 {
		return Artifact{}, ErrNoFrames
	}
	progress("Initializing...")
	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	case <-time.After(j.Delay):
	}
	progress("Simulating Neural Mesh...")
	return Artifact{URL: j.ModelURL, Origin: OriginMock}, nil
}
