package mesh

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tarikpinarli/replicator/internal/reliability"
)

// Uploader publishes a local file and returns a public URL for it.
type Uploader interface {
	Upload(ctx context.Context, filePath string) (string, error)
}

// TaskAPI is the subset of the generation provider used by RemoteJob.
type TaskAPI interface {
	SubmitImageTask(ctx context.Context, imageURL string) (string, error)
	TaskStatusOf(ctx context.Context, taskID string) (TaskStatus, error)
	Download(ctx context.Context, url, dest string) error
}

// RemoteJob drives the hosted generation pipeline: upload the newest frame,
// submit a task, poll to a terminal status, download the result.
type RemoteJob struct {
	uploader     Uploader
	api          TaskAPI
	pollInterval time.Duration
	maxAttempts  int
}

func NewRemoteJob(uploader Uploader, api TaskAPI, pollInterval time.Duration, maxAttempts int) *RemoteJob {
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 120
	}
	return &RemoteJob{
		uploader:     uploader,
		api:          api,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

func (j *RemoteJob) Name() string { return "remote" }

func (j *RemoteJob) Generate(ctx context.Context, req Request, progress func(step string)) (Artifact, error) {
	if len(req.FramePaths) == 0 {
		return Artifact{}, ErrNoFrames
	}

	progress("Uploading to Cloud...")
	// The newest frame is the best-lit capture in practice.
	imageURL, err := j.uploader.Upload(ctx, req.FramePaths[len(req.FramePaths)-1])
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrCloudSync, err)
	}

	progress("Generating Neural Mesh...")
	taskID, err := j.api.SubmitImageTask(ctx, imageURL)
	if err != nil {
		return Artifact{}, err
	}

	for attempt := 0; attempt < j.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Artifact{}, ctx.Err()
		case <-time.After(j.pollInterval):
		}

		status, err := j.api.TaskStatusOf(ctx, taskID)
		if err != nil {
			// Transient poll failure; consumes an attempt but is not
			// terminal.
			continue
		}
		if !reliability.IsTerminalTaskStatus(status.Status) {
			continue
		}
		if status.Status != "success" {
			return Artifact{}, &TaskFailedError{Status: status.Status}
		}

		modelURL := status.Output.ModelURL()
		if modelURL == "" {
			return Artifact{}, ErrNoModelURL
		}
		progress("Downloading Model...")
		if err := j.api.Download(ctx, modelURL, req.ArtifactPath); err != nil {
			return Artifact{}, fmt.Errorf("%w: %v", ErrCloudSync, err)
		}
		return Artifact{URL: filepath.Base(req.ArtifactPath), Origin: OriginRemote}, nil
	}

	return Artifact{}, ErrTimedOut
}
