package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarikpinarli/replicator/internal/mesh"
	"github.com/tarikpinarli/replicator/internal/observability"
	"github.com/tarikpinarli/replicator/internal/protocol"
	"github.com/tarikpinarli/replicator/internal/records"
	"github.com/tarikpinarli/replicator/internal/session"
	"github.com/tarikpinarli/replicator/internal/store"
)

// Orchestrator ties the session registry, frame storage and the configured
// mesh strategy together: join, ingest, trigger, relay progress, publish
// the artifact.
type Orchestrator struct {
	sessions *session.Manager
	store    *store.Store
	janitor  *store.Janitor
	job      mesh.Job
	archive  records.Store
	metrics  *observability.Metrics

	runCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(sessions *session.Manager, st *store.Store, janitor *store.Janitor, job mesh.Job, archive records.Store, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		store:    st,
		janitor:  janitor,
		job:      job,
		archive:  archive,
		metrics:  metrics,
		runCtx:   context.Background(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start binds running jobs to ctx: cancelling it abandons in-flight polling
// and carving. Wait blocks until those jobs have wound down.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runCtx = ctx
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// CancelSession abandons the session's in-flight job, if any. Called when
// the janitor reclaims the session's storage.
func (o *Orchestrator) CancelSession(sessionID string) {
	o.mu.Lock()
	cancel := o.cancels[sessionID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HandleJoin registers a participant in a session room and returns it with
// a leave function. The janitor sweep runs opportunistically here, keeping
// reclamation overhead off a dedicated hot path.
func (o *Orchestrator) HandleJoin(msg protocol.JoinSession) (*session.Participant, func(), error) {
	o.janitor.Sweep(time.Now())

	if _, err := o.store.Ensure(msg.SessionID); err != nil {
		return nil, nil, err
	}
	p, leave := o.sessions.Join(msg.SessionID, msg.Role)
	o.metrics.SessionEvents.WithLabelValues("joined").Inc()
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))

	if msg.Role == protocol.RoleSensor {
		o.sessions.Broadcast(msg.SessionID, protocol.SessionStatus{
			Type:   protocol.TypeSessionStatus,
			Status: "connected",
		})
	}

	wrapped := func() {
		leave()
		o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	}
	return p, wrapped, nil
}

// HandleFrame decodes and persists one frame, then echoes it to the other
// participants with the current storage-derived count.
func (o *Orchestrator) HandleFrame(sender *session.Participant, msg protocol.SendFrame) error {
	data, err := decodeFramePayload(msg.Image)
	if err != nil {
		return err
	}
	_, count, err := o.store.SaveFrame(msg.SessionID, data)
	if err != nil {
		return err
	}
	o.metrics.FramesIngested.Inc()
	o.sessions.BroadcastExcept(msg.SessionID, sender.ID, protocol.FrameReceived{
		Type:  protocol.TypeFrameReceived,
		Image: msg.Image,
		Count: count,
	})
	return nil
}

// HandleProcess triggers the configured mesh job for the session. At most
// one job runs per session; a concurrent trigger is answered and dropped.
func (o *Orchestrator) HandleProcess(msg protocol.Process3D) {
	if !o.sessions.TryBeginJob(msg.SessionID) {
		o.sessions.Broadcast(msg.SessionID, protocol.ProcessingStatus{
			Type: protocol.TypeProcessingStatus,
			Step: "Already processing",
		})
		return
	}

	frames, err := o.store.ListFrames(msg.SessionID)
	if err != nil {
		o.finishFailed(msg.SessionID, records.Record{}, err)
		return
	}
	framePaths := make([]string, len(frames))
	for i, f := range frames {
		framePaths[i] = f.Path
	}

	artifactPath, err := o.store.ArtifactPath(msg.SessionID, artifactExt(o.job.Name()))
	if err != nil {
		o.finishFailed(msg.SessionID, records.Record{}, err)
		return
	}

	jobCtx, cancel := context.WithCancel(o.runCtx)
	o.mu.Lock()
	o.cancels[msg.SessionID] = cancel
	o.mu.Unlock()

	req := mesh.Request{
		SessionID:    msg.SessionID,
		FramePaths:   framePaths,
		ArtifactPath: artifactPath,
	}

	// The job may outlive the triggering connection; it runs off the
	// connection loop so polling or carving never stalls other sessions.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, msg.SessionID)
			o.mu.Unlock()
		}()
		o.runJob(jobCtx, req)
	}()
}

func (o *Orchestrator) runJob(ctx context.Context, req mesh.Request) {
	started := time.Now().UTC()
	rec := records.Record{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Strategy:  o.job.Name(),
		StartedAt: started,
	}

	artifact, err := o.job.Generate(ctx, req, func(step string) {
		o.sessions.Broadcast(req.SessionID, protocol.ProcessingStatus{
			Type: protocol.TypeProcessingStatus,
			Step: step,
		})
	})
	duration := time.Since(started)

	if err != nil {
		o.metrics.ObserveJob(o.job.Name(), "failed", duration)
		o.finishFailed(req.SessionID, rec, err)
		return
	}

	o.sessions.FinishJob(req.SessionID, session.JobCompleted)
	o.metrics.ObserveJob(o.job.Name(), "completed", duration)
	o.sessions.Broadcast(req.SessionID, protocol.ModelReady{
		Type: protocol.TypeModelReady,
		URL:  artifact.URL,
	})
	_ = o.store.Touch(req.SessionID)

	rec.Status = "completed"
	rec.ArtifactURL = artifact.URL
	rec.Origin = string(artifact.Origin)
	rec.EndedAt = time.Now().UTC()
	o.saveRecord(rec)
}

func (o *Orchestrator) finishFailed(sessionID string, rec records.Record, err error) {
	o.sessions.FinishJob(sessionID, session.JobFailed)
	reason := failureReason(err)
	log.Printf("mesh job failed for session %s: %v", sessionID, err)
	o.sessions.Broadcast(sessionID, protocol.ProcessingStatus{
		Type: protocol.TypeProcessingStatus,
		Step: "Failed: " + reason,
	})

	if rec.ID == "" {
		rec.ID = uuid.NewString()
		rec.SessionID = sessionID
		rec.Strategy = o.job.Name()
		rec.StartedAt = time.Now().UTC()
	}
	rec.Status = "failed"
	rec.Error = reason
	rec.EndedAt = time.Now().UTC()
	o.saveRecord(rec)
}

func (o *Orchestrator) saveRecord(rec records.Record) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveJob(ctx, rec); err != nil {
		log.Printf("archive job record %s: %v", rec.ID, err)
	}
}

// failureReason maps job errors to the short human-readable strings relayed
// over the progress channel.
func failureReason(err error) string {
	var submit *mesh.SubmitError
	var taskFailed *mesh.TaskFailedError
	switch {
	case errors.Is(err, mesh.ErrInsufficientFrames):
		return "Need more photos (min 3)"
	case errors.Is(err, mesh.ErrNoFrames):
		return "No image found"
	case errors.Is(err, mesh.ErrCloudSync):
		return "Cloud Sync Failed"
	case errors.Is(err, mesh.ErrTimedOut):
		return "TIMEOUT"
	case errors.Is(err, mesh.ErrNoModelURL):
		return "URL_NOT_FOUND"
	case errors.As(err, &submit):
		return fmt.Sprintf("ERR_%d", submit.Code)
	case errors.As(err, &taskFailed):
		return strings.ToUpper(taskFailed.Status)
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	default:
		return err.Error()
	}
}

func artifactExt(strategy string) string {
	if strategy == "local" {
		return "stl"
	}
	return "glb"
}
