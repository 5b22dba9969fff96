package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tarikpinarli/replicator/internal/config"
	"github.com/tarikpinarli/replicator/internal/httpapi"
	"github.com/tarikpinarli/replicator/internal/mesh"
	"github.com/tarikpinarli/replicator/internal/observability"
	"github.com/tarikpinarli/replicator/internal/orchestrator"
	"github.com/tarikpinarli/replicator/internal/payments"
	"github.com/tarikpinarli/replicator/internal/records"
	"github.com/tarikpinarli/replicator/internal/session"
	"github.com/tarikpinarli/replicator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.New(cfg.UploadDir)
	if err != nil {
		log.Fatalf("frame store init failed: %v", err)
	}
	janitor := store.NewJanitor(st, cfg.SessionTTL)

	ctx := context.Background()
	archive, err := records.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("job archive init failed: %v", err)
	}
	defer archive.Close()

	var tripo *mesh.TripoClient
	if cfg.TripoAPIKey != "" {
		tripo = mesh.NewTripoClient(cfg.TripoAPIKey, cfg.TripoBaseURL)
	}

	job := selectJob(cfg, tripo)
	log.Printf("mesh strategy: %s", job.Name())

	var gate *mesh.CreditGate
	if tripo != nil {
		gate = mesh.NewCreditGate(tripo, cfg.TripoMinCredits)
	}

	var provider payments.Provider
	if cfg.StripeSecretKey != "" {
		provider = payments.NewStripeProvider(cfg.StripeSecretKey)
	} else {
		log.Printf("payments: disabled (no STRIPE_SECRET_KEY)")
	}

	sessions := session.NewManager()
	orch := orchestrator.New(sessions, st, janitor, job, archive, metrics)
	janitor.SetSweepHook(func(sessionID string) {
		orch.CancelSession(sessionID)
		metrics.SweptSessions.Inc()
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	orch.Start(runCtx)
	janitor.Start(runCtx, cfg.SessionTTL/4)

	api := httpapi.New(cfg, orch, st, archive, gate, provider, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Stop jobs after the listener drains so in-flight websocket sessions
	// hear a final status before the process exits.
	runCancel()
	orch.Wait()

	log.Printf("shutdown complete")
}

// selectJob resolves the configured strategy. "auto" takes the remote
// pipeline when both provider keys are present and otherwise falls back to
// the mock, so a bare checkout still runs end to end.
func selectJob(cfg config.Config, tripo *mesh.TripoClient) mesh.Job {
	strategy := strings.ToLower(strings.TrimSpace(cfg.MeshStrategy))
	if strategy == "auto" {
		if tripo != nil && cfg.ImgBBAPIKey != "" {
			strategy = "remote"
		} else {
			log.Printf("mesh strategy auto: missing TRIPO_API_KEY or IMGBB_API_KEY, using mock")
			strategy = "mock"
		}
	}

	switch strategy {
	case "remote":
		if tripo == nil || cfg.ImgBBAPIKey == "" {
			log.Fatalf("MESH_STRATEGY=remote requires TRIPO_API_KEY and IMGBB_API_KEY")
		}
		uploader := mesh.NewImgBBUploader(cfg.ImgBBAPIKey, cfg.ImgBBUploadURL)
		return mesh.NewRemoteJob(uploader, tripo, cfg.TripoPollInterval, cfg.TripoPollMaxAttempts)
	case "local":
		return mesh.NewHullJob(cfg.HullVoxelRes, cfg.HullMaskSize, cfg.HullSmoothPasses)
	default:
		return mesh.NewMockJob()
	}
}
