package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tarikpinarli/replicator/internal/config"
	"github.com/tarikpinarli/replicator/internal/mesh"
	"github.com/tarikpinarli/replicator/internal/observability"
	"github.com/tarikpinarli/replicator/internal/payments"
	"github.com/tarikpinarli/replicator/internal/protocol"
	"github.com/tarikpinarli/replicator/internal/records"
	"github.com/tarikpinarli/replicator/internal/session"
	"github.com/tarikpinarli/replicator/internal/store"
)

// Orchestrator is the session-side surface the gateway drives. The concrete
// implementation lives in internal/orchestrator.
type Orchestrator interface {
	HandleJoin(msg protocol.JoinSession) (*session.Participant, func(), error)
	HandleFrame(sender *session.Participant, msg protocol.SendFrame) error
	HandleProcess(msg protocol.Process3D)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        *store.Store
	archive      records.Store
	gate         *mesh.CreditGate
	payments     payments.Provider
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, st *store.Store, archive records.Store, gate *mesh.CreditGate, provider payments.Provider, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        st,
		archive:      archive,
		gate:         gate,
		payments:     provider,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. Sensor apps and curl omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/ping", s.handlePing)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/check-availability", s.handleCheckAvailability)
	r.Post("/create-payment-intent", s.handleCreatePaymentIntent)
	r.Get("/files/{sessionId}/{filename}", s.handleFile)
	r.Get("/jobs/{sessionId}", s.handleListJobs)
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"strategy": s.cfg.MeshStrategy,
	})
}

// handleCheckAvailability is the pre-flight credit probe clients call before
// offering the paid generation button.
func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		respondJSON(w, http.StatusOK, mesh.Availability{Available: false, Reason: "api_error"})
		return
	}
	respondJSON(w, http.StatusOK, s.gate.CheckAvailability(r.Context()))
}

type paymentIntentRequest struct {
	ModuleID string `json:"moduleId"`
}

type paymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	amount, err := payments.PriceFor(strings.TrimSpace(req.ModuleID))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_module", err.Error())
		return
	}
	if s.payments == nil {
		respondError(w, http.StatusNotImplemented, "payments_disabled", "payment provider not configured")
		return
	}

	secret, err := s.payments.CreateIntent(r.Context(), amount)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("stripe", "create_intent").Inc()
		respondError(w, http.StatusForbidden, "payment_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paymentIntentResponse{ClientSecret: secret})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	filename := chi.URLParam(r, "filename")

	path, err := s.store.Resolve(sessionID, filename)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "no such file")
		return
	default:
		respondError(w, http.StatusBadRequest, "invalid_path", err.Error())
		return
	}

	if strings.HasSuffix(filename, ".glb") {
		w.Header().Set("Content-Type", "model/gltf-binary")
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	recs, err := s.archive.ListBySession(r.Context(), sessionID, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": recs})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
