// Package api serves the HTTP interface: health and readiness checks,
// metrics, the event log, the live scene and load triggers.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sutera/worldloader/internal/config"
	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/orchestrator"
	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/storage/postgres"
)

// WorldService is the orchestrator as seen by the API.
type WorldService interface {
	Load(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Reload(ctx context.Context, source string) (orchestrator.Result, error)
	Last() (orchestrator.Result, bool)
	Current() (orchestrator.Result, bool)
	State() orchestrator.State
	Stats() orchestrator.Stats
	Graph() *scene.Graph
}

// LoadHistory lists past load runs.
type LoadHistory interface {
	RecentLoads(ctx context.Context, limit int) ([]postgres.LoadRecord, error)
}

// Options configures a Server. Nil checks mean the component is not
// configured and does not affect readiness.
type Options struct {
	RoomID        string
	Auth          config.Auth
	History       LoadHistory
	MQTTConnected func() bool
	PostgresPing  func(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	world   WorldService
	opts    Options
	started time.Time
}

// NewServer creates a server for world.
func NewServer(world WorldService, opts Options) *Server {
	return &Server{world: world, opts: opts, started: time.Now()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(RoleAdmin, RoleOperator))
		r.Get("/events", s.handleEvents)
		r.Get("/scene", s.handleScene)
		r.Get("/world", s.handleWorld)
		r.Get("/world/loads", s.handleLoads)
		r.Post("/world/load", s.handleLoad)
		r.Post("/world/reload", s.handleReload)
		r.Get("/ws/events", s.handleWSEvents)
	})
	return r
}

// ListenAndServe serves on port until ctx is done, then shuts down
// gracefully. A non-nil tlsCfg serves HTTPS.
func (s *Server) ListenAndServe(ctx context.Context, port int, tlsCfg *tls.Config) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg != nil {
			log.Printf("API listening on %s (TLS)", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Printf("API listening on %s", srv.Addr)
			err = srv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events.CloseAllSubscribers()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "worldloader",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ReadinessResponse reports per-component readiness.
type ReadinessResponse struct {
	Ready      bool              `json:"ready"`
	World      string            `json:"world"`
	Components map[string]string `json:"components"`
}

// handleReady is ready once a world is live and every configured
// dependency is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	state := s.world.State()
	resp := ReadinessResponse{
		Ready:      true,
		World:      string(state),
		Components: map[string]string{},
	}

	switch state {
	case orchestrator.StateReady, orchestrator.StateStale:
		resp.Components["world"] = "ok"
	case orchestrator.StateLoading:
		if _, ok := s.world.Current(); ok {
			resp.Components["world"] = "ok"
		} else {
			resp.Components["world"] = "loading"
			resp.Ready = false
		}
	default:
		resp.Components["world"] = string(state)
		resp.Ready = false
	}

	if s.opts.MQTTConnected != nil {
		if s.opts.MQTTConnected() {
			resp.Components["mqtt"] = "ok"
		} else {
			resp.Components["mqtt"] = "disconnected"
			resp.Ready = false
		}
	}
	if s.opts.PostgresPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.PostgresPing(ctx); err != nil {
			resp.Components["postgres"] = "unavailable"
			resp.Ready = false
		} else {
			resp.Components["postgres"] = "ok"
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	respondJSON(w, http.StatusOK, events.RecentEvents(n))
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	g := s.world.Graph()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		g.Read(func(root *scene.Node) {
			fmt.Fprint(w, root.Dump())
		})
		return
	}
	respondJSON(w, http.StatusOK, g.Snapshot())
}

// WorldResponse describes the live world and the most recent run.
type WorldResponse struct {
	State   orchestrator.State   `json:"state"`
	Current *orchestrator.Result `json:"current,omitempty"`
	Last    *orchestrator.Result `json:"last,omitempty"`
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	resp := WorldResponse{State: s.world.State()}
	if cur, ok := s.world.Current(); ok {
		resp.Current = &cur
	}
	if last, ok := s.world.Last(); ok {
		resp.Last = &last
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		respondError(w, http.StatusServiceUnavailable, "load history is not configured")
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	loads, err := s.opts.History.RecentLoads(r.Context(), n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, loads)
}

// LoadRequest is the body of POST /world/load. An empty path loads the
// configured default world.
type LoadRequest struct {
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	events.Emit("info", "operator.load", "", map[string]interface{}{
		"path":   req.Path,
		"remote": r.RemoteAddr,
	})
	res := s.world.Load(r.Context(), orchestrator.Request{
		Path:      req.Path,
		Source:    orchestrator.SourceHTTP,
		RequestID: req.RequestID,
	})
	respondResult(w, res)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	events.Emit("info", "operator.reload", "", map[string]interface{}{"remote": r.RemoteAddr})
	res, err := s.world.Reload(r.Context(), orchestrator.SourceHTTP)
	if errors.Is(err, orchestrator.ErrNoWorld) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondResult(w, res)
}

// respondResult maps load failures to 422: the request was understood but
// the world could not be loaded.
func respondResult(w http.ResponseWriter, res orchestrator.Result) {
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
		if res.Error != nil && res.Error.Kind == "canceled" {
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, res)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
