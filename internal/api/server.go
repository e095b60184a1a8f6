// Package api exposes the elevation core over REST/JSON.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/elevate/internal/activation"
	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/cache"
	"github.com/ocx/elevate/internal/catalog"
	"github.com/ocx/elevate/internal/config"
	"github.com/ocx/elevate/internal/diag"
	"github.com/ocx/elevate/internal/middleware"
	"github.com/ocx/elevate/internal/telemetry"
	"github.com/ocx/elevate/internal/token"
)

// Server wires the core services to the REST surface.
type Server struct {
	catalog   *catalog.Catalog
	activator *activation.Activator
	signer    *token.Signer
	entCache  *cache.EntitlementCache
	readiness *diag.Aggregator
	metrics   *telemetry.Metrics
	cfg       *config.Config
}

func NewServer(cat *catalog.Catalog, act *activation.Activator, signer *token.Signer,
	entCache *cache.EntitlementCache, readiness *diag.Aggregator,
	metrics *telemetry.Metrics, cfg *config.Config) *Server {
	return &Server{
		catalog:   cat,
		activator: act,
		signer:    signer,
		entCache:  entCache,
		readiness: readiness,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Router builds the route table with the shared middleware stack.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLog)
	r.Use(middleware.CORS(s.cfg.Server.CORSAllowOrigins))

	// Unauthenticated probes.
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/readyz", s.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Identity(s.cfg.Server.Env == "dev", func(w http.ResponseWriter, err error) {
		s.writeError(w, err)
	}))

	api.HandleFunc("/policy", s.handlePolicy).Methods("GET")
	api.HandleFunc("/projects", s.handleListProjects).Methods("GET")
	api.HandleFunc("/projects/{project}/entitlements", s.handleListEntitlements).Methods("GET")
	api.HandleFunc("/projects/{project}/reviewers", s.handleListReviewers).Methods("GET")
	api.HandleFunc("/projects/{project}/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/projects/{project}/request", s.handleRequest).Methods("POST")
	api.HandleFunc("/activation/approve", s.handleApprove).Methods("GET")

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.readiness.Ready(r.Context()) {
		// Check details stay in the logs.
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"kind":    string(apierr.KindOf(err)),
		"message": apierr.Message(err),
	})
}
