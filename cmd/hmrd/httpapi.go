package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hotreload/hmr/internal/api/middleware"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/pkg/hmr"
)

// controlAPI exposes read-only status/metrics endpoints and a small
// set of operator actions (pause/resume, config reload, manual module
// load) over the runtime, the control
// plane a dashboard or a fleet ops tool drives alongside the frame loop.
type controlAPI struct {
	rt     *hmr.Runtime
	logger *slog.Logger
}

func newControlRouter(rt *hmr.Runtime, logger *slog.Logger, auth middleware.AuthConfig) http.Handler {
	api := &controlAPI{rt: rt, logger: logger}

	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.CompressionMiddleware)
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig()))

	r.Handle("/healthz", http.HandlerFunc(api.healthz)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// /v1 carries credentialed operator/viewer actions, so only this
	// subrouter runs AuthMiddleware — /healthz and /metrics stay open
	// for liveness probes and scrape targets.
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware(auth))

	v1.Handle("/status", middleware.ViewerMiddleware(http.HandlerFunc(api.status))).Methods(http.MethodGet)
	v1.Handle("/config", middleware.ViewerMiddleware(http.HandlerFunc(api.configSnapshot))).Methods(http.MethodGet)
	v1.Handle("/reload-config", middleware.OperatorMiddleware(http.HandlerFunc(api.reloadConfig))).Methods(http.MethodPost)
	v1.Handle("/pause", middleware.OperatorMiddleware(http.HandlerFunc(api.pause))).Methods(http.MethodPost)
	v1.Handle("/resume", middleware.OperatorMiddleware(http.HandlerFunc(api.resume))).Methods(http.MethodPost)
	v1.Handle("/modules/{name}", middleware.ViewerMiddleware(http.HandlerFunc(api.moduleInfo))).Methods(http.MethodGet)
	v1.Handle("/modules/{name}/load", middleware.OperatorMiddleware(http.HandlerFunc(api.moduleLoad))).Methods(http.MethodPost)

	return r
}

func (a *controlAPI) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *controlAPI) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.rt.Status())
}

func (a *controlAPI) configSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.rt.ConfigSnapshot())
}

func (a *controlAPI) reloadConfig(w http.ResponseWriter, r *http.Request) {
	result, err := a.rt.Coordinator().Reload(r.Context())
	if err != nil {
		a.logger.Error("manual config reload failed", "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *controlAPI) pause(w http.ResponseWriter, r *http.Request) {
	a.rt.Pause(true)
	w.WriteHeader(http.StatusNoContent)
}

func (a *controlAPI) resume(w http.ResponseWriter, r *http.Request) {
	a.rt.Pause(false)
	w.WriteHeader(http.StatusNoContent)
}

func (a *controlAPI) moduleInfo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	handle, ok := a.rt.Handle(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown module " + name})
		return
	}
	info, err := a.rt.Info(handle)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// moduleLoadRequest is the body a caller posts to manually activate a
// build artifact for an already-registered module — the HTTP analogue
// of the artifact handoff the file watcher normally does automatically.
type moduleLoadRequest struct {
	ArtifactPath string           `json:"artifact_path"`
	Version      registry.Version `json:"version"`
}

func (a *controlAPI) moduleLoad(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	handle, ok := a.rt.Handle(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown module " + name})
		return
	}

	var req moduleLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ArtifactPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "artifact_path is required"})
		return
	}

	if err := a.rt.Load(r.Context(), handle, req.ArtifactPath, req.Version); err != nil {
		a.logger.Error("manual module load failed", "module", name, "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	info, err := a.rt.Info(handle)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
