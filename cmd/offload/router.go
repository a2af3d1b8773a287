package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/platform/logger"
	"github.com/phrazzld/offload/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusSource is what the status API reads
type statusSource interface {
	Snapshot() []executor.Status
}

// storageSource reports the storage accounts
type storageSource interface {
	IsConnected() bool
	Status() []storage.BackendStatus
}

// subprocessStorageDetail is reported by GET /storage in subprocess mode, where
// the serving process never connects its own balancer
const subprocessStorageDetail = "storage accounts are connected inside the storage worker process; " +
	"only the configured accounts are listed here"

// storageResponse is the body of GET /storage
type storageResponse struct {
	WorkerMode string                  `json:"worker_mode"`
	Connected  bool                    `json:"connected"`
	Backends   []storage.BackendStatus `json:"backends"`
	Detail     string                  `json:"detail,omitempty"`
}

// newRouter creates the status API router. Executor metrics only include
// task durations for in-process workers.
func newRouter(
	executors statusSource,
	store storageSource,
	workerMode string,
	gatherer prometheus.Gatherer,
	log *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.FromContext(r.Context()).Error("failed to write health check response", "error", err)
		}
	})

	r.Get("/executors", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, r, http.StatusOK, executors.Snapshot())
	})

	r.Get("/storage", func(w http.ResponseWriter, r *http.Request) {
		body := storageResponse{
			WorkerMode: workerMode,
			Connected:  store.IsConnected(),
			Backends:   store.Status(),
		}
		if workerMode == config.WorkerModeSubprocess {
			body.Detail = subprocessStorageDetail
		}
		respondWithJSON(w, r, http.StatusOK, body)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// requestLogger stores a request scoped logger in the context and logs
// every request once it is served
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.With("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logger.WithLogger(r.Context(), reqLog)))

			reqLog.Debug("request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	}
}

// respondWithJSON writes a JSON response with the given status code and data.
func respondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}
