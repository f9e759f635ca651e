// Package server - HTTP boundary of the detection service.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/storage"
)

// Detector is what the handlers run uploads through.
type Detector interface {
	pipeline.Detector
}

// History stores and lists processed requests.
type History interface {
	Insert(ctx context.Context, rec history.Record) (int64, error)
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// StatsSource reports per-stage timings.
type StatsSource interface {
	Snapshot() profiler.Stats
}

// PoolSource reports session pool usage.
type PoolSource interface {
	Metrics() inference.PoolMetrics
}

// Config wires a Server. Only Detector and Log are required.
type Config struct {
	Detector Detector
	Store    *storage.Store
	History  History
	Stats    StatsSource
	Pool     PoolSource
	Hub      *Hub
	Recorder pipeline.Recorder
	Info     inference.Info
	Log      *logger.Logger

	DefaultConf    float32
	SaveImages     bool
	MaxUploadBytes int64
	Decode         images.DecodeOptions
	JPEGQuality    int
}

// Server serves detection requests.
type Server struct {
	config   Config
	pipeline *pipeline.Pipeline
	router   *mux.Router
}

// New builds the router and the pipeline behind it.
func New(config Config) *Server {
	if config.Log == nil {
		config.Log = logger.Discard()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 20 << 20
	}

	pc := pipeline.Config{
		Detector:    config.Detector,
		Recorder:    config.Recorder,
		Decode:      config.Decode,
		JPEGQuality: config.JPEGQuality,
	}
	// A nil *Store must stay a nil interface.
	if config.Store != nil {
		pc.Saver = config.Store
	}

	s := &Server{config: config, pipeline: pipeline.New(pc)}
	s.router = s.routes()
	return s
}

// Handler returns the root handler with logging and recovery applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.config.Log), recoveryMiddleware(s.config.Log))

	r.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/detect", s.handleDetect(modeAuto)).Methods(http.MethodPost)
	r.HandleFunc("/predict-json", s.handleDetect(modeJSON)).Methods(http.MethodPost)
	r.HandleFunc("/predict-image", s.handleDetect(modeImage)).Methods(http.MethodPost)
	r.HandleFunc("/outputs/{name}", s.handleOutput).Methods(http.MethodGet)
	r.HandleFunc("/detections", s.handleDetections).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	if s.config.Hub != nil {
		r.HandleFunc("/ws", s.config.Hub.ServeWS).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.sendErrorResponse(w, CodeNotFound, "not found", http.StatusNotFound)
	})
	return r
}
