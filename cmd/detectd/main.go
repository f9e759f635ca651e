// Command detectd serves object detection over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/server"
	"github.com/nvr-ai/go-detect/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error("❌ %v", err)
		log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: time.Minute,
		Reporter:       log,
	})
	prof.Start()
	defer prof.Stop()

	loadCfg := cfg.ModelConfig()
	loadCfg.Recorder = prof
	engine, err := models.Load(ctx, loadCfg, log)
	if err != nil {
		return errors.Wrap(err, "load model")
	}
	defer func() {
		engine.Close()
		log.Info("🔒 Model closed")
	}()
	prof.AddMetricsCollector(engine)

	store, err := storage.New(cfg.OutputDir)
	if err != nil {
		return errors.Wrap(err, "open output directory")
	}

	srvCfg := server.Config{
		Detector:       engine,
		Store:          store,
		Stats:          prof,
		Pool:           engine,
		Recorder:       prof,
		Info:           engine.Info(),
		Log:            log,
		DefaultConf:    cfg.DefaultConf,
		SaveImages:     cfg.SaveImages,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Decode:         images.DecodeOptions{MaxPixels: cfg.MaxImagePixels},
		JPEGQuality:    cfg.JPEGQuality,
	}

	if cfg.HistoryDB != "" {
		db, err := history.New(cfg.HistoryDB)
		if err != nil {
			return errors.Wrap(err, "open history database")
		}
		defer db.Close()
		srvCfg.History = db
		log.Info("🗄️ Detection history at %s", cfg.HistoryDB)
	}

	hub := server.NewHub(log)
	go hub.Run(ctx)
	srvCfg.Hub = hub

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.New(srvCfg).Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  2 * cfg.ReadTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("🚀 Listening on %s (model %s, device %s)", srv.Addr, cfg.ModelPath, cfg.Device)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
