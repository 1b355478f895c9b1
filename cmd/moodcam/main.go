package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/moodcam/internal/blob"
	"github.com/user/moodcam/internal/capture"
	"github.com/user/moodcam/internal/config"
	"github.com/user/moodcam/internal/emotion"
	"github.com/user/moodcam/internal/facedet"
	"github.com/user/moodcam/internal/httpapi"
	"github.com/user/moodcam/internal/logger"
	"github.com/user/moodcam/internal/observability"
	"github.com/user/moodcam/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	appLog := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stderr",
	})
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	analyzer := emotion.NewAnalyzer(cfg.ModelPath, appLog)
	if cfg.ModelWatch {
		if err := analyzer.Watch(runCtx); err != nil {
			appLog.Warn("model watch disabled", "error", err)
		}
	}

	faces := facedet.New()
	if !cfg.FaceDetect {
		faces = facedet.Unavailable("disabled by APP_FACE_DETECT")
	}

	var sessions store.Store
	switch cfg.StoreBackend {
	case config.BackendBolt:
		sessions, err = store.NewBoltStore(cfg.BoltPath, appLog)
	case config.BackendPostgres:
		sessions, err = store.NewPostgresStore(runCtx, cfg.DatabaseURL)
	default:
		sessions, err = store.NewFileStore(cfg.ReportFile, appLog)
	}
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer sessions.Close()
	log.Printf("session store: %s", cfg.StoreBackend)

	blobs := blob.NewFileStore(cfg.CaptureDir, cfg.CaptureFallbackDir, cfg.CapturePrefix, appLog)
	svc := capture.New(sessions, blobs, emotion.NewClassifier(analyzer), faces, metrics, appLog)

	api := httpapi.New(cfg, svc, analyzer, faces, metrics)
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

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
