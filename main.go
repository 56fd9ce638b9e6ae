package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel"
	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/config"
	"github.com/Tutortoise/leaf-detection-service/detections"
	"github.com/Tutortoise/leaf-detection-service/lgr"
	"github.com/Tutortoise/leaf-detection-service/storage"
)

const (
	tracerName = "github.com/Tutortoise/leaf-detection-service"

	// WARNING: in-flight inference must fit in this window
	waitOnShutdown = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		lgr.Logger.Error("service stopped", lgr.Err(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return xerrors.Errorf("load config: %w", err)
	}
	lgr.Init(cfg.Debug, cfg.LogJSON)

	if err := detections.InitRuntime(cfg.OnnxLibPath); err != nil {
		return err
	}
	defer detections.DestroyRuntime()

	detector, err := detections.NewDetector(detections.Options{
		ModelPath:      cfg.ModelPath,
		LabelsPath:     cfg.LabelsPath,
		PoolSize:       cfg.PoolSize,
		ConfThreshold:  cfg.ConfThreshold,
		IouThreshold:   cfg.IouThreshold,
		MaxDetections:  cfg.MaxDetections,
		MaxImagePixels: cfg.MaxImagePixels,
	})
	if err != nil {
		return xerrors.Errorf("load model %s: %w", cfg.ModelPath, err)
	}
	defer detector.Close()

	store, err := storage.NewStore(cfg.UploadDir, cfg.KeepUploads)
	if err != nil {
		return err
	}

	audit := lgr.NewDetectionLog(cfg.DetectionLog)
	defer audit.Close()

	templates, err := parseTemplates()
	if err != nil {
		return xerrors.Errorf("parse templates: %w", err)
	}

	state := &AppState{
		Detector:       detector,
		Store:          store,
		Audit:          audit,
		Tracer:         otel.Tracer(tracerName),
		Templates:      templates,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	srv := &http.Server{
		Handler:      newRouter(state, cfg.CORSOrigins),
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		printBanner(cfg, len(detector.Names()))
		lgr.Logger.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("upload_dir", store.Dir()),
			slog.Bool("keep_uploads", cfg.KeepUploads),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return xerrors.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		lgr.Logger.Info("received kill signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), waitOnShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown: %w", err)
	}
	lgr.Logger.Info("server stopped")
	return nil
}

func printBanner(cfg *config.Config, classes int) {
	title := color.New(color.FgGreen, color.Bold)
	detail := color.New(color.FgCyan)

	title.Println("Rice leaf disease detection service")
	detail.Printf("  listening on  %s\n", cfg.Addr)
	detail.Printf("  model         %s (%d classes)\n", cfg.ModelPath, classes)
	if cfg.Debug {
		color.New(color.FgYellow).Println("  debug logging enabled")
	}
}
