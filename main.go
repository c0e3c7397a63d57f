package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Tutortoise/object-detection-service/analyze"
	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
		File:  cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloaded, err := detections.EnsureModel(ctx, cfg.ModelPath, cfg.ModelURL, &http.Client{Timeout: 10 * time.Minute})
	if err != nil {
		return err
	}
	if downloaded {
		logger.WithField("url", cfg.ModelURL).Info("Model downloaded")
	}

	libPath, cleanup, err := resolveLibrary(cfg.OrtLibPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.New("failed to initialize ONNX environment: " + err.Error())
	}
	defer ort.DestroyEnvironment()

	info, err := detections.InspectModel(cfg.ModelPath, cfg.InputSize)
	if err != nil {
		return err
	}

	labels, err := loadLabels(cfg, logger)
	if err != nil {
		return err
	}
	if labels.Len() < info.Output.NumClasses {
		logger.Warnf("Name table has %d entries but model predicts %d classes", labels.Len(), info.Output.NumClasses)
	}

	threads := runtime.NumCPU() / cfg.PoolSize
	if threads < 1 {
		threads = 1
	}
	pool, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		return detections.LoadSession(info, threads)
	}, cfg.PoolSize, PoolOptions{
		AcquireTimeout: cfg.AcquireTimeout,
		Thresholds: detections.Thresholds{
			Confidence:    cfg.ConfThreshold,
			IoU:           cfg.IouThreshold,
			MaxDetections: cfg.MaxDetections,
		},
	})
	if err != nil {
		return err
	}
	defer pool.Destroy()

	state := NewAppState(cfg, analyze.NewService(pool, labels, logger, cfg.Debug), logger)
	state.Pool = pool
	state.Model = info
	state.Labels = labels

	if cfg.MQTTBroker != "" {
		bridge, err := startMQTTBridge(state)
		if err != nil {
			return err
		}
		defer bridge.Close()
	}

	srv := newHTTPServer(state)

	logger.WithFields(logging.Fields{
		"model":        info.Path,
		"input_size":   info.InputSize,
		"layout":       info.Output.Layout.String(),
		"classes":      info.Output.NumClasses,
		"labels":       labels.Source,
		"pool_size":    cfg.PoolSize,
		"cpu_features": cpuFeatures(),
	}).Info("Model loaded")
	logger.Infof("Starting server on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadLabels resolves the name table: an explicit file, the model's own
// metadata, then the COCO defaults.
func loadLabels(cfg *config.Config, logger *logrus.Logger) (*detections.Labels, error) {
	if cfg.LabelsPath != "" {
		return detections.LoadLabelsFile(cfg.LabelsPath)
	}

	names, err := detections.ReadMetadataNames(cfg.ModelPath)
	if err == nil {
		return detections.NewLabels(names, "model metadata"), nil
	}
	logger.WithError(err).Info("Using default COCO class names")
	return detections.DefaultLabels(), nil
}
