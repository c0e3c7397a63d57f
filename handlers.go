package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"runtime"

	"github.com/Tutortoise/object-detection-service/analyze"
	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errBodyNotObject = errors.New("request body must be a JSON object")

type AppState struct {
	Config   *config.Config
	Analyzer *analyze.Service
	Pool     *ModelSessionPool
	Model    *detections.ModelInfo
	Labels   *detections.Labels
	Log      *logrus.Logger

	validate *validator.Validate
	limiter  *rateLimiter
}

func NewAppState(cfg *config.Config, analyzer *analyze.Service, logger *logrus.Logger) *AppState {
	return &AppState{
		Config:   cfg,
		Analyzer: analyzer,
		Log:      logger,
		validate: validator.New(),
		limiter:  newRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

func (s *AppState) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, MsgServerRunning)
}

func (s *AppState) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.Config.MaxBodyBytes)

	var req *models.AnalyzeRequest
	err := json.NewDecoder(body).Decode(&req)
	if err == nil && req == nil {
		err = errBodyNotObject
	}
	if err != nil {
		logging.FromContext(r.Context(), s.Log).WithError(err).Error("Failed to parse request body")
		sendJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Message: MsgProcessingError,
			Error:   err.Error(),
		})
		return
	}

	status, resp := s.analyze(r.Context(), *req)
	sendJSON(w, status, resp)
}

// analyze maps the pipeline outcome onto a status code and response body.
// It is shared by the HTTP and MQTT transports.
func (s *AppState) analyze(ctx context.Context, req models.AnalyzeRequest) (int, interface{}) {
	if err := s.validate.Struct(req); err != nil {
		return http.StatusBadRequest, models.ErrorResponse{Message: MsgNoImage}
	}

	names, err := s.Analyzer.Analyze(ctx, req.Image)
	switch {
	case errors.Is(err, analyze.ErrNoImage):
		return http.StatusBadRequest, models.ErrorResponse{Message: MsgNoImage}
	case err != nil:
		logging.FromContext(ctx, s.Log).WithError(err).Error("Error processing image")
		return http.StatusInternalServerError, models.ErrorResponse{
			Message: MsgProcessingError,
			Error:   err.Error(),
		}
	}

	return http.StatusOK, models.AnalyzeResponse{
		Message: MsgObjectsDetected,
		Objects: names,
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"cpu_features": cpuFeatures(),
		"goroutines":   runtime.NumGoroutine(),
	}
	if s.Pool != nil {
		response["pool"] = s.Pool.GetMetrics()
	}
	if s.Model != nil {
		response["model"] = map[string]interface{}{
			"path":        s.Model.Path,
			"input_size":  s.Model.InputSize,
			"layout":      s.Model.Output.Layout.String(),
			"num_classes": s.Model.Output.NumClasses,
		}
	}
	if s.Labels != nil {
		response["labels"] = map[string]interface{}{
			"source": s.Labels.Source,
			"count":  s.Labels.Len(),
		}
	}

	sendJSON(w, http.StatusOK, response)
}

func cpuFeatures() map[string]bool {
	if runtime.GOARCH == "arm64" {
		return map[string]bool{
			"asimd": cpu.ARM64.HasASIMD,
			"fp16":  cpu.ARM64.HasFPHP,
		}
	}
	return map[string]bool{
		"sse41":   cpu.X86.HasSSE41,
		"avx2":    cpu.X86.HasAVX2,
		"avx512f": cpu.X86.HasAVX512F,
		"fma":     cpu.X86.HasFMA,
	}
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
