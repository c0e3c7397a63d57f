package analyze

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/sirupsen/logrus"
)

var ErrNoImage = errors.New("no image provided")

// Detector runs the object-detection model on an RGB image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error)
}

type Service struct {
	detector Detector
	labels   *detections.Labels
	log      logrus.FieldLogger
	debug    bool
}

func NewService(detector Detector, labels *detections.Labels, log logrus.FieldLogger, debug bool) *Service {
	return &Service{
		detector: detector,
		labels:   labels,
		log:      log,
		debug:    debug,
	}
}

// Analyze decodes encoded, runs detection and returns the unique class names
// found, sorted.
func (s *Service) Analyze(ctx context.Context, encoded string) ([]string, error) {
	if encoded == "" {
		return nil, ErrNoImage
	}

	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: logging.RequestID(ctx)}

	decodeStart := time.Now()
	img, format, err := DecodeImage(encoded)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, &detections.ProcessingError{Message: "invalid image", Cause: err}
	}

	dets, err := s.detector.Detect(ctx, img, timings)
	if err != nil {
		return nil, err
	}

	names, err := s.uniqueNames(dets)
	if err != nil {
		return nil, err
	}

	timings.Total = time.Since(startTotal)
	s.logTimings(ctx, timings, format, img.Bounds(), len(dets))

	return names, nil
}

func (s *Service) uniqueNames(dets []models.Detection) ([]string, error) {
	seen := make(map[string]struct{}, len(dets))
	for _, det := range dets {
		name, ok := s.labels.Name(det.ClassID)
		if !ok {
			return nil, &detections.ProcessingError{
				Message: "resolve class name",
				Cause:   fmt.Errorf("unknown class index %d", det.ClassID),
			}
		}
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Service) logTimings(ctx context.Context, t *models.ProcessingTimings, format string, bounds image.Rectangle, count int) {
	if !s.debug {
		return
	}
	logging.FromContext(ctx, s.log).WithFields(logging.Fields{
		"format":      format,
		"width":       bounds.Dx(),
		"height":      bounds.Dy(),
		"detections":  count,
		"decode":      t.ImageDecode.String(),
		"resize":      t.Resize.String(),
		"preprocess":  t.Preprocess.String(),
		"inference":   t.Inference.String(),
		"postprocess": t.Postprocess.String(),
		"nms":         t.NMS.String(),
		"total":       t.Total.String(),
	}).Debug("Processing times")
}
