package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
)

// Thresholds control postprocessing of the raw model output.
type Thresholds struct {
	Confidence    float32
	IoU           float64
	MaxDetections int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Confidence:    DefaultConfThreshold,
		IoU:           DefaultIouThreshold,
		MaxDetections: DefaultMaxDetections,
	}
}

const stageInference = "model inference"

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// IsInferenceFailure reports whether err came from the runtime executing the
// model, which leaves the session in an unknown state.
func IsInferenceFailure(err error) bool {
	var perr *ProcessingError
	return errors.As(err, &perr) && perr.Message == stageInference
}

// ProcessImage runs one RGB image through the session and returns the
// detections that survive thresholding and NMS. timings may be nil.
func ProcessImage(ctx context.Context, img image.Image, model *ModelSession, th Thresholds, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	if img.Bounds().Empty() {
		return nil, &ProcessingError{Message: "empty image"}
	}

	resizeStart := time.Now()
	canvas, lb := LetterboxImage(img, model.Info.InputSize)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	model.preprocessor.Process(canvas, model.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := model.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: stageInference, Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	dets, err := DecodeOutput(model.Output.GetData(), model.Info.Output, lb, th.Confidence)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	timings.Postprocess = time.Since(postStart)

	nmsStart := time.Now()
	dets = NonMaxSuppression(dets, th.IoU, th.MaxDetections)
	timings.NMS = time.Since(nmsStart)

	return dets, nil
}
