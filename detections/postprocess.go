package detections

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Tutortoise/object-detection-service/models"
)

type OutputLayout int

const (
	LayoutUnknown OutputLayout = iota
	// [1, N, 5+C]: cx, cy, w, h, objectness and class scores per row (YOLOv5).
	LayoutRows
	// [1, 4+C, N]: one plane per attribute, no objectness (YOLOv8 and later).
	LayoutChannelMajor
)

func (l OutputLayout) String() string {
	switch l {
	case LayoutRows:
		return "rows"
	case LayoutChannelMajor:
		return "channel-major"
	default:
		return "unknown"
	}
}

// OutputSpec describes how to read the detector output tensor.
type OutputSpec struct {
	Layout     OutputLayout
	NumBoxes   int
	NumClasses int
}

func (s OutputSpec) attributes() int {
	if s.Layout == LayoutRows {
		return s.NumClasses + 5
	}
	return s.NumClasses + 4
}

// Shape is the fixed output tensor shape including the batch dimension.
func (s OutputSpec) Shape() []int64 {
	if s.Layout == LayoutRows {
		return []int64{1, int64(s.NumBoxes), int64(s.attributes())}
	}
	return []int64{1, int64(s.attributes()), int64(s.NumBoxes)}
}

// ResolveOutputSpec infers the layout from an output shape. A dynamic box
// dimension is derived from the stride 8/16/32 grids at inputSize.
func ResolveOutputSpec(shape []int64, inputSize int) (OutputSpec, error) {
	dims := shape
	if len(dims) == 3 {
		if dims[0] > 1 {
			return OutputSpec{}, fmt.Errorf("batch size %d not supported", dims[0])
		}
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return OutputSpec{}, fmt.Errorf("unexpected output rank %d", len(shape))
	}

	a, b := dims[0], dims[1]
	cells := gridCells(inputSize)

	var spec OutputSpec
	switch {
	case a > 0 && b > 0 && a > b:
		spec = OutputSpec{Layout: LayoutRows, NumBoxes: int(a), NumClasses: int(b) - 5}
	case a > 0 && b > 0:
		spec = OutputSpec{Layout: LayoutChannelMajor, NumBoxes: int(b), NumClasses: int(a) - 4}
	case b > 0:
		spec = OutputSpec{Layout: LayoutRows, NumBoxes: 3 * cells, NumClasses: int(b) - 5}
	case a > 0:
		spec = OutputSpec{Layout: LayoutChannelMajor, NumBoxes: cells, NumClasses: int(a) - 4}
	default:
		return OutputSpec{}, fmt.Errorf("output shape %v is fully dynamic", shape)
	}

	if spec.NumClasses < 1 || spec.NumBoxes < 1 {
		return OutputSpec{}, fmt.Errorf("output shape %v is not a detection head", shape)
	}
	return spec, nil
}

func gridCells(inputSize int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		n := inputSize / stride
		total += n * n
	}
	return total
}

// DecodeOutput turns raw output values into detections above confThreshold,
// mapped back to source pixels and sorted by confidence.
func DecodeOutput(predictions []float32, spec OutputSpec, lb Letterbox, confThreshold float32) ([]models.Detection, error) {
	expectedSize := spec.NumBoxes * spec.attributes()
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	const chunkSize = 1024
	numPredictions := spec.NumBoxes
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.Detection, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localDetections := make([]models.Detection, 0, 16)

			for start := range jobs {
				end := start + chunkSize
				if end > numPredictions {
					end = numPredictions
				}
				for i := start; i < end; i++ {
					if det, ok := decodeBox(predictions, spec, lb, confThreshold, i); ok {
						localDetections = append(localDetections, det)
					}
				}
			}

			if len(localDetections) > 0 {
				results <- localDetections
			}
		}()
	}

	go func() {
		for i := 0; i < numPredictions; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	detections := make([]models.Detection, 0, 32)
	for chunk := range results {
		detections = append(detections, chunk...)
	}

	sortDetectionsByConfidence(detections)
	return detections, nil
}

func decodeBox(p []float32, spec OutputSpec, lb Letterbox, confThreshold float32, i int) (models.Detection, bool) {
	// at returns attribute k of box i.
	var at func(k int) float32
	classOffset := 4
	if spec.Layout == LayoutRows {
		attrs := spec.attributes()
		row := p[i*attrs : (i+1)*attrs]
		at = func(k int) float32 { return row[k] }
		classOffset = 5
	} else {
		n := spec.NumBoxes
		at = func(k int) float32 { return p[k*n+i] }
	}

	objectness := float32(1)
	if spec.Layout == LayoutRows {
		objectness = at(4)
		if objectness < confThreshold {
			return models.Detection{}, false
		}
	}

	bestClass := -1
	bestScore := float32(0)
	for c := 0; c < spec.NumClasses; c++ {
		score := at(classOffset+c) * objectness
		if score > bestScore {
			bestScore = score
			bestClass = c
		}
	}
	if bestClass < 0 || bestScore < confThreshold {
		return models.Detection{}, false
	}

	return models.Detection{
		BBox:       lb.toSource(at(0), at(1), at(2), at(3)),
		Confidence: bestScore,
		ClassID:    bestClass,
	}, true
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
