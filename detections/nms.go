package detections

import (
	"math"

	"github.com/Tutortoise/object-detection-service/models"
)

// NonMaxSuppression drops every box that overlaps a higher scoring box of
// the same class by more than iouThreshold. dets must be sorted by
// confidence, highest first. maxDetections <= 0 means no cap.
func NonMaxSuppression(dets []models.Detection, iouThreshold float64, maxDetections int) []models.Detection {
	if len(dets) == 0 {
		return nil
	}

	keep := make([]models.Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))

	for i := range dets {
		if suppressed[i] {
			continue
		}
		keep = append(keep, dets[i])
		if maxDetections > 0 && len(keep) >= maxDetections {
			break
		}

		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if calculateIOU(dets[i].BBox, dets[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return keep
}

func calculateIOU(box1, box2 [4]float32) float64 {
	x1 := math.Max(float64(box1[0]), float64(box2[0]))
	y1 := math.Max(float64(box1[1]), float64(box2[1]))
	x2 := math.Min(float64(box1[2]), float64(box2[2]))
	y2 := math.Min(float64(box1[3]), float64(box2[3]))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64(box1[2]-box1[0]) * float64(box1[3]-box1[1])
	area2 := float64(box2[2]-box2[0]) * float64(box2[3]-box2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}
