package models

import "time"

// Detection is one object found by the model. BBox holds x1, y1, x2, y2 in
// source image pixels.
type Detection struct {
	BBox       [4]float32
	Confidence float32
	ClassID    int
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	NMS         time.Duration
	Total       time.Duration
}

type AnalyzeRequest struct {
	Image string `json:"image" validate:"required"`
}

type AnalyzeResponse struct {
	Message string   `json:"message"`
	Objects []string `json:"objects"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
