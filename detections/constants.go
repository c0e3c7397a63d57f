package detections

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIouThreshold  = 0.45
	DefaultMaxDetections = 1000

	// Letterbox padding used by the ultralytics exporters.
	PadValue = 114

	InputName = "images"
)
