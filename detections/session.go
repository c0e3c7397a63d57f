package detections

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelInfo describes the input and output tensors of a detector file.
type ModelInfo struct {
	Path       string
	InputName  string
	OutputName string
	InputSize  int
	Output     OutputSpec
}

// InspectModel reads tensor names and shapes from the model file. A
// dynamic spatial input size falls back to fallbackSize.
func InspectModel(modelPath string, fallbackSize int) (*ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model io info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	if len(outputs) < 1 {
		return nil, fmt.Errorf("model has no outputs")
	}

	inputSize, err := resolveInputSize(inputs[0].Dimensions, fallbackSize)
	if err != nil {
		return nil, err
	}

	spec, err := ResolveOutputSpec(outputs[0].Dimensions, inputSize)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", outputs[0].Name, err)
	}

	return &ModelInfo{
		Path:       modelPath,
		InputName:  inputs[0].Name,
		OutputName: outputs[0].Name,
		InputSize:  inputSize,
		Output:     spec,
	}, nil
}

func resolveInputSize(dims ort.Shape, fallbackSize int) (int, error) {
	if len(dims) != 4 {
		return 0, fmt.Errorf("expected NCHW input, got shape %v", dims)
	}
	if dims[1] > 0 && dims[1] != 3 {
		return 0, fmt.Errorf("expected 3 input channels, got %d", dims[1])
	}

	h, w := dims[2], dims[3]
	switch {
	case h <= 0 && w <= 0:
		if fallbackSize <= 0 {
			return DefaultInputSize, nil
		}
		return fallbackSize, nil
	case h != w:
		return 0, fmt.Errorf("non-square input %dx%d not supported", w, h)
	default:
		return int(h), nil
	}
}

// ReadMetadataNames returns the class names stored in the model's custom
// metadata under "names".
func ReadMetadataNames(modelPath string) ([]string, error) {
	meta, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model metadata: %w", err)
	}
	defer meta.Destroy()

	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, fmt.Errorf("error reading names metadata: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("model has no names metadata")
	}
	return ParseMetadataNames(raw)
}

// ModelSession owns one inference session and its preallocated tensors. A
// session must not be used by two goroutines at once.
type ModelSession struct {
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	Info         *ModelInfo
	preprocessor *Preprocessor
}

func NewModelSession(session *ort.AdvancedSession, input, output *ort.Tensor[float32], info *ModelInfo) *ModelSession {
	return &ModelSession{
		Session:      session,
		Input:        input,
		Output:       output,
		Info:         info,
		preprocessor: NewPreprocessor(info.InputSize),
	}
}

// LoadSession creates a session for info. threads <= 0 leaves the runtime
// defaults in place.
func LoadSession(info *ModelInfo, threads int) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("error setting intra op threads: %w", err)
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			return nil, fmt.Errorf("error setting inter op threads: %w", err)
		}
	}

	size := int64(info.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(info.Output.Shape()...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		info.Path,
		[]string{info.InputName},
		[]string{info.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return NewModelSession(session, inputTensor, outputTensor, info), nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}
