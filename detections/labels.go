package detections

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Labels maps class indices produced by the model to human readable names.
type Labels struct {
	names  []string
	Source string
}

func NewLabels(names []string, source string) *Labels {
	cp := make([]string, len(names))
	copy(cp, names)
	return &Labels{names: cp, Source: source}
}

// DefaultLabels returns the 80 COCO classes the stock YOLO checkpoints are
// trained on.
func DefaultLabels() *Labels {
	return NewLabels(cocoNames, "coco")
}

func (l *Labels) Len() int {
	return len(l.names)
}

func (l *Labels) Name(classID int) (string, bool) {
	if classID < 0 || classID >= len(l.names) {
		return "", false
	}
	return l.names[classID], true
}

func (l *Labels) Names() []string {
	cp := make([]string, len(l.names))
	copy(cp, l.names)
	return cp
}

// LoadLabelsFile reads a name table from disk. JSON files may hold a plain
// array, an object with a "classes" array, or an index keyed object. Any
// other extension is read as one name per line.
func LoadLabelsFile(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var names []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		names, err = parseJSONLabels(data)
	} else {
		names, err = parseTextLabels(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}

	return NewLabels(names, path), nil
}

func parseTextLabels(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

func parseJSONLabels(data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var meta struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &meta); err == nil && len(meta.Classes) > 0 {
		return meta.Classes, nil
	}

	var indexed map[string]string
	if err := json.Unmarshal(data, &indexed); err != nil {
		return nil, err
	}
	parsed := make(map[int]string, len(indexed))
	for k, v := range indexed {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid class index %q", k)
		}
		parsed[idx] = v
	}
	return denseNames(parsed)
}

var metadataNameRe = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// ParseMetadataNames parses the names dict that ultralytics stores in the
// ONNX custom metadata, e.g. "{0: 'person', 1: 'bicycle'}".
func ParseMetadataNames(raw string) ([]string, error) {
	matches := metadataNameRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no class names in metadata")
	}

	parsed := make(map[int]string, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid class index %q", m[1])
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		parsed[idx] = name
	}
	return denseNames(parsed)
}

// denseNames turns an index keyed table into a slice and rejects gaps.
func denseNames(parsed map[int]string) ([]string, error) {
	keys := make([]int, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	names := make([]string, len(keys))
	for i, k := range keys {
		if k != i {
			return nil, fmt.Errorf("class index %d missing", i)
		}
		names[i] = parsed[k]
	}
	return names, nil
}

var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}
