package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOutputSpec(t *testing.T) {
	cases := []struct {
		name  string
		shape []int64
		size  int
		want  OutputSpec
	}{
		{"yolov5", []int64{1, 25200, 85}, 640, OutputSpec{Layout: LayoutRows, NumBoxes: 25200, NumClasses: 80}},
		{"yolov8", []int64{1, 84, 8400}, 640, OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 8400, NumClasses: 80}},
		{"yolov5 dynamic", []int64{-1, -1, 85}, 320, OutputSpec{Layout: LayoutRows, NumBoxes: 6300, NumClasses: 80}},
		{"yolov8 dynamic", []int64{1, 84, -1}, 640, OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 8400, NumClasses: 80}},
		{"no batch", []int64{84, 8400}, 640, OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 8400, NumClasses: 80}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := ResolveOutputSpec(tc.shape, tc.size)
			require.NoError(t, err)
			assert.Equal(t, tc.want, spec)
		})
	}

	for _, bad := range [][]int64{{1, -1, -1}, {4, 84, 8400}, {1, 2, 3, 4}, {1, 3, 8400}} {
		_, err := ResolveOutputSpec(bad, 640)
		assert.Error(t, err, "shape %v", bad)
	}
}

func TestOutputSpecShape(t *testing.T) {
	rows := OutputSpec{Layout: LayoutRows, NumBoxes: 10, NumClasses: 2}
	assert.Equal(t, []int64{1, 10, 7}, rows.Shape())

	cm := OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 10, NumClasses: 2}
	assert.Equal(t, []int64{1, 6, 10}, cm.Shape())
}

var identity = Letterbox{Scale: 1, SrcWidth: 100, SrcHeight: 100}

func TestDecodeOutputRows(t *testing.T) {
	spec := OutputSpec{Layout: LayoutRows, NumBoxes: 3, NumClasses: 2}
	predictions := []float32{
		// cx, cy, w, h, obj, c0, c1
		50, 50, 20, 20, 0.9, 0.1, 0.9,
		10, 10, 4, 4, 0.1, 0.9, 0.9, // low objectness
		80, 80, 10, 10, 0.8, 0.5, 0.2,
	}

	dets, err := DecodeOutput(predictions, spec, identity, 0.25)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.81, dets[0].Confidence, 1e-6)
	assert.Equal(t, [4]float32{40, 40, 60, 60}, dets[0].BBox)

	assert.Equal(t, 0, dets[1].ClassID)
	assert.InDelta(t, 0.4, dets[1].Confidence, 1e-6)
}

func TestDecodeOutputChannelMajor(t *testing.T) {
	spec := OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 2, NumClasses: 2}
	predictions := []float32{
		50, 10, // cx
		50, 10, // cy
		20, 4, // w
		20, 4, // h
		0.1, 0.2, // c0
		0.7, 0.1, // c1
	}

	dets, err := DecodeOutput(predictions, spec, identity, 0.25)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.7, dets[0].Confidence, 1e-6)
	assert.Equal(t, [4]float32{40, 40, 60, 60}, dets[0].BBox)
}

func TestDecodeOutputLengthMismatch(t *testing.T) {
	spec := OutputSpec{Layout: LayoutRows, NumBoxes: 3, NumClasses: 2}
	_, err := DecodeOutput(make([]float32, 5), spec, identity, 0.25)
	assert.Error(t, err)
}

func TestDecodeOutputEmpty(t *testing.T) {
	spec := OutputSpec{Layout: LayoutChannelMajor, NumBoxes: 4, NumClasses: 1}
	dets, err := DecodeOutput(make([]float32, 20), spec, identity, 0.25)
	require.NoError(t, err)
	assert.Empty(t, dets)
}
