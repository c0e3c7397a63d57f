package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxImageWide(t *testing.T) {
	src := imaging.New(200, 100, color.NRGBA{R: 255, A: 255})

	canvas, lb := LetterboxImage(src, 64)
	require.Equal(t, image.Rect(0, 0, 64, 64), canvas.Bounds())

	assert.InDelta(t, 0.32, lb.Scale, 1e-6)
	assert.Equal(t, float32(0), lb.PadX)
	assert.Equal(t, float32(16), lb.PadY)
	assert.Equal(t, 200, lb.SrcWidth)
	assert.Equal(t, 100, lb.SrcHeight)

	// padding row and image row
	assert.Equal(t, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}, canvas.NRGBAAt(32, 2))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, canvas.NRGBAAt(32, 32))
}

func TestLetterboxToSource(t *testing.T) {
	lb := Letterbox{Scale: 0.5, PadX: 0, PadY: 10, SrcWidth: 100, SrcHeight: 60}

	box := lb.toSource(20, 30, 10, 20)
	assert.Equal(t, [4]float32{30, 20, 50, 60}, box)

	clipped := lb.toSource(0, 0, 40, 40)
	assert.Equal(t, float32(0), clipped[0])
	assert.Equal(t, float32(0), clipped[1])
}

func TestPreprocessorProcess(t *testing.T) {
	img := imaging.New(4, 4, color.NRGBA{R: 255, G: 51, B: 0, A: 255})
	img.SetNRGBA(1, 2, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

	p := NewPreprocessor(4)
	dst := make([]float32, 3*4*4)
	p.Process(img, dst)

	assert.Equal(t, float32(1), dst[0])
	assert.InDelta(t, 0.2, dst[16], 1e-6)
	assert.Equal(t, float32(0), dst[32])

	i := 2*4 + 1
	assert.Equal(t, float32(0), dst[i])
	assert.Equal(t, float32(0), dst[16+i])
	assert.Equal(t, float32(1), dst[32+i])
}
