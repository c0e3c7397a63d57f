package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// Letterbox records how a source image was fit into the square model input
// so that boxes can be mapped back to source pixels.
type Letterbox struct {
	Scale     float32
	PadX      float32
	PadY      float32
	SrcWidth  int
	SrcHeight int
}

// LetterboxImage scales img to fit a size x size canvas keeping its aspect
// ratio and centers it on grey padding.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := imaging.New(size, size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Letterbox{
		Scale:     float32(scale),
		PadX:      float32(padX),
		PadY:      float32(padY),
		SrcWidth:  w,
		SrcHeight: h,
	}
}

// toSource converts a center/size box in model input pixels into corner
// coordinates clipped to the source image.
func (lb Letterbox) toSource(cx, cy, w, h float32) [4]float32 {
	x1 := (cx - w/2 - lb.PadX) / lb.Scale
	y1 := (cy - h/2 - lb.PadY) / lb.Scale
	x2 := (cx + w/2 - lb.PadX) / lb.Scale
	y2 := (cy + h/2 - lb.PadY) / lb.Scale

	maxX := float32(lb.SrcWidth)
	maxY := float32(lb.SrcHeight)
	return [4]float32{
		clamp(x1, 0, maxX),
		clamp(y1, 0, maxY),
		clamp(x2, 0, maxX),
		clamp(y2, 0, maxY),
	}
}

// Preprocessor writes a square NRGBA image into an NCHW float32 buffer
// scaled to [0, 1].
type Preprocessor struct {
	size       int
	numWorkers int
}

func NewPreprocessor(size int) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > size {
		workers = size
	}
	return &Preprocessor{
		size:       size,
		numWorkers: workers,
	}
}

func (p *Preprocessor) Process(img *image.NRGBA, dst []float32) {
	channelSize := p.size * p.size
	rowsPerWorker := p.size / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = p.size
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				offset := y * p.size
				for x := 0; x < p.size; x++ {
					i := offset + x
					px := src[x*4 : x*4+3]
					dst[i] = float32(px[0]) / 255.0
					dst[channelSize+i] = float32(px[1]) / 255.0
					dst[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
