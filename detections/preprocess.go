package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sys/cpu"
)

// Letterbox records how a source image was fitted into the model input so
// boxes can be mapped back.
type Letterbox struct {
	Scale      float32
	PadX, PadY int
	SrcWidth   int
	SrcHeight  int
}

// letterbox resizes img to fit width x height keeping its aspect ratio and
// centers it on a gray canvas.
func letterbox(img image.Image, width, height int) (*image.NRGBA, Letterbox) {
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	scale := math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))

	newW := max(1, int(math.Round(float64(srcW)*scale)))
	newH := max(1, int(math.Round(float64(srcH)*scale)))
	padX := (width - newW) / 2
	padY := (height - newH) / 2

	canvas := imaging.New(width, height, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Letterbox{
		Scale:     float32(scale),
		PadX:      padX,
		PadY:      padY,
		SrcWidth:  srcW,
		SrcHeight: srcH,
	}
}

// fillTensor writes img as planar RGB scaled to [0,1]. dst must hold
// 3*width*height values.
func fillTensor(img *image.NRGBA, dst []float32) {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	channelSize := width * height

	numWorkers := min(runtime.GOMAXPROCS(0), height)
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					p := x * 4
					dst[i] = float32(src[p]) / 255.0
					dst[channelSize+i] = float32(src[p+1]) / 255.0
					dst[channelSize*2+i] = float32(src[p+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// CPUFeatures lists SIMD extensions ONNX Runtime's CPU provider can use here.
func CPUFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512 {
			features = append(features, "avx512")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "fma")
		}
		if cpu.X86.HasSSE41 {
			features = append(features, "sse4.1")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "neon")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fp16")
		}
	}
	return features
}
