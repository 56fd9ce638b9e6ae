package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestLetterboxLandscape(t *testing.T) {
	src := solidImage(200, 100, color.NRGBA{R: 255, A: 255})

	out, lb := letterbox(src, 64, 64)

	require.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())
	assert.InDelta(t, 0.32, lb.Scale, 1e-6)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 16, lb.PadY)
	assert.Equal(t, 200, lb.SrcWidth)
	assert.Equal(t, 100, lb.SrcHeight)

	// top border is padding, middle is image
	assert.Equal(t, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}, out.NRGBAAt(32, 2))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(32, 32))
}

func TestLetterboxPortrait(t *testing.T) {
	src := solidImage(50, 100, color.NRGBA{G: 255, A: 255})

	out, lb := letterbox(src, 32, 32)

	require.Equal(t, image.Rect(0, 0, 32, 32), out.Bounds())
	assert.Equal(t, 8, lb.PadX)
	assert.Equal(t, 0, lb.PadY)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, out.NRGBAAt(16, 16))
}

func TestFillTensorPlanarRGB(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.SetNRGBA(2, 1, color.NRGBA{R: 0, G: 51, B: 255, A: 255})

	dst := make([]float32, 3*3*2)
	fillTensor(img, dst)

	channelSize := 6
	assert.Equal(t, float32(1), dst[0])
	assert.Equal(t, float32(0), dst[channelSize])
	assert.Equal(t, float32(0), dst[2*channelSize])

	last := 1*3 + 2
	assert.Equal(t, float32(0), dst[last])
	assert.InDelta(t, 0.2, dst[channelSize+last], 1e-6)
	assert.Equal(t, float32(1), dst[2*channelSize+last])
}
