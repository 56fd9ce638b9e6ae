package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/leaf-detection-service/models"
)

// yoloOutput lays out candidates the way a [1, 4+nc, anchors] head does.
func yoloOutput(numClasses int, candidates [][]float32) []float32 {
	anchors := len(candidates)
	out := make([]float32, (boxChannels+numClasses)*anchors)
	for i, cand := range candidates {
		for c, v := range cand {
			out[c*anchors+i] = v
		}
	}
	return out
}

var identity = Letterbox{Scale: 1, SrcWidth: 640, SrcHeight: 640}

func TestDecodeOutput(t *testing.T) {
	out := yoloOutput(2, [][]float32{
		{100, 100, 20, 40, 0.9, 0.1},
		{300, 300, 10, 10, 0.1, 0.2},
		{500, 200, 40, 20, 0.05, 0.6},
	})

	boxes, err := decodeOutput(out, 2, 3, identity, 0.25)
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	assert.Equal(t, 0, boxes[0].ClassID)
	assert.Equal(t, float32(0.9), boxes[0].Confidence)
	assert.Equal(t, [4]float32{90, 80, 110, 120}, boxes[0].XYXY)

	assert.Equal(t, 1, boxes[1].ClassID)
	assert.Equal(t, [4]float32{480, 190, 520, 210}, boxes[1].XYXY)
}

func TestDecodeOutputLengthMismatch(t *testing.T) {
	_, err := decodeOutput(make([]float32, 10), 2, 3, identity, 0.25)
	assert.Error(t, err)
}

func TestDecodeOutputUndoesLetterbox(t *testing.T) {
	// 200x100 source letterboxed into 64x64: scale 0.32, 16px vertical padding
	lb := Letterbox{Scale: 0.32, PadX: 0, PadY: 16, SrcWidth: 200, SrcHeight: 100}
	out := yoloOutput(1, [][]float32{
		{32, 32, 32, 16, 0.8},
		{62, 30, 10, 10, 0.7},
	})

	boxes, err := decodeOutput(out, 1, 2, lb, 0.25)
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	want := [4]float32{50, 25, 150, 75}
	for i := range want {
		assert.InDelta(t, want[i], boxes[0].XYXY[i], 1e-3)
	}

	// the second box crosses the right edge and is clipped to the source width
	assert.InDelta(t, 200, boxes[1].XYXY[2], 1e-3)
}

func TestNonMaxSuppression(t *testing.T) {
	boxes := []models.Box{
		{XYXY: [4]float32{0, 0, 10, 10}, ClassID: 0, Confidence: 0.6},
		{XYXY: [4]float32{1, 1, 11, 11}, ClassID: 0, Confidence: 0.9},
		{XYXY: [4]float32{1, 1, 11, 11}, ClassID: 1, Confidence: 0.5},
		{XYXY: [4]float32{50, 50, 60, 60}, ClassID: 0, Confidence: 0.4},
	}

	kept := nonMaxSuppression(boxes, 0.5, 10)
	require.Len(t, kept, 3)

	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, 1, kept[1].ClassID)
	assert.Equal(t, [4]float32{50, 50, 60, 60}, kept[2].XYXY)
}

func TestNonMaxSuppressionMaxDetections(t *testing.T) {
	boxes := []models.Box{
		{XYXY: [4]float32{0, 0, 1, 1}, Confidence: 0.3},
		{XYXY: [4]float32{5, 5, 6, 6}, Confidence: 0.9},
		{XYXY: [4]float32{9, 9, 10, 10}, Confidence: 0.6},
	}

	kept := nonMaxSuppression(boxes, 0.5, 2)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.6), kept[1].Confidence)
}

func TestCalculateIOU(t *testing.T) {
	assert.Equal(t, float32(1), calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}))
	assert.Equal(t, float32(0), calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{10, 10, 20, 20}))
	assert.InDelta(t, 25.0/175.0, calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
	assert.Equal(t, float32(0), calculateIOU([4]float32{0, 0, 0, 0}, [4]float32{0, 0, 0, 0}))
}
