package detections

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/models"
)

// decodeOutput turns a [1, 4+nc, anchors] YOLO output into boxes in source
// image pixels. Rows 0..3 hold cx, cy, w, h in input pixels, the remaining
// rows hold per-class scores.
func decodeOutput(out []float32, numClasses, anchors int, lb Letterbox, confThreshold float32) ([]models.Box, error) {
	channels := boxChannels + numClasses
	if len(out) != channels*anchors {
		return nil, xerrors.Errorf("unexpected output length: got %d, want %d", len(out), channels*anchors)
	}

	boxes := make([]models.Box, 0, 64)
	for i := 0; i < anchors; i++ {
		classID := -1
		best := float32(0)
		for c := 0; c < numClasses; c++ {
			if score := out[(boxChannels+c)*anchors+i]; score > best {
				best = score
				classID = c
			}
		}
		if classID < 0 || best < confThreshold {
			continue
		}

		cx := out[i]
		cy := out[anchors+i]
		w := out[2*anchors+i]
		h := out[3*anchors+i]

		boxes = append(boxes, models.Box{
			XYXY:       unletterbox([4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}, lb),
			ClassID:    classID,
			Confidence: best,
		})
	}
	return boxes, nil
}

// unletterbox maps an xyxy box from model input space to the source image
// and clips it to the image bounds.
func unletterbox(b [4]float32, lb Letterbox) [4]float32 {
	padX, padY := float32(lb.PadX), float32(lb.PadY)
	srcW, srcH := float32(lb.SrcWidth), float32(lb.SrcHeight)

	return [4]float32{
		clamp((b[0]-padX)/lb.Scale, 0, srcW),
		clamp((b[1]-padY)/lb.Scale, 0, srcH),
		clamp((b[2]-padX)/lb.Scale, 0, srcW),
		clamp((b[3]-padY)/lb.Scale, 0, srcH),
	}
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class, returning at most maxDet boxes by descending confidence.
func nonMaxSuppression(boxes []models.Box, iouThreshold float32, maxDet int) []models.Box {
	sortBoxesByConfidence(boxes)

	kept := make([]models.Box, 0, min(len(boxes), maxDet))
	for _, b := range boxes {
		if len(kept) >= maxDet {
			break
		}
		suppressed := false
		for _, k := range kept {
			if k.ClassID == b.ClassID && calculateIOU(k.XYXY, b.XYXY) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, b)
		}
	}
	return kept
}

func calculateIOU(box1, box2 [4]float32) float32 {
	x1 := max(box1[0], box2[0])
	y1 := max(box1[1], box2[1])
	x2 := min(box1[2], box2[2])
	y2 := min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func sortBoxesByConfidence(boxes []models.Box) {
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
