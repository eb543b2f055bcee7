// postprocess.go model output decoding and non-maximum suppression
package yolo

import (
	"fmt"
	"sort"
)

// decodeOutput parses the raw [rows x cols] output tensor, where the first
// four rows are the box center/size and the remaining rows are per-class
// scores, one column per candidate box. Candidates below the confidence
// threshold are dropped and boxes are mapped to source pixel space.
func decodeOutput(output []float32, rows, cols int, labels []string, confidence float32, geom letterboxGeometry) ([]Detection, error) {
	numClasses := rows - 4
	if numClasses < 1 {
		return nil, fmt.Errorf("unexpected output tensor layout: %d rows", rows)
	}
	if numClasses != len(labels) {
		return nil, fmt.Errorf("model predicts %d classes but %d labels loaded", numClasses, len(labels))
	}
	if len(output) < rows*cols {
		return nil, fmt.Errorf("output tensor too small: %d < %d", len(output), rows*cols)
	}

	var detections []Detection
	for c := 0; c < cols; c++ {
		bestClass := -1
		bestScore := float32(0)
		for k := 0; k < numClasses; k++ {
			score := output[(4+k)*cols+c]
			if score > bestScore {
				bestScore = score
				bestClass = k
			}
		}
		if bestClass < 0 || bestScore < confidence {
			continue
		}

		cx := output[0*cols+c]
		cy := output[1*cols+c]
		w := output[2*cols+c]
		h := output[3*cols+c]

		detections = append(detections, Detection{
			Label:      labels[bestClass],
			Confidence: bestScore,
			Box:        geom.toSourceSpace(cx, cy, w, h),
		})
	}
	return detections, nil
}

// nonMaxSuppression drops overlapping boxes of the same class, keeping the
// highest-confidence box of each overlapping cluster.
func nonMaxSuppression(detections []Detection, iouThreshold float64) []Detection {
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	kept := make([]Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if suppressed[j] || detections[j].Label != detections[i].Label {
				continue
			}
			if intersectionOverUnion(detections[i].Box, detections[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// intersectionOverUnion computes the IoU of two [x1,y1,x2,y2] boxes.
func intersectionOverUnion(a, b [4]float64) float64 {
	interX1 := max(a[0], b[0])
	interY1 := max(a[1], b[1])
	interX2 := min(a[2], b[2])
	interY2 := min(a[3], b[3])

	interW := max(0, interX2-interX1)
	interH := max(0, interY2-interY1)
	inter := interW * interH

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
