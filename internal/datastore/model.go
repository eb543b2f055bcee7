// model.go defines the persisted data model for prediction sessions and detections.
package datastore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Prediction represents the record of one inference run over one image.
// Sessions are created exactly once and never updated or deleted.
type Prediction struct {
	UID            string      `gorm:"primaryKey" json:"uid"`
	Timestamp      time.Time   `gorm:"index:idx_predictions_timestamp" json:"timestamp"`
	OriginalImage  string      `json:"original_image"`
	PredictedImage string      `json:"predicted_image"`
	Detections     []Detection `gorm:"foreignKey:PredictionUID;references:UID" json:"detection_objects"`
}

// Detection represents one recognized object instance within a prediction
// session. Detections are written in a batch after their parent session and
// are immutable.
type Detection struct {
	ID            string  `gorm:"primaryKey" json:"id"`
	PredictionUID string  `gorm:"index:idx_detections_prediction_uid;not null" json:"prediction_uid"`
	Label         string  `gorm:"index:idx_detections_label" json:"label"`
	Score         float64 `gorm:"index:idx_detections_score" json:"score"`
	Box           string  `json:"box"` // serialized bounding box, see EncodeBox
}

// PredictionSummary is the reduced row shape returned by the label and score
// queries. Timestamp may be zero when the backend's index does not carry it.
type PredictionSummary struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// EncodeBox serializes a bounding box as a JSON array of four pixel
// coordinates [x1, y1, x2, y2]. This is the canonical storage representation
// in every backend; callers must treat the stored value as opaque.
func EncodeBox(box [4]float64) string {
	data, _ := json.Marshal(box[:])
	return string(data)
}

// DecodeBox parses a serialized bounding box back into its four coordinates.
func DecodeBox(s string) ([4]float64, error) {
	var coords []float64
	if err := json.Unmarshal([]byte(s), &coords); err != nil {
		return [4]float64{}, fmt.Errorf("decoding box %q: %w", s, err)
	}
	if len(coords) != 4 {
		return [4]float64{}, fmt.Errorf("decoding box %q: expected 4 coordinates, got %d", s, len(coords))
	}
	return [4]float64{coords[0], coords[1], coords[2], coords[3]}, nil
}
