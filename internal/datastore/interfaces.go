// interfaces.go: this code defines the interface for the storage operations
package datastore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/yolo-go/internal/conf"
)

// ErrNotFound is returned when a prediction session does not exist.
var ErrNotFound = errors.New("prediction not found")

// Interface abstracts the underlying storage implementation and defines the
// operations of the prediction store. The backend is selected once at
// startup and fixed for the process lifetime.
type Interface interface {
	Open() error
	Close() error

	// SavePrediction creates one durable prediction session. The store
	// assigns the timestamp when it is zero. UIDs are never reused.
	SavePrediction(p *Prediction) error

	// SaveDetection creates one detection record. It must be called after
	// SavePrediction for the same uid; no atomicity is guaranteed between
	// the session write and its detection writes.
	SaveDetection(d *Detection) error

	// GetPrediction returns the session and all of its detections, or
	// ErrNotFound.
	GetPrediction(uid string) (*Prediction, error)

	// GetPredictionsByLabel returns the sessions having at least one
	// detection with the given label, deduplicated by uid.
	GetPredictionsByLabel(label string) ([]PredictionSummary, error)

	// GetPredictionsByScore returns the sessions having at least one
	// detection with score >= minScore, deduplicated by uid.
	GetPredictionsByScore(minScore float64) ([]PredictionSummary, error)
}

// New creates a store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.DynamoDB.Enabled:
		return &DynamoDBStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// stampPrediction fills in store-assigned fields on a session row.
func stampPrediction(p *Prediction) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
}

// stampDetection fills in store-assigned fields on a detection row.
func stampDetection(d *Detection) error {
	if d.PredictionUID == "" {
		return fmt.Errorf("detection has no prediction uid")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
