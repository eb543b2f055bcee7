// gorm.go shared GORM-backed implementation of the storage operations.
package datastore

import (
	"fmt"

	"github.com/tphakala/yolo-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DataStore implements the relational half of Interface using a GORM
// database. Backend structs embed it and provide Open/Close.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// SavePrediction inserts a new prediction session row.
func (ds *DataStore) SavePrediction(p *Prediction) error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	stampPrediction(p)

	// Detach detections, they are written separately by SaveDetection
	row := *p
	row.Detections = nil

	// Redelivered queue jobs may retry a session that was already written.
	// The first write wins; the retry must not fail on the primary key.
	if err := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return errors.New(fmt.Errorf("saving prediction %s: %w", p.UID, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("uid", p.UID).
			Build()
	}
	return nil
}

// SaveDetection inserts a new detection row. The parent session row must
// already exist.
func (ds *DataStore) SaveDetection(d *Detection) error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	if err := stampDetection(d); err != nil {
		return err
	}

	if err := ds.DB.Create(d).Error; err != nil {
		return errors.New(fmt.Errorf("saving detection for prediction %s: %w", d.PredictionUID, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("prediction_uid", d.PredictionUID).
			Context("label", d.Label).
			Build()
	}
	return nil
}

// GetPrediction retrieves a session with its detections by uid.
func (ds *DataStore) GetPrediction(uid string) (*Prediction, error) {
	var p Prediction
	err := ds.DB.Preload("Detections").Where("uid = ?", uid).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting prediction %s: %w", uid, err)
	}
	// A session with zero detections is valid
	if p.Detections == nil {
		p.Detections = []Detection{}
	}
	return &p, nil
}

// GetPredictionsByLabel returns deduplicated sessions with at least one
// detection matching the label, including the session timestamp.
func (ds *DataStore) GetPredictionsByLabel(label string) ([]PredictionSummary, error) {
	summaries := []PredictionSummary{}
	err := ds.DB.Model(&Prediction{}).
		Select("DISTINCT predictions.uid, predictions.timestamp").
		Joins("JOIN detections ON detections.prediction_uid = predictions.uid").
		Where("detections.label = ?", label).
		Order("predictions.timestamp").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("getting predictions by label %s: %w", label, err)
	}
	return summaries, nil
}

// GetPredictionsByScore returns deduplicated sessions with at least one
// detection at or above minScore, using an indexed range scan.
func (ds *DataStore) GetPredictionsByScore(minScore float64) ([]PredictionSummary, error) {
	summaries := []PredictionSummary{}
	err := ds.DB.Model(&Prediction{}).
		Select("DISTINCT predictions.uid, predictions.timestamp").
		Joins("JOIN detections ON detections.prediction_uid = predictions.uid").
		Where("detections.score >= ?", minScore).
		Order("predictions.timestamp").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("getting predictions by score %f: %w", minScore, err)
	}
	return summaries, nil
}

// performAutoMigration runs the schema migration for the relational backends.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Prediction{}, &Detection{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		getLogger().Debug("Database connection initialized", "type", dbType, "connection", connectionInfo)
	}
	return nil
}
