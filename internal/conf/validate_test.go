package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "predictions.db"
	s.Model.Path = "yolov8n.tflite"
	s.Model.Confidence = 0.25
	s.Model.IoU = 0.45
	return s
}

func TestValidateSettings(t *testing.T) {
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateOutputBackendSelection(t *testing.T) {
	s := validSettings()
	s.Output.DynamoDB.Enabled = true
	assert.Error(t, ValidateSettings(s), "two enabled backends must be rejected")

	s = validSettings()
	s.Output.SQLite.Enabled = false
	assert.Error(t, ValidateSettings(s), "no enabled backend must be rejected")

	s = validSettings()
	s.Output.SQLite.Enabled = false
	s.Output.DynamoDB.Enabled = true
	s.Output.DynamoDB.SessionsTable = "PredictionSessions"
	assert.Error(t, ValidateSettings(s), "dynamodb requires both table names")

	s.Output.DynamoDB.DetectionsTable = "DetectionObjects"
	assert.NoError(t, ValidateSettings(s))
}

func TestValidateModelSettings(t *testing.T) {
	s := validSettings()
	s.Model.Path = ""
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.Model.Confidence = 1.5
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.Model.IoU = 0
	assert.Error(t, ValidateSettings(s))
}

func TestValidateQueueSettings(t *testing.T) {
	s := validSettings()
	s.Queue.Enabled = true
	assert.Error(t, ValidateSettings(s), "enabled queue requires a URL")

	s.Queue.URL = "https://sqs.eu-west-1.amazonaws.com/123/predictions"
	s.Queue.MaxMessages = 10
	s.Queue.WaitSeconds = 20
	assert.NoError(t, ValidateSettings(s))

	s.Queue.MaxMessages = 11
	assert.Error(t, ValidateSettings(s))

	s.Queue.MaxMessages = 10
	s.Queue.WaitSeconds = 21
	assert.Error(t, ValidateSettings(s))
}

func TestValidateObjectStoreSettings(t *testing.T) {
	s := validSettings()
	s.ObjectStore.Enabled = true
	assert.Error(t, ValidateSettings(s), "enabled object store requires a bucket")

	s.ObjectStore.Bucket = "predictions"
	assert.NoError(t, ValidateSettings(s))
}
