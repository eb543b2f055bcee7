// validate.go settings validation
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the settings for obvious misconfiguration before
// any component is constructed.
func ValidateSettings(settings *Settings) error {
	var validationErrors []string

	if err := validateOutputSettings(settings); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := validateModelSettings(&settings.Model); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := validateQueueSettings(&settings.Queue); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := validateObjectStoreSettings(&settings.ObjectStore); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", validationErrors)
	}
	return nil
}

func validateOutputSettings(settings *Settings) error {
	sqlite := settings.Output.SQLite
	dynamo := settings.Output.DynamoDB

	switch {
	case sqlite.Enabled && dynamo.Enabled:
		return errors.New("only one storage backend may be enabled at a time")
	case !sqlite.Enabled && !dynamo.Enabled:
		return errors.New("no storage backend enabled")
	case sqlite.Enabled && sqlite.Path == "":
		return errors.New("sqlite backend requires a database path")
	case dynamo.Enabled && (dynamo.SessionsTable == "" || dynamo.DetectionsTable == ""):
		return errors.New("dynamodb backend requires sessions and detections table names")
	}
	return nil
}

func validateModelSettings(model *ModelSettings) error {
	if model.Path == "" {
		return errors.New("model path is required")
	}
	if model.Confidence < 0 || model.Confidence > 1 {
		return fmt.Errorf("model confidence %f out of range [0,1]", model.Confidence)
	}
	if model.IoU <= 0 || model.IoU > 1 {
		return fmt.Errorf("model IoU threshold %f out of range (0,1]", model.IoU)
	}
	return nil
}

func validateQueueSettings(queue *QueueSettings) error {
	if !queue.Enabled {
		return nil
	}
	if queue.URL == "" {
		return errors.New("queue consumer enabled but no queue URL configured")
	}
	if queue.MaxMessages < 1 || queue.MaxMessages > 10 {
		return fmt.Errorf("queue maxmessages %d out of range [1,10]", queue.MaxMessages)
	}
	if queue.WaitSeconds < 0 || queue.WaitSeconds > 20 {
		return fmt.Errorf("queue waitseconds %d out of range [0,20]", queue.WaitSeconds)
	}
	return nil
}

func validateObjectStoreSettings(store *ObjectStoreSettings) error {
	if store.Enabled && store.Bucket == "" {
		return errors.New("object store enabled but no bucket configured")
	}
	return nil
}
