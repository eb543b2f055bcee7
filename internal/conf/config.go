// config.go: settings struct and functions to load and access the service configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // Path to the log file
	Rotation RotationType // Type of log rotation
	MaxSize  int64        // Max size in bytes for RotationSize
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// ModelSettings contains settings for the object detection model.
type ModelSettings struct {
	Path       string  // path to the YOLO tflite model file
	LabelsPath string  // path to the class labels file
	Confidence float64 // minimum confidence for a detection to be kept
	IoU        float64 // IoU threshold for non-maximum suppression
	Threads    int     // number of CPU threads for inference, 0 for all
	UseXNNPACK bool    // true to enable the XNNPack CPU delegate
}

// UploadsSettings contains the local image directory layout.
type UploadsSettings struct {
	OriginalPath  string // directory for input images
	PredictedPath string // directory for annotated images
}

// SQLiteSettings contains settings for the embedded SQLite backend.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to the database file
}

// DynamoDBSettings contains settings for the DynamoDB backend.
type DynamoDBSettings struct {
	Enabled         bool   // true to enable DynamoDB
	Region          string // AWS region
	Endpoint        string // custom endpoint for local stacks, empty for AWS
	SessionsTable   string // prediction sessions table name
	DetectionsTable string // detection objects table name
}

// OutputSettings selects the storage backend, fixed for the process lifetime.
type OutputSettings struct {
	SQLite   SQLiteSettings
	DynamoDB DynamoDBSettings
}

// ObjectStoreSettings contains S3 object store settings.
type ObjectStoreSettings struct {
	Enabled         bool   // true to enable S3 uploads/downloads
	Bucket          string // bucket name
	Region          string // AWS region
	Endpoint        string // custom endpoint for local stacks, empty for AWS
	AccessKeyID     string // static credentials, empty to use the default chain
	SecretAccessKey string
}

// QueueSettings contains SQS consumer settings.
type QueueSettings struct {
	Enabled        bool   // true to start the background consumer
	URL            string // queue URL
	Region         string // AWS region
	Endpoint       string // custom endpoint for local stacks, empty for AWS
	MaxMessages    int32  // max messages per receive batch
	WaitSeconds    int32  // long poll wait time in seconds
	IdleSeconds    int    // pause after an empty batch
	BackoffSeconds int    // pause after a queue access error
}

// WebServerSettings contains settings for the HTTP server.
type WebServerSettings struct {
	Debug bool   // true to enable HTTP debug logging
	Port  string // port for the HTTP server
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of the node
		Log  LogConfig // main log configuration
	}

	WebServer   WebServerSettings
	Model       ModelSettings
	Uploads     UploadsSettings
	Output      OutputSettings
	ObjectStore ObjectStoreSettings
	Queue       QueueSettings

	Version   string // version number, runtime value
	BuildDate string // build date, runtime value
}

// Load reads the configuration and returns the populated Settings struct.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with the config file and default values.
func initViper() error {
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetConfigName("config")
	viper.SetEnvPrefix("YOLO_GO")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file found, create one from the embedded default
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config file and loads it.
func createDefaultConfig(configPath string) error {
	configFilePath := filepath.Join(configPath, "config.yaml")
	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configFilePath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Println("Created default config file at:", configFilePath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default configuration as a string.
func getDefaultConfig() (string, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return "", fmt.Errorf("error reading embedded config.yaml: %w", err)
	}
	return string(data), nil
}

// GetDefaultConfigPaths returns the list of directories searched for config files.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user config directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(configDir, "yolo-go"),
		"/etc/yolo-go",
	}, nil
}

// GetBasePath expands a relative path against the working directory and
// ensures the directory exists.
func GetBasePath(path string) string {
	basePath := viper.GetString("main.basepath")
	if basePath == "" {
		basePath = "."
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(basePath, path)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		log.Printf("Failed to create directory %s: %v", path, err)
	}

	return path
}
