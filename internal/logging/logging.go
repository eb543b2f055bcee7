// Package logging provides the structured logging setup for the application.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tphakala/yolo-go/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	fileWriter       *lumberjack.Logger
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with a structured JSON logger and sets
// it as the process default. Logs go to stdout; when the main log file is
// enabled in settings they are duplicated to a rotating file. A nil settings
// configures stdout-only logging at info level.
func Init(settings *conf.Settings) {
	level := slog.LevelInfo
	var output io.Writer = os.Stdout

	if settings != nil {
		if settings.Debug {
			level = slog.LevelDebug
		}
		if settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
			if w, err := newRotationWriter(&settings.Main.Log); err != nil {
				slog.Warn("failed to set up log file, logging to stdout only", "path", settings.Main.Log.Path, "error", err)
			} else {
				fileWriter = w
				output = io.MultiWriter(os.Stdout, w)
			}
		}
	}

	structuredHandler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	structuredLogger = slog.New(structuredHandler)
	slog.SetDefault(structuredLogger)
}

// Close flushes and closes the rotating log file writer, if one was opened.
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// newRotationWriter builds the lumberjack writer for the main log file,
// mapping the configured rotation policy onto lumberjack's size/age knobs.
func newRotationWriter(logConf *conf.LogConfig) (*lumberjack.Logger, error) {
	logDir := filepath.Dir(logConf.Path)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	w := &lumberjack.Logger{
		Filename:   logConf.Path,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	if configMaxSizeMB := int(logConf.MaxSize / (1024 * 1024)); configMaxSizeMB > 0 {
		w.MaxSize = configMaxSizeMB
	}

	switch logConf.Rotation {
	case conf.RotationDaily:
		w.MaxAge = 1
		w.MaxBackups = 30
	case conf.RotationWeekly:
		w.MaxAge = 7
		w.MaxBackups = 4
	case conf.RotationSize:
		// size-based rotation uses MaxSize as-is
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", logConf.Rotation)
	}

	return w, nil
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// ForService creates a new logger instance with the 'service' attribute
// added. It uses the global structured logger as the base.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

