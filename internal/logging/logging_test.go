package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/yolo-go/internal/conf"
)

func TestInitWritesToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "main.log")
	settings := &conf.Settings{}
	settings.Main.Log.Enabled = true
	settings.Main.Log.Path = logPath
	settings.Main.Log.Rotation = conf.RotationDaily

	Init(settings)
	t.Cleanup(func() { assert.NoError(t, Close()) })

	ForService("test").Info("prediction completed", "uid", "abc")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err, "enabled file logging must create the log file")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "prediction completed", entry["msg"])
	assert.Equal(t, "abc", entry["uid"])
	assert.Equal(t, "test", entry["service"])
}

func TestInitWithoutFileLogging(t *testing.T) {
	settings := &conf.Settings{}
	Init(settings)

	assert.NotNil(t, Structured())
	assert.NoError(t, Close(), "no file writer to close when file logging is disabled")
}

func TestCloseIsIdempotent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "main.log")
	settings := &conf.Settings{}
	settings.Main.Log.Enabled = true
	settings.Main.Log.Path = logPath

	Init(settings)
	assert.NoError(t, Close())
	assert.NoError(t, Close())
}

func TestRotationWriterPolicies(t *testing.T) {
	dir := t.TempDir()

	logConf := &conf.LogConfig{Path: filepath.Join(dir, "a.log"), Rotation: conf.RotationDaily}
	w, err := newRotationWriter(logConf)
	require.NoError(t, err)
	assert.Equal(t, 1, w.MaxAge)
	assert.Equal(t, 30, w.MaxBackups)

	logConf = &conf.LogConfig{Path: filepath.Join(dir, "b.log"), Rotation: conf.RotationWeekly}
	w, err = newRotationWriter(logConf)
	require.NoError(t, err)
	assert.Equal(t, 7, w.MaxAge)
	assert.Equal(t, 4, w.MaxBackups)

	logConf = &conf.LogConfig{
		Path:     filepath.Join(dir, "c.log"),
		Rotation: conf.RotationSize,
		MaxSize:  10 * 1024 * 1024,
	}
	w, err = newRotationWriter(logConf)
	require.NoError(t, err)
	assert.Equal(t, 10, w.MaxSize)
}
