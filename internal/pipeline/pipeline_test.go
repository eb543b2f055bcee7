package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/datastore"
	yologoerrors "github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/imagestore"
	"github.com/tphakala/yolo-go/internal/yolo"
)

// stubDetector returns canned detections and annotates by copying the file.
type stubDetector struct {
	detections []yolo.Detection
	detectErr  error
	detected   []string
	annotated  []string
}

func (d *stubDetector) Detect(_ context.Context, imagePath string) ([]yolo.Detection, error) {
	d.detected = append(d.detected, imagePath)
	if d.detectErr != nil {
		return nil, d.detectErr
	}
	return d.detections, nil
}

func (d *stubDetector) Annotate(srcPath, dstPath string, _ []yolo.Detection) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	d.annotated = append(d.annotated, dstPath)
	return os.WriteFile(dstPath, data, 0o644)
}

// stubObjectStore records uploads and serves downloads from a key map.
type stubObjectStore struct {
	objects   map[string]string
	uploads   []string
	uploadErr error
}

func (s *stubObjectStore) Download(_ context.Context, key, destPath string) error {
	body, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	return os.WriteFile(destPath, []byte(body), 0o644)
}

func (s *stubObjectStore) Upload(_ context.Context, key, _, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploads = append(s.uploads, key)
	return nil
}

func newTestStore(t *testing.T) (datastore.Interface, *imagestore.Store) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"
	settings.Uploads.OriginalPath = t.TempDir()
	settings.Uploads.PredictedPath = t.TempDir()

	ds := datastore.New(settings)
	require.NotNil(t, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	images, err := imagestore.New(settings)
	require.NoError(t, err)
	return ds, images
}

func TestProcessUpload(t *testing.T) {
	ds, images := newTestStore(t)
	detector := &stubDetector{detections: []yolo.Detection{
		{Label: "dog", Confidence: 0.9, Box: [4]float64{10, 20, 30, 40}},
		{Label: "dog", Confidence: 0.8, Box: [4]float64{50, 60, 70, 80}},
		{Label: "cat", Confidence: 0.7, Box: [4]float64{1, 2, 3, 4}},
	}}
	p := New(detector, ds, images, nil, nil)

	result, err := p.Process(context.Background(), &Request{
		File: strings.NewReader("fake image bytes"),
		Ext:  ".png",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.PredictionUID)
	assert.Equal(t, 3, result.DetectionCount)
	assert.Equal(t, map[string]int{"dog": 2, "cat": 1}, result.LabelCounts)

	// Original and annotated images land in the configured directories.
	assert.FileExists(t, images.OriginalPath(result.PredictionUID, ".png"))
	assert.FileExists(t, images.PredictedPath(result.PredictionUID, ".png"))

	// The session and its detections are persisted.
	prediction, err := ds.GetPrediction(result.PredictionUID)
	require.NoError(t, err)
	assert.Len(t, prediction.Detections, 3)
	box, err := datastore.DecodeBox(prediction.Detections[0].Box)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{10, 20, 30, 40}, box)
}

func TestProcessCallerProvidedUID(t *testing.T) {
	ds, images := newTestStore(t)
	p := New(&stubDetector{}, ds, images, nil, nil)

	result, err := p.Process(context.Background(), &Request{
		UID:  "job-42",
		File: strings.NewReader("bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", result.PredictionUID)

	prediction, err := ds.GetPrediction("job-42")
	require.NoError(t, err)
	assert.Empty(t, prediction.Detections)
	assert.Equal(t, 0, result.DetectionCount)
}

func TestProcessImageKey(t *testing.T) {
	ds, images := newTestStore(t)
	objects := &stubObjectStore{objects: map[string]string{"incoming/cat.png": "png bytes"}}
	detector := &stubDetector{detections: []yolo.Detection{{Label: "cat", Confidence: 0.5}}}
	p := New(detector, ds, images, objects, nil)

	result, err := p.Process(context.Background(), &Request{
		ImageKey: "incoming/cat.png",
		Source:   SourceQueue,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DetectionCount)

	// Annotated image is uploaded back under the predicted/ prefix.
	require.Len(t, objects.uploads, 1)
	assert.Equal(t, "predicted/"+result.PredictionUID+".png", objects.uploads[0])
}

func TestProcessUploadFailureIsSwallowed(t *testing.T) {
	ds, images := newTestStore(t)
	objects := &stubObjectStore{
		objects:   map[string]string{"in.jpg": "bytes"},
		uploadErr: errors.New("bucket unavailable"),
	}
	p := New(&stubDetector{}, ds, images, objects, nil)

	result, err := p.Process(context.Background(), &Request{ImageKey: "in.jpg"})
	require.NoError(t, err)

	// The session is still persisted after the failed upload.
	_, err = ds.GetPrediction(result.PredictionUID)
	assert.NoError(t, err)
}

func TestProcessRejectsAmbiguousInput(t *testing.T) {
	ds, images := newTestStore(t)
	p := New(&stubDetector{}, ds, images, &stubObjectStore{}, nil)

	_, err := p.Process(context.Background(), &Request{})
	assert.True(t, yologoerrors.IsValidation(err), "no input should be a validation error")

	_, err = p.Process(context.Background(), &Request{
		File:     strings.NewReader("bytes"),
		ImageKey: "in.jpg",
	})
	assert.True(t, yologoerrors.IsValidation(err), "both inputs should be a validation error")
}

func TestProcessImageKeyWithoutObjectStore(t *testing.T) {
	ds, images := newTestStore(t)
	p := New(&stubDetector{}, ds, images, nil, nil)

	_, err := p.Process(context.Background(), &Request{ImageKey: "in.jpg"})
	assert.True(t, yologoerrors.IsValidation(err))
}

func TestProcessDetectionFailureAbortsBeforePersistence(t *testing.T) {
	ds, images := newTestStore(t)
	detector := &stubDetector{detectErr: errors.New("inference failed")}
	p := New(detector, ds, images, nil, nil)

	_, err := p.Process(context.Background(), &Request{
		UID:  "doomed",
		File: strings.NewReader("bytes"),
	})
	require.Error(t, err)

	_, err = ds.GetPrediction("doomed")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestProcessDownloadFailureAborts(t *testing.T) {
	ds, images := newTestStore(t)
	p := New(&stubDetector{}, ds, images, &stubObjectStore{objects: map[string]string{}}, nil)

	_, err := p.Process(context.Background(), &Request{UID: "missing", ImageKey: "nope.jpg"})
	require.Error(t, err)

	_, err = ds.GetPrediction("missing")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, ".jpg", normalizeExt(""))
	assert.Equal(t, ".jpg", normalizeExt(".gif"))
	assert.Equal(t, ".png", normalizeExt(".PNG"))
	assert.Equal(t, ".jpeg", normalizeExt(".jpeg"))
}
