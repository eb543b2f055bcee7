package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/imagestore"
	"github.com/tphakala/yolo-go/internal/pipeline"
	"github.com/tphakala/yolo-go/internal/yolo"
)

type fixedDetector struct {
	detections []yolo.Detection
}

func (d *fixedDetector) Detect(context.Context, string) ([]yolo.Detection, error) {
	return d.detections, nil
}

func (d *fixedDetector) Annotate(srcPath, dstPath string, _ []yolo.Detection) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dstPath, data, 0o644)
}

type fakeObjectStore struct {
	objects map[string]string
}

func (s *fakeObjectStore) Download(_ context.Context, key, destPath string) error {
	body, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("failed to download from S3: no such key %s", key)
	}
	return os.WriteFile(destPath, []byte(body), 0o644)
}

func (s *fakeObjectStore) Upload(context.Context, string, string, string) error {
	return nil
}

type testServer struct {
	echo   *echo.Echo
	ds     datastore.Interface
	images *imagestore.Store
}

func newTestServer(t *testing.T) *testServer {
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

	detector := &fixedDetector{detections: []yolo.Detection{
		{Label: "dog", Confidence: 0.92, Box: [4]float64{10, 20, 110, 220}},
	}}
	objects := &fakeObjectStore{objects: map[string]string{"incoming/dog.jpg": "jpeg bytes"}}
	p := pipeline.New(detector, ds, images, objects, nil)

	e := echo.New()
	New(e, ds, settings, p, images, nil)
	return &testServer{echo: e, ds: ds, images: images}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, filename, body string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPredictUpload(t *testing.T) {
	s := newTestServer(t)
	buf, contentType := multipartUpload(t, "dog.jpg", "jpeg bytes")

	req := httptest.NewRequest(http.MethodPost, "/predict", buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.PredictionUID)
	assert.Equal(t, 1, result.DetectionCount)
	assert.Equal(t, map[string]int{"dog": 1}, result.LabelCounts)

	// The session is durably persisted and retrievable.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/prediction/"+result.PredictionUID, http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var prediction datastore.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prediction))
	assert.Len(t, prediction.Detections, 1)
	assert.Equal(t, "dog", prediction.Detections[0].Label)
}

func TestPredictImageKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"image_key":"incoming/dog.jpg"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.DetectionCount)
}

func TestPredictNoInput(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := s.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPredictUnknownImageKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"image_key":"incoming/nope.jpg"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := s.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPredictionNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/prediction/no-such-uid", http.NoBody))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPredictionCached(t *testing.T) {
	s := newTestServer(t)
	buf, contentType := multipartUpload(t, "dog.jpg", "jpeg bytes")
	req := httptest.NewRequest(http.MethodPost, "/predict", buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	// Two consecutive reads return the same payload, the second served from
	// the read cache.
	first := s.do(httptest.NewRequest(http.MethodGet, "/prediction/"+result.PredictionUID, http.NoBody))
	second := s.do(httptest.NewRequest(http.MethodGet, "/prediction/"+result.PredictionUID, http.NoBody))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestGetPredictionsByLabel(t *testing.T) {
	s := newTestServer(t)
	buf, contentType := multipartUpload(t, "dog.jpg", "jpeg bytes")
	req := httptest.NewRequest(http.MethodPost, "/predict", buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	require.Equal(t, http.StatusOK, s.do(req).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/predictions/label/dog", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []datastore.PredictionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 1)

	// No matches yields an empty list, not an error.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/predictions/label/unicorn", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetPredictionsByScore(t *testing.T) {
	s := newTestServer(t)
	buf, contentType := multipartUpload(t, "dog.jpg", "jpeg bytes")
	req := httptest.NewRequest(http.MethodPost, "/predict", buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	require.Equal(t, http.StatusOK, s.do(req).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/predictions/score/0.5", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []datastore.PredictionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 1)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/predictions/score/0.99", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetPredictionsByScoreNonNumeric(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/predictions/score/high", http.NoBody))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetPredictionImage(t *testing.T) {
	s := newTestServer(t)
	buf, contentType := multipartUpload(t, "dog.jpg", "jpeg bytes")
	req := httptest.NewRequest(http.MethodPost, "/predict", buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	req = httptest.NewRequest(http.MethodGet, "/prediction/"+result.PredictionUID+"/image", http.NoBody)
	req.Header.Set(echo.HeaderAccept, "image/jpeg")
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())

	// Media type mismatch is not acceptable.
	req = httptest.NewRequest(http.MethodGet, "/prediction/"+result.PredictionUID+"/image", http.NoBody)
	req.Header.Set(echo.HeaderAccept, "text/html")
	rec = s.do(req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	// Unknown session.
	req = httptest.NewRequest(http.MethodGet, "/prediction/no-such-uid/image", http.NoBody)
	req.Header.Set(echo.HeaderAccept, "image/jpeg")
	rec = s.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPredictionImageFileMissing(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ds.SavePrediction(&datastore.Prediction{
		UID:            "orphan",
		PredictedImage: s.images.PredictedPath("orphan", ".jpg"),
	}))

	req := httptest.NewRequest(http.MethodGet, "/prediction/orphan/image", http.NoBody)
	req.Header.Set(echo.HeaderAccept, "image/jpeg")
	rec := s.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The missing file wins over a negotiation failure.
	req = httptest.NewRequest(http.MethodGet, "/prediction/orphan/image", http.NoBody)
	req.Header.Set(echo.HeaderAccept, "text/html")
	rec = s.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetImage(t *testing.T) {
	s := newTestServer(t)
	path := s.images.OriginalPath("sample", ".jpg")
	require.NoError(t, os.WriteFile(path, []byte("raw bytes"), 0o644))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/image/original/sample.jpg", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw bytes", rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/image/thumbnail/sample.jpg", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/image/predicted/missing.jpg", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcceptsImage(t *testing.T) {
	assert.True(t, acceptsImage("image/jpeg", "a.jpg"))
	assert.True(t, acceptsImage("image/png,image/jpeg", "a.jpeg"))
	assert.True(t, acceptsImage("image/png", "a.png"))
	assert.False(t, acceptsImage("image/png", "a.jpg"))
	assert.False(t, acceptsImage("text/html", "a.png"))

	// Wildcards do not name a concrete image type.
	assert.False(t, acceptsImage("*/*", "a.jpg"))
	assert.False(t, acceptsImage("image/*", "a.png"))
}

func TestErrorResponseShape(t *testing.T) {
	resp := NewErrorResponse(errors.New("boom"), "Something failed", http.StatusInternalServerError)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, "Something failed", resp.Message)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Len(t, resp.CorrelationID, 8)
}
