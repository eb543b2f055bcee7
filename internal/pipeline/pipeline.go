// Package pipeline implements the ingestion pipeline: acquire an image, run
// detection, persist the annotated image and the detection records, and
// summarize the outcome. Both the synchronous API entry point and the
// asynchronous queue consumer feed the same pipeline.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/imagestore"
	"github.com/tphakala/yolo-go/internal/logging"
	"github.com/tphakala/yolo-go/internal/objectstore"
	"github.com/tphakala/yolo-go/internal/observability"
	"github.com/tphakala/yolo-go/internal/yolo"
)

// Pipeline run sources, used for logging and metrics.
const (
	SourceAPI   = "api"
	SourceQueue = "queue"
)

const defaultExt = ".jpg"

// Detector is the object detection capability consumed by the pipeline.
// *yolo.Model satisfies it.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]yolo.Detection, error)
	Annotate(srcPath, dstPath string, detections []yolo.Detection) error
}

// Request describes one pipeline invocation. Exactly one of File and
// ImageKey must be set. An empty UID means the pipeline generates one; the
// queue consumer supplies caller-provided ids.
type Request struct {
	UID      string
	File     io.Reader // uploaded image bytes
	Ext      string    // extension of the uploaded file, defaults to .jpg
	ImageKey string    // object store key to fetch instead of an upload
	Source   string    // SourceAPI or SourceQueue, defaults to SourceAPI
}

// Result is the pipeline summary returned to the caller.
type Result struct {
	PredictionUID  string         `json:"prediction_uid"`
	DetectionCount int            `json:"detection_count"`
	LabelCounts    map[string]int `json:"label_counts"`
}

// Pipeline orchestrates one prediction run. All collaborators are injected
// once at startup; concurrent runs are independent because storage paths
// are partitioned by uid.
type Pipeline struct {
	detector Detector
	ds       datastore.Interface
	images   *imagestore.Store
	objects  objectstore.Client // nil when the object store is not configured
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a Pipeline with the given collaborators. objects and metrics
// may be nil.
func New(detector Detector, ds datastore.Interface, images *imagestore.Store, objects objectstore.Client, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		detector: detector,
		ds:       ds,
		images:   images,
		objects:  objects,
		metrics:  metrics,
		logger:   logging.ForService("pipeline"),
	}
}

// Process runs the full pipeline for one request. Acquisition and detection
// failures abort before any persistence; persistence failures after the
// session write are surfaced without rollback.
func (p *Pipeline) Process(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	source := req.Source
	if source == "" {
		source = SourceAPI
	}

	result, err := p.process(ctx, req, source)
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.Prediction.RecordPrediction(source, status)
		p.metrics.Prediction.ObservePipeline(source, time.Since(start))
		if result != nil {
			p.metrics.Prediction.RecordDetectionCount(result.DetectionCount)
		}
	}
	return result, err
}

func (p *Pipeline) process(ctx context.Context, req *Request, source string) (*Result, error) {
	uid := req.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	ext, err := p.resolveExt(req)
	if err != nil {
		return nil, err
	}

	originalPath := p.images.OriginalPath(uid, ext)
	if err := p.acquire(ctx, req, originalPath); err != nil {
		return nil, err
	}

	inferenceStart := time.Now()
	detections, err := p.detector.Detect(ctx, originalPath)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.Prediction.ObserveInference(time.Since(inferenceStart))
	}

	predictedPath := p.images.PredictedPath(uid, ext)
	if err := p.detector.Annotate(originalPath, predictedPath, detections); err != nil {
		return nil, errors.New(fmt.Errorf("annotating image: %w", err)).
			Component("pipeline").
			Category(errors.CategoryImageProcessing).
			Context("uid", uid).
			Build()
	}

	// Best-effort upload of the annotated image; failure never aborts the
	// pipeline, the image stays available through the retrieval endpoint.
	if p.objects != nil {
		key := "predicted/" + uid + ext
		if err := p.objects.Upload(ctx, key, predictedPath, contentTypeForExt(ext)); err != nil {
			p.logger.Warn("failed to upload annotated image", "uid", uid, "key", key, "error", err)
		}
	}

	if err := p.savePrediction(uid, originalPath, predictedPath); err != nil {
		return nil, err
	}

	labelCounts := make(map[string]int)
	for i := range detections {
		if err := p.saveDetection(uid, &detections[i]); err != nil {
			return nil, err
		}
		labelCounts[detections[i].Label]++
	}

	p.logger.Info("prediction completed",
		"uid", uid,
		"source", source,
		"detections", len(detections))

	return &Result{
		PredictionUID:  uid,
		DetectionCount: len(detections),
		LabelCounts:    labelCounts,
	}, nil
}

// resolveExt determines the local file extension for this run.
func (p *Pipeline) resolveExt(req *Request) (string, error) {
	hasFile := req.File != nil
	hasKey := req.ImageKey != ""

	switch {
	case !hasFile && !hasKey:
		return "", errors.Newf("provide either file or image_key").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	case hasFile && hasKey:
		return "", errors.Newf("provide either file or image_key, not both").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	case hasKey:
		if p.objects == nil {
			return "", errors.Newf("object store is not configured").
				Component("pipeline").
				Category(errors.CategoryValidation).
				Build()
		}
		return normalizeExt(filepath.Ext(req.ImageKey)), nil
	default:
		return normalizeExt(req.Ext), nil
	}
}

// acquire copies the uploaded stream or fetches the object store key into
// the original image path.
func (p *Pipeline) acquire(ctx context.Context, req *Request, originalPath string) error {
	if req.ImageKey != "" {
		return p.objects.Download(ctx, req.ImageKey, originalPath)
	}

	f, err := os.Create(originalPath)
	if err != nil {
		return errors.New(fmt.Errorf("creating upload file: %w", err)).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", originalPath).
			Build()
	}
	defer f.Close()

	if _, err := io.Copy(f, req.File); err != nil {
		return errors.New(fmt.Errorf("writing upload file: %w", err)).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", originalPath).
			Build()
	}
	return nil
}

func (p *Pipeline) savePrediction(uid, originalPath, predictedPath string) error {
	start := time.Now()
	err := p.ds.SavePrediction(&datastore.Prediction{
		UID:            uid,
		OriginalImage:  originalPath,
		PredictedImage: predictedPath,
	})
	if p.metrics != nil {
		p.metrics.Datastore.RecordOperation("save_prediction", statusOf(err), time.Since(start))
	}
	return err
}

func (p *Pipeline) saveDetection(uid string, d *yolo.Detection) error {
	start := time.Now()
	err := p.ds.SaveDetection(&datastore.Detection{
		PredictionUID: uid,
		Label:         d.Label,
		Score:         float64(d.Confidence),
		Box:           datastore.EncodeBox(d.Box),
	})
	if p.metrics != nil {
		p.metrics.Datastore.RecordOperation("save_detection", statusOf(err), time.Since(start))
	}
	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// normalizeExt returns a usable image extension, defaulting to .jpg.
func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return ext
	default:
		return defaultExt
	}
}

// contentTypeForExt maps an image extension to its media type.
func contentTypeForExt(ext string) string {
	if strings.EqualFold(ext, ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
