// yolo.go YOLO model specific code
package yolo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/logging"
)

// Detection is one recognized object instance: class label, confidence and
// bounding box in source image pixel space as [x1, y1, x2, y2].
type Detection struct {
	Label      string
	Confidence float32
	Box        [4]float64
}

// Model represents the YOLO object detection model with its interpreter and
// configuration. Inference runs CPU-only.
type Model struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      []string
	inputWidth  int
	inputHeight int
	settings    *conf.Settings
	logger      *slog.Logger
	// interpreter tensors are not safe for concurrent invocation
	mu sync.Mutex
}

// New initializes a new Model instance from the configured model and label
// files.
func New(settings *conf.Settings) (*Model, error) {
	m := &Model{
		settings: settings,
		logger:   logging.ForService("yolo"),
	}

	labels, err := loadLabels(settings.Model.LabelsPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("YOLO: failed to load class labels: %w", err)).
			Component("yolo").
			Category(errors.CategoryModelInit).
			Context("labels_path", settings.Model.LabelsPath).
			Build()
	}
	m.labels = labels

	if err := m.initializeInterpreter(); err != nil {
		return nil, errors.New(fmt.Errorf("YOLO: failed to initialize model: %w", err)).
			Component("yolo").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.Model.Path).
			Build()
	}

	m.logger.Info("model initialized",
		"model_path", settings.Model.Path,
		"classes", len(m.labels),
		"input_width", m.inputWidth,
		"input_height", m.inputHeight)
	return m, nil
}

// initializeInterpreter loads the tflite model and allocates tensors.
func (m *Model) initializeInterpreter() error {
	modelData, err := os.ReadFile(m.settings.Model.Path)
	if err != nil {
		return fmt.Errorf("reading model file: %w", err)
	}

	m.model = tflite.NewModel(modelData)
	if m.model == nil {
		return fmt.Errorf("cannot load TensorFlow Lite model")
	}

	threads := m.determineThreadCount(m.settings.Model.Threads)

	options := tflite.NewInterpreterOptions()
	if m.settings.Model.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))})
		if delegate == nil {
			m.logger.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}

	m.interpreter = tflite.NewInterpreter(m.model, options)
	if m.interpreter == nil {
		return fmt.Errorf("cannot create interpreter")
	}
	if status := m.interpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("tensor allocation failed")
	}

	// Input tensor is [1, height, width, 3] float32
	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil || inputTensor.NumDims() != 4 {
		return fmt.Errorf("unexpected input tensor shape")
	}
	m.inputHeight = inputTensor.Dim(1)
	m.inputWidth = inputTensor.Dim(2)

	// The model data is no longer needed, TFLite keeps its own copy
	runtime.GC()
	return nil
}

// determineThreadCount selects the thread count for inference.
func (m *Model) determineThreadCount(configured int) int {
	if configured > 0 && configured <= runtime.NumCPU() {
		return configured
	}
	return runtime.NumCPU()
}

// Detect runs object detection on the image at the given path and returns
// detections in source image pixel space.
func (m *Model) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := decodeImageFile(imagePath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("YOLO: failed to decode image: %w", err)).
			Component("yolo").
			Category(errors.CategoryImageProcessing).
			Context("image_path", imagePath).
			Build()
	}

	input, geom := letterbox(img, m.inputWidth, m.inputHeight)

	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(inputTensor.Float32s(), input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New(fmt.Errorf("YOLO: tensor invoke failed: %v", status)).
			Component("yolo").
			Category(errors.CategoryModelInference).
			Context("image_path", imagePath).
			Build()
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}

	// Output is [1, 4+classes, boxes] float32
	rows := outputTensor.Dim(1)
	cols := outputTensor.Dim(outputTensor.NumDims() - 1)
	output := make([]float32, rows*cols)
	copy(output, outputTensor.Float32s())

	detections, err := decodeOutput(output, rows, cols, m.labels,
		float32(m.settings.Model.Confidence), geom)
	if err != nil {
		return nil, err
	}

	return nonMaxSuppression(detections, m.settings.Model.IoU), nil
}

// Labels returns the class labels the model was loaded with.
func (m *Model) Labels() []string {
	return m.labels
}

// Close releases the interpreter and model resources.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}
