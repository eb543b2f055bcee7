// Package api implements the HTTP interface of the prediction service on
// top of echo: prediction ingestion, session and image retrieval, and the
// label/score query endpoints.
package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/imagestore"
	"github.com/tphakala/yolo-go/internal/logging"
	"github.com/tphakala/yolo-go/internal/observability"
	"github.com/tphakala/yolo-go/internal/pipeline"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings
	Pipeline *pipeline.Pipeline
	Images   *imagestore.Store

	predictionCache *cache.Cache // cache for session-by-uid lookups
	apiLogger       *slog.Logger
	metrics         *observability.Metrics
}

// New creates the API controller and registers all routes on e.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, p *pipeline.Pipeline, images *imagestore.Store, metrics *observability.Metrics) *Controller {
	c := &Controller{
		Echo:            e,
		DS:              ds,
		Settings:        settings,
		Pipeline:        p,
		Images:          images,
		predictionCache: cache.New(5*time.Minute, 10*time.Minute),
		apiLogger:       logging.ForService("api"),
		metrics:         metrics,
	}

	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(c.requestLogger())

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Echo.POST("/predict", c.Predict)
	c.Echo.GET("/prediction/:uid", c.GetPrediction)
	c.Echo.GET("/prediction/:uid/image", c.GetPredictionImage)
	c.Echo.GET("/predictions/label/:label", c.GetPredictionsByLabel)
	c.Echo.GET("/predictions/score/:min_score", c.GetPredictionsByScore)
	c.Echo.GET("/image/:type/:filename", c.GetImage)
	c.Echo.GET("/health", c.Health)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// requestLogger logs each request with method, path, status and latency.
func (c *Controller) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			c.apiLogger.Info("request",
				"method", ctx.Request().Method,
				"path", ctx.Request().URL.Path,
				"status", ctx.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", ctx.RealIP())
			return err
		}
	}
}

// ErrorResponse is the JSON error envelope returned by all handlers.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an API error response with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes the JSON error envelope with the given
// status code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	c.apiLogger.Error("API error",
		"correlation_id", errorResp.CorrelationID,
		"message", message,
		"error", errorStr,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, errorResp)
}

// Health reports service liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
