// predictions.go contains the prediction ingestion and query handlers.
package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/pipeline"
)

// predictRequest is the JSON body accepted by POST /predict when no
// multipart file is uploaded.
type predictRequest struct {
	ImageKey string `json:"image_key" form:"image_key"`
}

// Predict runs the ingestion pipeline for an uploaded file or an object
// store key and returns the session summary.
func (c *Controller) Predict(ctx echo.Context) error {
	req := &pipeline.Request{Source: pipeline.SourceAPI}

	if fileHeader, err := ctx.FormFile("file"); err == nil {
		f, err := fileHeader.Open()
		if err != nil {
			return c.HandleError(ctx, err, "Failed to read uploaded file", http.StatusBadRequest)
		}
		defer f.Close()
		req.File = f
		req.Ext = filepath.Ext(fileHeader.Filename)
	} else {
		var body predictRequest
		if err := ctx.Bind(&body); err != nil || body.ImageKey == "" {
			return c.HandleError(ctx, err, "No file or image_key provided", http.StatusBadRequest)
		}
		req.ImageKey = body.ImageKey
	}

	result, err := c.Pipeline.Process(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.IsValidation(err):
			return c.HandleError(ctx, err, "Invalid prediction request", http.StatusBadRequest)
		case errors.IsCategory(err, errors.CategoryImageFetch):
			return c.HandleError(ctx, err, "Failed to fetch image from object store", http.StatusBadRequest)
		default:
			return c.HandleError(ctx, err, "Prediction failed", http.StatusInternalServerError)
		}
	}

	return ctx.JSON(http.StatusOK, result)
}

// GetPrediction returns a full prediction session with its detections.
func (c *Controller) GetPrediction(ctx echo.Context) error {
	uid := ctx.Param("uid")

	// Sessions are immutable, so cached entries never go stale.
	if cached, found := c.predictionCache.Get(uid); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	prediction, err := c.DS.GetPrediction(uid)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return c.HandleError(ctx, err, "Prediction not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load prediction", http.StatusInternalServerError)
	}

	c.predictionCache.SetDefault(uid, prediction)
	return ctx.JSON(http.StatusOK, prediction)
}

// GetPredictionsByLabel lists sessions containing at least one detection
// with the given label.
func (c *Controller) GetPredictionsByLabel(ctx echo.Context) error {
	label := ctx.Param("label")

	summaries, err := c.DS.GetPredictionsByLabel(label)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to query predictions by label", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// GetPredictionsByScore lists sessions containing at least one detection
// with score at or above the threshold.
func (c *Controller) GetPredictionsByScore(ctx echo.Context) error {
	raw := ctx.Param("min_score")
	minScore, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid score threshold", http.StatusUnprocessableEntity)
	}

	summaries, err := c.DS.GetPredictionsByScore(minScore)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to query predictions by score", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, summaries)
}
