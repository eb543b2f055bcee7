// media.go contains the image retrieval handlers.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/imagestore"
)

// GetPredictionImage serves the annotated image of a session, honoring the
// client's Accept header.
func (c *Controller) GetPredictionImage(ctx echo.Context) error {
	uid := ctx.Param("uid")

	prediction, err := c.DS.GetPrediction(uid)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return c.HandleError(ctx, err, "Prediction not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load prediction", http.StatusInternalServerError)
	}

	// Missing backing file wins over negotiation failures.
	path := prediction.PredictedImage
	if _, err := os.Stat(path); err != nil {
		return c.HandleError(ctx, err, "Predicted image file not found", http.StatusNotFound)
	}

	accept := ctx.Request().Header.Get(echo.HeaderAccept)
	if !acceptsImage(accept, path) {
		return c.HandleError(ctx, nil, "Client does not accept image format", http.StatusNotAcceptable)
	}
	return ctx.File(path)
}

// acceptsImage reports whether the Accept header names the media type of
// the stored image file. Only literal image types match; wildcards are not
// honored.
func acceptsImage(accept, path string) bool {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return strings.Contains(accept, "image/png")
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return strings.Contains(accept, "image/jpeg") || strings.Contains(accept, "image/jpg")
	default:
		return false
	}
}

// GetImage serves a raw original or annotated image by filename.
func (c *Controller) GetImage(ctx echo.Context) error {
	imageType := ctx.Param("type")
	filename := ctx.Param("filename")

	path, err := c.Images.Resolve(imageType, filename)
	if err != nil {
		switch {
		case errors.Is(err, imagestore.ErrInvalidType):
			return c.HandleError(ctx, err, "Invalid image type", http.StatusBadRequest)
		case errors.Is(err, imagestore.ErrFileNotFound):
			return c.HandleError(ctx, err, "Image not found", http.StatusNotFound)
		default:
			return c.HandleError(ctx, err, "Invalid image request", http.StatusBadRequest)
		}
	}
	return ctx.File(path)
}
