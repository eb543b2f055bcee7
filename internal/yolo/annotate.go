// annotate.go renders detections onto a copy of the source image
package yolo

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var boxColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}

const boxLineWidth = 2

// Annotate draws the bounding boxes and labels onto a copy of the source
// image and writes it to dstPath. The output encoding follows the
// destination file extension (.png for PNG, JPEG otherwise).
func (m *Model) Annotate(srcPath, dstPath string, detections []Detection) error {
	img, err := decodeImageFile(srcPath)
	if err != nil {
		return fmt.Errorf("decoding source image: %w", err)
	}

	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)

	for i := range detections {
		drawDetection(canvas, &detections[i])
	}

	return encodeImageFile(dstPath, canvas)
}

// drawDetection burns one box outline and its label into the canvas.
func drawDetection(canvas *image.RGBA, d *Detection) {
	x1, y1 := int(d.Box[0]), int(d.Box[1])
	x2, y2 := int(d.Box[2]), int(d.Box[3])

	for t := 0; t < boxLineWidth; t++ {
		drawRect(canvas, x1+t, y1+t, x2-t, y2-t)
	}

	text := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
	textY := y1 - 4
	if textY < basicfont.Face7x13.Ascent {
		textY = y1 + basicfont.Face7x13.Ascent + 4
	}
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x1, textY),
	}
	drawer.DrawString(text)
}

// drawRect draws a one pixel rectangle outline clipped to the canvas.
func drawRect(canvas *image.RGBA, x1, y1, x2, y2 int) {
	bounds := canvas.Bounds()
	for x := max(x1, bounds.Min.X); x <= min(x2, bounds.Max.X-1); x++ {
		if y1 >= bounds.Min.Y && y1 < bounds.Max.Y {
			canvas.SetRGBA(x, y1, boxColor)
		}
		if y2 >= bounds.Min.Y && y2 < bounds.Max.Y {
			canvas.SetRGBA(x, y2, boxColor)
		}
	}
	for y := max(y1, bounds.Min.Y); y <= min(y2, bounds.Max.Y-1); y++ {
		if x1 >= bounds.Min.X && x1 < bounds.Max.X {
			canvas.SetRGBA(x1, y, boxColor)
		}
		if x2 >= bounds.Min.X && x2 < bounds.Max.X {
			canvas.SetRGBA(x2, y, boxColor)
		}
	}
}

// encodeImageFile writes the image using the encoder matching the file
// extension.
func encodeImageFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}
