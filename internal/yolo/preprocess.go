// preprocess.go image decoding and letterbox resizing for model input
package yolo

import (
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"

	xdraw "golang.org/x/image/draw"
)

// letterboxGeometry records how a source image was fitted into the model
// input so detections can be mapped back to source pixel space.
type letterboxGeometry struct {
	scale        float64 // uniform scale applied to the source image
	padX, padY   int     // letterbox padding in input pixels
	srcW, srcH   int     // source image dimensions
	inW, inH     int     // model input dimensions
}

// decodeImageFile opens and decodes a JPEG or PNG image.
func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// letterbox scales the image preserving aspect ratio, pads the remainder,
// and returns the normalized RGB float32 input plus the geometry needed to
// undo the transform.
func letterbox(img image.Image, inW, inH int) ([]float32, letterboxGeometry) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	scale := min(float64(inW)/float64(srcW), float64(inH)/float64(srcH))
	scaledW := int(float64(srcW) * scale)
	scaledH := int(float64(srcH) * scale)
	padX := (inW - scaledW) / 2
	padY := (inH - scaledH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, inW, inH))
	target := image.Rect(padX, padY, padX+scaledW, padY+scaledH)
	xdraw.ApproxBiLinear.Scale(canvas, target, img, bounds, xdraw.Src, nil)

	input := make([]float32, inW*inH*3)
	idx := 0
	for y := 0; y < inH; y++ {
		for x := 0; x < inW; x++ {
			offset := canvas.PixOffset(x, y)
			input[idx] = float32(canvas.Pix[offset]) / 255.0
			input[idx+1] = float32(canvas.Pix[offset+1]) / 255.0
			input[idx+2] = float32(canvas.Pix[offset+2]) / 255.0
			idx += 3
		}
	}

	return input, letterboxGeometry{
		scale: scale,
		padX:  padX,
		padY:  padY,
		srcW:  srcW,
		srcH:  srcH,
		inW:   inW,
		inH:   inH,
	}
}

// toSourceSpace maps a box from normalized input coordinates back to source
// image pixel coordinates, clamped to the image bounds.
func (g letterboxGeometry) toSourceSpace(cx, cy, w, h float32) [4]float64 {
	// Normalized center/size to input pixels
	px1 := float64(cx-w/2) * float64(g.inW)
	py1 := float64(cy-h/2) * float64(g.inH)
	px2 := float64(cx+w/2) * float64(g.inW)
	py2 := float64(cy+h/2) * float64(g.inH)

	// Undo letterbox padding and scale
	x1 := (px1 - float64(g.padX)) / g.scale
	y1 := (py1 - float64(g.padY)) / g.scale
	x2 := (px2 - float64(g.padX)) / g.scale
	y2 := (py2 - float64(g.padY)) / g.scale

	return [4]float64{
		clamp(x1, 0, float64(g.srcW)),
		clamp(y1, 0, float64(g.srcH)),
		clamp(x2, 0, float64(g.srcW)),
		clamp(y2, 0, float64(g.srcH)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
