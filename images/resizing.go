package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
)

// LetterboxFill is the neutral gray YOLO models are trained with for padded borders.
var LetterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Tensor is a single normalized image in [1, 3, H, W] (NCHW, RGB, 0..1) layout.
type Tensor struct {
	// Data is the planar float32 pixel data.
	Data []float32
	// Width is the tensor width in pixels.
	Width int
	// Height is the tensor height in pixels.
	Height int
}

// Shape returns the NCHW shape of the tensor.
func (t *Tensor) Shape() []int64 {
	return []int64{1, 3, int64(t.Height), int64(t.Width)}
}

// LetterboxImage resizes img by the letterbox scale and pastes it centered onto a canvas of the
// tensor size filled with fill.
//
// Arguments:
//   - img: The original image.
//   - lb: The geometry from NewLetterbox for img's dimensions.
//   - fill: The border color; nil selects LetterboxFill.
//
// Returns:
//   - *image.RGBA: A TensorWidth x TensorHeight canvas.
func LetterboxImage(img image.Image, lb Letterbox, fill color.Color) *image.RGBA {
	if fill == nil {
		fill = LetterboxFill
	}

	newWidth, newHeight := lb.ResizedSize()
	resized := resize.Resize(uint(newWidth), uint(newHeight), img, resize.Bilinear)

	// Bias toward the top-left so odd margins split the same way the training pipeline does.
	left := int(math32.Round(lb.PadX - 0.1))
	top := int(math32.Round(lb.PadY - 0.1))

	canvas := image.NewRGBA(image.Rect(0, 0, lb.TensorWidth, lb.TensorHeight))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(left, top, left+newWidth, top+newHeight), resized, resized.Bounds().Min, draw.Src)

	return canvas
}

// ToTensor converts an image into a planar RGB tensor normalized to [0, 1].
func ToTensor(img image.Image) *Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channelSize := width * height

	data := make([]float32, channelSize*3)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	if rgba, ok := img.(*image.RGBA); ok {
		i := 0
		for y := 0; y < height; y++ {
			start := rgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := rgba.Pix[start : start+width*4]
			for x := 0; x < width; x++ {
				red[i] = float32(row[x*4]) / 255.0
				green[i] = float32(row[x*4+1]) / 255.0
				blue[i] = float32(row[x*4+2]) / 255.0
				i++
			}
		}
	} else {
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				red[i] = float32(r>>8) / 255.0
				green[i] = float32(g>>8) / 255.0
				blue[i] = float32(b>>8) / 255.0
				i++
			}
		}
	}

	return &Tensor{Data: data, Width: width, Height: height}
}
