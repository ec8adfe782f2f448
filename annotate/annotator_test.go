package annotate

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

func TestLabel(t *testing.T) {
	assert.Equal(t, "person 0.87", Label("person", 0.8712))
	assert.Equal(t, "crack 1.00", Label("crack", 0.999))
	assert.Equal(t, "rust 0.50", Label("rust", 0.5))
}

func TestLabelBand(t *testing.T) {
	tests := []struct {
		name     string
		box      image.Rectangle
		text     image.Point
		imgWidth int
		want     image.Rectangle
	}{
		{"above the box", image.Rect(20, 30, 80, 90), image.Pt(40, 10), 100, image.Rect(20, 17, 60, 30)},
		{"moved inside at the top edge", image.Rect(20, 5, 80, 90), image.Pt(40, 10), 100, image.Rect(20, 5, 60, 18)},
		{"shifted left at the right edge", image.Rect(80, 30, 99, 90), image.Pt(40, 10), 100, image.Rect(59, 17, 99, 30)},
		{"wider than the image", image.Rect(10, 30, 50, 90), image.Pt(150, 10), 100, image.Rect(0, 17, 150, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labelBand(tt.box, tt.text, tt.imgWidth))
		})
	}
}

// pixels copies the raw pixel bytes of img.
func pixels(img gocv.Mat) []byte {
	return img.ToBytes()
}

func TestAnnotate_DrawsBox(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()

	before := pixels(img)

	det := postprocess.Detection{Box: images.Rect{X1: 20, Y1: 30, X2: 80, Y2: 90}, Score: 0.9, ClassID: 1}
	c := DarkPalette[1]

	err := NewAnnotator().Annotate(&img, det, c, Label("car", det.Score))
	require.NoError(t, err)
	assert.NotEqual(t, before, pixels(img))

	// gocv takes RGB colors and stores BGR pixels.
	px := img.GetVecbAt(60, 20)
	assert.Equal(t, []uint8{c.B, c.G, c.R}, []uint8{px[0], px[1], px[2]})
}

func TestAnnotate_BoxAtImageEdges(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 50, 50, gocv.MatTypeCV8UC3)
	defer img.Close()

	det := postprocess.Detection{Box: images.Rect{X1: 30, Y1: 0, X2: 49, Y2: 49}, Score: 0.42}
	assert.NoError(t, NewAnnotator().Annotate(&img, det, DarkPalette[0], Label("a-very-long-class-name", det.Score)))
}

func TestAnnotate_Malformed(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 50, 50, gocv.MatTypeCV8UC3)
	defer img.Close()

	nan := float32(math.NaN())
	tests := []struct {
		name string
		box  images.Rect
	}{
		{"NaN coordinate", images.Rect{X1: nan, Y1: 0, X2: 10, Y2: 10}},
		{"infinite coordinate", images.Rect{X1: 0, Y1: 0, X2: float32(math.Inf(1)), Y2: 10}},
		{"inverted", images.Rect{X1: 30, Y1: 30, X2: 10, Y2: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := pixels(img)
			err := NewAnnotator().Annotate(&img, postprocess.Detection{Box: tt.box}, DarkPalette[0], "x 0.50")
			assert.ErrorIs(t, err, ErrMalformedDetection)
			assert.Equal(t, before, pixels(img), "nothing drawn")
		})
	}
}

func TestAnnotate_EmptyImage(t *testing.T) {
	img := gocv.NewMat()
	defer img.Close()

	err := NewAnnotator().Annotate(&img, postprocess.Detection{Box: images.Rect{X2: 1, Y2: 1}}, DarkPalette[0], "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedDetection)
}
