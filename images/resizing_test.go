package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	return img
}

func TestLetterboxImage(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	src := getTestImage(200, 100, red)

	lb, err := NewLetterbox(200, 100, 64, 64)
	require.NoError(t, err)

	out := LetterboxImage(src, lb, nil)
	assert.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())

	// 200x100 scaled by 0.32 is 64x32, centered vertically with 16 rows of padding on each side.
	assert.Equal(t, LetterboxFill, out.RGBAAt(32, 5), "top border should be gray")
	assert.Equal(t, LetterboxFill, out.RGBAAt(32, 60), "bottom border should be gray")
	center := out.RGBAAt(32, 32)
	assert.InDelta(t, 255, int(center.R), 2, "center should be the source image")
	assert.InDelta(t, 0, int(center.G), 2)
	assert.InDelta(t, 0, int(center.B), 2)
}

func TestLetterboxImage_CustomFill(t *testing.T) {
	src := getTestImage(10, 20, color.RGBA{G: 255, A: 255})
	lb, err := NewLetterbox(10, 20, 32, 32)
	require.NoError(t, err)

	black := color.RGBA{A: 255}
	out := LetterboxImage(src, lb, black)
	assert.Equal(t, black, out.RGBAAt(0, 16))
}

func TestToTensor(t *testing.T) {
	img := getTestImage(4, 2, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	tensor := ToTensor(img)
	assert.Equal(t, []int64{1, 3, 2, 4}, tensor.Shape())
	require.Len(t, tensor.Data, 3*4*2)

	plane := 4 * 2
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, tensor.Data[i], 1e-6, "red plane")
		assert.InDelta(t, 0.0, tensor.Data[plane+i], 1e-6, "green plane")
		assert.InDelta(t, 0.2, tensor.Data[2*plane+i], 1e-6, "blue plane")
	}
}

func TestToTensor_GenericImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	tensor := ToTensor(img)
	for _, v := range tensor.Data {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func BenchmarkLetterboxTensor(b *testing.B) {
	src := getTestImage(1920, 1080, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	lb, err := NewLetterbox(1920, 1080, 640, 640)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ToTensor(LetterboxImage(src, lb, nil))
	}
}
