package images

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// DefaultStride is the input alignment required by YOLO-family detectors.
const DefaultStride = 32

// Letterbox describes how an original image was scaled and padded into a detector input tensor
// while preserving its aspect ratio.
type Letterbox struct {
	// Scale is the uniform resize factor applied to the original image.
	Scale float32
	// PadX is the left margin in tensor pixels (the right margin is the same up to rounding).
	PadX float32
	// PadY is the top margin in tensor pixels.
	PadY float32
	// TensorWidth and TensorHeight are the detector input dimensions.
	TensorWidth, TensorHeight int
	// OriginalWidth and OriginalHeight are the source image dimensions.
	OriginalWidth, OriginalHeight int
}

// NewLetterbox computes the letterbox geometry for fitting an original image into a tensor.
//
//	scale = min(tensorW/originalW, tensorH/originalH)
//	padX  = (tensorW - originalW*scale) / 2
//	padY  = (tensorH - originalH*scale) / 2
//
// Arguments:
//   - originalWidth, originalHeight: Source image dimensions in pixels.
//   - tensorWidth, tensorHeight: Detector input dimensions.
//
// Returns:
//   - Letterbox: The geometry needed to map boxes in both directions.
//   - error: If any dimension is not positive.
func NewLetterbox(originalWidth, originalHeight, tensorWidth, tensorHeight int) (Letterbox, error) {
	if originalWidth <= 0 || originalHeight <= 0 {
		return Letterbox{}, errors.Errorf("invalid original dimensions: %dx%d", originalWidth, originalHeight)
	}
	if tensorWidth <= 0 || tensorHeight <= 0 {
		return Letterbox{}, errors.Errorf("invalid tensor dimensions: %dx%d", tensorWidth, tensorHeight)
	}

	scale := math32.Min(
		float32(tensorWidth)/float32(originalWidth),
		float32(tensorHeight)/float32(originalHeight),
	)

	return Letterbox{
		Scale:          scale,
		PadX:           (float32(tensorWidth) - float32(originalWidth)*scale) / 2,
		PadY:           (float32(tensorHeight) - float32(originalHeight)*scale) / 2,
		TensorWidth:    tensorWidth,
		TensorHeight:   tensorHeight,
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
	}, nil
}

// ResizedSize returns the dimensions of the scaled image inside the tensor, before padding. Each
// side is at least one pixel.
func (l Letterbox) ResizedSize() (int, int) {
	return max(int(math32.Round(float32(l.OriginalWidth)*l.Scale)), 1),
		max(int(math32.Round(float32(l.OriginalHeight)*l.Scale)), 1)
}

// ToOriginal maps a box from tensor space back to original-image pixel coordinates.
//
// Padding is subtracted and the scale divided out first; each coordinate is then clipped to
// [0, dim-1] and only at the very end rounded to an integer pixel, so the result always lies
// inside the original image.
//
// Arguments:
//   - box: A box in tensor coordinates.
//
// Returns:
//   - Rect: The box in original-image coordinates, with integral values.
func (l Letterbox) ToOriginal(box Rect) Rect {
	maxX := float32(l.OriginalWidth - 1)
	maxY := float32(l.OriginalHeight - 1)

	return Rect{
		X1: math32.Round(clip((box.X1-l.PadX)/l.Scale, maxX)),
		Y1: math32.Round(clip((box.Y1-l.PadY)/l.Scale, maxY)),
		X2: math32.Round(clip((box.X2-l.PadX)/l.Scale, maxX)),
		Y2: math32.Round(clip((box.Y2-l.PadY)/l.Scale, maxY)),
	}
}

// ToTensor maps a box from original-image space into tensor space (no clipping or rounding).
func (l Letterbox) ToTensor(box Rect) Rect {
	return Rect{
		X1: box.X1*l.Scale + l.PadX,
		Y1: box.Y1*l.Scale + l.PadY,
		X2: box.X2*l.Scale + l.PadX,
		Y2: box.Y2*l.Scale + l.PadY,
	}
}

// clip bounds v to [0, hi]. Non-finite input comes back as NaN so malformed boxes stay detectable
// downstream.
func clip(v, hi float32) float32 {
	if math32.IsInf(v, 0) {
		return math32.NaN()
	}
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// CheckImageSize rounds an inference size up to the nearest multiple of stride.
//
// Returns:
//   - int: The aligned size.
//   - bool: True when the requested size had to be changed.
func CheckImageSize(size, stride int) (int, bool) {
	if stride <= 0 {
		stride = DefaultStride
	}
	if size <= 0 {
		return stride, true
	}
	aligned := ((size + stride - 1) / stride) * stride
	return aligned, aligned != size
}
