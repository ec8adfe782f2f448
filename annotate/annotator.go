package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// ErrMalformedDetection is returned for a box with non-finite or inverted coordinates.
var ErrMalformedDetection = errors.New("malformed detection")

var (
	labelBackground = color.RGBA{A: 255}
	labelText       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Label formats the caption drawn above a box, e.g. "person 0.87".
func Label(className string, score float32) string {
	return fmt.Sprintf("%s %.2f", className, score)
}

// Annotator draws detection boxes and captions onto BGR images.
type Annotator struct {
	// BoxThickness is the rectangle stroke width in pixels.
	BoxThickness int
	// FontFace is the Hershey font used for captions.
	FontFace gocv.HersheyFont
	// FontScale scales the caption glyphs.
	FontScale float64
	// FontThickness is the caption stroke width.
	FontThickness int
}

// NewAnnotator returns an annotator with the default styling: 2px boxes and 0.5 scale simplex text.
func NewAnnotator() *Annotator {
	return &Annotator{
		BoxThickness:  2,
		FontFace:      gocv.FontHersheySimplex,
		FontScale:     0.5,
		FontThickness: 1,
	}
}

// Annotate draws det's box in c and label in white on an opaque black band above the box.
//
// The band sits on the box's top edge; when that would leave the image it is moved inside the
// box, and it is shifted left when it would run off the right edge.
//
// Arguments:
//   - img: The image to draw on, in place.
//   - det: A detection in image coordinates.
//   - c: The class color.
//   - label: The caption, usually built with Label.
//
// Returns:
//   - error: ErrMalformedDetection when the box is not finite or inverted, or an error for an
//     empty image.
func (a *Annotator) Annotate(img *gocv.Mat, det postprocess.Detection, c color.RGBA, label string) error {
	if img == nil || img.Empty() {
		return errors.New("cannot annotate an empty image")
	}
	if !det.Box.Valid() {
		return errors.Wrapf(ErrMalformedDetection, "box %s", det.Box)
	}

	box := det.Box.ToRectangle()
	gocv.Rectangle(img, box, c, a.BoxThickness)

	if label == "" {
		return nil
	}

	size := gocv.GetTextSize(label, a.FontFace, a.FontScale, a.FontThickness)
	band := labelBand(box, size, img.Cols())

	gocv.Rectangle(img, band, labelBackground, -1)
	gocv.PutTextWithParams(
		img,
		label,
		image.Pt(band.Min.X, band.Min.Y+size.Y),
		a.FontFace,
		a.FontScale,
		labelText,
		a.FontThickness,
		gocv.LineAA,
		false,
	)

	return nil
}

// labelBand places the caption background for a box given the rendered text size.
func labelBand(box image.Rectangle, text image.Point, imgWidth int) image.Rectangle {
	height := text.Y + 3

	top := box.Min.Y - height
	if top < 0 {
		top = box.Min.Y
	}

	left := box.Min.X
	if left+text.X > imgWidth-1 {
		left = max(imgWidth-1-text.X, 0)
	}

	return image.Rect(left, top, left+text.X, top+height)
}
