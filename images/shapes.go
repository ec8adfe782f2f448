// Package images - Box geometry, letterboxing and tensor conversion.
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Rect is a lightweight bounding box in corner form.
//
// Coordinates are float32 so that boxes can move between tensor space and image space without
// quantization; rounding to integer pixels happens only in Letterbox.ToOriginal.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box (zero for inverted boxes).
func (r Rect) Width() float32 {
	return max(r.X2-r.X1, 0)
}

// Height returns the vertical extent of the box (zero for inverted boxes).
func (r Rect) Height() float32 {
	return max(r.Y2-r.Y1, 0)
}

// Area returns the area of the box.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Finite reports whether every coordinate is a finite number.
func (r Rect) Finite() bool {
	for _, v := range [4]float32{r.X1, r.Y1, r.X2, r.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether the box is finite and not inverted (x1<=x2, y1<=y2).
func (r Rect) Valid() bool {
	return r.Finite() && r.X1 <= r.X2 && r.Y1 <= r.Y2
}

// ToRectangle converts the box to an image.Rectangle.
//
// The coordinates are expected to already be integral (see Letterbox.ToOriginal); any fractional
// part is rounded to the nearest pixel.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(
		int(math32.Round(r.X1)),
		int(math32.Round(r.Y1)),
		int(math32.Round(r.X2)),
		int(math32.Round(r.Y2)),
	)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.1f, %.1f)-(%.1f, %.1f)", r.X1, r.Y1, r.X2, r.Y2)
}

// FromCenter builds a corner-form box from a center point and a size, the encoding YOLO heads
// emit.
func FromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// CalculateIoU returns the Intersection over Union of two boxes, a value in [0, 1].
//
// The intersection is the rectangle spanned by the larger top-left corner and the smaller
// bottom-right corner; when it is empty the IoU is 0. The union follows inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// Boxes with zero union (both degenerate) yield 0.
//
// Example:
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	CalculateIoU(a, b) // 25 / 175 ≈ 0.142857
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return math32.Min(interArea/unionArea, 1)
}
