package postprocess

import (
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/images"
)

// ErrOutputShape is returned when a detector output does not match the expected layout.
var ErrOutputShape = errors.New("unexpected detector output shape")

// Layout identifies how a YOLO head arranges its output tensor.
type Layout string

const (
	// LayoutRows is [1, N, 5+C]: cx, cy, w, h, objectness, class scores (YOLOv5/YOLOv7).
	LayoutRows Layout = "rows"
	// LayoutChannels is [1, 4+C, N]: cx, cy, w, h, class scores, no objectness (YOLOv8 and later).
	LayoutChannels Layout = "channels"
)

// ParseLayout accepts a layout name or a model generation alias.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rows", "v5", "v7", "yolov5", "yolov7":
		return LayoutRows, nil
	case "channels", "v8", "v11", "yolov8", "yolov11":
		return LayoutChannels, nil
	default:
		return "", errors.Errorf("unknown output layout %q", s)
	}
}

// attributes returns the number of non-class values per anchor.
func (l Layout) attributes() int {
	if l == LayoutChannels {
		return 4
	}
	return 5
}

// DecodeOutput converts a raw detector output into candidates.
//
// The flat data is wrapped in a tensor of the given shape so the shape is checked against the
// backing length before anything is indexed. Channel-major outputs are transposed to one row per
// anchor. A leading batch dimension of 1 is accepted and dropped.
//
// Arguments:
//   - data: The flat float32 output.
//   - shape: The output shape reported by the runtime.
//   - layout: How the head arranges the values.
//
// Returns:
//   - []Candidate: One candidate per anchor, in anchor order.
//   - error: ErrOutputShape when the shape is inconsistent with the data or the layout.
func DecodeOutput(data []float32, shape []int64, layout Layout) ([]Candidate, error) {
	dims := make([]int, 0, len(shape))
	for _, d := range shape {
		dims = append(dims, int(d))
	}

	switch {
	case len(dims) == 3 && dims[0] == 1:
		dims = dims[1:]
	case len(dims) == 2:
	default:
		return nil, errors.Wrapf(ErrOutputShape, "shape %v: expected [1, a, b] or [a, b]", shape)
	}

	total := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, errors.Wrapf(ErrOutputShape, "shape %v has a non-positive dimension", shape)
		}
		total *= d
	}
	if total != len(data) {
		return nil, errors.Wrapf(ErrOutputShape, "shape %v needs %d values, got %d", shape, total, len(data))
	}

	backing := make([]float32, len(data))
	copy(backing, data)
	out := tensor.New(tensor.WithShape(dims...), tensor.Of(tensor.Float32), tensor.WithBacking(backing))

	if layout == LayoutChannels {
		if err := out.T(1, 0); err != nil {
			return nil, errors.Wrap(err, "failed to transpose output")
		}
		if err := out.Transpose(); err != nil {
			return nil, errors.Wrap(err, "failed to transpose output")
		}
	}

	rows, stride := out.Shape()[0], out.Shape()[1]
	numClasses := stride - layout.attributes()
	if numClasses < 1 {
		return nil, errors.Wrapf(ErrOutputShape, "shape %v leaves no class scores for layout %s", shape, layout)
	}

	values, ok := out.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrOutputShape, "unexpected backing type %T", out.Data())
	}
	candidates := make([]Candidate, rows)
	for i := 0; i < rows; i++ {
		row := values[i*stride : (i+1)*stride]

		c := Candidate{
			Box:        images.FromCenter(row[0], row[1], row[2], row[3]),
			Objectness: 1,
		}
		if layout == LayoutRows {
			c.Objectness = row[4]
		}
		c.ClassScores = append([]float32(nil), row[layout.attributes():]...)
		candidates[i] = c
	}

	return candidates, nil
}
