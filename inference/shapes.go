// Package inference - ONNX Runtime backed YOLO detector.
package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// detectionStrides are the feature map strides of a three-scale YOLO head.
var detectionStrides = []int{8, 16, 32}

// anchorsPerCell is the number of anchor boxes per grid cell for anchor-based heads.
const anchorsPerCell = 3

// AnchorCount returns the number of predictions a YOLO head emits for a square input.
//
// Anchor-based heads (rows layout) predict three boxes per grid cell; anchor-free heads (channels
// layout) predict one. For a 640 input that is 25200 and 8400 respectively.
func AnchorCount(size int, layout postprocess.Layout) int {
	cells := 0
	for _, s := range detectionStrides {
		side := size / s
		cells += side * side
	}
	if layout == postprocess.LayoutRows {
		return cells * anchorsPerCell
	}
	return cells
}

// ResolveOutputShape fills dynamic dimensions of a model's output shape and checks the static ones
// against the layout.
//
// Arguments:
//   - dims: The output dimensions reported by the model; values <= 0 are dynamic.
//   - size: The square input size.
//   - layout: The output layout.
//   - numClasses: Class count used when the class dimension is dynamic; 0 if unknown.
//
// Returns:
//   - []int64: A fully static shape.
//   - error: If the shape cannot belong to a detector with this layout.
func ResolveOutputShape(dims []int64, size int, layout postprocess.Layout, numClasses int) ([]int64, error) {
	if len(dims) != 3 {
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "output rank %d, expected 3", len(dims))
	}

	shape := append([]int64(nil), dims...)
	if shape[0] <= 0 {
		shape[0] = 1
	}
	if shape[0] != 1 {
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "batch size %d, expected 1", shape[0])
	}

	anchorAxis, attrAxis, attrs := 1, 2, 5
	if layout == postprocess.LayoutChannels {
		anchorAxis, attrAxis, attrs = 2, 1, 4
	}

	if shape[anchorAxis] <= 0 {
		shape[anchorAxis] = int64(AnchorCount(size, layout))
	}
	if shape[attrAxis] <= 0 {
		if numClasses <= 0 {
			return nil, errors.Wrapf(postprocess.ErrOutputShape, "dynamic class dimension in %v and no class count", dims)
		}
		shape[attrAxis] = int64(attrs + numClasses)
	}
	if shape[attrAxis] <= int64(attrs) {
		return nil, errors.Wrapf(postprocess.ErrOutputShape, "shape %v has no class scores for layout %s", shape, layout)
	}

	return shape, nil
}
