// Package postprocess - Output decoding and Non-Maximum Suppression for detector results.
package postprocess

import "github.com/nvr-ai/go-detect/images"

// Detection represents a single kept detection.
type Detection struct {
	// The bounding box of the detection (tensor space after NMS, image space after mapping).
	Box images.Rect `json:"box"`
	// The confidence score of the detection, objectness times best class score.
	Score float32 `json:"score"`
	// The predicted class index of the detection.
	ClassID int `json:"classId"`
	// Index is the position of the originating candidate in the decoder output.
	Index int `json:"-"`
}

// WithBox returns a copy of the detection with its box replaced.
func (d Detection) WithBox(box images.Rect) Detection {
	d.Box = box
	return d
}
