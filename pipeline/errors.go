// Package pipeline - The per-image detection loop: read, infer, suppress, map, annotate, report.
package pipeline

import "github.com/pkg/errors"

var (
	// ErrIO marks an unreadable image or an unwritable output; the image is skipped.
	ErrIO = errors.New("image I/O error")
	// ErrInference marks a detector failure on one image; the image is skipped.
	ErrInference = errors.New("inference error")
)
