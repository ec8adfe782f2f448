package pipeline

import (
	"context"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"

	"github.com/nvr-ai/go-detect/images"
)

// Frame is one decoded input image together with its detector tensor.
type Frame struct {
	// Path is where the image was read from.
	Path string
	// Original is the full-resolution BGR image that gets annotated.
	Original gocv.Mat
	// Tensor is the letterboxed, normalized detector input.
	Tensor *images.Tensor
	// Letterbox maps boxes between tensor and original coordinates.
	Letterbox images.Letterbox
}

// Close releases the native image memory.
func (f *Frame) Close() error {
	return f.Original.Close()
}

// Source yields frames one at a time.
type Source interface {
	// Next returns the next frame, or io.EOF when the source is exhausted. An error wrapping ErrIO
	// means that one image was skipped and iteration can continue.
	Next(ctx context.Context) (*Frame, error)
	// Len returns the number of images the source will attempt.
	Len() int
}

// FileSource reads images from a fixed list of paths.
type FileSource struct {
	paths     []string
	next      int
	imageSize int
}

// NewFileSource creates a source over paths producing imageSize x imageSize tensors.
func NewFileSource(paths []string, imageSize int) *FileSource {
	return &FileSource{paths: append([]string(nil), paths...), imageSize: imageSize}
}

// Len returns the number of paths.
func (s *FileSource) Len() int {
	return len(s.paths)
}

// Next decodes the next path.
func (s *FileSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}

	path := s.paths[s.next]
	s.next++

	return LoadFrame(path, s.imageSize)
}

// LoadFrame decodes an image file, applying its EXIF orientation, and prepares the letterboxed
// tensor.
//
// Arguments:
//   - path: The image file.
//   - imageSize: The square tensor size.
//
// Returns:
//   - *Frame: The decoded frame; the caller must Close it.
//   - error: Wrapping ErrIO when the image cannot be read or decoded.
func LoadFrame(path string, imageSize int) (*Frame, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "decode %s: %v", path, err)
	}

	bounds := img.Bounds()
	lb, err := images.NewLetterbox(bounds.Dx(), bounds.Dy(), imageSize, imageSize)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "%s: %v", path, err)
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "convert %s: %v", path, err)
	}

	return &Frame{
		Path:      path,
		Original:  mat,
		Tensor:    images.ToTensor(images.LetterboxImage(img, lb, nil)),
		Letterbox: lb,
	}, nil
}
