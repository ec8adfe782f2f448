package pipeline

import (
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/images"
)

// WebPQuality is the lossy quality used for annotated WebP output.
const WebPQuality = 90

// WriteImage saves mat to path in the format implied by the extension.
//
// WebP is encoded with libwebp through chai2010/webp; every other format goes through OpenCV.
//
// Returns:
//   - error: Wrapping ErrIO when the file cannot be written.
func WriteImage(path string, mat gocv.Mat) error {
	if mat.Empty() {
		return errors.Wrapf(ErrIO, "write %s: empty image", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}

	format, ok := images.FormatFromPath(path)
	if !ok {
		return errors.Wrapf(ErrIO, "write %s: unsupported format", path)
	}

	if format == images.FormatWebP {
		return writeWebP(path, mat)
	}

	if !gocv.IMWrite(path, mat) {
		return errors.Wrapf(ErrIO, "write %s: encoder failed", path)
	}
	return nil
}

func writeWebP(path string, mat gocv.Mat) error {
	img, err := mat.ToImage()
	if err != nil {
		return errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}

	if err := webp.Encode(f, img, &webp.Options{Quality: WebPQuality}); err != nil {
		f.Close()
		return errors.Wrapf(ErrIO, "encode %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}
	return nil
}
