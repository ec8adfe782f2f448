package images

import (
	"path/filepath"
	"strings"
)

// ImageFormat represents supported image formats.
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatTIFF is the TIFF image format.
	FormatTIFF ImageFormat = "tiff"
)

var extensionFormats = map[string]ImageFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".webp": FormatWebP,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
}

// FormatFromPath returns the image format implied by a file extension (case-insensitive).
//
// Returns:
//   - ImageFormat: The detected format.
//   - bool: False when the extension is not a supported image type.
func FormatFromPath(path string) (ImageFormat, bool) {
	f, ok := extensionFormats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// IsImagePath reports whether path has a supported image extension.
func IsImagePath(path string) bool {
	_, ok := FormatFromPath(path)
	return ok
}
