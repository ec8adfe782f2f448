package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// ListImageFiles expands a detection source into an ordered list of image paths.
//
// Arguments:
// - source: A single image file, a directory of images, or a glob pattern.
//
// Returns:
// - []string: Sorted image paths; directories and globs may yield an empty list.
// - error: If the source does not exist or a single file is not a supported image.
func ListImageFiles(source string) ([]string, error) {
	if source == "" {
		return nil, errors.New("empty source")
	}

	if strings.ContainsAny(source, "*?[") {
		matches, err := filepath.Glob(source)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid glob %q", source)
		}
		return filterImages(matches), nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, errors.Wrapf(err, "source %s", source)
	}

	if !info.IsDir() {
		if !images.IsImagePath(source) {
			return nil, errors.Errorf("unsupported image format: %s", source)
		}
		return []string{source}, nil
	}

	files, err := os.ReadDir(source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", source)
	}

	paths := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(source, file.Name()))
	}

	return filterImages(paths), nil
}

func filterImages(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		if images.IsImagePath(p) {
			out = append(out, p)
		}
	}

	sort.Strings(out)
	return out
}
