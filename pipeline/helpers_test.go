package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

var fill = color.RGBA{R: 200, G: 200, B: 200, A: 255}

// writeTestImage writes a uniformly filled image, PNG or lossless WebP by extension.
func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	if filepath.Ext(path) == ".webp" {
		require.NoError(t, webp.Encode(f, img, &webp.Options{Lossless: true}))
		return
	}
	require.NoError(t, png.Encode(f, img))
}

func candidate(box images.Rect, score float32, classID int) postprocess.Candidate {
	scores := make([]float32, 80)
	scores[classID] = score
	return postprocess.Candidate{Box: box, Objectness: 1, ClassScores: scores}
}

// fakeDetector returns canned candidates; infer receives the zero-based call number.
type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	tensors []*images.Tensor
	infer   func(call int) ([]postprocess.Candidate, error)
}

func (f *fakeDetector) Infer(ctx context.Context, tensor *images.Tensor) ([]postprocess.Candidate, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.tensors = append(f.tensors, tensor)
	f.mu.Unlock()

	if f.infer == nil {
		return nil, nil
	}
	return f.infer(call)
}
