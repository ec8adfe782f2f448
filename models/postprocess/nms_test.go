package postprocess

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/images"
)

// candidate builds a candidate with a one-hot class vector.
func candidate(box images.Rect, score float32, classID, numClasses int) Candidate {
	scores := make([]float32, numClasses)
	scores[classID] = score
	return Candidate{Box: box, Objectness: 1, ClassScores: scores}
}

func TestBestClass(t *testing.T) {
	tests := []struct {
		name      string
		c         Candidate
		wantClass int
		wantScore float32
	}{
		{"objectness scales the class score", Candidate{Objectness: 0.5, ClassScores: []float32{0.2, 0.8}}, 1, 0.4},
		{"ties resolve to the lowest index", Candidate{Objectness: 1, ClassScores: []float32{0.3, 0.7, 0.7}}, 1, 0.7},
		{"no class scores", Candidate{Objectness: 0.6}, 0, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, score := tt.c.BestClass()
			assert.Equal(t, tt.wantClass, class)
			assert.InDelta(t, tt.wantScore, score, 1e-6)
		})
	}
}

func TestNMSConfig_Validate(t *testing.T) {
	nan := float32(math.NaN())

	tests := []struct {
		name    string
		config  NMSConfig
		wantErr bool
	}{
		{"defaults", DefaultNMSConfig(), false},
		{"bounds inclusive", NMSConfig{ConfThreshold: 0, IoUThreshold: 1}, false},
		{"negative confidence", NMSConfig{ConfThreshold: -0.1, IoUThreshold: 0.45}, true},
		{"confidence above one", NMSConfig{ConfThreshold: 1.1, IoUThreshold: 0.45}, true},
		{"NaN confidence", NMSConfig{ConfThreshold: nan, IoUThreshold: 0.45}, true},
		{"negative IoU", NMSConfig{ConfThreshold: 0.25, IoUThreshold: -1}, true},
		{"IoU above one", NMSConfig{ConfThreshold: 0.25, IoUThreshold: 1.5}, true},
		{"NaN IoU", NMSConfig{ConfThreshold: 0.25, IoUThreshold: nan}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidThreshold))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyNMS_InvalidConfig(t *testing.T) {
	_, err := ApplyNMS(nil, NMSConfig{ConfThreshold: 2, IoUThreshold: 0.5})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestApplyNMS_Empty(t *testing.T) {
	out, err := ApplyNMS(nil, DefaultNMSConfig())
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	// Everything below the confidence threshold.
	out, err = ApplyNMS([]Candidate{
		candidate(images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0.1, 0, 3),
		candidate(images.Rect{X1: 5, Y1: 5, X2: 20, Y2: 20}, 0.2, 1, 3),
	}, DefaultNMSConfig())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApplyNMS_SingleCandidate(t *testing.T) {
	box := images.Rect{X1: 10, Y1: 10, X2: 50, Y2: 50}
	out, err := ApplyNMS([]Candidate{candidate(box, 0.9, 0, 80)}, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, box, out[0].Box)
	assert.InDelta(t, 0.9, out[0].Score, 1e-6)
	assert.Equal(t, 0, out[0].ClassID)
}

func TestApplyNMS_SuppressesOverlapWithinClass(t *testing.T) {
	a := images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}
	b := images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 80}
	require.InDelta(t, 0.8, images.CalculateIoU(a, b), 1e-6)

	out, err := ApplyNMS([]Candidate{
		candidate(b, 0.7, 2, 5),
		candidate(a, 0.9, 2, 5),
	}, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a, out[0].Box)
	assert.Equal(t, 1, out[0].Index)
}

func TestApplyNMS_ClassAware(t *testing.T) {
	box := images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}

	out, err := ApplyNMS([]Candidate{
		candidate(box, 0.8, 0, 3),
		candidate(box, 0.9, 1, 3),
	}, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].ClassID, "higher score first")
	assert.Equal(t, 0, out[1].ClassID)
}

func TestApplyNMS_TiesKeepEarlierCandidate(t *testing.T) {
	box := images.Rect{X1: 5, Y1: 5, X2: 60, Y2: 60}

	out, err := ApplyNMS([]Candidate{
		candidate(box, 0.5, 0, 1),
		candidate(box, 0.5, 0, 1),
		candidate(box, 0.5, 0, 1),
	}, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Index)
}

func TestApplyNMS_OrderingTiesByIndex(t *testing.T) {
	out, err := ApplyNMS([]Candidate{
		candidate(images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0.6, 1, 2),
		candidate(images.Rect{X1: 100, Y1: 100, X2: 110, Y2: 110}, 0.6, 0, 2),
		candidate(images.Rect{X1: 200, Y1: 200, X2: 210, Y2: 210}, 0.9, 1, 2),
	}, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{2, 0, 1}, []int{out[0].Index, out[1].Index, out[2].Index})
}

func TestApplyNMS_DropsNaNScores(t *testing.T) {
	nan := float32(math.NaN())
	out, err := ApplyNMS([]Candidate{
		{Box: images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Objectness: nan, ClassScores: []float32{0.9}},
	}, DefaultNMSConfig())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func randomCandidates(rng *rand.Rand, n, numClasses int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		x, y := rng.Float32()*500, rng.Float32()*500
		scores := make([]float32, numClasses)
		for c := range scores {
			scores[c] = rng.Float32()
		}
		out[i] = Candidate{
			Box:         images.Rect{X1: x, Y1: y, X2: x + 20 + rng.Float32()*120, Y2: y + 20 + rng.Float32()*120},
			Objectness:  rng.Float32(),
			ClassScores: scores,
		}
	}
	return out
}

func TestApplyNMS_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	config := NMSConfig{ConfThreshold: 0.2, IoUThreshold: 0.45, NumWorkers: 1}

	for round := 0; round < 20; round++ {
		candidates := randomCandidates(rng, 300, 4)

		out, err := ApplyNMS(candidates, config)
		require.NoError(t, err)

		for i, d := range out {
			assert.GreaterOrEqual(t, d.Score, config.ConfThreshold)

			if i > 0 {
				prev := out[i-1]
				ordered := prev.Score > d.Score || (prev.Score == d.Score && prev.Index < d.Index)
				assert.True(t, ordered, "output must be sorted by score then index")
			}

			for _, other := range out[i+1:] {
				if other.ClassID == d.ClassID {
					assert.LessOrEqual(t, images.CalculateIoU(d.Box, other.Box), config.IoUThreshold)
				}
			}
		}

		// Running suppression again on the survivors changes nothing.
		again := make([]Candidate, len(out))
		for i, d := range out {
			again[i] = candidate(d.Box, d.Score, d.ClassID, 4)
		}
		second, err := ApplyNMS(again, config)
		require.NoError(t, err)
		require.Len(t, second, len(out))
		for i := range out {
			assert.Equal(t, out[i].Box, second[i].Box)
			assert.Equal(t, out[i].ClassID, second[i].ClassID)
			assert.Equal(t, out[i].Score, second[i].Score)
		}
	}
}

func TestApplyNMS_WorkersMatchSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	candidates := randomCandidates(rng, 500, 8)

	sequential, err := ApplyNMS(candidates, NMSConfig{ConfThreshold: 0.1, IoUThreshold: 0.5, NumWorkers: 1})
	require.NoError(t, err)
	parallel, err := ApplyNMS(candidates, NMSConfig{ConfThreshold: 0.1, IoUThreshold: 0.5, NumWorkers: 4})
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
}

func BenchmarkApplyNMS(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	candidates := randomCandidates(rng, 8400, 80)
	config := DefaultNMSConfig()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = ApplyNMS(candidates, config)
	}
}
