package postprocess

import (
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// ErrInvalidThreshold is returned when a confidence or IoU threshold is outside [0, 1].
var ErrInvalidThreshold = errors.New("invalid threshold")

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	ConfThreshold float32 // Minimum combined score for a candidate to be considered.
	IoUThreshold  float32 // Same-class overlap above which the lower-scored box is suppressed.
	NumWorkers    int     // Number of goroutines suppressing class groups; <= 1 runs inline.
}

// DefaultNMSConfig returns the thresholds YOLO detectors are usually evaluated with.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		NumWorkers:    1,
	}
}

// Validate checks that both thresholds lie in [0, 1].
func (c NMSConfig) Validate() error {
	if !inUnitInterval(c.ConfThreshold) {
		return errors.Wrapf(ErrInvalidThreshold, "confidence threshold %v not in [0, 1]", c.ConfThreshold)
	}
	if !inUnitInterval(c.IoUThreshold) {
		return errors.Wrapf(ErrInvalidThreshold, "IoU threshold %v not in [0, 1]", c.IoUThreshold)
	}
	return nil
}

func inUnitInterval(v float32) bool {
	return !math32.IsNaN(v) && v >= 0 && v <= 1
}

// ApplyNMS filters raw candidates down to a deduplicated detection list.
//
// Candidates whose combined score is below ConfThreshold are discarded. The remainder are grouped
// by predicted class; each group is sorted by score (stable on candidate order) and walked
// greedily, keeping the head and suppressing every later box whose IoU with it exceeds
// IoUThreshold. Boxes of different classes never suppress each other.
//
// Arguments:
//   - candidates: Raw candidates for one image, in decoder order.
//   - config: Thresholds and worker count.
//
// Returns:
//   - []Detection: Kept detections sorted by score descending, ties by candidate order. Empty (not
//     nil) when nothing survives.
//   - error: ErrInvalidThreshold when the config is invalid.
func ApplyNMS(candidates []Candidate, config NMSConfig) ([]Detection, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[int][]Detection)
	classes := make([]int, 0)
	for i, c := range candidates {
		classID, score := c.BestClass()
		// NaN scores fail this comparison and are dropped.
		if !(score >= config.ConfThreshold) {
			continue
		}
		if _, ok := groups[classID]; !ok {
			classes = append(classes, classID)
		}
		groups[classID] = append(groups[classID], Detection{
			Box:     c.Box,
			Score:   score,
			ClassID: classID,
			Index:   i,
		})
	}

	kept := make([][]Detection, len(classes))
	if config.NumWorkers <= 1 || len(classes) <= 1 {
		for gi, classID := range classes {
			kept[gi] = suppressGroup(groups[classID], config.IoUThreshold)
		}
	} else {
		jobs := make(chan int, len(classes))
		for gi := range classes {
			jobs <- gi
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < min(config.NumWorkers, len(classes)); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for gi := range jobs {
					kept[gi] = suppressGroup(groups[classes[gi]], config.IoUThreshold)
				}
			}()
		}
		wg.Wait()
	}

	filtered := make([]Detection, 0, len(candidates))
	for _, k := range kept {
		filtered = append(filtered, k...)
	}
	sortDetections(filtered)

	return filtered, nil
}

// suppressGroup performs greedy NMS over detections that all share one class.
func suppressGroup(detections []Detection, iouThreshold float32) []Detection {
	sortDetections(detections)

	n := len(detections)
	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(anchor.Box, detections[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// sortDetections orders by score descending, then by candidate index.
func sortDetections(detections []Detection) {
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Score != detections[j].Score {
			return detections[i].Score > detections[j].Score
		}
		return detections[i].Index < detections[j].Index
	})
}
