// Package report - Accumulates kept detections into the per-run anomaly report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// FileName is the name of the persisted report inside the run directory.
const FileName = "anomalies.json"

// ErrFinalized is returned when a finalized aggregator is modified.
var ErrFinalized = errors.New("report already finalized")

// Namer resolves a class index to its display name.
type Namer interface {
	Name(classID int) string
}

// Entry is one reported finding.
type Entry struct {
	// AnomalyName is the class name of the detection.
	AnomalyName string `json:"anomalyName"`
	// Percentage is the detection score rendered as a percentage, e.g. "87.12%".
	Percentage string `json:"percentage"`
}

// Report is the outcome of a run.
type Report struct {
	// ProcessedImage is the path of the last annotated image; empty when none was written.
	ProcessedImage string `json:"processedImage,omitempty"`
	// Anomalies lists every kept detection in processing order.
	Anomalies []Entry `json:"anomalies"`
	// ImagesProcessed counts the images that completed the pipeline.
	ImagesProcessed int `json:"-"`
}

// FormatPercentage renders a score in [0, 1] with two decimals and a percent sign.
func FormatPercentage(score float32) string {
	return fmt.Sprintf("%.2f%%", float64(score)*100)
}

// Aggregator collects detections across the images of one run.
type Aggregator struct {
	mu        sync.Mutex
	entries   []Entry
	processed string
	images    int
	finalized bool
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make([]Entry, 0)}
}

// Record appends a detection to the report.
func (a *Aggregator) Record(det postprocess.Detection, names Namer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return ErrFinalized
	}
	a.entries = append(a.entries, Entry{
		AnomalyName: names.Name(det.ClassID),
		Percentage:  FormatPercentage(det.Score),
	})
	return nil
}

// SetProcessedImage records path as the most recent annotated image.
func (a *Aggregator) SetProcessedImage(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return ErrFinalized
	}
	a.processed = path
	return nil
}

// ImageDone counts one more image as fully processed.
func (a *Aggregator) ImageDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.images++
}

// OutputPath returns where the annotated copy of source is written inside dir.
func (a *Aggregator) OutputPath(dir, source string) string {
	return filepath.Join(dir, filepath.Base(source))
}

// Snapshot returns a copy of the report accumulated so far.
func (a *Aggregator) Snapshot() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Report {
	return Report{
		ProcessedImage:  a.processed,
		Anomalies:       append(make([]Entry, 0, len(a.entries)), a.entries...),
		ImagesProcessed: a.images,
	}
}

// Finalize freezes the report and, when outputDir is not empty, writes the entries to
// <outputDir>/anomalies.json as an indented JSON array.
//
// Arguments:
//   - outputDir: The run directory, or "" to skip persisting.
//
// Returns:
//   - Report: The final report.
//   - error: If the file cannot be written.
func (a *Aggregator) Finalize(outputDir string) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.finalized = true
	report := a.snapshotLocked()

	if outputDir == "" {
		return report, nil
	}

	data, err := json.MarshalIndent(report.Anomalies, "", "    ")
	if err != nil {
		return report, errors.Wrap(err, "failed to encode report")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return report, errors.Wrapf(err, "failed to create %s", outputDir)
	}
	path := filepath.Join(outputDir, FileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return report, errors.Wrapf(err, "failed to write %s", path)
	}

	return report, nil
}
