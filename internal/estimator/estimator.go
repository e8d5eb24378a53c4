// Package estimator produces live ETA figures from a rolling window of
// recent per-document processing durations. Recent samples are weighted
// higher so the estimate follows sustained speed changes without being
// thrown off by a single historical outlier.
package estimator

import (
	"fmt"
	"math"
	"time"
)

// Timing record status values
const (
	TimingPending    = "pending"
	TimingProcessing = "processing"
	TimingDone       = "done"
	TimingError      = "error"
)

const (
	DefaultWindowSize     = 20
	DefaultSecondsPerPage = 30.0
)

// FileTimingRecord tracks one file's processing timing. Not persisted.
type FileTimingRecord struct {
	FileName  string
	DocType   string
	PageCount int
	StartTime time.Time
	EndTime   time.Time
	DurationS float64
	Status    string
}

// Estimator tracks processing durations for a single batch run. It is owned
// by the one active batch runner and is not safe for concurrent use.
type Estimator struct {
	windowSize            int
	defaultSecondsPerPage float64

	history []*FileTimingRecord // rolling window, oldest first
	current *FileTimingRecord

	batchStart     time.Time
	totalFiles     int
	completedFiles int

	now func() time.Time
}

func New(windowSize int, defaultSecondsPerPage float64) *Estimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if defaultSecondsPerPage <= 0 {
		defaultSecondsPerPage = DefaultSecondsPerPage
	}
	return &Estimator{
		windowSize:            windowSize,
		defaultSecondsPerPage: defaultSecondsPerPage,
		now:                   time.Now,
	}
}

// StartBatch begins a new batch run, resetting counters and the elapsed
// clock. A resumed batch restarts its own clock and tracks only the
// resumed portion.
func (e *Estimator) StartBatch(totalFiles int) {
	e.batchStart = e.now()
	e.totalFiles = totalFiles
	e.completedFiles = 0
}

// StartFile marks a file as starting processing.
func (e *Estimator) StartFile(fileName, docType string, pageCount int) *FileTimingRecord {
	if pageCount < 1 {
		pageCount = 1
	}
	record := &FileTimingRecord{
		FileName:  fileName,
		DocType:   docType,
		PageCount: pageCount,
		StartTime: e.now(),
		Status:    TimingProcessing,
	}
	e.current = record
	return record
}

// FinishFile finalizes a timing record and appends it to the window,
// evicting the oldest sample once the window is full.
func (e *Estimator) FinishFile(record *FileTimingRecord, status string) {
	record.EndTime = e.now()
	record.DurationS = round2(record.EndTime.Sub(record.StartTime).Seconds())
	record.Status = status

	e.history = append(e.history, record)
	if len(e.history) > e.windowSize {
		e.history = e.history[len(e.history)-e.windowSize:]
	}
	e.completedFiles++
	e.current = nil
}

// AvgSecondsPerPage is the recency-weighted average of duration/page across
// the window. Weight grows linearly from the oldest sample (1.0) to the
// newest (1 + 0.5*(n-1)). Falls back to the default when the window is
// empty or carries no usable durations.
func (e *Estimator) AvgSecondsPerPage() float64 {
	if len(e.history) == 0 {
		return e.defaultSecondsPerPage
	}

	var weightedSum, totalWeight float64
	for i, rec := range e.history {
		if rec.EndTime.IsZero() || rec.PageCount == 0 {
			continue
		}
		weight := 1.0 + float64(i)*0.5
		weightedSum += rec.DurationS / float64(rec.PageCount) * weight
		totalWeight += weight
	}

	if totalWeight == 0 || weightedSum == 0 {
		return e.defaultSecondsPerPage
	}
	return weightedSum / totalWeight
}

// AvgSecondsPerFile is the unweighted mean duration over completed samples.
func (e *Estimator) AvgSecondsPerFile() float64 {
	var sum float64
	var n int
	for _, rec := range e.history {
		if rec.EndTime.IsZero() {
			continue
		}
		sum += rec.DurationS
		n++
	}
	if n == 0 {
		return e.defaultSecondsPerPage
	}
	return sum / float64(n)
}

// EstimateRemaining estimates seconds remaining for the given number of
// files. Zero remaining files always yields zero, regardless of history.
func (e *Estimator) EstimateRemaining(remainingFiles int, avgPagesPerFile float64) float64 {
	if remainingFiles <= 0 {
		return 0
	}
	if avgPagesPerFile <= 0 {
		avgPagesPerFile = 1.0
	}
	return float64(remainingFiles) * avgPagesPerFile * e.AvgSecondsPerPage()
}

// Stats is a snapshot of batch progress from the estimator's view.
type Stats struct {
	TotalFiles        int     `json:"total_files"`
	CompletedFiles    int     `json:"completed_files"`
	RemainingFiles    int     `json:"remaining_files"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	ETASeconds        float64 `json:"eta_seconds"`
	AvgPerFileSeconds float64 `json:"avg_per_file_seconds"`
	AvgPerPageSeconds float64 `json:"avg_per_page_seconds"`
	ProgressPct       float64 `json:"progress_pct"`
}

// BatchStats returns current batch processing statistics.
func (e *Estimator) BatchStats() Stats {
	var elapsed float64
	if !e.batchStart.IsZero() {
		elapsed = e.now().Sub(e.batchStart).Seconds()
	}
	remaining := e.totalFiles - e.completedFiles

	var progress float64
	if e.totalFiles > 0 {
		progress = float64(e.completedFiles) / float64(e.totalFiles) * 100
	}

	return Stats{
		TotalFiles:        e.totalFiles,
		CompletedFiles:    e.completedFiles,
		RemainingFiles:    remaining,
		ElapsedSeconds:    round1(elapsed),
		ETASeconds:        round1(e.EstimateRemaining(remaining, 1.0)),
		AvgPerFileSeconds: round1(e.AvgSecondsPerFile()),
		AvgPerPageSeconds: round1(e.AvgSecondsPerPage()),
		ProgressPct:       round1(progress),
	}
}

// CurrentFileElapsed returns elapsed seconds for the file being processed,
// or false when no file is in flight.
func (e *Estimator) CurrentFileElapsed() (float64, bool) {
	if e.current == nil || e.current.Status != TimingProcessing {
		return 0, false
	}
	return round1(e.now().Sub(e.current.StartTime).Seconds()), true
}

// FormatETA formats seconds into a short human-readable string.
func FormatETA(seconds float64) string {
	if seconds <= 0 {
		return "Done"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(seconds))
	}
	minutes := int(seconds) / 60
	secs := int(seconds) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
