package models

import "time"

// Batch status constants
const (
	BatchStatusRunning     = "running"
	BatchStatusCompleted   = "completed"
	BatchStatusInterrupted = "interrupted"
	BatchStatusDiscarded   = "discarded"
)

// Batch represents one run of document processing over a fixed set of files.
// A batch is "running" only while a live process is driving it; a batch found
// in that state on startup crashed and is flipped to "interrupted".
type Batch struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Status     string     `gorm:"column:status;index"`
	TotalFiles int        `gorm:"column:total_files"`
	Completed  int        `gorm:"column:completed"`
	Failed     int        `gorm:"column:failed"`
	StartedAt  time.Time  `gorm:"column:started_at;index"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Config     JSONMap    `gorm:"column:config"`
}

// TableName specifies the table name for GORM
func (Batch) TableName() string {
	return "batches"
}

// IsTerminal reports whether the batch can no longer change state.
func (b *Batch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusDiscarded
}

// BatchStats is the aggregate view of a batch's queue, served to clients
// that fetch state on connect/reconnect.
type BatchStats struct {
	BatchID      string     `json:"batch_id"`
	Status       string     `json:"status"`
	TotalFiles   int        `json:"total_files"`
	Done         int        `json:"done"`
	Errors       int        `json:"errors"`
	Pending      int        `json:"pending"`
	ProgressPct  float64    `json:"progress_pct"`
	AvgDurationS float64    `json:"avg_duration_s"`
	ETASeconds   float64    `json:"eta_seconds"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}
