package models

// Queue entry status constants
const (
	QueueStatusPending = "pending"
	QueueStatusDone    = "done"
	QueueStatusError   = "error"
)

// QueueEntry tracks one file within one batch. Entries are created in bulk
// when the batch is created and mutated exactly once: pending -> done|error.
type QueueEntry struct {
	ID        uint     `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID   string   `gorm:"column:batch_id;index;index:idx_queue_batch_status"`
	FilePath  string   `gorm:"column:file_path"`
	DocType   string   `gorm:"column:doc_type"`
	Status    string   `gorm:"column:status;index:idx_queue_batch_status"`
	ResultID  *uint    `gorm:"column:result_id"`
	Error     *string  `gorm:"column:error"`
	DurationS *float64 `gorm:"column:duration_s"`
}

// TableName specifies the table name for GORM
func (QueueEntry) TableName() string {
	return "batch_queue"
}
