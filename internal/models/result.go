package models

import "time"

// OCRResult is the stored outcome of processing one file. A non-nil Error
// marks a failure; failed files are queryable the same way as successes.
// BatchID is nil for ad-hoc single-file processing.
type OCRResult struct {
	ID                    uint      `gorm:"column:id;primaryKey;autoIncrement"`
	FileName              string    `gorm:"column:file_name"`
	FilePath              string    `gorm:"column:file_path"`
	DocType               string    `gorm:"column:doc_type;index"`
	RawText               string    `gorm:"column:raw_text"`
	StructuredData        JSONMap   `gorm:"column:structured_data"`
	PageCount             int       `gorm:"column:page_count"`
	ProcessingTimeSeconds float64   `gorm:"column:processing_time_seconds"`
	Error                 *string   `gorm:"column:error"`
	ProcessedAt           time.Time `gorm:"column:processed_at"`
	BatchID               *string   `gorm:"column:batch_id;index"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (OCRResult) TableName() string {
	return "results"
}

// Failed reports whether this result records a processing failure.
func (r *OCRResult) Failed() bool {
	return r.Error != nil && *r.Error != ""
}
