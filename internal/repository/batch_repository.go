package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/davekm/docvision/internal/models"
)

// ErrQueueEntryNotFound is returned when a mark-done/mark-error call names a
// file that has no queue row in the batch. The runner treats this as a fatal
// store error: advancing past a write the store never made would make the
// resume bookkeeping lie.
var ErrQueueEntryNotFound = errors.New("queue entry not found")

// FileInput is one file to enqueue when creating a batch.
type FileInput struct {
	Path    string
	DocType string
}

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts the batch row and one pending queue row per file in a
// single transaction; both succeed or neither does.
func (r *BatchRepository) CreateBatch(ctx context.Context, batchID string, files []FileInput, config models.JSONMap) (*models.Batch, error) {
	batch := models.Batch{
		ID:         batchID,
		Status:     models.BatchStatusRunning,
		TotalFiles: len(files),
		StartedAt:  time.Now(),
		Config:     config,
	}

	entries := make([]models.QueueEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, models.QueueEntry{
			BatchID:  batchID,
			FilePath: f.Path,
			DocType:  f.DocType,
			Status:   models.QueueStatusPending,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	return &batch, nil
}

// GetBatch retrieves batch metadata. Returns (nil, nil) if the batch does not exist.
func (r *BatchRepository) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).Where("id = ?", batchID).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetPendingFiles returns the entries still awaiting processing, in original
// insertion order. This is what a resume reprocesses: done and error entries
// are never returned.
func (r *BatchRepository) GetPendingFiles(ctx context.Context, batchID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, models.QueueStatusPending).
		Order("id").
		Find(&entries).Error
	return entries, err
}

// GetQueue returns every entry in the batch queue, in insertion order.
func (r *BatchRepository) GetQueue(ctx context.Context, batchID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id").
		Find(&entries).Error
	return entries, err
}

// MarkFileDone flips the queue entry to done, attaches the result reference
// and duration, and increments the batch's completed counter, atomically.
func (r *BatchRepository) MarkFileDone(ctx context.Context, batchID, filePath string, resultID uint, durationS float64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueEntry{}).
			Where("batch_id = ? AND file_path = ?", batchID, filePath).
			Updates(map[string]interface{}{
				"status":     models.QueueStatusDone,
				"result_id":  resultID,
				"duration_s": durationS,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: batch %s file %s", ErrQueueEntryNotFound, batchID, filePath)
		}
		return tx.Model(&models.Batch{}).
			Where("id = ?", batchID).
			UpdateColumn("completed", gorm.Expr("completed + 1")).Error
	})
}

// MarkFileError flips the queue entry to error, records the message and
// duration, and increments the batch's failed counter, atomically.
func (r *BatchRepository) MarkFileError(ctx context.Context, batchID, filePath, errMsg string, durationS float64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueEntry{}).
			Where("batch_id = ? AND file_path = ?", batchID, filePath).
			Updates(map[string]interface{}{
				"status":     models.QueueStatusError,
				"error":      errMsg,
				"duration_s": durationS,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: batch %s file %s", ErrQueueEntryNotFound, batchID, filePath)
		}
		return tx.Model(&models.Batch{}).
			Where("id = ?", batchID).
			UpdateColumn("failed", gorm.Expr("failed + 1")).Error
	})
}

// FinishBatch sets the batch's terminal status and finished_at. Idempotent.
func (r *BatchRepository) FinishBatch(ctx context.Context, batchID, status string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
		}).Error
}

// MarkRunning flips an interrupted batch back to running for a resume.
func (r *BatchRepository) MarkRunning(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"status":      models.BatchStatusRunning,
			"finished_at": nil,
		}).Error
}

// GetActiveBatch returns the most recently started batch that is running or
// interrupted, or (nil, nil) when there is none. Callers use this on startup
// to surface resumable work.
func (r *BatchRepository) GetActiveBatch(ctx context.Context) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.BatchStatusRunning, models.BatchStatusInterrupted}).
		Order("started_at DESC").
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// InterruptActiveBatches marks every running batch as interrupted. Called on
// startup: a batch is running only while a live process drives it, so one
// that survived a restart in that state crashed. Returns the number flipped.
func (r *BatchRepository) InterruptActiveBatches(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("status = ?", models.BatchStatusRunning).
		UpdateColumn("status", models.BatchStatusInterrupted)
	return res.RowsAffected, res.Error
}

// GetBatchStats aggregates queue counts and durations for a batch.
// Returns (nil, nil) if the batch does not exist.
func (r *BatchRepository) GetBatchStats(ctx context.Context, batchID string) (*models.BatchStats, error) {
	batch, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	var counts []struct {
		Status string
		Cnt    int
	}
	err = r.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Select("status, COUNT(*) as cnt").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	var done, errored, pending int
	for _, c := range counts {
		switch c.Status {
		case models.QueueStatusDone:
			done = c.Cnt
		case models.QueueStatusError:
			errored = c.Cnt
		case models.QueueStatusPending:
			pending = c.Cnt
		}
	}

	var avgDuration float64
	err = r.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Select("COALESCE(AVG(duration_s), 0)").
		Where("batch_id = ? AND status = ?", batchID, models.QueueStatusDone).
		Scan(&avgDuration).Error
	if err != nil {
		return nil, err
	}

	stats := &models.BatchStats{
		BatchID:      batchID,
		Status:       batch.Status,
		TotalFiles:   batch.TotalFiles,
		Done:         done,
		Errors:       errored,
		Pending:      pending,
		AvgDurationS: round1(avgDuration),
		ETASeconds:   round1(float64(pending) * avgDuration),
		StartedAt:    batch.StartedAt,
		FinishedAt:   batch.FinishedAt,
	}
	if batch.TotalFiles > 0 {
		stats.ProgressPct = round1(float64(done+errored) / float64(batch.TotalFiles) * 100)
	}
	return stats, nil
}

// DeleteAll removes every batch and queue row.
func (r *BatchRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.QueueEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.Batch{}).Error
	})
}

// PurgeAll removes every queue row, batch and result in one transaction, so
// a partial failure can never leave queue rows pointing at deleted results.
// Backs the bulk reset endpoint.
func (r *BatchRepository) PurgeAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.QueueEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.Batch{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.OCRResult{}).Error
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
