package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/davekm/docvision/internal/models"
)

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save persists a processing result and returns its row ID. Error results
// are saved the same way as successes so failures stay queryable.
func (r *ResultRepository) Save(ctx context.Context, result *models.OCRResult) (uint, error) {
	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		return 0, err
	}
	return result.ID, nil
}

// GetByID retrieves a single result. Returns (nil, nil) if not found.
func (r *ResultRepository) GetByID(ctx context.Context, id uint) (*models.OCRResult, error) {
	var result models.OCRResult
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAll retrieves all results, newest first, optionally filtered by doc type.
func (r *ResultRepository) GetAll(ctx context.Context, docType string) ([]models.OCRResult, error) {
	var results []models.OCRResult
	q := r.db.WithContext(ctx).Order("id DESC")
	if docType != "" {
		q = q.Where("doc_type = ?", docType)
	}
	err := q.Find(&results).Error
	return results, err
}

// CountByDocType returns result counts grouped by document type.
func (r *ResultRepository) CountByDocType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		DocType string
		Cnt     int64
	}
	err := r.db.WithContext(ctx).Model(&models.OCRResult{}).
		Select("doc_type, COUNT(*) as cnt").
		Group("doc_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.DocType] = row.Cnt
	}
	return counts, nil
}

// IsFileProcessed reports whether the file already has a successful result,
// optionally scoped to one batch.
func (r *ResultRepository) IsFileProcessed(ctx context.Context, filePath string, batchID *string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.OCRResult{}).
		Where("file_path = ? AND error IS NULL", filePath)
	if batchID != nil {
		q = q.Where("batch_id = ?", *batchID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteAll removes every stored result.
func (r *ResultRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&models.OCRResult{}).Error
}
