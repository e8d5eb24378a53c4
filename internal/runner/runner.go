// Package runner drives batch OCR processing: it walks a batch's pending
// queue, calls the model for each file, commits every outcome to the store
// before advancing, and publishes progress events along the way.
package runner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/davekm/docvision/internal/broadcast"
	"github.com/davekm/docvision/internal/estimator"
	"github.com/davekm/docvision/internal/models"
	"github.com/davekm/docvision/internal/ocr"
	"github.com/davekm/docvision/internal/repository"
)

// OCRClient is the model-facing collaborator. Implemented by ocr.Client.
type OCRClient interface {
	ProcessDocument(ctx context.Context, filePath, docType string, extractRaw, extractStructured bool) (*ocr.Extraction, error)
}

// Runner processes one batch run to completion. A fresh Runner (and a fresh
// estimator) is created per run; the repositories and hub are shared.
type Runner struct {
	batches *repository.BatchRepository
	results *repository.ResultRepository
	client  OCRClient
	est     *estimator.Estimator
	hub     *broadcast.Hub
}

func NewRunner(batches *repository.BatchRepository, results *repository.ResultRepository, client OCRClient, est *estimator.Estimator, hub *broadcast.Hub) *Runner {
	return &Runner{
		batches: batches,
		results: results,
		client:  client,
		est:     est,
		hub:     hub,
	}
}

// Run processes the given pending entries of a batch. Per-file OCR failures
// are recorded as data and the loop continues; only store failures abort the
// run. Cancelling ctx finishes the batch as interrupted. Store commits use a
// detached context so a cancel between OCR call and commit cannot lose the
// outcome of work already done.
func (r *Runner) Run(ctx context.Context, batch *models.Batch, entries []models.QueueEntry, extractRaw, extractStructured bool) error {
	detached := context.WithoutCancel(ctx)

	completed := batch.Completed
	failed := batch.Failed
	var timings []broadcast.FileTiming

	r.est.StartBatch(len(entries))
	log.Printf("Batch %s: processing %d files", batch.ID, len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			return r.finishInterrupted(detached, batch, completed, failed, timings)
		}

		fileName := filepath.Base(entry.FilePath)
		record := r.est.StartFile(fileName, entry.DocType, 1)
		r.publishUpdate(batch, completed, failed, fileName, entry.DocType, timings)

		extraction, err := r.client.ProcessDocument(ctx, entry.FilePath, entry.DocType, extractRaw, extractStructured)
		if err != nil {
			if ctx.Err() != nil {
				return r.finishInterrupted(detached, batch, completed, failed, timings)
			}

			r.est.FinishFile(record, estimator.TimingError)
			errMsg := err.Error()
			result := &models.OCRResult{
				FileName:    fileName,
				FilePath:    entry.FilePath,
				DocType:     entry.DocType,
				Error:       &errMsg,
				ProcessedAt: time.Now(),
				BatchID:     &batch.ID,
			}
			if _, saveErr := r.results.Save(detached, result); saveErr != nil {
				return fmt.Errorf("failed to save error result for %s: %w", fileName, saveErr)
			}
			if markErr := r.batches.MarkFileError(detached, batch.ID, entry.FilePath, errMsg, record.DurationS); markErr != nil {
				return fmt.Errorf("failed to mark %s as error: %w", fileName, markErr)
			}
			failed++
			timings = append(timings, broadcast.FileTiming{
				File:   fileName,
				Type:   entry.DocType,
				Pages:  record.PageCount,
				TimeS:  record.DurationS,
				Status: estimator.TimingError,
				Error:  errMsg,
			})
			log.Printf("Batch %s: %s failed: %v", batch.ID, fileName, err)
			continue
		}

		record.PageCount = extraction.PageCount
		r.est.FinishFile(record, estimator.TimingDone)

		result := &models.OCRResult{
			FileName:              fileName,
			FilePath:              entry.FilePath,
			DocType:               entry.DocType,
			RawText:               extraction.RawText,
			StructuredData:        extraction.StructuredData,
			PageCount:             extraction.PageCount,
			ProcessingTimeSeconds: extraction.ProcessingTimeSeconds,
			ProcessedAt:           time.Now(),
			BatchID:               &batch.ID,
		}
		resultID, err := r.results.Save(detached, result)
		if err != nil {
			return fmt.Errorf("failed to save result for %s: %w", fileName, err)
		}
		if err := r.batches.MarkFileDone(detached, batch.ID, entry.FilePath, resultID, record.DurationS); err != nil {
			return fmt.Errorf("failed to mark %s as done: %w", fileName, err)
		}
		completed++
		timings = append(timings, broadcast.FileTiming{
			File:   fileName,
			Type:   entry.DocType,
			Pages:  record.PageCount,
			TimeS:  record.DurationS,
			Status: estimator.TimingDone,
		})
		log.Printf("Batch %s: %s done in %.1fs (%d pages)", batch.ID, fileName, record.DurationS, record.PageCount)
	}

	if err := r.batches.FinishBatch(detached, batch.ID, models.BatchStatusCompleted); err != nil {
		return fmt.Errorf("failed to finish batch %s: %w", batch.ID, err)
	}

	stats := r.est.BatchStats()
	r.hub.Publish(broadcast.Event{
		Type:              broadcast.EventBatchComplete,
		BatchID:           batch.ID,
		Status:            models.BatchStatusCompleted,
		Completed:         completed,
		Failed:            failed,
		Total:             batch.TotalFiles,
		ProgressPct:       100,
		AvgPerFileSeconds: stats.AvgPerFileSeconds,
		ElapsedSeconds:    stats.ElapsedSeconds,
		FileTimings:       timings,
	})
	log.Printf("Batch %s: finished, %d done, %d failed", batch.ID, completed, failed)
	return nil
}

func (r *Runner) finishInterrupted(ctx context.Context, batch *models.Batch, completed, failed int, timings []broadcast.FileTiming) error {
	if err := r.batches.FinishBatch(ctx, batch.ID, models.BatchStatusInterrupted); err != nil {
		return fmt.Errorf("failed to interrupt batch %s: %w", batch.ID, err)
	}
	r.hub.Publish(broadcast.Event{
		Type:        broadcast.EventBatchUpdate,
		BatchID:     batch.ID,
		Status:      models.BatchStatusInterrupted,
		Completed:   completed,
		Failed:      failed,
		Total:       batch.TotalFiles,
		ProgressPct: progressPct(completed, failed, batch.TotalFiles),
		FileTimings: timings,
		Message:     "batch cancelled",
	})
	log.Printf("Batch %s: interrupted at %d done, %d failed", batch.ID, completed, failed)
	return nil
}

func (r *Runner) publishUpdate(batch *models.Batch, completed, failed int, currentFile, docType string, timings []broadcast.FileTiming) {
	stats := r.est.BatchStats()
	r.hub.Publish(broadcast.Event{
		Type:              broadcast.EventBatchUpdate,
		BatchID:           batch.ID,
		Status:            models.BatchStatusRunning,
		CurrentFile:       currentFile,
		CurrentDocType:    docType,
		Completed:         completed,
		Failed:            failed,
		Total:             batch.TotalFiles,
		ProgressPct:       progressPct(completed, failed, batch.TotalFiles),
		ETASeconds:        stats.ETASeconds,
		AvgPerFileSeconds: stats.AvgPerFileSeconds,
		ElapsedSeconds:    stats.ElapsedSeconds,
		FileTimings:       timings,
	})
}

func progressPct(completed, failed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed+failed) / float64(total) * 100
}
