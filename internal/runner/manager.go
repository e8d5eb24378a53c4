package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davekm/docvision/internal/broadcast"
	"github.com/davekm/docvision/internal/config"
	"github.com/davekm/docvision/internal/discovery"
	"github.com/davekm/docvision/internal/estimator"
	"github.com/davekm/docvision/internal/models"
	"github.com/davekm/docvision/internal/repository"
)

var (
	ErrBatchRunning   = errors.New("a batch is already running")
	ErrNoFiles        = errors.New("no files found to process")
	ErrBatchNotFound  = errors.New("batch not found")
	ErrNotInterrupted = errors.New("batch is not interrupted")
	ErrNoActiveBatch  = errors.New("no batch is running")
	ErrOtherBatch     = errors.New("a different batch is running")
)

// DocTypes are the supported document categories, each mapped to its own
// input folder.
var DocTypes = []string{"invoice", "contract", "crac"}

// Manager enforces the single-active-batch rule and owns the lifecycle of
// batch runs: start, resume, cancel, discard. At most one run goroutine is
// alive at a time.
type Manager struct {
	cfg     *config.Config
	batches *repository.BatchRepository
	results *repository.ResultRepository
	client  OCRClient
	hub     *broadcast.Hub

	mu       sync.Mutex
	running  bool
	activeID string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, batches *repository.BatchRepository, results *repository.ResultRepository, client OCRClient, hub *broadcast.Hub) *Manager {
	return &Manager{
		cfg:     cfg,
		batches: batches,
		results: results,
		client:  client,
		hub:     hub,
	}
}

// NewBatchID builds a sortable, human-readable batch identifier.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:6])
}

// StartBatch scans the configured folders for the requested document types,
// creates a batch over the files found, and starts processing it in the
// background. Empty docTypes means all types.
func (m *Manager) StartBatch(ctx context.Context, docTypes []string, extractRaw, extractStructured bool) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, ErrBatchRunning
	}

	if len(docTypes) == 0 {
		docTypes = DocTypes
	}
	var files []repository.FileInput
	for _, docType := range docTypes {
		for _, path := range discovery.ListFiles(m.cfg.FolderFor(docType)) {
			files = append(files, repository.FileInput{Path: path, DocType: docType})
		}
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	batchID := NewBatchID(time.Now())
	batch, err := m.batches.CreateBatch(ctx, batchID, files, models.JSONMap{
		"model":              m.cfg.OllamaModel,
		"ollama_url":         m.cfg.OllamaBaseURL,
		"extract_raw":        extractRaw,
		"extract_structured": extractStructured,
		"doc_types":          docTypes,
	})
	if err != nil {
		return nil, err
	}

	entries, err := m.batches.GetPendingFiles(ctx, batchID)
	if err != nil {
		return nil, err
	}

	m.launch(batch, entries, extractRaw, extractStructured)
	return batch, nil
}

// ResumeBatch restarts an interrupted batch over its still-pending files.
// Files already done or errored are not reprocessed. A batch with nothing
// left pending is finalized as completed without starting a run.
func (m *Manager) ResumeBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, ErrBatchRunning
	}

	batch, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status != models.BatchStatusInterrupted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotInterrupted, batch.Status)
	}

	entries, err := m.batches.GetPendingFiles(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if err := m.batches.FinishBatch(ctx, batchID, models.BatchStatusCompleted); err != nil {
			return nil, err
		}
		return m.batches.GetBatch(ctx, batchID)
	}

	if err := m.batches.MarkRunning(ctx, batchID); err != nil {
		return nil, err
	}
	batch.Status = models.BatchStatusRunning

	extractRaw := configFlag(batch.Config, "extract_raw")
	extractStructured := configFlag(batch.Config, "extract_structured")

	log.Printf("Resuming batch %s: %d files pending", batchID, len(entries))
	m.launch(batch, entries, extractRaw, extractStructured)
	return batch, nil
}

// launch spawns the run goroutine. Caller must hold m.mu.
func (m *Manager) launch(batch *models.Batch, entries []models.QueueEntry, extractRaw, extractStructured bool) {
	runCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.activeID = batch.ID
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			m.running = false
			m.activeID = ""
			m.cancel = nil
			m.mu.Unlock()
		}()

		est := estimator.New(m.cfg.ETAWindowSize, m.cfg.DefaultSecondsPerPage)
		r := NewRunner(m.batches, m.results, m.client, est, m.hub)
		if err := r.Run(runCtx, batch, entries, extractRaw, extractStructured); err != nil {
			log.Printf("Batch %s: run aborted: %v", batch.ID, err)
			if ferr := m.batches.FinishBatch(context.Background(), batch.ID, models.BatchStatusInterrupted); ferr != nil {
				log.Printf("Batch %s: failed to record interruption: %v", batch.ID, ferr)
			}
		}
	}()
}

// CancelBatch stops the in-flight run, but only when batchID names it; a
// stale cancel aimed at some other batch must never interrupt the live run.
// The current file finishes its model call; the batch lands as interrupted
// and can be resumed or discarded.
func (m *Manager) CancelBatch(batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.cancel == nil {
		return ErrNoActiveBatch
	}
	if batchID != m.activeID {
		return fmt.Errorf("%w: %s", ErrOtherBatch, m.activeID)
	}
	m.cancel()
	return nil
}

// Stop cancels whatever run is in flight and waits for it to commit its
// interrupted state. Used at shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// DiscardBatch marks an interrupted batch as discarded so it stops being
// offered for resume. Its results and queue rows are kept.
func (m *Manager) DiscardBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status != models.BatchStatusInterrupted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotInterrupted, batch.Status)
	}
	if err := m.batches.FinishBatch(ctx, batchID, models.BatchStatusDiscarded); err != nil {
		return nil, err
	}
	return m.batches.GetBatch(ctx, batchID)
}

// Active returns the currently running or most recent interrupted batch,
// or (nil, nil) when there is none.
func (m *Manager) Active(ctx context.Context) (*models.Batch, error) {
	return m.batches.GetActiveBatch(ctx)
}

// Running reports whether a batch run is in flight.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until the in-flight run (if any) has finished. Used during
// shutdown so the last store commit completes before the process exits.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func configFlag(cfg models.JSONMap, key string) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return true
}
