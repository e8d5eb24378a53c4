package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davekm/docvision/internal/broadcast"
	"github.com/davekm/docvision/internal/config"
	"github.com/davekm/docvision/internal/database"
	"github.com/davekm/docvision/internal/estimator"
	"github.com/davekm/docvision/internal/models"
	"github.com/davekm/docvision/internal/ocr"
	"github.com/davekm/docvision/internal/repository"
	"github.com/davekm/docvision/internal/runner"
)

type mockOCRClient struct {
	processFn func(ctx context.Context, filePath, docType string) (*ocr.Extraction, error)
	healthErr error
}

func (m *mockOCRClient) ProcessDocument(ctx context.Context, filePath, docType string, extractRaw, extractStructured bool) (*ocr.Extraction, error) {
	if m.processFn != nil {
		return m.processFn(ctx, filePath, docType)
	}
	return &ocr.Extraction{RawText: "text", PageCount: 1, ProcessingTimeSeconds: 0.1}, nil
}

func (m *mockOCRClient) HealthCheck(ctx context.Context) error {
	return m.healthErr
}

type testEnv struct {
	server  *Server
	batches *repository.BatchRepository
	results *repository.ResultRepository
	manager *runner.Manager
	hub     *broadcast.Hub
	client  *mockOCRClient
	docDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	batches := repository.NewBatchRepository(db)
	results := repository.NewResultRepository(db)
	hub := broadcast.NewHub(64, 0)
	client := &mockOCRClient{}
	docDir := t.TempDir()
	cfg := &config.Config{
		InvoiceDir:            docDir,
		ETAWindowSize:         estimator.DefaultWindowSize,
		DefaultSecondsPerPage: estimator.DefaultSecondsPerPage,
		OllamaModel:           "test-model",
	}
	manager := runner.NewManager(cfg, batches, results, client, hub)

	return &testEnv{
		server:  NewServer(batches, results, manager, hub, client),
		batches: batches,
		results: results,
		manager: manager,
		hub:     hub,
		client:  client,
		docDir:  docDir,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
	if body["ollama"] != true {
		t.Errorf("Expected ollama true, got %v", body["ollama"])
	}
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.docDir, "a.pdf"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write doc: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/batches", map[string]interface{}{"doc_types": []string{"invoice"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var batch models.Batch
	decodeBody(t, rec, &batch)
	if !strings.HasPrefix(batch.ID, "batch_") {
		t.Errorf("Expected batch_ prefixed ID, got %q", batch.ID)
	}
	if batch.TotalFiles != 1 {
		t.Errorf("Expected 1 file, got %d", batch.TotalFiles)
	}
	env.manager.Wait()
}

func TestCreateBatch_NoFiles(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/batches", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 when folders are empty, got %d", rec.Code)
	}
}

func TestCreateBatch_Conflict(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.docDir, "a.pdf"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write doc: %v", err)
	}
	release := make(chan struct{})
	env.client.processFn = func(ctx context.Context, filePath, docType string) (*ocr.Extraction, error) {
		<-release
		return &ocr.Extraction{PageCount: 1}, nil
	}

	if rec := env.request(t, http.MethodPost, "/api/batches", nil); rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/batches", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 while a batch is running, got %d", rec.Code)
	}
	close(release)
	env.manager.Wait()
}

func seedInterruptedBatch(t *testing.T, env *testEnv, batchID string) {
	t.Helper()
	ctx := context.Background()
	files := []repository.FileInput{
		{Path: "/in/a.pdf", DocType: "invoice"},
		{Path: "/in/b.pdf", DocType: "invoice"},
	}
	if _, err := env.batches.CreateBatch(ctx, batchID, files, models.JSONMap{}); err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}
	if _, err := env.results.Save(ctx, &models.OCRResult{FileName: "a.pdf", FilePath: "/in/a.pdf", DocType: "invoice", BatchID: &batchID}); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}
	if err := env.batches.MarkFileDone(ctx, batchID, "/in/a.pdf", 1, 12); err != nil {
		t.Fatalf("Failed to mark done: %v", err)
	}
	if err := env.batches.FinishBatch(ctx, batchID, models.BatchStatusInterrupted); err != nil {
		t.Fatalf("Failed to interrupt: %v", err)
	}
}

func TestBatchStats(t *testing.T) {
	env := newTestEnv(t)
	seedInterruptedBatch(t, env, "batch_stats")

	rec := env.request(t, http.MethodGet, "/api/batches/batch_stats/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var stats models.BatchStats
	decodeBody(t, rec, &stats)
	if stats.Done != 1 || stats.Pending != 1 {
		t.Errorf("Expected 1 done / 1 pending, got %d / %d", stats.Done, stats.Pending)
	}
	if stats.ProgressPct != 50.0 {
		t.Errorf("Expected 50%% progress, got %g", stats.ProgressPct)
	}

	if rec := env.request(t, http.MethodGet, "/api/batches/nope/stats", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown batch, got %d", rec.Code)
	}
}

func TestActiveBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/batches/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Batch   *models.Batch `json:"batch"`
		Running bool          `json:"running"`
	}
	decodeBody(t, rec, &body)
	if body.Batch != nil || body.Running {
		t.Errorf("Expected no active batch, got %+v", body)
	}

	seedInterruptedBatch(t, env, "batch_active")
	rec = env.request(t, http.MethodGet, "/api/batches/active", nil)
	decodeBody(t, rec, &body)
	if body.Batch == nil || body.Batch.ID != "batch_active" {
		t.Errorf("Expected interrupted batch offered as active, got %+v", body.Batch)
	}
}

func TestResumeBatch(t *testing.T) {
	env := newTestEnv(t)
	seedInterruptedBatch(t, env, "batch_resume")

	rec := env.request(t, http.MethodPost, "/api/batches/batch_resume/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env.manager.Wait()

	batch, err := env.batches.GetBatch(context.Background(), "batch_resume")
	if err != nil {
		t.Fatalf("Failed to get batch: %v", err)
	}
	if batch.Status != models.BatchStatusCompleted {
		t.Errorf("Expected completed after resume, got %s", batch.Status)
	}

	if rec := env.request(t, http.MethodPost, "/api/batches/missing/resume", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown batch, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/batches/batch_resume/resume", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for completed batch, got %d", rec.Code)
	}
}

func TestDiscardBatch(t *testing.T) {
	env := newTestEnv(t)
	seedInterruptedBatch(t, env, "batch_discard")

	rec := env.request(t, http.MethodPost, "/api/batches/batch_discard/discard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var batch models.Batch
	decodeBody(t, rec, &batch)
	if batch.Status != models.BatchStatusDiscarded {
		t.Errorf("Expected discarded, got %s", batch.Status)
	}

	if rec := env.request(t, http.MethodPost, "/api/batches/batch_discard/discard", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double discard, got %d", rec.Code)
	}
}

func TestCancelBatch(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.request(t, http.MethodPost, "/api/batches/missing/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown batch, got %d", rec.Code)
	}

	seedInterruptedBatch(t, env, "batch_cancel")
	if rec := env.request(t, http.MethodPost, "/api/batches/batch_cancel/cancel", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 when nothing is running, got %d", rec.Code)
	}
}

func TestCancelBatch_WrongBatchDoesNotTouchRunningOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// a finished batch and a resumable one from an earlier run
	if _, err := env.batches.CreateBatch(ctx, "batch_old_done", []repository.FileInput{{Path: "/in/z.pdf", DocType: "invoice"}}, models.JSONMap{}); err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}
	if err := env.batches.FinishBatch(ctx, "batch_old_done", models.BatchStatusCompleted); err != nil {
		t.Fatalf("Failed to finish: %v", err)
	}
	seedInterruptedBatch(t, env, "batch_old_interrupted")

	// a live batch blocked inside its OCR call
	release := make(chan struct{})
	env.client.processFn = func(ctx context.Context, filePath, docType string) (*ocr.Extraction, error) {
		select {
		case <-release:
			return &ocr.Extraction{PageCount: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := os.WriteFile(filepath.Join(env.docDir, "a.pdf"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write doc: %v", err)
	}
	rec := env.request(t, http.MethodPost, "/api/batches", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	var live models.Batch
	decodeBody(t, rec, &live)

	// cancels aimed at the other batches must not interrupt the live run
	if rec := env.request(t, http.MethodPost, "/api/batches/batch_old_done/cancel", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for terminal batch, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/batches/batch_old_interrupted/cancel", nil); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for non-running batch, got %d", rec.Code)
	}
	if !env.manager.Running() {
		t.Fatal("Expected live batch still running after mismatched cancels")
	}

	// cancelling by the live batch's own id works
	if rec := env.request(t, http.MethodPost, "/api/batches/"+live.ID+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for live batch cancel, got %d", rec.Code)
	}
	env.manager.Wait()

	got, err := env.batches.GetBatch(ctx, live.ID)
	if err != nil {
		t.Fatalf("Failed to get batch: %v", err)
	}
	if got.Status != models.BatchStatusInterrupted {
		t.Errorf("Expected live batch interrupted after its own cancel, got %s", got.Status)
	}
	old, err := env.batches.GetBatch(ctx, "batch_old_done")
	if err != nil {
		t.Fatalf("Failed to get batch: %v", err)
	}
	if old.Status != models.BatchStatusCompleted {
		t.Errorf("Expected finished batch untouched, got %s", old.Status)
	}
}

func TestResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, r := range []*models.OCRResult{
		{FileName: "a.pdf", FilePath: "/in/a.pdf", DocType: "invoice", RawText: "alpha"},
		{FileName: "b.pdf", FilePath: "/in/b.pdf", DocType: "contract", RawText: "beta"},
	} {
		if _, err := env.results.Save(ctx, r); err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}
	}

	rec := env.request(t, http.MethodGet, "/api/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Results []models.OCRResult `json:"results"`
		Count   int                `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 {
		t.Errorf("Expected 2 results, got %d", body.Count)
	}

	rec = env.request(t, http.MethodGet, "/api/results?doc_type=contract", nil)
	decodeBody(t, rec, &body)
	if body.Count != 1 || body.Results[0].DocType != "contract" {
		t.Errorf("Expected only contract results, got %+v", body.Results)
	}

	rec = env.request(t, http.MethodGet, "/api/results/1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for existing result, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/api/results/999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing result, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/api/results/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", rec.Code)
	}
}

func TestDeleteResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedInterruptedBatch(t, env, "batch_wipe")

	rec := env.request(t, http.MethodDelete, "/api/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	results, err := env.results.GetAll(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected all results deleted, got %d", len(results))
	}
	batch, err := env.batches.GetBatch(ctx, "batch_wipe")
	if err != nil {
		t.Fatalf("Failed to get batch: %v", err)
	}
	if batch != nil {
		t.Error("Expected batches deleted with results")
	}
}

func TestProcessFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "adhoc.pdf")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/process", map[string]string{"file_path": path, "doc_type": "invoice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result models.OCRResult
	decodeBody(t, rec, &result)
	if result.BatchID != nil {
		t.Error("Ad-hoc result must not belong to a batch")
	}
	if result.RawText != "text" {
		t.Errorf("Expected extraction stored, got %q", result.RawText)
	}

	if rec := env.request(t, http.MethodPost, "/api/process", map[string]string{"file_path": "/no/such/file.pdf"}); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing file, got %d", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/process", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without file_path, got %d", rec.Code)
	}
}

func TestProcessFile_OCRFailureStoredAsResult(t *testing.T) {
	env := newTestEnv(t)
	env.client.processFn = func(ctx context.Context, filePath, docType string) (*ocr.Extraction, error) {
		return nil, ocr.ErrTimeout
	}
	path := filepath.Join(t.TempDir(), "slow.pdf")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/process", map[string]string{"file_path": path})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", rec.Code)
	}
	results, err := env.results.GetAll(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to list results: %v", err)
	}
	if len(results) != 1 || !results[0].Failed() {
		t.Errorf("Expected one failed result stored, got %+v", results)
	}
}
