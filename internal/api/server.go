// Package api exposes the REST and WebSocket surface over the batch manager
// and the stores.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/davekm/docvision/internal/broadcast"
	"github.com/davekm/docvision/internal/models"
	"github.com/davekm/docvision/internal/ocr"
	"github.com/davekm/docvision/internal/repository"
	"github.com/davekm/docvision/internal/runner"
)

// OCRClient is the model-facing dependency of the ad-hoc process endpoint
// and the health check. Implemented by ocr.Client.
type OCRClient interface {
	ProcessDocument(ctx context.Context, filePath, docType string, extractRaw, extractStructured bool) (*ocr.Extraction, error)
	HealthCheck(ctx context.Context) error
}

type Server struct {
	batches *repository.BatchRepository
	results *repository.ResultRepository
	manager *runner.Manager
	hub     *broadcast.Hub
	client  OCRClient
}

func NewServer(batches *repository.BatchRepository, results *repository.ResultRepository, manager *runner.Manager, hub *broadcast.Hub, client OCRClient) *Server {
	return &Server{
		batches: batches,
		results: results,
		manager: manager,
		hub:     hub,
		client:  client,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/batches", s.handleCreateBatch)
	mux.HandleFunc("GET /api/batches/active", s.handleActiveBatch)
	mux.HandleFunc("GET /api/batches/{id}/stats", s.handleBatchStats)
	mux.HandleFunc("POST /api/batches/{id}/resume", s.handleResumeBatch)
	mux.HandleFunc("POST /api/batches/{id}/discard", s.handleDiscardBatch)
	mux.HandleFunc("POST /api/batches/{id}/cancel", s.handleCancelBatch)
	mux.HandleFunc("GET /api/results", s.handleListResults)
	mux.HandleFunc("GET /api/results/{id}", s.handleGetResult)
	mux.HandleFunc("DELETE /api/results", s.handleDeleteResults)
	mux.HandleFunc("POST /api/process", s.handleProcessFile)
	mux.HandleFunc("GET /ws/batches", s.handleWebSocket)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ollamaOK := s.client.HealthCheck(ctx) == nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"ollama":        ollamaOK,
		"batch_running": s.manager.Running(),
		"observers":     s.hub.ObserverCount(),
	})
}

type createBatchRequest struct {
	DocTypes          []string `json:"doc_types"`
	ExtractRaw        *bool    `json:"extract_raw"`
	ExtractStructured *bool    `json:"extract_structured"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	extractRaw := req.ExtractRaw == nil || *req.ExtractRaw
	extractStructured := req.ExtractStructured == nil || *req.ExtractStructured

	batch, err := s.manager.StartBatch(r.Context(), req.DocTypes, extractRaw, extractStructured)
	switch {
	case errors.Is(err, runner.ErrBatchRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, runner.ErrNoFiles):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("Failed to create batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create batch")
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleActiveBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.manager.Active(r.Context())
	if err != nil {
		log.Printf("Failed to query active batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to query active batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   batch,
		"running": s.manager.Running(),
	})
}

func (s *Server) handleBatchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.batches.GetBatchStats(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Printf("Failed to get batch stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get batch stats")
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResumeBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.manager.ResumeBatch(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, runner.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, runner.ErrBatchRunning), errors.Is(err, runner.ErrNotInterrupted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Printf("Failed to resume batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to resume batch")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleDiscardBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.manager.DiscardBatch(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, runner.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, runner.ErrNotInterrupted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Printf("Failed to discard batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to discard batch")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		log.Printf("Failed to get batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if batch.IsTerminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("batch is already %s", batch.Status))
		return
	}
	if err := s.manager.CancelBatch(batchID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": "cancelling"})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.results.GetAll(r.Context(), r.URL.Query().Get("doc_type"))
	if err != nil {
		log.Printf("Failed to list results: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	counts, err := s.results.CountByDocType(r.Context())
	if err != nil {
		log.Printf("Failed to count results: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to count results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
		"by_type": counts,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	result, err := s.results.GetByID(r.Context(), uint(id))
	if err != nil {
		log.Printf("Failed to get result: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteResults(w http.ResponseWriter, r *http.Request) {
	if s.manager.Running() {
		writeError(w, http.StatusConflict, "cannot delete results while a batch is running")
		return
	}
	if err := s.batches.PurgeAll(r.Context()); err != nil {
		log.Printf("Failed to purge results: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type processRequest struct {
	FilePath          string `json:"file_path"`
	DocType           string `json:"doc_type"`
	ExtractRaw        *bool  `json:"extract_raw"`
	ExtractStructured *bool  `json:"extract_structured"`
}

// handleProcessFile runs OCR on a single file synchronously, outside any
// batch. The stored result has no batch reference.
func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	docType := req.DocType
	if docType == "" {
		docType = "invoice"
	}
	extractRaw := req.ExtractRaw == nil || *req.ExtractRaw
	extractStructured := req.ExtractStructured == nil || *req.ExtractStructured

	result := &models.OCRResult{
		FileName:    filepath.Base(req.FilePath),
		FilePath:    req.FilePath,
		DocType:     docType,
		ProcessedAt: time.Now(),
	}
	extraction, err := s.client.ProcessDocument(r.Context(), req.FilePath, docType, extractRaw, extractStructured)
	if err != nil {
		errMsg := err.Error()
		result.Error = &errMsg
	} else {
		result.RawText = extraction.RawText
		result.StructuredData = extraction.StructuredData
		result.PageCount = extraction.PageCount
		result.ProcessingTimeSeconds = extraction.ProcessingTimeSeconds
	}

	if _, err := s.results.Save(r.Context(), result); err != nil {
		log.Printf("Failed to save result: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save result")
		return
	}
	status := http.StatusOK
	if result.Failed() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
