package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davekm/docvision/internal/api"
	"github.com/davekm/docvision/internal/broadcast"
	"github.com/davekm/docvision/internal/config"
	"github.com/davekm/docvision/internal/database"
	"github.com/davekm/docvision/internal/ocr"
	"github.com/davekm/docvision/internal/pdf"
	"github.com/davekm/docvision/internal/repository"
	"github.com/davekm/docvision/internal/runner"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	log.Println("Database connected successfully")

	// Run migrations
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	resultRepo := repository.NewResultRepository(db)

	// A batch can only be running while a live process drives it. Any batch
	// still marked running at startup crashed and becomes resumable.
	interrupted, err := batchRepo.InterruptActiveBatches(context.Background())
	if err != nil {
		return fmt.Errorf("failed to scan for crashed batches: %w", err)
	}
	if interrupted > 0 {
		log.Printf("Marked %d crashed batch(es) as interrupted, resumable via the API", interrupted)
	}

	// Initialize OCR client and batch manager
	ocrClient := ocr.NewClient(cfg.OllamaBaseURL, cfg.OllamaModel, time.Duration(cfg.OllamaTimeout)*time.Second, pdf.PageExtractor{})
	hub := broadcast.NewHub(64, time.Duration(cfg.HeartbeatInterval)*time.Second)
	manager := runner.NewManager(cfg, batchRepo, resultRepo, ocrClient, hub)

	server := api.NewServer(batchRepo, resultRepo, manager, hub, ocrClient)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")

		// Cancelling the in-flight batch lands it as interrupted; its last
		// store commit must finish before the process exits.
		manager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("Shutdown complete")
	return nil
}
