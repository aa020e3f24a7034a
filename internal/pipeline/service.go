// Package pipeline drives one upload request end to end: persist validated
// files into a batch, fan out analysis calls, aggregate the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"receipts-backend/internal/batch"
	"receipts-backend/internal/fields"
	"receipts-backend/internal/shared/metrics"
)

// ErrNoFiles is returned when the request carries no files; it is rejected
// before a batch is created.
var ErrNoFiles = errors.New("no files uploaded")

// Analyzer abstracts the analysis client for the orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, fileName string, data []byte) fields.Record
}

// Upload is one validated file ready for persistence and analysis.
type Upload struct {
	OriginalName string
	StorageName  string
	ContentType  string
	Data         []byte
}

// FileResult pairs one uploaded file with its analysis outcome.
type FileResult struct {
	File       string        `json:"file"`
	SecureFile string        `json:"secureFile"`
	Data       fields.Record `json:"data"`
}

// Result is the upload response payload.
type Result struct {
	Results        []FileResult  `json:"results"`
	Fields         fields.Record `json:"fields"`
	BatchID        string        `json:"batchId"`
	ProcessingTime int64         `json:"processingTime"`
}

// Service orchestrates the upload pipeline.
type Service struct {
	Batches  *batch.Store
	Analyzer Analyzer
}

// Process persists the uploads into a new batch, analyzes every file
// concurrently, and aggregates. The request completes only after every file
// has reached a terminal, possibly degraded, result; no partial responses.
func (s *Service) Process(ctx context.Context, uploads []Upload) (Result, error) {
	if len(uploads) == 0 {
		return Result{}, ErrNoFiles
	}

	start := time.Now()

	batchID, err := s.Batches.Create()
	if err != nil {
		return Result{}, fmt.Errorf("create batch: %w", err)
	}

	// All files are persisted before any analysis starts. A single
	// persistence failure aborts the request and removes the partial batch.
	for _, u := range uploads {
		if _, err := s.Batches.Put(batchID, u.StorageName, u.Data); err != nil {
			_ = s.Batches.Destroy(batchID)
			return Result{}, fmt.Errorf("persist %s: %w", u.StorageName, err)
		}
	}
	metrics.UploadFilesTotal.Add(float64(len(uploads)))

	// Per-file analyses are independent and latency-dominated by polling,
	// so they run in parallel. Analyze never returns an error; a failed
	// file degrades its own result only.
	results := make([]FileResult, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			results[i] = FileResult{
				File:       u.OriginalName,
				SecureFile: u.StorageName,
				Data:       s.Analyzer.Analyze(gctx, u.OriginalName, u.Data),
			}
			return nil
		})
	}
	_ = g.Wait()

	primary := results[0].Data
	for _, r := range results {
		if r.Data.Error == "" {
			primary = r.Data
			break
		}
	}

	return Result{
		Results:        results,
		Fields:         primary,
		BatchID:        batchID,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}
