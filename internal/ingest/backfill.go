// Package ingest embeds answered responses that were stored without a vector.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/jurist/internal/advisor"
	"github.com/kalambet/jurist/internal/storage"
)

const defaultBatchSize = 32

// PendingStore lists and updates responses missing an embedding.
type PendingStore interface {
	ResponsesWithoutEmbedding(ctx context.Context, limit int) ([]storage.PendingEmbedding, error)
	SetResponseEmbedding(ctx context.Context, id string, vec []float32) error
}

// BatchEmbedder generates embeddings for several texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Worker backfills missing response embeddings when asked to. It never runs
// on its own and never repeats a failed batch.
type Worker struct {
	store    PendingStore
	embedder BatchEmbedder
	batch    int
	logger   *slog.Logger
}

// NewWorker creates a Worker. If batchSize is <= 0, it defaults to 32.
func NewWorker(store PendingStore, embedder BatchEmbedder, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		batch:    batchSize,
		logger:   slog.Default(),
	}
}

// Result summarizes one backfill run.
type Result struct {
	Embedded int `json:"embedded"`
	Pending  int `json:"pending"`
}

// RunOnce embeds up to one batch of responses, oldest first. A provider
// failure aborts the run with nothing stored for that batch.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	pending, err := w.store.ResponsesWithoutEmbedding(ctx, w.batch)
	if err != nil {
		return Result{}, fmt.Errorf("listing responses without embedding: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = advisor.EmbeddingText(p.Question, p.Answer)
	}
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{Pending: len(pending)}, fmt.Errorf("embedding batch: %w", err)
	}

	var res Result
	for i, p := range pending {
		// A concurrent side task may have stored a vector already; the
		// store keeps the first one.
		if err := w.store.SetResponseEmbedding(ctx, p.ResponseID, vecs[i]); err != nil {
			w.logger.Warn("storing backfilled embedding failed", "response_id", p.ResponseID, "error", err)
			res.Pending++
			continue
		}
		res.Embedded++
	}
	w.logger.Info("embedding backfill finished", "embedded", res.Embedded, "pending", res.Pending)
	return res, nil
}
