package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/jurist/internal/fault"
	"golang.org/x/sync/errgroup"
)

// MaxInputRunes is the longest input sent to the embedding provider. Longer
// text is truncated, not chunked.
const MaxInputRunes = 8000

// Provider produces embeddings for a batch of inputs.
type Provider interface {
	Embed(ctx context.Context, model string, dimensions int, input []string) ([][]float32, error)
}

// Embedder turns text into fixed-dimension vectors.
type Embedder struct {
	provider   Provider
	model      string
	dimensions int
}

// NewEmbedder creates an Embedder using the given provider, model name and
// expected vector dimension.
func NewEmbedder(p Provider, model string, dimensions int) *Embedder {
	return &Embedder{provider: p, model: model, dimensions: dimensions}
}

// Dimensions returns the vector size produced by Embed.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, e.model, e.dimensions, []string{Truncate(text)})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fault.ProviderErr("embed", fmt.Errorf("got %d vectors, want 1", len(vecs)))
	}
	if len(vecs[0]) != e.dimensions {
		return nil, fault.ProviderErr("embed", fmt.Errorf("got %d dimensions, want %d", len(vecs[0]), e.dimensions))
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Truncate cuts s to at most MaxInputRunes runes.
func Truncate(s string) string {
	n := 0
	for i := range s {
		if n == MaxInputRunes {
			return s[:i]
		}
		n++
	}
	return s
}
