package retrieval

import (
	"context"
	"fmt"
)

// Retriever combines embedding and vector search to find relevant past
// answers.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Embedder returns the embedder used for query vectors.
func (r *Retriever) Embedder() *Embedder { return r.embedder }

// Context embeds the question and returns up to limit past answers scoring at
// least threshold.
func (r *Retriever) Context(ctx context.Context, question string, limit int, threshold float64) ([]ScoredRecord, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	return r.store.Search(ctx, vec, threshold, limit, "")
}

// Similar returns responses whose embeddings score at least threshold against
// the given response's embedding, excluding the response itself.
func (r *Retriever) Similar(ctx context.Context, responseID string, threshold float64, limit int) ([]ScoredRecord, error) {
	rec, err := r.store.Get(ctx, responseID)
	if err != nil {
		return nil, fmt.Errorf("loading embedding for %s: %w", responseID, err)
	}
	return r.store.Search(ctx, rec.Embedding, threshold, limit, responseID)
}

// Group is a cluster of mutually similar responses.
type Group struct {
	Members  []Record
	Centroid []float32
}

// Clusters groups every embedded response with Cluster. Groups of one are
// not reported.
func (r *Retriever) Clusters(ctx context.Context, threshold float64) ([]Group, error) {
	records, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(records))
	for i, rec := range records {
		vectors[i] = rec.Embedding
	}

	var groups []Group
	for _, idx := range Cluster(vectors, threshold) {
		g := Group{Members: make([]Record, len(idx))}
		members := make([][]float32, len(idx))
		for i, j := range idx {
			g.Members[i] = records[j]
			members[i] = vectors[j]
		}
		g.Centroid, _ = Centroid(members)
		groups = append(groups, g)
	}
	return groups, nil
}
