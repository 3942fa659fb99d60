package retrieval

import "context"

// VectorStore is the interface for similarity search over embedded
// responses. The SQLite implementation scans every embedded row; an
// ANN-capable backend can replace it without touching callers.
type VectorStore interface {
	// Search returns records scoring at least threshold against vector,
	// best first, at most limit (0 means no limit). excludeID is skipped.
	Search(ctx context.Context, vector []float32, threshold float64, limit int, excludeID string) ([]ScoredRecord, error)

	// Get returns the record for a response.
	Get(ctx context.Context, responseID string) (Record, error)

	// All returns every embedded record in creation order.
	All(ctx context.Context) ([]Record, error)
}

// Record is one embedded response.
type Record struct {
	ResponseID string
	QueryID    string
	Question   string
	Answer     string
	Embedding  []float32
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float64
}
