package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/jurist/internal/storage"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore scans response embeddings stored in SQLite and scores them with
// NearestNeighbors.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The responses and queries tables must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const recordQuery = `
	SELECT r.id, r.query_id, q.text, r.answer_json, r.embedding
	FROM responses r JOIN queries q ON q.id = r.query_id
	WHERE r.embedding IS NOT NULL`

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, threshold float64, limit int, excludeID string) ([]ScoredRecord, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([][]float32, 0, len(records))
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if r.ResponseID == excludeID {
			continue
		}
		kept = append(kept, r)
		candidates = append(candidates, r.Embedding)
	}

	neighbors := NearestNeighbors(vector, candidates, threshold)
	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	results := make([]ScoredRecord, len(neighbors))
	for i, n := range neighbors {
		results[i] = ScoredRecord{Record: kept[n.Index], Score: n.Score}
	}
	return results, nil
}

func (s *SQLiteStore) Get(ctx context.Context, responseID string) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, recordQuery+` AND r.id = ?`, responseID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, storage.ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, recordQuery+` ORDER BY r.created_at ASC, r.rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var answerJSON string
	var blob []byte
	if err := row.Scan(&r.ResponseID, &r.QueryID, &r.Question, &answerJSON, &blob); err != nil {
		return Record{}, err
	}
	var answer storage.Answer
	if err := json.Unmarshal([]byte(answerJSON), &answer); err != nil {
		return Record{}, fmt.Errorf("decoding answer for %s: %w", r.ResponseID, err)
	}
	r.Answer = answer.Text
	vec, err := storage.DecodeVector(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ResponseID, err)
	}
	r.Embedding = vec
	return r, nil
}
