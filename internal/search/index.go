// Package search is a full-text index over published answers.
package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
)

// Document is one published response as indexed.
type Document struct {
	ResponseID string `json:"-"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Article    string `json:"article"`
}

// Hit is a matching response with its relevance score.
type Hit struct {
	ResponseID string  `json:"responseId"`
	Score      float64 `json:"score"`
}

// Index is an in-memory Bleve index using the Russian analyzer.
type Index struct {
	idx bleve.Index
}

func NewIndex() (*Index, error) {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = ru.AnalyzerName
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Put adds or replaces a document.
func (i *Index) Put(doc Document) error {
	if err := i.idx.Index(doc.ResponseID, doc); err != nil {
		return fmt.Errorf("indexing %s: %w", doc.ResponseID, err)
	}
	return nil
}

// Remove deletes a document. Removing an unknown id is not an error.
func (i *Index) Remove(responseID string) error {
	if err := i.idx.Delete(responseID); err != nil {
		return fmt.Errorf("removing %s: %w", responseID, err)
	}
	return nil
}

// Search returns up to limit documents matching text, best first.
func (i *Index) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(text), limit, 0, false)
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", text, err)
	}
	hits := make([]Hit, len(res.Hits))
	for j, h := range res.Hits {
		hits[j] = Hit{ResponseID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	return i.idx.DocCount()
}

func (i *Index) Close() error {
	return i.idx.Close()
}
