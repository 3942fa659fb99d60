package retrieval

import (
	"context"
	"errors"
	"testing"
)

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	records  []Record
	searchFn func(vector []float32, threshold float64, limit int, excludeID string) ([]ScoredRecord, error)
}

func (m *mockVectorStore) Search(_ context.Context, vector []float32, threshold float64, limit int, excludeID string) ([]ScoredRecord, error) {
	return m.searchFn(vector, threshold, limit, excludeID)
}

func (m *mockVectorStore) Get(_ context.Context, id string) (Record, error) {
	for _, r := range m.records {
		if r.ResponseID == id {
			return r, nil
		}
	}
	return Record{}, errors.New("not found")
}

func (m *mockVectorStore) All(_ context.Context) ([]Record, error) {
	return m.records, nil
}

func fixedProvider(vec []float32) *mockProvider {
	return &mockProvider{embedFn: func(context.Context, string) ([]float32, error) { return vec, nil }}
}

func TestContext_PassesThresholdAndLimit(t *testing.T) {
	var gotThreshold float64
	var gotLimit int
	store := &mockVectorStore{
		searchFn: func(_ []float32, threshold float64, limit int, excludeID string) ([]ScoredRecord, error) {
			gotThreshold, gotLimit = threshold, limit
			if excludeID != "" {
				t.Errorf("context search should not exclude, got %q", excludeID)
			}
			return []ScoredRecord{{Record: Record{ResponseID: "r1"}, Score: 0.9}}, nil
		},
	}
	r := NewRetriever(NewEmbedder(fixedProvider([]float32{1, 0}), "m", 2), store)

	got, err := r.Context(context.Background(), "Как оформить наследство?", 5, 0.8)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(got) != 1 || gotThreshold != 0.8 || gotLimit != 5 {
		t.Errorf("got=%v threshold=%v limit=%d", got, gotThreshold, gotLimit)
	}
}

func TestContext_EmbedError(t *testing.T) {
	p := &mockProvider{embedFn: func(context.Context, string) ([]float32, error) { return nil, errors.New("down") }}
	store := &mockVectorStore{searchFn: func([]float32, float64, int, string) ([]ScoredRecord, error) {
		t.Fatal("search should not run when embedding fails")
		return nil, nil
	}}
	r := NewRetriever(NewEmbedder(p, "m", 2), store)
	if _, err := r.Context(context.Background(), "q", 5, 0.8); err == nil {
		t.Fatal("expected error")
	}
}

func TestSimilar_ExcludesSelf(t *testing.T) {
	var gotExclude string
	store := &mockVectorStore{
		records: []Record{{ResponseID: "r1", Embedding: []float32{1, 0}}},
		searchFn: func(vector []float32, _ float64, _ int, excludeID string) ([]ScoredRecord, error) {
			gotExclude = excludeID
			if vector[0] != 1 {
				t.Errorf("search vector = %v, want the response embedding", vector)
			}
			return nil, nil
		},
	}
	r := NewRetriever(NewEmbedder(fixedProvider(nil), "m", 2), store)

	if _, err := r.Similar(context.Background(), "r1", 0.8, 10); err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if gotExclude != "r1" {
		t.Errorf("excludeID = %q, want r1", gotExclude)
	}
}

func TestClusters_GroupsWithCentroid(t *testing.T) {
	store := &mockVectorStore{records: []Record{
		{ResponseID: "a", Embedding: []float32{1, 0}},
		{ResponseID: "b", Embedding: []float32{0.95, 0.05}},
		{ResponseID: "c", Embedding: []float32{0, 1}},
	}}
	r := NewRetriever(NewEmbedder(fixedProvider(nil), "m", 2), store)

	groups, err := r.Clusters(context.Background(), 0.9)
	if err != nil {
		t.Fatalf("Clusters: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Members) != 2 || groups[0].Members[0].ResponseID != "a" || groups[0].Members[1].ResponseID != "b" {
		t.Errorf("members = %+v", groups[0].Members)
	}
	if len(groups[0].Centroid) != 2 {
		t.Errorf("centroid = %v", groups[0].Centroid)
	}
}
