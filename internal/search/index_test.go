package search

import (
	"context"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearch_MatchesInflections(t *testing.T) {
	idx := newTestIndex(t)
	docs := []Document{
		{ResponseID: "r1", Question: "Как оформить наследство?", Answer: "Обратитесь к нотариусу."},
		{ResponseID: "r2", Question: "Как расторгнуть договор аренды?", Answer: "Направьте уведомление арендодателю."},
	}
	for _, d := range docs {
		if err := idx.Put(d); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	hits, err := idx.Search(context.Background(), "наследства", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ResponseID != "r1" {
		t.Errorf("hits = %+v, want r1 only", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want positive", hits[0].Score)
	}
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t)
	idx.Put(Document{ResponseID: "r1", Answer: "нотариус"})
	if err := idx.Remove("r1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := idx.Remove("missing"); err != nil {
		t.Errorf("Remove(missing) = %v, want nil", err)
	}
	n, _ := idx.Count()
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	hits, _ := idx.Search(context.Background(), "нотариус", 5)
	if len(hits) != 0 {
		t.Errorf("removed document still found: %+v", hits)
	}
}

func TestPut_Replaces(t *testing.T) {
	idx := newTestIndex(t)
	idx.Put(Document{ResponseID: "r1", Answer: "старый текст"})
	idx.Put(Document{ResponseID: "r1", Answer: "новая статья про алименты"})
	n, _ := idx.Count()
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	hits, _ := idx.Search(context.Background(), "алименты", 5)
	if len(hits) != 1 {
		t.Errorf("hits = %+v", hits)
	}
}
