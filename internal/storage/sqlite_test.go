package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestQuery(t *testing.T, s *Store, id string) Query {
	t.Helper()
	q := Query{
		ID:        id,
		OwnerID:   "owner-1",
		Text:      "Как оформить наследство?",
		Modality:  ModalityText,
		Status:    StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	err := s.CreateQuery(context.Background(), q, AuditEntry{Actor: q.OwnerID, Action: "query_submitted", EntityID: id})
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	return q
}

func completeTestQuery(t *testing.T, s *Store, queryID, responseID string) {
	t.Helper()
	err := s.CompleteQuery(context.Background(), queryID, Response{
		ID:      responseID,
		QueryID: queryID,
		Answer:  Answer{Text: "Обратитесь к нотариусу.", CitedLaws: []string{"ГК РФ ст. 1153"}, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("CompleteQuery: %v", err)
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestCreateQuery_WritesAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	got, err := s.GetQuery(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.FileRefs == nil || len(got.FileRefs) != 0 {
		t.Errorf("FileRefs = %v, want empty slice", got.FileRefs)
	}

	trail, err := s.AuditTrail(ctx, "q1")
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != "query_submitted" {
		t.Errorf("audit trail = %+v, want one query_submitted entry", trail)
	}
}

func TestCreateQuery_AtomicOnAuditFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	// Reusing the audit ID violates its primary key, so the query insert
	// must roll back too.
	trail, _ := s.AuditTrail(ctx, "q1")
	err := s.CreateQuery(ctx, Query{ID: "q2", OwnerID: "o", Modality: ModalityText, Status: StatusProcessing},
		AuditEntry{ID: trail[0].ID, Actor: "o", Action: "query_submitted", EntityID: "q2"})
	if err == nil {
		t.Fatal("expected error for duplicate audit id")
	}
	if _, err := s.GetQuery(ctx, "q2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetQuery(q2) err = %v, want ErrNotFound", err)
	}
}

func TestGetQuery_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetQuery(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteQuery_InsertsResponse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")

	q, _ := s.GetQuery(ctx, "q1")
	if q.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", q.Status)
	}
	r, err := s.GetResponseByQuery(ctx, "q1")
	if err != nil {
		t.Fatalf("GetResponseByQuery: %v", err)
	}
	if r.ID != "r1" || r.Answer.Confidence != 0.9 {
		t.Errorf("response = %+v", r)
	}
	if r.Embedding != nil || r.Rating != nil || r.Article != nil || r.Published {
		t.Errorf("new response should have no embedding, rating, article or publish flag: %+v", r)
	}
}

func TestCompleteQuery_TerminalIsFinal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")

	if err := s.FailQuery(ctx, "q1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FailQuery after complete err = %v, want ErrInvalidTransition", err)
	}
	err := s.CompleteQuery(ctx, "q1", Response{ID: "r2", QueryID: "q1"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second CompleteQuery err = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.GetResponse(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second response should not exist, err = %v", err)
	}
}

func TestFailQuery_NoResponse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	if err := s.FailQuery(ctx, "q1"); err != nil {
		t.Fatalf("FailQuery: %v", err)
	}
	if err := s.CompleteQuery(ctx, "q1", Response{ID: "r1", QueryID: "q1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CompleteQuery after fail err = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.GetResponseByQuery(ctx, "q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed query must have no response, err = %v", err)
	}
	if err := s.FailQuery(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailQuery(missing) err = %v, want ErrNotFound", err)
	}
}

func TestUpdateQueryText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	if err := s.UpdateQueryText(ctx, "q1", "transcribed text"); err != nil {
		t.Fatalf("UpdateQueryText: %v", err)
	}
	q, _ := s.GetQuery(ctx, "q1")
	if q.Text != "transcribed text" {
		t.Errorf("text = %q", q.Text)
	}
}

func TestEmbeddingSurvivesLaterUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")

	vec := []float32{0.1, -0.2, 0.3}
	if err := s.SetResponseEmbedding(ctx, "r1", vec); err != nil {
		t.Fatalf("SetResponseEmbedding: %v", err)
	}
	if _, err := s.RateResponse(ctx, "r1", 4, "owner-1"); err != nil {
		t.Fatalf("RateResponse: %v", err)
	}
	if err := s.SetPublished(ctx, "r1", true); err != nil {
		t.Fatalf("SetPublished: %v", err)
	}
	if err := s.SetArticle(ctx, "r1", "Long article"); err != nil {
		t.Fatalf("SetArticle: %v", err)
	}
	// A second embedding write must not replace the first.
	if err := s.SetResponseEmbedding(ctx, "r1", []float32{9, 9, 9}); err != nil {
		t.Fatalf("second SetResponseEmbedding: %v", err)
	}

	r, err := s.GetResponse(ctx, "r1")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if len(r.Embedding) != len(vec) {
		t.Fatalf("embedding = %v, want %v", r.Embedding, vec)
	}
	for i := range vec {
		if r.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, r.Embedding[i], vec[i])
		}
	}
	if r.Rating == nil || *r.Rating != 4 || !r.Published || r.Article == nil {
		t.Errorf("response fields not updated: %+v", r)
	}
}

func TestSetResponseEmbedding_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.SetResponseEmbedding(context.Background(), "missing", []float32{1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRateResponse_NeedsArticle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")

	needs, err := s.RateResponse(ctx, "r1", 5, "owner-1")
	if err != nil {
		t.Fatalf("RateResponse: %v", err)
	}
	if !needs {
		t.Error("needsArticle = false, want true before article exists")
	}

	s.SetArticle(ctx, "r1", "article")
	needs, err = s.RateResponse(ctx, "r1", 5, "owner-1")
	if err != nil {
		t.Fatalf("RateResponse: %v", err)
	}
	if needs {
		t.Error("needsArticle = true, want false once article exists")
	}

	trail, _ := s.AuditTrail(ctx, "r1")
	if len(trail) != 2 {
		t.Errorf("audit entries = %d, want 2", len(trail))
	}
}

func TestRateResponse_Invalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")

	if _, err := s.RateResponse(ctx, "r1", 9, "o"); err == nil {
		t.Error("expected CHECK constraint failure for rating 9")
	}
	if trail, _ := s.AuditTrail(ctx, "r1"); len(trail) != 0 {
		t.Errorf("failed rating must not leave audit entries, got %d", len(trail))
	}
	if _, err := s.RateResponse(ctx, "missing", 3, "o"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAttachTags_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	tags := []Tag{{Name: "Наследство", Color: "#8e44ad"}, {Name: "Семейное право", Color: "#e67e22"}}
	if err := s.AttachTags(ctx, "q1", tags, "system"); err != nil {
		t.Fatalf("AttachTags: %v", err)
	}
	if err := s.AttachTags(ctx, "q1", tags[:1], "system"); err != nil {
		t.Fatalf("re-attach should be a no-op, got %v", err)
	}

	got, err := s.TagsForQuery(ctx, "q1")
	if err != nil {
		t.Fatalf("TagsForQuery: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tags, want 2: %+v", len(got), got)
	}
}

func TestAttachTags_Empty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")

	if err := s.AttachTags(ctx, "q1", nil, "system"); err != nil {
		t.Fatalf("AttachTags(nil): %v", err)
	}
	if trail, _ := s.AuditTrail(ctx, "q1"); len(trail) != 1 {
		t.Errorf("empty tag set should not be audited, got %d entries", len(trail))
	}
}

func TestListPublished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")
	createTestQuery(t, s, "q2")
	completeTestQuery(t, s, "q2", "r2")

	s.SetPublished(ctx, "r2", true)
	got, err := s.ListPublished(ctx)
	if err != nil {
		t.Fatalf("ListPublished: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("published = %+v, want only r2", got)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -3.25, 1e-7}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestResponsesWithoutEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestQuery(t, s, "q1")
	completeTestQuery(t, s, "q1", "r1")
	createTestQuery(t, s, "q2")
	completeTestQuery(t, s, "q2", "r2")
	s.SetResponseEmbedding(ctx, "r1", []float32{1})

	got, err := s.ResponsesWithoutEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("ResponsesWithoutEmbedding: %v", err)
	}
	if len(got) != 1 || got[0].ResponseID != "r2" {
		t.Fatalf("pending = %+v, want r2", got)
	}
	if got[0].Question != "Как оформить наследство?" || got[0].Answer != "Обратитесь к нотариусу." {
		t.Errorf("pending = %+v", got[0])
	}
}
