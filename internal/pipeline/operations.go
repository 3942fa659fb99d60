package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/search"
	"github.com/kalambet/jurist/internal/storage"
)

// ErrUnavailable is returned by reads whose backing feature is not wired.
var ErrUnavailable = errors.New("feature not configured")

// QueryView is a query with its attached tags.
type QueryView struct {
	storage.Query
	Tags []storage.Tag
}

func (o *Orchestrator) Query(ctx context.Context, id string) (QueryView, error) {
	q, err := o.opts.Store.GetQuery(ctx, id)
	if err != nil {
		return QueryView{}, err
	}
	tags, err := o.opts.Store.TagsForQuery(ctx, id)
	if err != nil {
		return QueryView{}, fmt.Errorf("loading tags for %s: %w", id, err)
	}
	if tags == nil {
		tags = []storage.Tag{}
	}
	return QueryView{Query: q, Tags: tags}, nil
}

func (o *Orchestrator) Response(ctx context.Context, id string) (storage.Response, error) {
	return o.opts.Store.GetResponse(ctx, id)
}

func (o *Orchestrator) ResponseForQuery(ctx context.Context, queryID string) (storage.Response, error) {
	return o.opts.Store.GetResponseByQuery(ctx, queryID)
}

// Rate records a 1..5 rating. A rating of 5 on a response without an
// article starts article generation in the background; its outcome never
// affects the call.
func (o *Orchestrator) Rate(ctx context.Context, responseID string, rating int, actor string) error {
	if rating < 1 || rating > 5 {
		return fault.Invalid("rating must be between 1 and 5, got %d", rating)
	}
	needsArticle, err := o.opts.Store.RateResponse(ctx, responseID, rating, actor)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fault.PersistenceErr("rate response", err)
	}
	o.logger.Info("response rated", "response_id", responseID, "rating", rating)

	if rating == 5 && needsArticle {
		o.opts.Runner.Go("generate_article", func(ctx context.Context) error {
			return o.generateArticle(ctx, responseID)
		})
	}
	return nil
}

func (o *Orchestrator) generateArticle(ctx context.Context, responseID string) error {
	resp, err := o.opts.Store.GetResponse(ctx, responseID)
	if err != nil {
		return fmt.Errorf("loading response %s: %w", responseID, err)
	}
	if resp.Article != nil {
		return nil
	}
	q, err := o.opts.Store.GetQuery(ctx, resp.QueryID)
	if err != nil {
		return fmt.Errorf("loading query %s: %w", resp.QueryID, err)
	}

	article, err := o.opts.Answerer.GenerateArticle(ctx, q.Text, resp.Answer)
	if err != nil {
		return err
	}
	if err := o.opts.Store.SetArticle(ctx, responseID, article); err != nil {
		return fault.PersistenceErr("store article", err)
	}
	o.logger.Info("article generated", "response_id", responseID, "length", len(article))

	if resp.Published {
		resp.Article = &article
		o.index(q, resp)
	}
	return nil
}

// Publish sets the published flag and keeps the search index in step.
func (o *Orchestrator) Publish(ctx context.Context, responseID string, published bool) error {
	if err := o.opts.Store.SetPublished(ctx, responseID, published); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fault.PersistenceErr("publish response", err)
	}
	if o.opts.Search == nil {
		return nil
	}

	if !published {
		if err := o.opts.Search.Remove(responseID); err != nil {
			o.logger.Warn("search index remove failed", "response_id", responseID, "error", err)
		}
		return nil
	}
	resp, err := o.opts.Store.GetResponse(ctx, responseID)
	if err != nil {
		return err
	}
	q, err := o.opts.Store.GetQuery(ctx, resp.QueryID)
	if err != nil {
		return err
	}
	o.index(q, resp)
	return nil
}

func (o *Orchestrator) index(q storage.Query, resp storage.Response) {
	if o.opts.Search == nil {
		return
	}
	doc := search.Document{ResponseID: resp.ID, Question: q.Text, Answer: resp.Answer.Text}
	if resp.Article != nil {
		doc.Article = *resp.Article
	}
	if err := o.opts.Search.Put(doc); err != nil {
		o.logger.Warn("search indexing failed", "response_id", resp.ID, "error", err)
	}
}

// RebuildSearch indexes every published response. It returns the number of
// documents indexed.
func (o *Orchestrator) RebuildSearch(ctx context.Context) (int, error) {
	if o.opts.Search == nil {
		return 0, nil
	}
	published, err := o.opts.Store.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing published responses: %w", err)
	}
	for _, resp := range published {
		q, err := o.opts.Store.GetQuery(ctx, resp.QueryID)
		if err != nil {
			return 0, fmt.Errorf("loading query %s: %w", resp.QueryID, err)
		}
		o.index(q, resp)
	}
	return len(published), nil
}

// SearchPublished runs a full-text query over published responses.
func (o *Orchestrator) SearchPublished(ctx context.Context, text string, limit int) ([]search.Hit, error) {
	if text == "" {
		return nil, fault.Invalid("search text is required")
	}
	if o.opts.Search == nil {
		return nil, ErrUnavailable
	}
	return o.opts.Search.Search(ctx, text, limit)
}

// FindSimilar returns responses whose embeddings are similar to the given
// response's. A response that is not embedded yet has no neighbors.
func (o *Orchestrator) FindSimilar(ctx context.Context, responseID string, threshold float64, limit int) ([]retrieval.ScoredRecord, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fault.Invalid("threshold must be within [0, 1], got %v", threshold)
	}
	if threshold == 0 {
		threshold = o.opts.SimilarThreshold
	}
	resp, err := o.opts.Store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return []retrieval.ScoredRecord{}, nil
	}
	if o.opts.Similarity == nil {
		return nil, ErrUnavailable
	}
	return o.opts.Similarity.Similar(ctx, responseID, threshold, limit)
}

// Clusters groups embedded responses by similarity. Single, isolated
// responses are not reported.
func (o *Orchestrator) Clusters(ctx context.Context, threshold float64) ([]retrieval.Group, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fault.Invalid("threshold must be within [0, 1], got %v", threshold)
	}
	if threshold == 0 {
		threshold = o.opts.SimilarThreshold
	}
	if o.opts.Similarity == nil {
		return nil, ErrUnavailable
	}
	return o.opts.Similarity.Clusters(ctx, threshold)
}
