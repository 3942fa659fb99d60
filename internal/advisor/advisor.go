// Package advisor turns a legal question into a structured answer using the
// completion provider, and defines the follow-up work run on every answer.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/jurist/internal/automation"
	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/proxy"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/storage"
)

const (
	defaultContextLimit     = 5
	defaultContextThreshold = 0.8
)

// SystemActor is recorded in the audit log for automatic writes.
const SystemActor = "system"

// Completer sends chat completions to the provider.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (string, error)
}

// ContextRetriever finds past answers similar to a question.
type ContextRetriever interface {
	Context(ctx context.Context, question string, limit int, threshold float64) ([]retrieval.ScoredRecord, error)
}

// TextEmbedder embeds text into a vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Classifier assigns tags to a question and its answer.
type Classifier interface {
	Classify(question, answer string) []storage.Tag
}

// ResponseStore persists side-task results.
type ResponseStore interface {
	SetResponseEmbedding(ctx context.Context, id string, vec []float32) error
	AttachTags(ctx context.Context, queryID string, tags []storage.Tag, actor string) error
}

// EventPublisher forwards events to the automation endpoint.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload any)
}

// Options wires an Advisor. Retriever may be nil to answer without context.
type Options struct {
	Completer        Completer
	ChatModel        string
	ArticleModel     string
	Retriever        ContextRetriever
	ContextLimit     int
	ContextThreshold float64
	Embedder         TextEmbedder
	Classifier       Classifier
	Store            ResponseStore
	Automation       EventPublisher
}

// Advisor is the AI completion adapter.
type Advisor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Advisor. Zero limits fall back to 5 snippets at 0.8.
func New(opts Options) *Advisor {
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = defaultContextLimit
	}
	if opts.ContextThreshold <= 0 {
		opts.ContextThreshold = defaultContextThreshold
	}
	if opts.ArticleModel == "" {
		opts.ArticleModel = opts.ChatModel
	}
	return &Advisor{opts: opts, logger: slog.Default()}
}

// Answer asks the provider for a structured answer to text, the normalized
// question with any extracted document content. Context is retrieved on the
// user's own question alone; an empty question retrieves nothing. Only a
// failed provider call is an error; an unreadable reply still yields an
// Answer.
func (a *Advisor) Answer(ctx context.Context, question, text string, filenames []string) (storage.Answer, error) {
	snippets := a.retrieveContext(ctx, question)

	raw, err := a.opts.Completer.Complete(ctx, proxy.ChatRequest{
		Model:          a.opts.ChatModel,
		Messages:       BuildPrompt(text, filenames, snippets),
		ResponseFormat: proxy.JSONObject,
	})
	if err != nil {
		return storage.Answer{}, fault.ProviderErr("answer", err)
	}

	result := Parse(raw)
	if _, ok := result.(Unstructured); ok {
		a.logger.Warn("provider reply is not a structured answer, using raw text", "length", len(raw))
	}
	return ToAnswer(result), nil
}

// retrieveContext retrieves similar past answers. Failure degrades to no context.
func (a *Advisor) retrieveContext(ctx context.Context, question string) []retrieval.ScoredRecord {
	if a.opts.Retriever == nil || strings.TrimSpace(question) == "" {
		return nil
	}
	snippets, err := a.opts.Retriever.Context(ctx, question, a.opts.ContextLimit, a.opts.ContextThreshold)
	if err != nil {
		a.logger.Warn("context retrieval failed, answering without context", "error", err)
		return nil
	}
	if len(snippets) > a.opts.ContextLimit {
		snippets = snippets[:a.opts.ContextLimit]
	}
	return snippets
}

// Task is one named unit of follow-up work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// AfterAnswer returns the independent follow-up tasks for a stored answer:
// embedding, tagging and the automation event. Each task owns its failure.
func (a *Advisor) AfterAnswer(q storage.Query, resp storage.Response) []Task {
	return []Task{
		{Name: "embed_response", Run: func(ctx context.Context) error { return a.embedResponse(ctx, q, resp) }},
		{Name: "tag_query", Run: func(ctx context.Context) error { return a.tagQuery(ctx, q, resp) }},
		{Name: "automation_new_response", Run: func(ctx context.Context) error { return a.notify(ctx, q, resp) }},
	}
}

// EmbeddingText is the text embedded for a response.
func EmbeddingText(question, answer string) string {
	return question + "\n\n" + answer
}

func (a *Advisor) embedResponse(ctx context.Context, q storage.Query, resp storage.Response) error {
	if a.opts.Embedder == nil {
		return nil
	}
	vec, err := a.opts.Embedder.Embed(ctx, EmbeddingText(q.Text, resp.Answer.Text))
	if err != nil {
		return fmt.Errorf("embedding response %s: %w", resp.ID, err)
	}
	if err := a.opts.Store.SetResponseEmbedding(ctx, resp.ID, vec); err != nil {
		return fault.PersistenceErr("store embedding", err)
	}
	return nil
}

func (a *Advisor) tagQuery(ctx context.Context, q storage.Query, resp storage.Response) error {
	if a.opts.Classifier == nil {
		return nil
	}
	tags := a.opts.Classifier.Classify(q.Text, resp.Answer.Text)
	if len(tags) == 0 {
		return nil
	}
	if err := a.opts.Store.AttachTags(ctx, q.ID, tags, SystemActor); err != nil {
		return fault.PersistenceErr("attach tags", err)
	}
	a.logger.Debug("query tagged", "query_id", q.ID, "tags", len(tags))
	return nil
}

func (a *Advisor) notify(ctx context.Context, q storage.Query, resp storage.Response) error {
	if a.opts.Automation == nil {
		return nil
	}
	a.opts.Automation.Publish(ctx, automation.EventNewResponse, map[string]any{
		"queryId":    q.ID,
		"responseId": resp.ID,
		"ownerId":    q.OwnerID,
		"question":   q.Text,
		"answer":     resp.Answer,
	})
	return nil
}

// ErrEmptyArticle is returned when the provider produces no article text.
var ErrEmptyArticle = errors.New("empty article")

// GenerateArticle writes a long-form article from a question and its answer.
func (a *Advisor) GenerateArticle(ctx context.Context, question string, answer storage.Answer) (string, error) {
	raw, err := a.opts.Completer.Complete(ctx, proxy.ChatRequest{
		Model:    a.opts.ArticleModel,
		Messages: buildArticlePrompt(question, answer.Text),
	})
	if err != nil {
		return "", fault.ProviderErr("article", err)
	}
	article := strings.TrimSpace(raw)
	if article == "" {
		return "", fault.ProviderErr("article", ErrEmptyArticle)
	}
	return article, nil
}
