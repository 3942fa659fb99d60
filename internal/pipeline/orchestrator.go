// Package pipeline runs submitted questions through normalization, the AI
// adapter and persistence, and serves the follow-up operations on answers.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/jurist/internal/advisor"
	"github.com/kalambet/jurist/internal/blob"
	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/realtime"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/search"
	"github.com/kalambet/jurist/internal/storage"
	"github.com/kalambet/jurist/internal/tasks"
)

// Answerer is the AI completion adapter.
type Answerer interface {
	Answer(ctx context.Context, question, text string, filenames []string) (storage.Answer, error)
	AfterAnswer(q storage.Query, resp storage.Response) []advisor.Task
	GenerateArticle(ctx context.Context, question string, answer storage.Answer) (string, error)
}

// Transcriber converts audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, model, filename string, audio io.Reader) (string, error)
}

// Extractor converts a document into text.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// Blobs resolves uploaded file references.
type Blobs interface {
	Read(ref string) ([]byte, error)
}

// Similarity serves nearest-neighbor and clustering reads.
type Similarity interface {
	Similar(ctx context.Context, responseID string, threshold float64, limit int) ([]retrieval.ScoredRecord, error)
	Clusters(ctx context.Context, threshold float64) ([]retrieval.Group, error)
}

// SearchIndex is the full-text index over published responses.
type SearchIndex interface {
	Put(doc search.Document) error
	Remove(responseID string) error
	Search(ctx context.Context, text string, limit int) ([]search.Hit, error)
}

// Options wires an Orchestrator. Transcriber, Extractor, Similarity and
// Search may be nil when the corresponding feature is not configured.
type Options struct {
	Store            *storage.Store
	Answerer         Answerer
	Transcriber      Transcriber
	TranscribeModel  string
	Extractor        Extractor
	Blobs            Blobs
	Notifier         realtime.Publisher
	Similarity       Similarity
	Search           SearchIndex
	Runner           *tasks.Runner
	SimilarThreshold float64
}

// Orchestrator owns the query lifecycle.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

const (
	defaultSimilarThreshold = 0.8
	// failWriteTimeout bounds the status write after a stage failed, which
	// may happen after the task's own deadline has passed.
	failWriteTimeout = 10 * time.Second
)

func New(opts Options) *Orchestrator {
	if opts.Runner == nil {
		opts.Runner = tasks.NewRunner(0)
	}
	if opts.SimilarThreshold <= 0 {
		opts.SimilarThreshold = defaultSimilarThreshold
	}
	return &Orchestrator{opts: opts, logger: slog.Default()}
}

// Runner returns the runner that executes background work.
func (o *Orchestrator) Runner() *tasks.Runner { return o.opts.Runner }

// Submit validates sub, records a processing query with its audit entry and
// starts the pipeline in the background. It returns as soon as the query is
// stored.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (string, error) {
	sub, err := sub.normalize()
	if err != nil {
		return "", err
	}

	details, _ := json.Marshal(map[string]any{"modality": sub.Modality, "files": len(sub.FileRefs)})
	q := storage.Query{
		ID:        uuid.New().String(),
		OwnerID:   sub.OwnerID,
		Text:      sub.Text,
		Modality:  sub.Modality,
		AudioRef:  sub.AudioRef,
		FileRefs:  sub.FileRefs,
		Status:    storage.StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	err = o.opts.Store.CreateQuery(ctx, q, storage.AuditEntry{
		Actor:    sub.OwnerID,
		Action:   "query_submitted",
		EntityID: q.ID,
		Details:  string(details),
	})
	if err != nil {
		return "", fault.PersistenceErr("create query", err)
	}

	o.logger.Info("query submitted", "query_id", q.ID, "owner_id", q.OwnerID, "modality", q.Modality)
	o.opts.Runner.Go("process_query", func(ctx context.Context) error {
		return o.process(ctx, q)
	})
	return q.ID, nil
}

// process runs the stages for one query in order. Any failure marks the
// query failed; earlier commits stand. A panic in a stage counts as a failure.
func (o *Orchestrator) process(ctx context.Context, q storage.Query) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("query pipeline panicked", "query_id", q.ID, "panic", p, "stack", string(debug.Stack()))
			err = o.fail(ctx, q, fmt.Errorf("panic: %v", p))
		}
	}()

	text, filenames, err := o.normalize(ctx, &q)
	if err != nil {
		return o.fail(ctx, q, err)
	}

	o.status(q, "Формирую ответ юриста")
	answer, err := o.opts.Answerer.Answer(ctx, q.Text, text, filenames)
	if err != nil {
		return o.fail(ctx, q, err)
	}

	resp := storage.Response{ID: uuid.New().String(), QueryID: q.ID, Answer: answer}
	if err := o.opts.Store.CompleteQuery(ctx, q.ID, resp); err != nil {
		return o.fail(ctx, q, fault.PersistenceErr("complete query", err))
	}
	o.opts.Notifier.Publish(q.OwnerID, realtime.CompletedEvent(q.ID, answer))

	for _, t := range o.opts.Answerer.AfterAnswer(q, resp) {
		o.opts.Runner.Go(t.Name, t.Run)
	}

	o.logger.Info("query completed",
		"query_id", q.ID,
		"response_id", resp.ID,
		"confidence", answer.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// normalize turns the query into the text sent to the AI adapter. Voice
// input is transcribed and replaces the stored text; document text is
// appended to the question under a header per file.
func (o *Orchestrator) normalize(ctx context.Context, q *storage.Query) (string, []string, error) {
	switch q.Modality {
	case storage.ModalityVoice:
		o.status(*q, "Распознаю голосовое сообщение")
		text, err := o.transcribe(ctx, q.AudioRef)
		if err != nil {
			return "", nil, err
		}
		if err := o.opts.Store.UpdateQueryText(ctx, q.ID, text); err != nil {
			return "", nil, fault.PersistenceErr("store transcript", err)
		}
		q.Text = text
		return text, nil, nil

	case storage.ModalityDocument:
		o.status(*q, "Извлекаю текст из документов")
		var sb strings.Builder
		sb.WriteString(q.Text)
		filenames := make([]string, 0, len(q.FileRefs))
		for _, ref := range q.FileRefs {
			name := blob.Name(ref)
			extracted, err := o.extract(ctx, ref, name)
			if err != nil {
				return "", nil, err
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[%s]\n%s", name, extracted)
			filenames = append(filenames, name)
		}
		return sb.String(), filenames, nil

	default:
		return q.Text, nil, nil
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, ref string) (string, error) {
	if o.opts.Transcriber == nil || o.opts.Blobs == nil {
		return "", fault.ProviderErr("transcribe", errors.New("transcription is not configured"))
	}
	audio, err := o.opts.Blobs.Read(ref)
	if err != nil {
		return "", fault.ProviderErr("read audio", err)
	}
	text, err := o.opts.Transcriber.Transcribe(ctx, o.opts.TranscribeModel, blob.Name(ref), bytes.NewReader(audio))
	if err != nil {
		return "", fault.ProviderErr("transcribe", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fault.ProviderErr("transcribe", errors.New("empty transcript"))
	}
	return text, nil
}

func (o *Orchestrator) extract(ctx context.Context, ref, name string) (string, error) {
	if o.opts.Extractor == nil || o.opts.Blobs == nil {
		return "", fault.ProviderErr("extract", errors.New("document extraction is not configured"))
	}
	data, err := o.opts.Blobs.Read(ref)
	if err != nil {
		return "", fault.ProviderErr("read document", err)
	}
	text, err := o.opts.Extractor.Extract(ctx, name, data)
	if err != nil {
		return "", fault.ProviderErr("extract", err)
	}
	return text, nil
}

func (o *Orchestrator) status(q storage.Query, message string) {
	o.opts.Notifier.Publish(q.OwnerID, realtime.StatusEvent(q.ID, message))
}

// fail records the failure and notifies the owner. The status write runs
// detached from ctx, whose deadline may be what ended the stage. It returns
// cause so the runner logs it; the owner only sees a generic message.
func (o *Orchestrator) fail(ctx context.Context, q storage.Query, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := o.opts.Store.FailQuery(wctx, q.ID); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Already terminal; the owner has had its event.
			return fmt.Errorf("query %s: %w", q.ID, cause)
		}
		o.logger.Error("marking query failed", "query_id", q.ID, "error", err)
	}
	o.opts.Notifier.Publish(q.OwnerID, realtime.ErrorEvent(q.ID, failureMessage(cause)))
	return fmt.Errorf("query %s: %w", q.ID, cause)
}

// failureMessage is the owner-facing text for a failure. Provider bodies and
// storage errors stay in the log.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Превышено время обработки запроса."
	case fault.Is(err, fault.Provider):
		return "Не удалось получить ответ от сервиса. Попробуйте позже."
	case fault.Is(err, fault.Persistence):
		return "Не удалось сохранить результат."
	default:
		return "Не удалось обработать запрос."
	}
}
