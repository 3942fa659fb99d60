package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/jurist/internal/advisor"
	"github.com/kalambet/jurist/internal/blob"
	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/proxy"
	"github.com/kalambet/jurist/internal/realtime"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/search"
	"github.com/kalambet/jurist/internal/storage"
	"github.com/kalambet/jurist/internal/tagging"
	"github.com/kalambet/jurist/internal/tasks"
)

const inheritanceAnswer = `{"text":"Для оформления наследства обратитесь к нотариусу в течение шести месяцев.","cited_laws":["ГК РФ ст. 1153","ГК РФ ст. 1154"],"cited_cases":[],"recommendations":["Соберите документы о родстве"],"confidence":0.9}`

// fakeCompleter answers chat requests. Answer requests ask for JSON; article
// requests do not.
type fakeCompleter struct {
	mu         sync.Mutex
	answer     string
	answerErr  error
	article    string
	articleErr error
	prompts    []string
	articles   int
	// block makes answer requests wait for the task deadline.
	block bool
}

func (f *fakeCompleter) Complete(ctx context.Context, req proxy.ChatRequest) (string, error) {
	f.mu.Lock()
	if f.block && req.ResponseFormat != nil {
		f.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer f.mu.Unlock()
	if req.ResponseFormat == nil {
		f.articles++
		return f.article, f.articleErr
	}
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	return f.answer, f.answerErr
}

func (f *fakeCompleter) articleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.articles
}

// fakeProvider embeds every text to the same direction unless told otherwise.
type fakeProvider struct {
	mu     sync.Mutex
	err    error
	inputs []string
}

func (f *fakeProvider) Embed(_ context.Context, _ string, _ int, input []string) ([][]float32, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input...)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(input))
	for i, text := range input {
		if strings.Contains(strings.ToLower(text), "аренд") {
			out[i] = []float32{0, 1, 0}
		} else {
			out[i] = []float32{1, 0.1, 0}
		}
	}
	return out, nil
}

type fakeTranscriber struct {
	text string
	err  error
	got  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _, _ string, audio io.Reader) (string, error) {
	b, _ := io.ReadAll(audio)
	f.got = string(b)
	return f.text, f.err
}

type fakeExtractor struct {
	err    error
	panics bool
}

func (f *fakeExtractor) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if f.panics {
		panic("extractor crashed on " + filename)
	}
	if f.err != nil {
		return "", f.err
	}
	return "содержимое " + filename + ": " + string(data), nil
}

type harness struct {
	t          *testing.T
	orch       *Orchestrator
	store      *storage.Store
	hub        *realtime.Hub
	completer  *fakeCompleter
	provider   *fakeProvider
	blobs      *blob.Dir
	index      *search.Index
	runner     *tasks.Runner
	transcribe *fakeTranscriber
	extractor  *fakeExtractor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRunner(t, tasks.NewRunner(0))
}

func newHarnessWithRunner(t *testing.T, runner *tasks.Runner) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewDir: %v", err)
	}
	index, err := search.NewIndex()
	if err != nil {
		t.Fatalf("search.NewIndex: %v", err)
	}
	t.Cleanup(func() { index.Close() })
	tagger, err := tagging.Default()
	if err != nil {
		t.Fatalf("tagging.Default: %v", err)
	}

	h := &harness{
		t:          t,
		store:      store,
		hub:        realtime.NewHub(),
		completer:  &fakeCompleter{answer: inheritanceAnswer, article: "Статья о наследстве"},
		provider:   &fakeProvider{},
		blobs:      blobs,
		index:      index,
		runner:     runner,
		transcribe: &fakeTranscriber{text: "Как оформить наследство?"},
		extractor:  &fakeExtractor{},
	}

	embedder := retrieval.NewEmbedder(h.provider, "test-embed", 3)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(store.DB()))
	adv := advisor.New(advisor.Options{
		Completer:  h.completer,
		ChatModel:  "test-chat",
		Retriever:  retriever,
		Embedder:   embedder,
		Classifier: tagger,
		Store:      store,
	})
	h.orch = New(Options{
		Store:           store,
		Answerer:        adv,
		Transcriber:     h.transcribe,
		TranscribeModel: "whisper-1",
		Extractor:       h.extractor,
		Blobs:           blobs,
		Notifier:        h.hub,
		Similarity:      retriever,
		Search:          index,
		Runner:          h.runner,
	})
	return h
}

func (h *harness) submit(sub Submission) string {
	h.t.Helper()
	id, err := h.orch.Submit(context.Background(), sub)
	if err != nil {
		h.t.Fatalf("Submit: %v", err)
	}
	h.runner.Wait()
	return id
}

func drain(sub *realtime.Subscription) []realtime.Event {
	var out []realtime.Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubmit_InheritanceQuestion(t *testing.T) {
	h := newHarness(t)
	sub := h.hub.Subscribe("owner-1")
	defer sub.Cancel()
	ctx := context.Background()

	id := h.submit(Submission{OwnerID: "owner-1", Text: "Как оформить наследство?"})

	view, err := h.orch.Query(ctx, id)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if view.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", view.Status)
	}
	if view.Modality != storage.ModalityText {
		t.Errorf("modality = %q, want inferred text", view.Modality)
	}
	found := false
	for _, tag := range view.Tags {
		if tag.Name == "Наследство" {
			found = true
		}
	}
	if !found {
		t.Errorf("tags = %+v, want Наследство", view.Tags)
	}

	resp, err := h.orch.ResponseForQuery(ctx, id)
	if err != nil {
		t.Fatalf("ResponseForQuery: %v", err)
	}
	if resp.Answer.Confidence != 0.9 || len(resp.Answer.CitedLaws) != 2 {
		t.Errorf("answer = %+v", resp.Answer)
	}
	if resp.Embedding == nil {
		t.Error("embedding side task did not run")
	}

	events := drain(sub)
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}
	last := events[len(events)-1]
	if last.Kind != realtime.KindCompleted || last.QueryID != id || last.Response == nil {
		t.Errorf("last event = %+v, want completed with answer", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != realtime.KindStatus {
			t.Errorf("unexpected event before completion: %+v", ev)
		}
	}

	trail, _ := h.store.AuditTrail(ctx, id)
	if len(trail) < 2 || trail[0].Action != "query_submitted" || trail[1].Action != "tags_attached" {
		t.Errorf("audit trail = %+v", trail)
	}
}

func TestSubmit_AIFailure(t *testing.T) {
	h := newHarness(t)
	h.completer.answerErr = errors.New("provider returned 502")
	sub := h.hub.Subscribe("owner-1")
	defer sub.Cancel()
	ctx := context.Background()

	id := h.submit(Submission{OwnerID: "owner-1", Text: "Как оформить наследство?"})

	view, _ := h.orch.Query(ctx, id)
	if view.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", view.Status)
	}
	if len(view.Tags) != 0 {
		t.Errorf("failed query was tagged: %+v", view.Tags)
	}
	if _, err := h.orch.ResponseForQuery(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed query has a response, err = %v", err)
	}

	events := drain(sub)
	last := events[len(events)-1]
	if last.Kind != realtime.KindError || last.Error == "" {
		t.Errorf("last event = %+v, want error", last)
	}
	if strings.Contains(last.Error, "502") {
		t.Errorf("error event leaks provider detail: %q", last.Error)
	}
	for _, ev := range events {
		if ev.Kind == realtime.KindCompleted {
			t.Error("completed event emitted for failed query")
		}
	}
}

// requireFailedOnce checks that id ended failed without a response and that
// the owner got exactly one error event and no completion.
func requireFailedOnce(t *testing.T, h *harness, sub *realtime.Subscription, id string) {
	t.Helper()
	ctx := context.Background()
	q, err := h.store.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if q.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", q.Status)
	}
	if _, err := h.store.GetResponseByQuery(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed query has a response, err = %v", err)
	}

	errorsSeen := 0
	for _, ev := range drain(sub) {
		switch ev.Kind {
		case realtime.KindError:
			errorsSeen++
			if ev.QueryID != id {
				t.Errorf("error event for %s, want %s", ev.QueryID, id)
			}
		case realtime.KindCompleted:
			t.Errorf("completed event emitted for failed query: %+v", ev)
		}
	}
	if errorsSeen != 1 {
		t.Errorf("got %d error events, want 1", errorsSeen)
	}
}

func TestSubmit_TaskTimeoutMarksFailed(t *testing.T) {
	h := newHarnessWithRunner(t, tasks.NewRunner(50*time.Millisecond))
	h.completer.block = true
	sub := h.hub.Subscribe("owner-1")
	defer sub.Cancel()

	id := h.submit(Submission{OwnerID: "owner-1", Text: "Как оформить наследство?"})
	requireFailedOnce(t, h, sub, id)
}

func TestSubmit_StagePanicMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.extractor.panics = true
	ref, _ := h.blobs.Put("договор.pdf", strings.NewReader("x"))
	sub := h.hub.Subscribe("owner-1")
	defer sub.Cancel()

	id := h.submit(Submission{OwnerID: "owner-1", Text: "Проверьте договор", FileRefs: []string{ref}})
	requireFailedOnce(t, h, sub, id)
}

func TestSubmit_UnstructuredAnswerStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.completer.answer = "Я не могу ответить в формате JSON, но наследство оформляется у нотариуса."

	id := h.submit(Submission{OwnerID: "o", Text: "Как оформить наследство?"})
	resp, err := h.orch.ResponseForQuery(context.Background(), id)
	if err != nil {
		t.Fatalf("ResponseForQuery: %v", err)
	}
	if resp.Answer.Text != h.completer.answer || resp.Answer.Confidence != 0.7 {
		t.Errorf("answer = %+v", resp.Answer)
	}
}

func TestSubmit_EmbeddingFailureDoesNotAffectTags(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("embeddings unavailable")

	id := h.submit(Submission{OwnerID: "o", Text: "Как оформить наследство?"})
	view, _ := h.orch.Query(context.Background(), id)
	if view.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", view.Status)
	}
	if len(view.Tags) == 0 {
		t.Error("tagging should succeed when embedding fails")
	}
	resp, _ := h.orch.ResponseForQuery(context.Background(), id)
	if resp.Embedding != nil {
		t.Error("embedding should be absent")
	}
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]Submission{
		"no owner":          {Text: "q"},
		"empty":             {OwnerID: "o"},
		"whitespace only":   {OwnerID: "o", Text: "   "},
		"unknown modality":  {OwnerID: "o", Text: "q", Modality: "fax"},
		"voice no audio":    {OwnerID: "o", Text: "q", Modality: storage.ModalityVoice},
		"document no files": {OwnerID: "o", Text: "q", Modality: storage.ModalityDocument},
		"too many files":    {OwnerID: "o", FileRefs: make11Refs()},
		"text too long":     {OwnerID: "o", Text: strings.Repeat("а", MaxTextRunes+1)},
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.orch.Submit(context.Background(), sub)
			if !fault.Is(err, fault.Validation) {
				t.Errorf("err = %v, want validation fault", err)
			}
		})
	}
}

func make11Refs() []string {
	refs := make([]string, MaxFiles+1)
	for i := range refs {
		refs[i] = "ref"
	}
	return refs
}

func TestSubmit_Voice(t *testing.T) {
	h := newHarness(t)
	ref, err := h.blobs.Put("question.ogg", strings.NewReader("OGGDATA"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	id := h.submit(Submission{OwnerID: "o", AudioRef: ref})
	view, _ := h.orch.Query(context.Background(), id)
	if view.Status != storage.StatusCompleted || view.Modality != storage.ModalityVoice {
		t.Fatalf("query = %+v", view.Query)
	}
	if view.Text != "Как оформить наследство?" {
		t.Errorf("text = %q, want transcript", view.Text)
	}
	if h.transcribe.got != "OGGDATA" {
		t.Errorf("transcriber got %q", h.transcribe.got)
	}
}

func TestSubmit_VoiceTranscriptionFailure(t *testing.T) {
	h := newHarness(t)
	h.transcribe.err = errors.New("unsupported codec")
	ref, _ := h.blobs.Put("q.ogg", strings.NewReader("x"))

	id := h.submit(Submission{OwnerID: "o", AudioRef: ref})
	view, _ := h.orch.Query(context.Background(), id)
	if view.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", view.Status)
	}
	if len(h.completer.prompts) != 0 {
		t.Error("AI must not be called after a failed stage")
	}
}

func TestSubmit_DocumentsConcatenated(t *testing.T) {
	h := newHarness(t)
	ref1, _ := h.blobs.Put("завещание.txt", strings.NewReader("всё имущество сыну"))
	ref2, _ := h.blobs.Put("свидетельство.txt", strings.NewReader("о смерти"))

	id := h.submit(Submission{OwnerID: "o", Text: "Что делать с этими документами?", FileRefs: []string{ref1, ref2}})
	view, _ := h.orch.Query(context.Background(), id)
	if view.Status != storage.StatusCompleted || view.Modality != storage.ModalityDocument {
		t.Fatalf("query = %+v", view.Query)
	}
	if view.Text != "Что делать с этими документами?" {
		t.Errorf("stored text changed to %q", view.Text)
	}

	prompt := h.completer.prompts[0]
	for _, want := range []string{
		"Что делать с этими документами?",
		"[завещание.txt]\nсодержимое завещание.txt: всё имущество сыну",
		"[свидетельство.txt]",
		"Приложенные документы: завещание.txt, свидетельство.txt",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt lacks %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "[завещание.txt]") > strings.Index(prompt, "[свидетельство.txt]") {
		t.Error("documents out of order")
	}
}

func TestSubmit_DocumentContextUsesQuestion(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.blobs.Put("завещание.txt", strings.NewReader("всё имущество сыну"))

	h.submit(Submission{OwnerID: "o", Text: "Что делать?", FileRefs: []string{ref}})

	h.provider.mu.Lock()
	inputs := append([]string(nil), h.provider.inputs...)
	h.provider.mu.Unlock()
	if len(inputs) == 0 || inputs[0] != "Что делать?" {
		t.Fatalf("embedded inputs = %q, want the question first", inputs)
	}
	for _, in := range inputs {
		if strings.Contains(in, "[завещание.txt]") || strings.Contains(in, "всё имущество сыну") {
			t.Errorf("document text was embedded: %q", in)
		}
	}
}

func TestSubmit_DocumentExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = errors.New("encrypted pdf")
	ref, _ := h.blobs.Put("a.pdf", strings.NewReader("x"))

	id := h.submit(Submission{OwnerID: "o", FileRefs: []string{ref}})
	view, _ := h.orch.Query(context.Background(), id)
	if view.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", view.Status)
	}
}

func TestSubmit_IndependentQueries(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for range 8 {
		id, err := h.orch.Submit(context.Background(), Submission{OwnerID: "o", Text: "Как оформить наследство?"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
	}
	h.runner.Wait()

	for _, id := range ids {
		view, _ := h.orch.Query(context.Background(), id)
		if view.Status != storage.StatusCompleted {
			t.Errorf("query %s status = %q", id, view.Status)
		}
	}
}
