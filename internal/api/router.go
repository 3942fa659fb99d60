package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/ingest"
	"github.com/kalambet/jurist/internal/pipeline"
	"github.com/kalambet/jurist/internal/realtime"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/search"
	"github.com/kalambet/jurist/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Service is the query lifecycle as seen by the HTTP and MCP layers.
type Service interface {
	Submit(ctx context.Context, sub pipeline.Submission) (string, error)
	Query(ctx context.Context, id string) (pipeline.QueryView, error)
	Response(ctx context.Context, id string) (storage.Response, error)
	ResponseForQuery(ctx context.Context, queryID string) (storage.Response, error)
	Rate(ctx context.Context, responseID string, rating int, actor string) error
	Publish(ctx context.Context, responseID string, published bool) error
	FindSimilar(ctx context.Context, responseID string, threshold float64, limit int) ([]retrieval.ScoredRecord, error)
	Clusters(ctx context.Context, threshold float64) ([]retrieval.Group, error)
	SearchPublished(ctx context.Context, text string, limit int) ([]search.Hit, error)
}

// Uploader stores uploaded files and returns their reference.
type Uploader interface {
	Put(filename string, r io.Reader) (string, error)
}

// Subscriber hands out realtime subscriptions per owner.
type Subscriber interface {
	Subscribe(ownerID string) *realtime.Subscription
}

// Backfiller embeds responses stored without a vector.
type Backfiller interface {
	RunOnce(ctx context.Context) (ingest.Result, error)
}

// AppDeps wires the HTTP handler. Uploads, Events and Backfill are optional;
// their routes answer 503 when unset.
type AppDeps struct {
	Service  Service
	Uploads  Uploader
	Events   Subscriber
	Backfill Backfiller
	Token    string
}

// NewAppHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/queries", handleSubmit(deps))
		r.Get("/queries/{id}", handleGetQuery(deps))
		r.Get("/queries/{id}/response", handleGetQueryResponse(deps))

		r.Get("/responses/clusters", handleClusters(deps))
		r.Post("/responses/embeddings/backfill", handleBackfill(deps))
		r.Get("/responses/{id}", handleGetResponse(deps))
		r.Post("/responses/{id}/rating", handleRate(deps))
		r.Post("/responses/{id}/publish", handlePublish(deps))
		r.Get("/responses/{id}/similar", handleSimilar(deps))

		r.Get("/published/search", handleSearch(deps))
		r.Post("/uploads", handleUpload(deps))
		r.Get("/events/{owner}", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps a service error onto a status code.
func writeError(w http.ResponseWriter, what string, err error) {
	switch {
	case fault.Is(err, fault.Validation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, pipeline.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
	default:
		slog.Error("request failed", "what", what, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load %s: %v", what, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// parseThreshold reads an optional similarity threshold. Zero means the
// server default.
func parseThreshold(r *http.Request) (float64, error) {
	s := r.URL.Query().Get("threshold")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fault.Invalid("threshold must be a number, got %q", s)
	}
	return v, nil
}
