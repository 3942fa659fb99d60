package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jurist/internal/search"
)

type rateRequest struct {
	Rating int    `json:"rating"`
	Actor  string `json:"actor"`
}

type publishRequest struct {
	Published *bool `json:"published"`
}

func handleGetResponse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.Response(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, "response", err)
			return
		}
		writeJSON(w, http.StatusOK, newResponseView(resp))
	}
}

func handleRate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		actor := strings.TrimSpace(req.Actor)
		if actor == "" {
			actor = "api"
		}

		id := chi.URLParam(r, "id")
		if err := deps.Service.Rate(r.Context(), id, req.Rating, actor); err != nil {
			writeError(w, "response", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "rating": req.Rating})
	}
}

func handlePublish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Published == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "published is required")
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Service.Publish(r.Context(), id, *req.Published); err != nil {
			writeError(w, "response", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "published": *req.Published})
	}
}

func handleSimilar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threshold, err := parseThreshold(r)
		if err != nil {
			writeError(w, "response", err)
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		similar, err := deps.Service.FindSimilar(r.Context(), chi.URLParam(r, "id"), threshold, limit)
		if err != nil {
			writeError(w, "response", err)
			return
		}
		writeJSON(w, http.StatusOK, newSimilarViews(similar))
	}
}

func handleClusters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threshold, err := parseThreshold(r)
		if err != nil {
			writeError(w, "clusters", err)
			return
		}
		groups, err := deps.Service.Clusters(r.Context(), threshold)
		if err != nil {
			writeError(w, "clusters", err)
			return
		}
		writeJSON(w, http.StatusOK, newClusterViews(groups))
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)
		hits, err := deps.Service.SearchPublished(r.Context(), r.URL.Query().Get("q"), limit)
		if err != nil {
			writeError(w, "search results", err)
			return
		}
		if hits == nil {
			hits = []search.Hit{}
		}
		writeJSON(w, http.StatusOK, hits)
	}
}

func handleBackfill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Backfill == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "embedding backfill is not configured")
			return
		}
		res, err := deps.Backfill.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "backfill failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
