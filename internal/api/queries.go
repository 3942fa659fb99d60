package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jurist/internal/pipeline"
	"github.com/kalambet/jurist/internal/storage"
)

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub pipeline.Submission
		if !decodeBody(w, r, &sub) {
			return
		}

		// The pipeline outlives the request.
		id, err := deps.Service.Submit(r.Context(), sub)
		if err != nil {
			writeError(w, "query", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"queryId": id,
			"status":  string(storage.StatusProcessing),
		})
	}
}

func handleGetQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Service.Query(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, "query", err)
			return
		}
		writeJSON(w, http.StatusOK, newQueryView(q))
	}
}

func handleGetQueryResponse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.ResponseForQuery(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, "response", err)
			return
		}
		writeJSON(w, http.StatusOK, newResponseView(resp))
	}
}
