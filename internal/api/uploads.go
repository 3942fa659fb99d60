package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/jurist/internal/blob"
	"github.com/kalambet/jurist/internal/extract"
)

const maxUploadSize = blob.MaxSize + 1<<20

// handleUpload stores one multipart "file" field. With kind=document the
// file type must be one the extractor can read.
func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Uploads == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "uploads are not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required: %v", err)
			return
		}
		defer file.Close()

		kind := r.URL.Query().Get("kind")
		if kind == "document" && !extract.Supported(header.Filename) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document type: %s", header.Filename)
			return
		}

		ref, err := deps.Uploads.Put(header.Filename, file)
		if errors.Is(err, blob.ErrTooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds %d bytes", blob.MaxSize)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"ref": ref, "name": blob.Name(ref)})
	}
}
