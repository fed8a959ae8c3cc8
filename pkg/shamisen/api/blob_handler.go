package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/shamisen/pkg/shamisen"
	"github.com/tendant/shamisen/pkg/shamisen/grant"
)

// ListBlobsResponse is the body of GET /blobs/{container}
type ListBlobsResponse struct {
	Keys []string `json:"keys"`
}

// BlobHandler serves objects to holders of a valid access grant
type BlobHandler struct {
	objects shamisen.ObjectStore
	signer  *grant.Signer
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(objects shamisen.ObjectStore, signer *grant.Signer) *BlobHandler {
	return &BlobHandler{objects: objects, signer: signer}
}

func containerParam(r *http.Request) string {
	return chi.URLParam(r, "container")
}

// Routes returns the routes for blobs. Every route checks the grant in the
// query string against the container in the path.
func (h *BlobHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(grant.Middleware(h.signer, grant.List, containerParam)).Get("/{container}", h.ListObjects)
	r.With(grant.Middleware(h.signer, grant.Read, containerParam)).Get("/{container}/{key}", h.GetObject)

	return r
}

func knownContainer(name string) bool {
	return name == shamisen.ContainerSongs || name == shamisen.ContainerCovers
}

// GetObject streams one object with its stored content type
func (h *BlobHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	container := containerParam(r)
	key := chi.URLParam(r, "key")
	if !knownContainer(container) {
		writeError(w, r, http.StatusNotFound, "not_found", "container not found")
		return
	}

	rc, info, err := h.objects.GetObject(r.Context(), container, key)
	if err != nil {
		if errors.Is(err, shamisen.ErrObjectNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "object not found")
			return
		}
		slog.Error("Failed to read object", "container", container, "key", key, "error", err)
		writeError(w, r, http.StatusBadGateway, "storage_read_failed", "failed to read object")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", info.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Object copy interrupted", "container", container, "key", key, "error", err)
	}
}

// ListObjects returns the keys of a container
func (h *BlobHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	container := containerParam(r)
	if !knownContainer(container) {
		writeError(w, r, http.StatusNotFound, "not_found", "container not found")
		return
	}

	keys := []string{}
	for key, err := range h.objects.ListObjects(r.Context(), container) {
		if err != nil {
			slog.Error("Failed to list objects", "container", container, "error", err)
			writeError(w, r, http.StatusBadGateway, "storage_list_failed", "failed to list objects")
			return
		}
		keys = append(keys, key)
	}

	render.JSON(w, r, ListBlobsResponse{Keys: keys})
}
