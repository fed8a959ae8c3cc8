package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// DefaultMaxUploadBytes is used when the handler is built without a limit
const DefaultMaxUploadBytes int64 = 64 << 20

// ListSongsResponse is the body of GET /songs in catalog mode
type ListSongsResponse struct {
	Songs  []*shamisen.CatalogEntry `json:"songs"`
	SASURI string                   `json:"sasUri"`
}

// ListKeysResponse is the body of GET /songs in raw-keys mode
type ListKeysResponse struct {
	Songs          []string `json:"songs"`
	BaseStorageURL string   `json:"baseStorageUrl"`
	SASURI         string   `json:"sasUri"`
}

// SongsHandler serves the song catalog
type SongsHandler struct {
	service        shamisen.Service
	listMode       shamisen.ListMode
	maxUploadBytes int64
}

// NewSongsHandler creates a new songs handler
func NewSongsHandler(service shamisen.Service, listMode shamisen.ListMode, maxUploadBytes int64) *SongsHandler {
	if !listMode.IsValid() {
		listMode = shamisen.ListCatalogBacked
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &SongsHandler{
		service:        service,
		listMode:       listMode,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the routes for songs
func (h *SongsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListSongs)
	r.Post("/", h.UploadSong)

	return r
}

// ListSongs returns the catalog with an access grant. ?mode=raw|catalog
// overrides the configured listing mode.
func (h *SongsHandler) ListSongs(w http.ResponseWriter, r *http.Request) {
	mode := h.listMode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = shamisen.ListMode(m)
	}

	listing, err := h.service.ListSongs(r.Context(), mode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if listing.Mode == shamisen.ListRawKeys {
		render.JSON(w, r, ListKeysResponse{
			Songs:          listing.Keys,
			BaseStorageURL: listing.BaseStorageURL,
			SASURI:         listing.SASURI,
		})
		return
	}

	render.JSON(w, r, ListSongsResponse{
		Songs:  listing.Songs,
		SASURI: listing.SASURI,
	})
}

// UploadSong ingests the audio file in the request body. The body is either
// the raw file or a multipart form with a "file" field.
func (h *SongsHandler) UploadSong(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	data, err := readUpload(r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeServiceError(w, r, err)
			return
		}
		slog.Error("Failed to read upload", "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	if len(data) == 0 {
		writeError(w, r, http.StatusBadRequest, "empty_body", "request body is empty")
		return
	}

	entry, err := h.service.IngestSong(r.Context(), data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	render.JSON(w, r, entry)
}

func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("multipart body has no file field")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			defer part.Close()
			return io.ReadAll(part)
		}
		part.Close()
	}
}
