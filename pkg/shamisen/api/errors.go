package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// ErrorResponse is the body of every non-2xx response written by this package
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps a service error onto an HTTP status
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "upload exceeds the maximum allowed size")
	case errors.Is(err, shamisen.ErrUnsupportedMedia):
		writeError(w, r, http.StatusUnsupportedMediaType, "unsupported_media", "upload is not an audio file with tags and embedded cover art")
	case errors.Is(err, shamisen.ErrStorageWrite):
		slog.Error("Object store write failed", "error", err)
		writeError(w, r, http.StatusBadGateway, "storage_write_failed", "failed to store object")
	case errors.Is(err, shamisen.ErrWriteConflict):
		writeError(w, r, http.StatusConflict, "write_conflict", "catalog entry already exists")
	case errors.Is(err, shamisen.ErrUnavailable):
		slog.Error("Catalog unavailable", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "catalog_unavailable", "catalog store is unavailable")
	case errors.Is(err, shamisen.ErrInvalidListMode):
		writeError(w, r, http.StatusBadRequest, "invalid_list_mode", err.Error())
	case errors.Is(err, shamisen.ErrObjectNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "object not found")
	default:
		slog.Error("Unhandled service error", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
