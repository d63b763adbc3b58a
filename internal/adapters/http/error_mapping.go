package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrMalformedOutput):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its mapped status. Malformed structure output
// is returned verbatim so the caller can see what the model produced.
func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	body := map[string]string{"error": err.Error()}
	if status == http.StatusInternalServerError {
		slog.Error("http_internal_error", "error", err)
		body["error"] = "internal error"
	}
	var malformed *domain.MalformedOutputError
	if errors.As(err, &malformed) {
		body["raw_output"] = malformed.Raw
	}
	writeJSON(w, status, body)
}
