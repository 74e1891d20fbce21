package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/ttshub/internal/catalog"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/synth"
	"github.com/MrWong99/ttshub/internal/voice"
	"github.com/MrWong99/ttshub/pkg/artifact"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("server: bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps a synthesis error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, synth.ErrInvalidParameter),
		errors.Is(err, voice.ErrInvalidSpeed):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrUnknownLanguage):
		return http.StatusNotFound
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusBadGateway
	case errors.Is(err, artifact.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, synth.ErrEmptyOutput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
