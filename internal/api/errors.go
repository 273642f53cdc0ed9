package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/exporter"
	"github.com/local/pagedesk/internal/rendercache"
	"github.com/local/pagedesk/internal/storage"
)

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		le *document.LoadError
		se *document.StateError
		xe *exporter.ExportError
	)
	switch {
	case errors.Is(err, storage.ErrOutsideRoot):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &le):
		switch le.Kind {
		case document.LoadUnsupported:
			return http.StatusUnsupportedMediaType, string(le.Kind)
		case document.LoadCorrupt:
			return http.StatusUnprocessableEntity, string(le.Kind)
		default:
			return http.StatusBadGateway, string(le.Kind)
		}
	case errors.Is(err, document.ErrOutOfRange):
		return http.StatusBadRequest, "out_of_range"
	case errors.As(err, &se):
		if se.Kind == document.EmptyResult {
			return http.StatusConflict, string(se.Kind)
		}
		return http.StatusBadRequest, string(se.Kind)
	case errors.Is(err, document.ErrClosed):
		return http.StatusConflict, "closed"
	case errors.As(err, &xe):
		if xe.Kind == exporter.IO {
			return http.StatusBadGateway, string(xe.Kind)
		}
		return http.StatusInternalServerError, string(xe.Kind)
	case errors.Is(err, rendercache.ErrEngineFailure):
		return http.StatusInternalServerError, "engine_failure"
	case errors.Is(err, rendercache.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	}
	return http.StatusInternalServerError, ""
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := statusFor(err)
	switch {
	case code >= 500:
		log.Error().Err(err).Int("status", code).Msg("request failed")
	case document.IsStructural(err):
		log.Debug().Err(err).Int("status", code).Msg("request rejected")
	default:
		log.Info().Err(err).Int("status", code).Msg("request rejected")
	}
	writeJSON(w, code, errorResp{Error: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
