package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/varoOP/stripcache/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps resolver failures onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrComicNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrNotYetPublished):
		return http.StatusNotFound, "not_yet_published"
	case errors.Is(err, domain.ErrLatestUnknown):
		return http.StatusServiceUnavailable, "latest_unknown"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	}

	switch kind, _ := domain.ScrapeKind(err); kind {
	case domain.ScrapeNetwork:
		return http.StatusBadGateway, "source_unavailable"
	case domain.ScrapeMalformed:
		return http.StatusBadGateway, "source_malformed"
	case domain.ScrapeNotFound:
		return http.StatusNotFound, "not_found"
	}

	return http.StatusInternalServerError, "internal"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
		msg = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
