package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/resolver"
)

func (s *Server) keyword(kind resolver.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resolve(w, r, resolver.Request{Kind: kind})
	}
}

func (s *Server) comic(w http.ResponseWriter, r *http.Request) {
	delta := 0
	if v := r.URL.Query().Get("delta"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, errors.Wrapf(domain.ErrInvalidRequest, "invalid delta %q", v))
			return
		}
		delta = d
	}

	req, err := resolver.ParseRequest(chi.URLParam(r, "date"), delta)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.resolve(w, r, req)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, req resolver.Request) {
	view, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch req.Kind {
	case resolver.KindDate, resolver.KindFirst, resolver.KindRelative:
		w.Header().Set("Cache-Control", "public, max-age=86400")
	default:
		w.Header().Set("Cache-Control", "no-store")
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
