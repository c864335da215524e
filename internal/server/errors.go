package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSessionConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStaleDay):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidDay),
		errors.Is(err, engine.ErrEmptyConversation),
		errors.Is(err, tier.ErrInvalidTier),
		errors.Is(err, store.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}
