package httpadapter

import (
	"net/http"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrMissingConfig):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrServerError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
