package ollama

import (
	"errors"
	"net/http"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

// wrapError keeps retryable failures recognisable as ErrTemporary and maps
// upstream 5xx to ErrServerError.
func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrServerError) {
		return err
	}

	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return domain.WrapError(domain.ErrServerError, operation, err)
		case statusErr.StatusCode == http.StatusNotFound:
			return domain.WrapError(domain.ErrMissingConfig, operation, err)
		}
	}

	class := resilience.ClassifyHTTP(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
