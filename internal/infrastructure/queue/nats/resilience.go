package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

// classifyPublishError retries connection trouble. An oversized payload or a
// bad subject is our own mistake, so it neither retries nor trips the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// publishFailure names the subject and the pipeline stage the message was
// about. Control commands carry no stage.
func publishFailure(subject string, stage domain.Stage, err error) error {
	if err == nil {
		return nil
	}
	label := string(stage)
	if label == "" {
		label = "control"
	}
	op := fmt.Sprintf("nats publish %s (%s)", subject, label)
	if domain.IsKind(err, domain.ErrTemporary) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if classifyPublishError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
