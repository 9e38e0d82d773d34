package bootstrap

import (
	"context"
	"log/slog"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// WatchEvents logs pipeline events and feeds job outcomes to the metrics
// registry until ctx ends.
func (a *App) WatchEvents(ctx context.Context) {
	events, stop := a.Orchestrator.Subscribe(256)
	go func() {
		<-ctx.Done()
		stop()
	}()
	go func() {
		for ev := range events {
			a.Metrics.ObserveEvent(ev)
			logEvent(a.Logger, ev)
		}
	}()
}

// ListenForControl applies pause, resume and cancel commands from the bus.
// It is a no-op without NATS.
func (a *App) ListenForControl(ctx context.Context) {
	if a.Bus == nil {
		return
	}
	go func() {
		if err := a.Bus.SubscribeControl(ctx, a.Orchestrator); err != nil && ctx.Err() == nil {
			a.Logger.Error("control_subscription_failed", "error", err)
		}
	}()
}

func logEvent(logger *slog.Logger, ev domain.Event) {
	switch ev.Kind {
	case domain.EventItemFailed:
		logger.Warn("pipeline_item_failed", "stage", ev.Stage, "publication_id", ev.PublicationID, "error", ev.Message)
	case domain.EventPageScraped:
		logger.Info("pipeline_page_scraped",
			"stage", ev.Stage,
			"page", ev.Page,
			"next_start_index", ev.NextStartIndex,
			"total_items", ev.TotalItems,
			"processed", ev.Processed,
		)
	case domain.EventJobFinished:
		logger.Info("pipeline_job_finished", "stage", ev.Stage, "job_id", ev.JobID, "status", ev.JobStatus)
	default:
		logger.Debug("pipeline_event",
			"kind", ev.Kind,
			"stage", ev.Stage,
			"job_id", ev.JobID,
			"processed", ev.Processed,
			"failed", ev.Failed,
		)
	}
}
