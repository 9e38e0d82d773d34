package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

// eventHub fans stage events out to in-process subscribers and an optional
// external publisher. Slow subscribers drop events rather than block stages.
type eventHub struct {
	publisher ports.EventPublisher

	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Event
}

func newEventHub(publisher ports.EventPublisher) *eventHub {
	return &eventHub{
		publisher: publisher,
		subs:      make(map[int]chan domain.Event),
	}
}

func (h *eventHub) subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *eventHub) broadcast(ctx context.Context, ev domain.Event) {
	h.mu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event_subscriber_lagging", "subscriber", id, "kind", ev.Kind)
		}
	}
	h.mu.Unlock()

	if h.publisher != nil {
		if err := h.publisher.PublishEvent(ctx, ev); err != nil {
			slog.Warn("event_publish_failed", "kind", ev.Kind, "job_id", ev.JobID, "error", err)
		}
	}
}
