package usecase

import (
	"sync/atomic"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// Control holds the cooperative pause and cancel flags. Stages consult it
// before each page or batch; in-flight requests are never aborted.
type Control struct {
	paused    atomic.Bool
	cancelled atomic.Bool
}

func (c *Control) Pause()  { c.paused.Store(true) }
func (c *Control) Resume() { c.paused.Store(false) }
func (c *Control) Cancel() { c.cancelled.Store(true) }

// Reset clears both flags before a new run.
func (c *Control) Reset() {
	c.paused.Store(false)
	c.cancelled.Store(false)
}

func (c *Control) Paused() bool    { return c.paused.Load() }
func (c *Control) Cancelled() bool { return c.cancelled.Load() }

// Interrupted returns ErrJobCancelled or ErrJobPaused when requested.
// Cancellation wins over pause.
func (c *Control) Interrupted() error {
	switch {
	case c.cancelled.Load():
		return domain.ErrJobCancelled
	case c.paused.Load():
		return domain.ErrJobPaused
	default:
		return nil
	}
}
