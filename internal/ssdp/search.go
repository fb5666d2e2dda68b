package ssdp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeltaFunc receives newly observed devices during a search window, at most once per
// device per search.
type DeltaFunc func([]*RemoteDevice)

// Search starts (or re-enters) SEARCHING, issues M-SEARCHes on all targets, and delivers
// devices newly observed within this window as they appear. If nothing was delivered by
// the deadline and the known set is non-empty, one final callback delivers the full known
// set; otherwise the search simply ends.
func (e *Engine) Search(ctx context.Context, timeout time.Duration, onDelta DeltaFunc) {
	searchID := uuid.NewString()[:8]
	log := e.log.WithField("search", searchID)
	log.WithField("timeout_ms", timeout.Milliseconds()).Debug("search started")

	ch, cancel := e.Subscribe()
	defer cancel()

	delivered := make(map[string]bool)
	anyDelivered := false

	e.BeginSearch()
	defer e.EndSearch()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("search cancelled")
			return
		case <-deadline.C:
			if !anyDelivered {
				if known := e.Devices(); len(known) > 0 {
					onDelta(known)
				}
			}
			log.WithField("delivered", len(delivered)).Debug("search window closed")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != EventAdded || delivered[ev.Device.ID] {
				continue
			}
			delivered[ev.Device.ID] = true
			anyDelivered = true
			onDelta([]*RemoteDevice{ev.Device})
		}
	}
}
