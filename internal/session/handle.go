// ABOUTME: Passive connection handle contract between the registry and transport adapters
// ABOUTME: Transports own wire framing; the registry only pushes ordered events and closes handles on eviction

package session

import "github.com/strandhq/strand/internal/thread"

// ConnectionHandle is a live transport endpoint observing one thread's event
// stream. Handles are passive: they never mutate the thread and hold no
// reference back into the registry. Send must return an error once the
// underlying transport is gone; the registry prunes the handle instead of
// failing the broadcast.
type ConnectionHandle interface {
	ID() string
	Send(ev thread.Event) error
	Close() error
}
