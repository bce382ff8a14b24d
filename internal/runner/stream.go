// ABOUTME: Per-runner event stream with subscriber fan-out and handle-scoped history replay
// ABOUTME: Append, replay and subscription share one lock so replay never interleaves with live emissions

package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/strandhq/strand/internal/thread"
)

// subscriberBufferSize is the channel buffer for each live subscriber.
const subscriberBufferSize = 64

// Stream is the ordered event feed of one runner. All observers of a thread
// read from here; none may mutate the underlying log.
type Stream struct {
	mu      sync.Mutex
	history []thread.Event
	subs    map[string]chan thread.Event
	closed  bool
	logger  *slog.Logger
}

// NewStream creates a stream. Pass nil logger for default.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		subs:   make(map[string]chan thread.Event),
		logger: logger.With("component", "stream"),
	}
}

// Emit appends the event to the history and fans it out to all subscribers.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (s *Stream) Emit(ev thread.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history, ev)
	s.fanOutLocked(ev)
}

// Republish re-delivers an already-seen event to current subscribers without
// appending it to the history. Used to replay a pending invite to a
// subscriber that attached after the original emission.
func (s *Stream) Republish(ev thread.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fanOutLocked(ev)
}

func (s *Stream) fanOutLocked(ev thread.Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropped event for slow subscriber",
				"sub_id", id,
				"event_kind", ev.Kind())
		}
	}
}

// Subscribe registers a live subscriber. The subscription is cleaned up when
// ctx is cancelled or via Unsubscribe.
func (s *Stream) Subscribe(ctx context.Context) (<-chan thread.Event, string) {
	return s.subscribe(ctx, false)
}

// SubscribeWithReplay registers a subscriber that first receives the full
// ordered history, then live events. The replay is delivered atomically with
// registration: no concurrently emitted event can interleave with it.
func (s *Stream) SubscribeWithReplay(ctx context.Context) (<-chan thread.Event, string) {
	return s.subscribe(ctx, true)
}

func (s *Stream) subscribe(ctx context.Context, replay bool) (<-chan thread.Event, string) {
	subID := uuid.New().String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch := make(chan thread.Event)
		close(ch)
		return ch, subID
	}
	buffer := subscriberBufferSize
	if replay {
		// The buffer covers the whole history so queueing the replay under
		// the lock can never block.
		buffer += len(s.history)
	}
	ch := make(chan thread.Event, buffer)
	if replay {
		for _, ev := range s.history {
			ch <- ev
		}
	}
	s.subs[subID] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Stream) Unsubscribe(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subs[subID]
	if !ok {
		return
	}
	delete(s.subs, subID)
	close(ch)
}

// History returns a copy of the ordered event history.
func (s *Stream) History() []thread.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thread.Event(nil), s.history...)
}

// Close shuts the stream down and closes all subscriber channels.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
