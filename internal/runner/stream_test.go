// ABOUTME: Tests for the per-runner event stream
// ABOUTME: Covers fan-out, replay-then-live ordering, republish and close semantics

package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/internal/thread"
)

func collect(t *testing.T, ch <-chan thread.Event, n int) []thread.Event {
	t.Helper()
	out := make([]thread.Event, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed after %d of %d events", len(out), n)
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestStream_FanOutToAllSubscribers(t *testing.T) {
	s := NewStream(nil)
	defer s.Close()

	ch1, _ := s.Subscribe(context.Background())
	ch2, _ := s.Subscribe(context.Background())

	ev := thread.NewMessage(thread.RoleUser, "alice", "hello")
	s.Emit(ev)

	assert.Same(t, ev, collect(t, ch1, 1)[0])
	assert.Same(t, ev, collect(t, ch2, 1)[0])
}

func TestStream_ReplayThenLiveOrdering(t *testing.T) {
	s := NewStream(nil)
	defer s.Close()

	e1 := thread.NewMessage(thread.RoleUser, "alice", "one")
	e2 := thread.NewMessage(thread.RoleAssistant, "agent", "two")
	s.Emit(e1)
	s.Emit(e2)

	ch, _ := s.SubscribeWithReplay(context.Background())

	e3 := thread.NewMessage(thread.RoleUser, "alice", "three")
	s.Emit(e3)

	got := collect(t, ch, 3)
	assert.Same(t, e1, got[0])
	assert.Same(t, e2, got[1])
	assert.Same(t, e3, got[2])
}

func TestStream_ReplayDoesNotInterleaveWithConcurrentEmits(t *testing.T) {
	s := NewStream(nil)
	defer s.Close()

	const preload = 50
	for i := 0; i < preload; i++ {
		s.Emit(thread.NewMessage(thread.RoleUser, "alice", "preload"))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.Emit(thread.NewMessage(thread.RoleAssistant, "agent", "live"))
		}
	}()

	ch, _ := s.SubscribeWithReplay(context.Background())
	wg.Wait()

	history := s.History()
	got := collect(t, ch, len(history))
	for i := range history {
		assert.Same(t, history[i], got[i], "subscriber order must match history order at %d", i)
	}
}

func TestStream_RepublishSkipsHistory(t *testing.T) {
	s := NewStream(nil)
	defer s.Close()

	inv := thread.NewInvite("next?", "")
	s.Emit(inv)
	require.Len(t, s.History(), 1)

	ch, _ := s.Subscribe(context.Background())
	s.Republish(inv)

	assert.Same(t, inv, collect(t, ch, 1)[0])
	assert.Len(t, s.History(), 1, "republish must not grow the history")
}

func TestStream_LateReplaySubscriberAfterUnsubscribe(t *testing.T) {
	s := NewStream(nil)
	defer s.Close()

	ch, subID := s.Subscribe(context.Background())
	s.Unsubscribe(subID)

	_, ok := <-ch
	assert.False(t, ok, "channel closes on unsubscribe")

	// Emitting after unsubscribe must not panic.
	s.Emit(thread.NewMessage(thread.RoleUser, "alice", "still fine"))
}

func TestStream_CloseClosesAllSubscribers(t *testing.T) {
	s := NewStream(nil)
	ch1, _ := s.Subscribe(context.Background())
	ch2, _ := s.SubscribeWithReplay(context.Background())

	s.Close()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	// Subscribing after close yields an already-closed channel.
	ch3, _ := s.Subscribe(context.Background())
	_, ok = <-ch3
	assert.False(t, ok)
}
