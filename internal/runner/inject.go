// ABOUTME: Subscribe-then-replay protocol for injecting a message into a runner with unknown blocking state
// ABOUTME: Waits briefly for an invite and answers it, or falls back to a bare answer on timeout

package runner

import (
	"context"
	"time"

	"github.com/strandhq/strand/internal/thread"
)

// DefaultInviteWait bounds how long Inject waits for an invite before
// falling back to a bare answer. The fallback assumes the run loop accepts
// an uncorrelated answer as a fresh turn, so the window is a heuristic and
// deliberately configurable.
const DefaultInviteWait = time.Second

// Inject delivers text to a runner whose blocking state is unknown to the
// caller. It subscribes to the runner's stream, asks for the last invite to
// be replayed, and waits up to wait for one to arrive. On success the answer
// is correlated with the invite; on timeout a bare answer is sent instead.
// The returned flag reports whether the answer was correlated. The timeout
// is an expected branch, not an error.
//
// Subscribing strictly before triggering the replay is load-bearing: the
// replay is a one-shot delivery, and a subscriber that attaches afterwards
// would miss it.
func Inject(ctx context.Context, r *Runner, text string, wait time.Duration) (bool, error) {
	if wait <= 0 {
		wait = DefaultInviteWait
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, _ := r.Stream().Subscribe(subCtx)

	r.ReplayLastInvite()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				return false, ErrRunnerKilled
			}
			if inv, isInvite := ev.(*thread.InviteEvent); isInvite {
				return true, r.Answer(text, inv.ID)
			}
		case <-timer.C:
			return false, r.Answer(text, "")
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
