// ABOUTME: Per-thread run loop and lifecycle state machine
// ABOUTME: Sequences turns from prompts and answers, dispatches to the pipeline, emits lifecycle events

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strandhq/strand/internal/thread"
)

// Status is the runner lifecycle state.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusKilled  Status = "killed"
)

// ErrRunnerKilled indicates a forward operation on a killed runner.
var ErrRunnerKilled = errors.New("runner killed")

// ErrAlreadyRunning indicates the run loop is already active.
var ErrAlreadyRunning = errors.New("run loop already active")

// autosaveTimeout bounds best-effort persistence triggered by stop/kill.
const autosaveTimeout = 5 * time.Second

// answerQueueSize bounds how many free-standing answers may queue while a
// turn is in flight.
const answerQueueSize = 16

// Options configure a runner at construction.
type Options struct {
	// Oneshot runners process the initial prompt queue and terminate instead
	// of suspending for open-ended input.
	Oneshot bool

	// Prompts is the initial prompt queue, consumed front to back.
	Prompts []string

	// OnActivity is invoked at every turn start; the registry uses it to
	// reset the inactivity timer.
	OnActivity func()

	Logger *slog.Logger
}

// Runner owns one thread's message log and sequences all turn processing
// for it. At most one run loop is active at a time; concurrent injections
// go through Answer or Upload, which append synchronously.
type Runner struct {
	mu         sync.Mutex
	status     Status
	running    bool
	prompts    []string
	lastInvite *thread.InviteEvent
	stopCh     chan struct{}

	thread     *thread.Thread
	pipeline   Pipeline
	saver      Saver
	stream     *Stream
	oneshot    bool
	onActivity func()
	answers    chan *thread.AnswerEvent

	// turnMu sequences all mutation of the thread log: one turn at a time,
	// with uploads serialized against in-flight turns.
	turnMu sync.Mutex

	killed   chan struct{}
	killOnce sync.Once

	logger *slog.Logger
}

// New creates a runner for the given thread. The pipeline is required; the
// saver may be nil, disabling autosave.
func New(t *thread.Thread, pipeline Pipeline, saver Saver, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runner", "thread_id", t.ID)

	return &Runner{
		status:     StatusCreated,
		prompts:    append([]string(nil), opts.Prompts...),
		thread:     t,
		pipeline:   pipeline,
		saver:      saver,
		stream:     NewStream(logger),
		oneshot:    opts.Oneshot,
		onActivity: opts.OnActivity,
		answers:    make(chan *thread.AnswerEvent, answerQueueSize),
		killed:     make(chan struct{}),
		logger:     logger,
	}
}

// ThreadID returns the id of the owned thread.
func (r *Runner) ThreadID() string { return r.thread.ID }

// Thread returns the owned thread aggregate. Callers outside the run loop
// must treat it as read-only.
func (r *Runner) Thread() *thread.Thread { return r.thread }

// Stream returns the runner's event stream.
func (r *Runner) Stream() *Stream { return r.stream }

// Oneshot reports whether the runner terminates once its prompt queue drains.
func (r *Runner) Oneshot() bool { return r.oneshot }

// Status returns the current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run executes the run loop until the conversation completes (oneshot), the
// runner is stopped or killed, or ctx is cancelled. A stopped runner may be
// resumed by calling Run again.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusKilled {
		r.mu.Unlock()
		return ErrRunnerKilled
	}
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.status = StatusRunning
	stopCh := make(chan struct{})
	r.stopCh = stopCh
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		exiting := r.status == StatusRunning
		if exiting {
			r.status = StatusStopped
		}
		r.mu.Unlock()
		if exiting {
			r.autosave()
		}
	}()

	for {
		select {
		case <-r.killed:
			return nil
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		turn, ok := r.nextTurn(ctx, stopCh)
		if !ok {
			return nil
		}
		done := r.processTurn(ctx, turn)
		if done && r.oneshot {
			r.logger.Debug("conversation complete")
			return nil
		}
	}
}

// nextTurn produces the next user turn: a queued prompt first, then an
// already-buffered answer, then a suspension awaiting external input. The
// false return means the loop should exit (oneshot drained, stop, kill or
// cancellation).
func (r *Runner) nextTurn(ctx context.Context, stopCh chan struct{}) (string, bool) {
	r.mu.Lock()
	if len(r.prompts) > 0 {
		turn := r.prompts[0]
		r.prompts = r.prompts[1:]
		r.mu.Unlock()
		return turn, true
	}
	oneshot := r.oneshot
	r.mu.Unlock()

	// A free-standing answer that arrived while processing counts as the
	// next turn without a fresh invite.
	select {
	case ans := <-r.answers:
		return ans.Text, true
	default:
	}

	if oneshot {
		return "", false
	}

	inv := thread.NewInvite("What is your next request?", "")
	r.mu.Lock()
	r.lastInvite = inv
	r.mu.Unlock()
	r.stream.Emit(inv)

	select {
	case ans := <-r.answers:
		return ans.Text, true
	case <-stopCh:
		return "", false
	case <-r.killed:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// processTurn appends the user turn, dispatches it to the pipeline and emits
// every event the turn produced. Pipeline failures become an ErrorEvent on
// the stream; they never abort the loop.
func (r *Runner) processTurn(ctx context.Context, turn string) bool {
	if r.onActivity != nil {
		r.onActivity()
	}

	r.turnMu.Lock()
	defer r.turnMu.Unlock()

	before := len(r.thread.Events)
	r.thread.AddUserMessage(r.thread.Username, turn)

	done, err := r.pipeline.RunTurn(ctx, r.thread, turn)

	// The loop is sequential, so everything past the recorded length was
	// produced by this turn.
	for _, ev := range r.thread.Events[before:] {
		r.stream.Emit(ev)
	}

	if err != nil {
		r.logger.Error("turn failed", "error", err)
		r.stream.Emit(thread.NewError(fmt.Sprintf("turn failed: %v", err)))
		return false
	}
	return done
}

// Answer injects external input. A non-empty inReplyTo correlates the answer
// with a previously emitted invite; a bare answer is accepted as a fresh
// turn. A rejected answer leaves no trace: the stream records it and the
// pending invite is consumed only once the answer is queued.
func (r *Runner) Answer(text, inReplyTo string) error {
	r.mu.Lock()
	if r.status == StatusKilled {
		r.mu.Unlock()
		return ErrRunnerKilled
	}
	r.mu.Unlock()

	ans := thread.NewAnswer(text, inReplyTo)
	select {
	case r.answers <- ans:
	default:
		return fmt.Errorf("answer queue full for thread %s", r.thread.ID)
	}

	r.mu.Lock()
	if inReplyTo != "" && r.lastInvite != nil && r.lastInvite.ID == inReplyTo {
		r.lastInvite = nil
	}
	r.mu.Unlock()

	r.stream.Emit(ans)
	return nil
}

// ReplayLastInvite re-delivers the pending invite to current subscribers.
// A no-op when no invite is outstanding.
func (r *Runner) ReplayLastInvite() {
	r.mu.Lock()
	inv := r.lastInvite
	r.mu.Unlock()
	if inv != nil {
		r.stream.Republish(inv)
	}
}

// Upload appends content items as user messages, bypassing the invite/answer
// protocol. Used when the caller already owns the runner.
func (r *Runner) Upload(items []string) error {
	r.mu.Lock()
	if r.status == StatusKilled {
		r.mu.Unlock()
		return ErrRunnerKilled
	}
	r.mu.Unlock()

	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	for _, item := range items {
		ev := r.thread.AddUserMessage(r.thread.Username, item)
		r.stream.Emit(ev)
	}
	return nil
}

// Stop halts turn processing and autosaves the thread, leaving the runner
// resident for a later resume. Safe to call when not running.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.status == StatusKilled || r.status == StatusStopped {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopped
	stopCh := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	r.autosave()
	r.logger.Debug("runner stopped")
}

// Kill is idempotent. It applies stop semantics, unblocks any pending wait,
// releases pipeline resources and closes the event stream.
func (r *Runner) Kill() {
	r.killOnce.Do(func() {
		r.mu.Lock()
		r.status = StatusKilled
		stopCh := r.stopCh
		r.stopCh = nil
		r.mu.Unlock()

		close(r.killed)
		if stopCh != nil {
			close(stopCh)
		}
		r.autosave()
		r.pipeline.Release()
		r.stream.Close()
		r.logger.Debug("runner killed")
	})
}

// autosave persists the thread best-effort with a detached timeout context,
// so persistence survives caller cancellation. Failures are logged only.
func (r *Runner) autosave() {
	if r.saver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()

	if err := r.saver.Save(ctx, r.thread.ProjectID, r.thread); err != nil {
		r.logger.Error("autosave failed", "error", err)
	}
}
