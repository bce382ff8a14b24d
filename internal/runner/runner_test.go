// ABOUTME: Tests for the per-thread run loop and lifecycle state machine
// ABOUTME: Covers oneshot draining, invite/answer turns, per-turn error capture, stop/resume and kill

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/internal/thread"
)

// fakePipeline echoes every turn as an agent message and records what it saw.
type fakePipeline struct {
	mu       sync.Mutex
	turns    []string
	released int

	// respond overrides the default echo behavior when set.
	respond func(t *thread.Thread, turn string) (bool, error)
}

func (p *fakePipeline) RunTurn(_ context.Context, t *thread.Thread, turn string) (bool, error) {
	p.mu.Lock()
	p.turns = append(p.turns, turn)
	respond := p.respond
	p.mu.Unlock()

	if respond != nil {
		return respond(t, turn)
	}
	t.AddAgentMessage("agent", "echo: "+turn)
	return false, nil
}

func (p *fakePipeline) Release() {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

func (p *fakePipeline) seenTurns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.turns...)
}

func (p *fakePipeline) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func awaitKind(t *testing.T, ch <-chan thread.Event, kind string) thread.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed while waiting for %s", kind)
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestRun_OneshotDrainsPromptQueueAndExits(t *testing.T) {
	th := thread.New("proj", "alice", "batch")
	fp := &fakePipeline{}
	r := New(th, fp, nil, Options{Oneshot: true, Prompts: []string{"one", "two"}})

	err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, fp.seenTurns())
	assert.Equal(t, StatusStopped, r.Status())
	// Two user messages and two echoes.
	assert.Len(t, th.Events, 4)
}

func TestRun_PipelineCompletionEndsOneshot(t *testing.T) {
	th := thread.New("proj", "alice", "batch")
	fp := &fakePipeline{respond: func(t *thread.Thread, turn string) (bool, error) {
		t.AddAgentMessage("agent", "all done")
		return true, nil
	}}
	r := New(th, fp, nil, Options{Oneshot: true, Prompts: []string{"one", "two"}})

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"one"}, fp.seenTurns(), "completion signal ends the loop before the second prompt")
}

func TestRun_PipelineErrorEmitsErrorEventAndContinues(t *testing.T) {
	th := thread.New("proj", "alice", "batch")
	fp := &fakePipeline{respond: func(t *thread.Thread, turn string) (bool, error) {
		if turn == "boom" {
			return false, errors.New("tool exploded")
		}
		t.AddAgentMessage("agent", "ok")
		return false, nil
	}}
	r := New(th, fp, nil, Options{Oneshot: true, Prompts: []string{"boom", "fine"}})

	ch, _ := r.Stream().Subscribe(context.Background())
	require.NoError(t, r.Run(context.Background()))

	errEv := awaitKind(t, ch, thread.KindError).(*thread.ErrorEvent)
	assert.Contains(t, errEv.Message, "tool exploded")
	assert.Equal(t, []string{"boom", "fine"}, fp.seenTurns(), "the loop survives a failed turn")
}

func TestRun_InteractiveInviteAnswerTurn(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	fp := &fakePipeline{}
	r := New(th, fp, nil, Options{})

	ch, _ := r.Stream().Subscribe(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(context.Background()) }()

	inv := awaitKind(t, ch, thread.KindInvite).(*thread.InviteEvent)
	require.NoError(t, r.Answer("hello there", inv.ID))

	ans := awaitKind(t, ch, thread.KindAnswer).(*thread.AnswerEvent)
	assert.Equal(t, inv.ID, ans.InReplyTo)

	msg := awaitKind(t, ch, thread.KindMessage).(*thread.MessageEvent)
	assert.Equal(t, thread.RoleUser, msg.Role)
	assert.Equal(t, "hello there", msg.Content)

	r.Kill()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not unblock the run loop")
	}
}

func TestAnswer_QueueFullLeavesNoTraceOnStream(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	r := New(th, &fakePipeline{}, nil, Options{})
	defer r.Kill()

	// The loop is not running, so nothing drains the queue.
	for i := 0; i < answerQueueSize; i++ {
		require.NoError(t, r.Answer("queued", ""))
	}
	require.Error(t, r.Answer("one too many", ""))

	recorded := 0
	for _, ev := range r.Stream().History() {
		if ev.Kind() == thread.KindAnswer {
			recorded++
		}
	}
	assert.Equal(t, answerQueueSize, recorded, "a rejected answer must not appear in the history")
}

func TestRun_SecondLoopIsRejected(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	r := New(th, &fakePipeline{}, nil, Options{})

	go r.Run(context.Background())
	require.Eventually(t, func() bool { return r.Status() == StatusRunning }, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyRunning)

	r.Kill()
}

func TestStop_HaltsLoopAndAllowsResume(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	fp := &fakePipeline{}
	saver := &recordingSaver{}
	r := New(th, fp, saver, Options{})

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return r.Status() == StatusRunning }, 2*time.Second, 10*time.Millisecond)
	r.Stop()

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not halt the run loop")
	}
	assert.Equal(t, StatusStopped, r.Status())
	assert.Greater(t, saver.count(), 0, "stop triggers an autosave")

	// Resume: a buffered answer becomes the first turn of the new loop.
	require.NoError(t, r.Answer("resumed work", ""))
	go r.Run(context.Background())
	require.Eventually(t, func() bool {
		turns := fp.seenTurns()
		return len(turns) == 1 && turns[0] == "resumed work"
	}, 2*time.Second, 10*time.Millisecond)

	r.Kill()
}

func TestKill_IsIdempotentAndReleasesPipeline(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	fp := &fakePipeline{}
	r := New(th, fp, nil, Options{})

	r.Kill()
	r.Kill()
	r.Kill()

	assert.Equal(t, 1, fp.releaseCount())
	assert.Equal(t, StatusKilled, r.Status())

	assert.ErrorIs(t, r.Answer("too late", ""), ErrRunnerKilled)
	assert.ErrorIs(t, r.Upload([]string{"too late"}), ErrRunnerKilled)
	assert.ErrorIs(t, r.Run(context.Background()), ErrRunnerKilled)
}

func TestUpload_AppendsUserMessagesDirectly(t *testing.T) {
	th := thread.New("proj", "alice", "chat")
	r := New(th, &fakePipeline{}, nil, Options{})

	ch, _ := r.Stream().Subscribe(context.Background())
	require.NoError(t, r.Upload([]string{"notes.txt contents", "report.md contents"}))

	require.Len(t, th.Events, 2)
	first := awaitKind(t, ch, thread.KindMessage).(*thread.MessageEvent)
	assert.Equal(t, thread.RoleUser, first.Role)
	assert.Equal(t, "notes.txt contents", first.Content)
}

// recordingSaver counts autosaves.
type recordingSaver struct {
	mu    sync.Mutex
	saves int
}

func (s *recordingSaver) Save(_ context.Context, _ string, _ *thread.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
