// ABOUTME: Owns every resident ThreadRunner, its live connections and their lifecycle timers
// ABOUTME: Single authority for session creation, fan-out, heartbeats, timeout eviction and shutdown

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strandhq/strand/internal/repo"
	"github.com/strandhq/strand/internal/runner"
	"github.com/strandhq/strand/internal/thread"
)

// ErrNoSession indicates no resident runner exists for the thread id.
var ErrNoSession = errors.New("no session for thread")

// ErrShuttingDown indicates the registry no longer accepts new sessions.
var ErrShuttingDown = errors.New("registry shutting down")

// Config holds the registry's timing windows. Zero values fall back to the
// documented defaults.
type Config struct {
	// DisconnectGrace is how long a session survives after its last live
	// connection detaches. Default 5m.
	DisconnectGrace time.Duration

	// InactivityInteractive evicts an interactive session with no turn or
	// attach activity. Default 8h.
	InactivityInteractive time.Duration

	// InactivityOneshot evicts a oneshot session. Default 30m.
	InactivityOneshot time.Duration

	// HeartbeatInterval paces keep-alives to live connections. Default 30s.
	HeartbeatInterval time.Duration

	// InviteWait bounds how long Inject waits for an invite before falling
	// back to a bare answer. Default runner.DefaultInviteWait.
	InviteWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 5 * time.Minute
	}
	if c.InactivityInteractive <= 0 {
		c.InactivityInteractive = 8 * time.Hour
	}
	if c.InactivityOneshot <= 0 {
		c.InactivityOneshot = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.InviteWait <= 0 {
		c.InviteWait = runner.DefaultInviteWait
	}
	return c
}

// PipelineFactory builds the agent pipeline owned by one runner.
type PipelineFactory func(threadID string) runner.Pipeline

// CreateOptions configure the session created when no runner is resident.
type CreateOptions struct {
	ProjectID string
	Username  string
	Name      string
	Oneshot   bool
	Prompts   []string
}

// connection couples a handle with the cancel func of its forwarding
// goroutine.
type connection struct {
	handle ConnectionHandle
	cancel context.CancelFunc
}

// entry wraps one resident runner. All mutation of an entry is sequenced
// under its mutex so concurrent attach/detach/timer updates cannot lose
// writes.
type entry struct {
	mu              sync.Mutex
	runner          *runner.Runner
	conns           map[string]*connection
	oneshot         bool
	lastActivity    time.Time
	disconnectTimer *time.Timer
	inactivityTimer *time.Timer
	ctx             context.Context
	cancel          context.CancelFunc
}

// Registry owns all ThreadRunners of one process. At most one runner exists
// per thread id; runners and connections hold no back-references, so
// Shutdown can tear everything down in bulk.
type Registry struct {
	mu           sync.Mutex
	entries      map[string]*entry
	shuttingDown bool

	repo    repo.Repository
	factory PipelineFactory
	cfg     Config
	logger  *slog.Logger

	baseCtx       context.Context
	cancelBase    context.CancelFunc
	heartbeatDone chan struct{}
}

// NewRegistry creates a registry and starts its heartbeat ticker.
func NewRegistry(r repo.Repository, factory PipelineFactory, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{
		entries:       make(map[string]*entry),
		repo:          r,
		factory:       factory,
		cfg:           cfg.withDefaults(),
		logger:        logger.With("component", "registry"),
		baseCtx:       ctx,
		cancelBase:    cancel,
		heartbeatDone: make(chan struct{}),
	}
	go reg.heartbeatLoop()
	return reg
}

// GetOrCreate returns the resident runner for threadID, creating one when
// absent. The thread is loaded through the repository (migrations applied)
// or created fresh when unknown. An empty threadID creates a new thread with
// a generated id. Stopped runners are resumed.
func (r *Registry) GetOrCreate(ctx context.Context, threadID string, opts CreateOptions) (*runner.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shuttingDown {
		return nil, ErrShuttingDown
	}
	if e, ok := r.entries[threadID]; ok {
		r.touchLocked(e)
		if e.runner.Status() == runner.StatusStopped {
			go r.runLoop(e)
		}
		return e.runner, nil
	}

	th, err := r.loadOrCreateThread(ctx, threadID, opts)
	if err != nil {
		return nil, err
	}

	entryCtx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{
		conns:        make(map[string]*connection),
		oneshot:      opts.Oneshot,
		lastActivity: time.Now(),
		ctx:          entryCtx,
		cancel:       cancel,
	}
	e.runner = runner.New(th, r.factory(th.ID), r.repo, runner.Options{
		Oneshot:    opts.Oneshot,
		Prompts:    opts.Prompts,
		OnActivity: func() { r.touch(th.ID) },
		Logger:     r.logger,
	})
	e.inactivityTimer = time.AfterFunc(r.inactivityWindow(e.oneshot), func() {
		r.logger.Info("session evicted for inactivity", "thread_id", th.ID)
		r.Cleanup(th.ID)
	})
	r.entries[th.ID] = e

	go r.runLoop(e)

	r.logger.Info("session created",
		"thread_id", th.ID,
		"project_id", th.ProjectID,
		"username", th.Username,
		"oneshot", opts.Oneshot)
	return e.runner, nil
}

func (r *Registry) loadOrCreateThread(ctx context.Context, threadID string, opts CreateOptions) (*thread.Thread, error) {
	if threadID != "" {
		th, err := r.repo.GetByID(ctx, opts.ProjectID, threadID)
		if err == nil {
			return th, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
		}
	}
	th := thread.New(opts.ProjectID, opts.Username, opts.Name)
	if threadID != "" {
		th.ID = threadID
	}
	return th, nil
}

func (r *Registry) runLoop(e *entry) {
	if err := e.runner.Run(e.ctx); err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, runner.ErrAlreadyRunning) {
		r.logger.Error("run loop exited", "thread_id", e.runner.ThreadID(), "error", err)
	}
}

func (r *Registry) inactivityWindow(oneshot bool) time.Duration {
	if oneshot {
		return r.cfg.InactivityOneshot
	}
	return r.cfg.InactivityInteractive
}

// touch resets the inactivity window after qualifying activity.
func (r *Registry) touch(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[threadID]; ok {
		r.touchLocked(e)
	}
}

func (r *Registry) touchLocked(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivity = time.Now()
	if e.inactivityTimer != nil {
		e.inactivityTimer.Reset(r.inactivityWindow(e.oneshot))
	}
}

// AttachConnection registers a live handle on the session. The full ordered
// event history is replayed to this handle only, before any live event it
// receives; a pending disconnect eviction is cancelled.
func (r *Registry) AttachConnection(threadID string, handle ConnectionHandle) error {
	r.mu.Lock()
	e, ok := r.entries[threadID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	e.mu.Lock()
	if e.disconnectTimer != nil {
		e.disconnectTimer.Stop()
		e.disconnectTimer = nil
	}
	e.lastActivity = time.Now()
	if e.inactivityTimer != nil {
		e.inactivityTimer.Reset(r.inactivityWindow(e.oneshot))
	}
	connCtx, cancel := context.WithCancel(e.ctx)
	ch, _ := e.runner.Stream().SubscribeWithReplay(connCtx)
	e.conns[handle.ID()] = &connection{handle: handle, cancel: cancel}
	e.mu.Unlock()

	go r.forward(threadID, handle, ch)

	r.logger.Debug("connection attached", "thread_id", threadID, "handle_id", handle.ID())
	return nil
}

// forward pushes one handle's subscription to its transport. A send failure
// prunes the handle; it never affects other connections.
func (r *Registry) forward(threadID string, handle ConnectionHandle, ch <-chan thread.Event) {
	for ev := range ch {
		if err := handle.Send(ev); err != nil {
			r.logger.Debug("pruning dead connection",
				"thread_id", threadID,
				"handle_id", handle.ID(),
				"error", err)
			r.DetachConnection(threadID, handle.ID())
			return
		}
	}
}

// DetachConnection removes a handle. When the last connection goes, the
// disconnect grace timer is armed; a re-attach before it fires cancels the
// pending eviction. Unknown thread or handle ids are no-ops.
func (r *Registry) DetachConnection(threadID, handleID string) {
	r.mu.Lock()
	e, ok := r.entries[threadID]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	conn, ok := e.conns[handleID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.conns, handleID)
	conn.cancel()
	if len(e.conns) == 0 && e.disconnectTimer == nil {
		e.disconnectTimer = time.AfterFunc(r.cfg.DisconnectGrace, func() {
			r.logger.Info("session evicted after disconnect grace", "thread_id", threadID)
			r.Cleanup(threadID)
		})
	}
	e.mu.Unlock()

	r.logger.Debug("connection detached", "thread_id", threadID, "handle_id", handleID)
}

// heartbeatLoop pushes keep-alives to every entry with live connections so
// dead transports surface as send failures and idle streams stay open
// through intermediary proxies.
func (r *Registry) heartbeatLoop() {
	defer close(r.heartbeatDone)
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.baseCtx.Done():
			return
		case <-ticker.C:
			r.pushHeartbeats()
		}
	}
}

func (r *Registry) pushHeartbeats() {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	for threadID, e := range entries {
		e.mu.Lock()
		handles := make([]ConnectionHandle, 0, len(e.conns))
		for _, c := range e.conns {
			handles = append(handles, c.handle)
		}
		e.mu.Unlock()

		if len(handles) == 0 {
			continue
		}
		hb := thread.NewHeartbeat()
		for _, h := range handles {
			if err := h.Send(hb); err != nil {
				r.DetachConnection(threadID, h.ID())
			}
		}
	}
}

// Cleanup evicts the session: kill (with autosave), close all connection
// handles, stop timers and drop the entry. Idempotent; a missing entry is a
// no-op.
func (r *Registry) Cleanup(threadID string) {
	r.mu.Lock()
	e, ok := r.entries[threadID]
	if ok {
		delete(r.entries, threadID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.disconnectTimer != nil {
		e.disconnectTimer.Stop()
		e.disconnectTimer = nil
	}
	if e.inactivityTimer != nil {
		e.inactivityTimer.Stop()
		e.inactivityTimer = nil
	}
	conns := make([]*connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.conns = make(map[string]*connection)
	e.mu.Unlock()

	e.runner.Kill()
	for _, c := range conns {
		c.cancel()
		if err := c.handle.Close(); err != nil {
			r.logger.Debug("closing connection handle", "thread_id", threadID, "error", err)
		}
	}
	e.cancel()

	r.logger.Debug("session cleaned up", "thread_id", threadID)
}

// Shutdown stops the heartbeat, concurrently cleans up every resident entry,
// waits for all cleanups to finish and clears the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return
	}
	r.shuttingDown = true
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.cancelBase()
	<-r.heartbeatDone

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(threadID string) {
			defer wg.Done()
			r.Cleanup(threadID)
		}(id)
	}
	wg.Wait()

	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.logger.Info("registry shut down", "sessions", len(ids))
}

// Inject delivers text to a resident runner whose blocking state is unknown,
// using the configured invite wait. The returned flag reports whether the
// answer correlated with a replayed invite.
func (r *Registry) Inject(ctx context.Context, threadID, text string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[threadID]
	r.mu.Unlock()
	if !ok {
		return false, ErrNoSession
	}
	r.touch(threadID)
	return runner.Inject(ctx, e.runner, text, r.cfg.InviteWait)
}

// Runner returns the resident runner for a thread id, if any.
func (r *Registry) Runner(threadID string) (*runner.Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[threadID]
	if !ok {
		return nil, false
	}
	return e.runner, true
}

// LiveConnections reports how many handles observe a thread.
func (r *Registry) LiveConnections(threadID string) int {
	r.mu.Lock()
	e, ok := r.entries[threadID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}
