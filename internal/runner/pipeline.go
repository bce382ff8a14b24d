// ABOUTME: Contracts for the runner's external collaborators
// ABOUTME: The agent pipeline processes turns; the saver persists the thread on stop and eviction

package runner

import (
	"context"

	"github.com/strandhq/strand/internal/thread"
)

// Pipeline is the agent-handling collaborator. It consumes one user turn
// plus the current thread, appends zero or more agent/tool events to the
// thread, and reports whether the conversation is complete. Errors abort the
// turn only; the run loop continues.
type Pipeline interface {
	RunTurn(ctx context.Context, t *thread.Thread, turn string) (done bool, err error)

	// Release frees resources owned by the pipeline (tool subprocesses,
	// provider connections). Called exactly once, on runner kill.
	Release()
}

// Saver is the narrow repository slice the runner needs for autosave.
type Saver interface {
	Save(ctx context.Context, projectID string, t *thread.Thread) error
}
