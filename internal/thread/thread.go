// ABOUTME: Thread aggregate and the pure message-log mutation API
// ABOUTME: Handles tool-call dedup, usage accounting, fork/merge delegation and truncation

package thread

import (
	"time"

	"github.com/google/uuid"
)

// ToolCall is the input shape for AddToolCalls. Calls missing a name or
// arguments are skipped silently.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolResult is the input shape for AddToolResponses. Results referencing an
// unknown request id are dropped silently.
type ToolResult struct {
	RequestID string
	Output    string
}

// Usage reports the cost of one provider call.
type Usage struct {
	Price float64
}

// Thread is a persistent, ordered conversation log plus metadata, owned by
// one user. All mutation methods are synchronous and perform no I/O.
type Thread struct {
	ID              string
	ProjectID       string
	Username        string
	Name            string
	CreatedAt       time.Time
	ModifiedAt      time.Time
	Price           float64
	StarringUsers   map[string]struct{}
	Events          []Event
	DelegationDepth int

	// forkBasePrice is the parent's price at fork time; Merge folds only the
	// increment accumulated past it.
	forkBasePrice float64
	forks         map[string]*Thread
}

// New creates an empty thread owned by username within a project.
func New(projectID, username, name string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		Username:      username,
		Name:          name,
		CreatedAt:     now,
		ModifiedAt:    now,
		StarringUsers: map[string]struct{}{},
	}
}

func (t *Thread) touch() {
	t.ModifiedAt = time.Now().UTC()
}

// AddUserMessage appends a user message and returns the created event.
func (t *Thread) AddUserMessage(author, content string) *MessageEvent {
	ev := NewMessage(RoleUser, author, content)
	t.Events = append(t.Events, ev)
	t.touch()
	return ev
}

// AddAgentMessage appends an assistant message and returns the created event.
func (t *Thread) AddAgentMessage(author, content string) *MessageEvent {
	ev := NewMessage(RoleAssistant, author, content)
	t.Events = append(t.Events, ev)
	t.touch()
	return ev
}

// AddToolCalls appends tool requests, skipping calls missing a name or
// arguments. A new request with an already-present (name, args) pair evicts
// the earlier request and its response before being appended, so at most one
// live request per pair survives.
func (t *Thread) AddToolCalls(author string, calls []ToolCall) []*ToolRequestEvent {
	var added []*ToolRequestEvent
	for _, call := range calls {
		if call.Name == "" || call.Args == "" {
			continue
		}
		ev := NewToolRequest(author, call.ID, call.Name, call.Args)
		t.evictDuplicateRequest(ev.dedupKey())
		t.Events = append(t.Events, ev)
		added = append(added, ev)
	}
	if len(added) > 0 {
		t.touch()
	}
	return added
}

// evictDuplicateRequest removes the existing request with the given dedup key
// and its matching response, if any. Correlation ids are opaque and may be
// empty, so presence is tracked separately from the stale id.
func (t *Thread) evictDuplicateRequest(key string) {
	var staleCallID string
	found := false
	for _, ev := range t.Events {
		if req, ok := ev.(*ToolRequestEvent); ok && req.dedupKey() == key {
			staleCallID = req.CallID
			found = true
			break
		}
	}
	if !found {
		return
	}
	kept := t.Events[:0]
	for _, ev := range t.Events {
		switch e := ev.(type) {
		case *ToolRequestEvent:
			if e.dedupKey() == key {
				continue
			}
		case *ToolResponseEvent:
			if staleCallID != "" && e.RequestID == staleCallID {
				continue
			}
		}
		kept = append(kept, ev)
	}
	t.Events = kept
}

// AddToolResponses appends tool responses whose request id matches a live
// request. Orphan responses are dropped without error.
func (t *Thread) AddToolResponses(author string, results []ToolResult) []*ToolResponseEvent {
	var added []*ToolResponseEvent
	for _, res := range results {
		if !t.hasRequest(res.RequestID) {
			continue
		}
		ev := NewToolResponse(author, res.RequestID, res.Output)
		t.Events = append(t.Events, ev)
		added = append(added, ev)
	}
	if len(added) > 0 {
		t.touch()
	}
	return added
}

func (t *Thread) hasRequest(callID string) bool {
	if callID == "" {
		return false
	}
	for _, ev := range t.Events {
		if req, ok := ev.(*ToolRequestEvent); ok && req.CallID == callID {
			return true
		}
	}
	return false
}

// AddUsage accumulates provider cost. Price never decreases; non-positive
// usage is ignored.
func (t *Thread) AddUsage(u Usage) {
	if u.Price <= 0 {
		return
	}
	t.Price += u.Price
	t.touch()
}

// Fork returns a child thread for sub-agent delegation. The child shares the
// parent's id and owner, sits one delegation level deeper, starts from a copy
// of the parent's events and is seeded with the parent's current price.
// Named forks are memoized per parent: repeated calls with the same agent
// name return the identical child. An empty name always yields a fresh fork.
func (t *Thread) Fork(agentName string) *Thread {
	if agentName != "" {
		if child, ok := t.forks[agentName]; ok {
			return child
		}
	}
	child := &Thread{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		Username:        t.Username,
		Name:            t.Name,
		CreatedAt:       t.CreatedAt,
		ModifiedAt:      t.ModifiedAt,
		Price:           t.Price,
		StarringUsers:   map[string]struct{}{},
		Events:          append([]Event(nil), t.Events...),
		DelegationDepth: t.DelegationDepth + 1,
		forkBasePrice:   t.Price,
	}
	if agentName != "" {
		if t.forks == nil {
			t.forks = map[string]*Thread{}
		}
		t.forks[agentName] = child
	}
	return child
}

// Merge folds the price a child fork accumulated since Fork into the parent.
// Events are not merged. Merging a child with no incremental usage is a no-op.
func (t *Thread) Merge(child *Thread) {
	if child == nil {
		return
	}
	delta := child.Price - child.forkBasePrice
	if delta <= 0 {
		return
	}
	t.Price += delta
	t.touch()
}

// TruncateAtEvent removes the event with the given id and everything after
// it. Returns false without mutating when the id is not found.
func (t *Thread) TruncateAtEvent(eventID string) bool {
	for i, ev := range t.Events {
		if ev.Base().ID == eventID {
			t.Events = t.Events[:i]
			t.touch()
			return true
		}
	}
	return false
}

// Star marks the thread as starred by username.
func (t *Thread) Star(username string) {
	if username == "" {
		return
	}
	if t.StarringUsers == nil {
		t.StarringUsers = map[string]struct{}{}
	}
	t.StarringUsers[username] = struct{}{}
	t.touch()
}

// Unstar removes username's star, if present.
func (t *Thread) Unstar(username string) {
	if _, ok := t.StarringUsers[username]; !ok {
		return
	}
	delete(t.StarringUsers, username)
	t.touch()
}

// StarredBy reports whether username has starred the thread.
func (t *Thread) StarredBy(username string) bool {
	_, ok := t.StarringUsers[username]
	return ok
}
