// ABOUTME: Closed set of event variants recorded on a thread's message log
// ABOUTME: Every event carries a sortable id, timestamp and an immutable weight for budget partitioning

package thread

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies the speaker of a MessageEvent.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Event kind discriminators, used in snapshot envelopes and broadcast payloads.
const (
	KindMessage      = "message"
	KindToolRequest  = "tool_request"
	KindToolResponse = "tool_response"
	KindInvite       = "invite"
	KindAnswer       = "answer"
	KindError        = "error"
	KindHeartbeat    = "heartbeat"
)

// Event is the closed set of entries a thread's log and event stream can
// carry. All variants live in this package; consumers switch exhaustively
// on the concrete type or on Kind().
type Event interface {
	Base() *EventBase
	Kind() string
}

// EventBase holds the fields shared by every event variant. The weight is
// computed once at construction and never recomputed.
type EventBase struct {
	ID        string
	Timestamp time.Time
	ParentKey string
	weight    int
}

// Base returns the shared event fields.
func (b *EventBase) Base() *EventBase { return b }

// Weight is the caller-visible cost unit used by Partition.
func (b *EventBase) Weight() int { return b.weight }

func newBase(weight int) EventBase {
	return EventBase{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		weight:    weight,
	}
}

// restoredBase rebuilds an EventBase from persisted fields, preserving the
// originally computed weight.
func restoredBase(id string, ts time.Time, parentKey string, weight int) EventBase {
	if id == "" {
		id = ulid.Make().String()
	}
	return EventBase{ID: id, Timestamp: ts, ParentKey: parentKey, weight: weight}
}

// MessageEvent is a user or assistant message.
type MessageEvent struct {
	EventBase
	Role    Role
	Author  string
	Content string
}

func (e *MessageEvent) Kind() string { return KindMessage }

// NewMessage builds a message event; its weight is the content length.
func NewMessage(role Role, author, content string) *MessageEvent {
	return &MessageEvent{
		EventBase: newBase(len(content)),
		Role:      role,
		Author:    author,
		Content:   content,
	}
}

// ToolRequestEvent is an agent-initiated tool invocation. CallID is an opaque
// correlation key linking the eventual response; it is not part of the
// request's dedup identity, which is the (ToolName, Args) pair.
type ToolRequestEvent struct {
	EventBase
	CallID   string
	Author   string
	ToolName string
	Args     string
}

func (e *ToolRequestEvent) Kind() string { return KindToolRequest }

func (e *ToolRequestEvent) dedupKey() string { return e.ToolName + "\x00" + e.Args }

// NewToolRequest builds a tool request; its weight covers name and arguments.
func NewToolRequest(author, callID, toolName, args string) *ToolRequestEvent {
	return &ToolRequestEvent{
		EventBase: newBase(len(toolName) + len(args)),
		CallID:    callID,
		Author:    author,
		ToolName:  toolName,
		Args:      args,
	}
}

// ToolResponseEvent carries the output of a previously requested tool call.
type ToolResponseEvent struct {
	EventBase
	RequestID string
	Author    string
	Output    string
}

func (e *ToolResponseEvent) Kind() string { return KindToolResponse }

// NewToolResponse builds a tool response; its weight is the output length.
func NewToolResponse(author, requestID, output string) *ToolResponseEvent {
	return &ToolResponseEvent{
		EventBase: newBase(len(output)),
		RequestID: requestID,
		Author:    author,
		Output:    output,
	}
}

// InviteEvent signals that a runner is suspended awaiting external input.
// Invites travel on the event stream only; they are not part of the log.
type InviteEvent struct {
	EventBase
	Prompt  string
	Default string
}

func (e *InviteEvent) Kind() string { return KindInvite }

// NewInvite builds an invite event.
func NewInvite(prompt, defaultAnswer string) *InviteEvent {
	return &InviteEvent{
		EventBase: newBase(len(prompt)),
		Prompt:    prompt,
		Default:   defaultAnswer,
	}
}

// AnswerEvent is external input delivered in reply to an invite. InReplyTo
// carries the invite's id when the answer is correlated; a bare answer
// leaves it empty.
type AnswerEvent struct {
	EventBase
	Text      string
	InReplyTo string
}

func (e *AnswerEvent) Kind() string { return KindAnswer }

// NewAnswer builds an answer event.
func NewAnswer(text, inReplyTo string) *AnswerEvent {
	return &AnswerEvent{
		EventBase: newBase(len(text)),
		Text:      text,
		InReplyTo: inReplyTo,
	}
}

// ErrorEvent reports a per-turn pipeline failure to stream observers.
type ErrorEvent struct {
	EventBase
	Message string
}

func (e *ErrorEvent) Kind() string { return KindError }

// NewError builds an error event.
func NewError(message string) *ErrorEvent {
	return &ErrorEvent{EventBase: newBase(len(message)), Message: message}
}

// HeartbeatEvent is a lightweight keep-alive pushed to live connections.
type HeartbeatEvent struct {
	EventBase
}

func (e *HeartbeatEvent) Kind() string { return KindHeartbeat }

// NewHeartbeat builds a heartbeat event.
func NewHeartbeat() *HeartbeatEvent {
	return &HeartbeatEvent{EventBase: newBase(0)}
}
