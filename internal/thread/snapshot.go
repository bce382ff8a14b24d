// ABOUTME: Codec between the Thread aggregate and its loosely-typed persisted snapshot
// ABOUTME: Decoding is defensive: missing or mistyped fields fall back to safe defaults

package thread

import (
	"sort"
	"time"
)

// ToSnapshot renders the thread as the format-agnostic persisted shape. The
// version field is owned by the repository, not the codec.
func ToSnapshot(t *Thread) map[string]any {
	starring := make([]string, 0, len(t.StarringUsers))
	for u := range t.StarringUsers {
		starring = append(starring, u)
	}
	sort.Strings(starring)

	events := make([]any, 0, len(t.Events))
	for _, ev := range t.Events {
		events = append(events, encodeEvent(ev))
	}

	return map[string]any{
		"id":              t.ID,
		"projectId":       t.ProjectID,
		"username":        t.Username,
		"name":            t.Name,
		"createdAt":       t.CreatedAt.Format(time.RFC3339Nano),
		"modifiedAt":      t.ModifiedAt.Format(time.RFC3339Nano),
		"price":           t.Price,
		"starringUsers":   starring,
		"delegationDepth": t.DelegationDepth,
		"events":          events,
	}
}

// FromSnapshot rebuilds a thread from a persisted snapshot. Unknown event
// kinds are skipped; absent fields get zero values.
func FromSnapshot(snap map[string]any) *Thread {
	t := &Thread{
		ID:              asString(snap["id"]),
		ProjectID:       asString(snap["projectId"]),
		Username:        asString(snap["username"]),
		Name:            asString(snap["name"]),
		CreatedAt:       asTime(snap["createdAt"]),
		ModifiedAt:      asTime(snap["modifiedAt"]),
		Price:           asFloat(snap["price"]),
		StarringUsers:   map[string]struct{}{},
		DelegationDepth: asInt(snap["delegationDepth"]),
	}
	for _, v := range asSlice(snap["starringUsers"]) {
		if u := asString(v); u != "" {
			t.StarringUsers[u] = struct{}{}
		}
	}
	for _, v := range asSlice(snap["events"]) {
		env, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if ev := decodeEvent(env); ev != nil {
			t.Events = append(t.Events, ev)
		}
	}
	return t
}

func encodeEvent(ev Event) map[string]any {
	base := ev.Base()
	env := map[string]any{
		"kind":      ev.Kind(),
		"id":        base.ID,
		"timestamp": base.Timestamp.Format(time.RFC3339Nano),
		"weight":    base.weight,
	}
	if base.ParentKey != "" {
		env["parentKey"] = base.ParentKey
	}
	switch e := ev.(type) {
	case *MessageEvent:
		env["role"] = string(e.Role)
		env["author"] = e.Author
		env["content"] = e.Content
	case *ToolRequestEvent:
		env["callId"] = e.CallID
		env["author"] = e.Author
		env["toolName"] = e.ToolName
		env["args"] = e.Args
	case *ToolResponseEvent:
		env["requestId"] = e.RequestID
		env["author"] = e.Author
		env["output"] = e.Output
	case *InviteEvent:
		env["prompt"] = e.Prompt
		env["default"] = e.Default
	case *AnswerEvent:
		env["text"] = e.Text
		env["inReplyTo"] = e.InReplyTo
	case *ErrorEvent:
		env["message"] = e.Message
	case *HeartbeatEvent:
		// no payload
	}
	return env
}

func decodeEvent(env map[string]any) Event {
	base := restoredBase(
		asString(env["id"]),
		asTime(env["timestamp"]),
		asString(env["parentKey"]),
		asInt(env["weight"]),
	)
	switch asString(env["kind"]) {
	case KindMessage:
		role := Role(asString(env["role"]))
		if role != RoleUser && role != RoleAssistant {
			role = RoleUser
		}
		return &MessageEvent{
			EventBase: base,
			Role:      role,
			Author:    asString(env["author"]),
			Content:   asString(env["content"]),
		}
	case KindToolRequest:
		return &ToolRequestEvent{
			EventBase: base,
			CallID:    asString(env["callId"]),
			Author:    asString(env["author"]),
			ToolName:  asString(env["toolName"]),
			Args:      asString(env["args"]),
		}
	case KindToolResponse:
		return &ToolResponseEvent{
			EventBase: base,
			RequestID: asString(env["requestId"]),
			Author:    asString(env["author"]),
			Output:    asString(env["output"]),
		}
	case KindInvite:
		return &InviteEvent{
			EventBase: base,
			Prompt:    asString(env["prompt"]),
			Default:   asString(env["default"]),
		}
	case KindAnswer:
		return &AnswerEvent{
			EventBase: base,
			Text:      asString(env["text"]),
			InReplyTo: asString(env["inReplyTo"]),
		}
	case KindError:
		return &ErrorEvent{EventBase: base, Message: asString(env["message"])}
	case KindHeartbeat:
		return &HeartbeatEvent{EventBase: base}
	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
