// ABOUTME: Tests for the thread snapshot codec
// ABOUTME: Covers roundtrips, weight preservation and defensive decoding of malformed input

package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Roundtrip(t *testing.T) {
	th := New("proj", "alice", "chat")
	th.AddUserMessage("alice", "hello")
	th.AddToolCalls("agent", []ToolCall{{ID: "c1", Name: "search", Args: `{"q":1}`}})
	th.AddToolResponses("agent", []ToolResult{{RequestID: "c1", Output: "42"}})
	th.AddAgentMessage("agent", "the answer is 42")
	th.AddUsage(Usage{Price: 0.25})
	th.Star("alice")

	out := FromSnapshot(ToSnapshot(th))

	assert.Equal(t, th.ID, out.ID)
	assert.Equal(t, th.ProjectID, out.ProjectID)
	assert.Equal(t, th.Username, out.Username)
	assert.Equal(t, th.Name, out.Name)
	assert.InDelta(t, th.Price, out.Price, 1e-9)
	assert.True(t, out.StarredBy("alice"))
	require.Len(t, out.Events, len(th.Events))
	for i := range th.Events {
		assert.Equal(t, th.Events[i].Kind(), out.Events[i].Kind())
		assert.Equal(t, th.Events[i].Base().ID, out.Events[i].Base().ID)
		assert.Equal(t, th.Events[i].Base().Weight(), out.Events[i].Base().Weight(), "weight must survive the roundtrip")
	}

	req := out.Events[1].(*ToolRequestEvent)
	assert.Equal(t, "search", req.ToolName)
	res := out.Events[2].(*ToolResponseEvent)
	assert.Equal(t, "c1", res.RequestID)
}

func TestFromSnapshot_ToleratesMalformedFields(t *testing.T) {
	out := FromSnapshot(map[string]any{
		"id":            "t-1",
		"price":         "not a number",
		"starringUsers": "not a list",
		"events": []any{
			"not an envelope",
			map[string]any{"kind": "from_the_future"},
			map[string]any{"kind": KindMessage, "role": "user", "content": "kept"},
		},
	})

	assert.Equal(t, "t-1", out.ID)
	assert.Zero(t, out.Price)
	assert.Empty(t, out.StarringUsers)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "kept", out.Events[0].(*MessageEvent).Content)
}

func TestFromSnapshot_MissingEventsYieldsEmptyLog(t *testing.T) {
	out := FromSnapshot(map[string]any{"id": "t-2"})
	assert.Empty(t, out.Events)
}
