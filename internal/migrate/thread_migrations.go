// ABOUTME: The current migration set for persisted thread snapshots
// ABOUTME: Upgrades legacy message lists, usage accounting and starring metadata in place

package migrate

// ThreadMigrations returns the ordered migration set for thread snapshots.
// Version 0 snapshots are legacy records that may predate typed event
// envelopes, price accounting and starring.
func ThreadMigrations() []Migration {
	return []Migration{
		{Version: 1, Transform: legacyMessagesToEvents},
		{Version: 2, Transform: introducePrice},
		{Version: 3, Transform: introduceStarring},
	}
}

// legacyMessagesToEvents converts the pre-event "messages" list into typed
// event envelopes. A missing or malformed list becomes an empty event log.
func legacyMessagesToEvents(snap Snapshot) Snapshot {
	if _, ok := snap["events"].([]any); ok {
		return snap
	}
	var events []any
	if legacy, ok := snap["messages"].([]any); ok {
		for _, v := range legacy {
			msg, ok := v.(map[string]any)
			if !ok {
				continue
			}
			content, _ := msg["content"].(string)
			role, _ := msg["role"].(string)
			if role != "user" && role != "assistant" {
				role = "user"
			}
			author, _ := msg["author"].(string)
			events = append(events, map[string]any{
				"kind":      "message",
				"role":      role,
				"author":    author,
				"content":   content,
				"weight":    len(content),
				"timestamp": msg["timestamp"],
			})
		}
	}
	if events == nil {
		events = []any{}
	}
	snap["events"] = events
	delete(snap, "messages")
	return snap
}

// introducePrice adds the price field, folding in the legacy usage.cost
// value when present. Malformed values default to zero.
func introducePrice(snap Snapshot) Snapshot {
	if _, ok := snap["price"].(float64); ok {
		return snap
	}
	price := 0.0
	if usage, ok := snap["usage"].(map[string]any); ok {
		if cost, ok := usage["cost"].(float64); ok && cost > 0 {
			price = cost
		}
	}
	snap["price"] = price
	delete(snap, "usage")
	return snap
}

// introduceStarring adds the starringUsers list and backfills modifiedAt from
// createdAt for records that never tracked modification times.
func introduceStarring(snap Snapshot) Snapshot {
	if _, ok := snap["starringUsers"].([]any); !ok {
		snap["starringUsers"] = []any{}
	}
	if _, ok := snap["modifiedAt"].(string); !ok {
		if created, ok := snap["createdAt"].(string); ok {
			snap["modifiedAt"] = created
		}
	}
	return snap
}
