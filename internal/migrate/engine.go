// ABOUTME: Versioned upgrade engine for persisted thread snapshots
// ABOUTME: Applies ordered transforms past the snapshot's recorded version and stamps the current marker

package migrate

import "sort"

// Snapshot is the loosely-typed persisted shape migrations operate on.
// Transforms must tolerate missing, null or mistyped fields and substitute
// safe defaults instead of failing.
type Snapshot = map[string]any

// Migration upgrades a snapshot from version-1 to Version.
type Migration struct {
	Version   int
	Transform func(Snapshot) Snapshot
}

// CurrentVersion is the reserved "already current" marker for a migration
// set: one past the highest migration number.
func CurrentVersion(migrations []Migration) int {
	return len(migrations) + 1
}

// Migrate applies every migration newer than the snapshot's version, in
// ascending order, and stamps the result with the current-version marker.
// An absent or mistyped version field is treated as 0 (legacy). The returned
// flag reports whether the snapshot changed and should be persisted; running
// Migrate on an already-current snapshot returns it unchanged.
func Migrate(snap Snapshot, migrations []Migration) (Snapshot, bool) {
	if snap == nil {
		snap = Snapshot{}
	}
	from := snapshotVersion(snap)
	current := CurrentVersion(migrations)
	if from >= current {
		return snap, false
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	out := cloneSnapshot(snap)
	for _, m := range ordered {
		if m.Version <= from {
			continue
		}
		if next := m.Transform(out); next != nil {
			out = next
		}
	}
	out["version"] = current
	return out, true
}

func snapshotVersion(snap Snapshot) int {
	switch v := snap["version"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}
