// ABOUTME: SQLite implementation of the Repository using modernc.org/sqlite
// ABOUTME: Stores thread snapshots as JSON with a version column driving migrations on load

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strandhq/strand/internal/migrate"
	"github.com/strandhq/strand/internal/thread"
)

// SQLiteRepository implements Repository on a local SQLite database.
type SQLiteRepository struct {
	db         *sql.DB
	migrations []migrate.Migration
	logger     *slog.Logger
}

// NewSQLiteRepository opens (or creates) the database at path, bootstrapping
// the schema and enabling WAL mode. Parent directories are created if needed.
func NewSQLiteRepository(path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "repo")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	r := &SQLiteRepository{
		db:         db,
		migrations: migrate.ThreadMigrations(),
		logger:     logger,
	}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite repository initialized", "path", path)
	return r, nil
}

func (r *SQLiteRepository) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			project_id  TEXT NOT NULL,
			id          TEXT NOT NULL,
			username    TEXT NOT NULL,
			name        TEXT NOT NULL,
			modified_at DATETIME NOT NULL,
			price       REAL NOT NULL DEFAULT 0,
			snapshot    TEXT NOT NULL,
			version     INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (project_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_threads_project_username
			ON threads(project_id, username);
	`
	_, err := r.db.Exec(schema)
	return err
}

// GetByID loads a thread, applying pending snapshot migrations. When a
// migration changed the snapshot, the upgraded form is persisted back
// best-effort before the thread is returned.
func (r *SQLiteRepository) GetByID(ctx context.Context, projectID, threadID string) (*thread.Thread, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM threads WHERE project_id = ? AND id = ?`,
		projectID, threadID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread: %w", err)
	}

	var snap map[string]any
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		r.logger.Warn("unreadable thread snapshot, treating as absent",
			"project_id", projectID,
			"thread_id", threadID,
			"error", err)
		return nil, ErrNotFound
	}

	upgraded, changed := migrate.Migrate(snap, r.migrations)
	t := thread.FromSnapshot(upgraded)
	if t.ID == "" {
		// Legacy records may predate the embedded id.
		t.ID = threadID
		upgraded["id"] = threadID
	}
	if changed {
		if err := r.persistSnapshot(ctx, projectID, t, upgraded); err != nil {
			r.logger.Error("failed to persist migrated snapshot",
				"thread_id", threadID,
				"error", err)
		} else {
			r.logger.Debug("snapshot migrated",
				"thread_id", threadID,
				"version", upgraded["version"])
		}
	}
	return t, nil
}

// Save upserts the thread's snapshot at the current migration version.
func (r *SQLiteRepository) Save(ctx context.Context, projectID string, t *thread.Thread) error {
	snap := thread.ToSnapshot(t)
	snap["version"] = migrate.CurrentVersion(r.migrations)
	return r.persistSnapshot(ctx, projectID, t, snap)
}

func (r *SQLiteRepository) persistSnapshot(ctx context.Context, projectID string, t *thread.Thread, snap map[string]any) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	version := 0
	if v, ok := snap["version"].(int); ok {
		version = v
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO threads (project_id, id, username, name, modified_at, price, snapshot, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			modified_at = excluded.modified_at,
			price = excluded.price,
			snapshot = excluded.snapshot,
			version = excluded.version
	`, projectID, t.ID, t.Username, t.Name, t.ModifiedAt.Format(time.RFC3339Nano), t.Price, string(raw), version)
	if err != nil {
		return fmt.Errorf("saving thread: %w", err)
	}
	return nil
}

// ListByProject returns thread summaries for a project. Records that cannot
// be decoded are skipped rather than failing the listing.
func (r *SQLiteRepository) ListByProject(ctx context.Context, projectID, username string) ([]Summary, error) {
	query := `SELECT id, snapshot FROM threads WHERE project_id = ?`
	args := []any{projectID}
	if username != "" {
		query += ` AND username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY modified_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		var snap map[string]any
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			r.logger.Warn("skipping unreadable thread record", "thread_id", id, "error", err)
			continue
		}
		upgraded, _ := migrate.Migrate(snap, r.migrations)
		t := thread.FromSnapshot(upgraded)
		if t.ID == "" {
			// Legacy records may predate the embedded id.
			t.ID = id
		}
		out = append(out, Summary{
			ID:         t.ID,
			Name:       t.Name,
			Username:   t.Username,
			ModifiedAt: t.ModifiedAt,
			Price:      t.Price,
			Starred:    t.StarredBy(username),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threads: %w", err)
	}
	return out, nil
}

// Delete removes a thread record, reporting whether one existed.
func (r *SQLiteRepository) Delete(ctx context.Context, projectID, threadID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM threads WHERE project_id = ? AND id = ?`,
		projectID, threadID)
	if err != nil {
		return false, fmt.Errorf("deleting thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting thread: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
