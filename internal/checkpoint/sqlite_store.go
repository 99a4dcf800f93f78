package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atlas2/coderagent/pkg/models"
)

// SQLStore is a durable variant of Store: the same content-hash
// deduplication and retention-bound semantics, backed by a SQLite file so
// checkpoints survive a process restart. Built on modernc.org/sqlite (pure
// Go, no cgo) rather than mattn/go-sqlite3, matching the teacher's
// preference for the cgo-free driver when only one is needed.
type SQLStore struct {
	db        *sql.DB
	retention int
	maxBytes  int64
}

// OpenSQLStore opens (creating if absent) a SQLite-backed checkpoint store
// at path.
func OpenSQLStore(path string, retention int, maxBytes int64) (*SQLStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLStore{db: db, retention: retention, maxBytes: maxBytes}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	content TEXT NOT NULL,
	edit_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_file ON checkpoints(workspace_id, file_path, seq);
`

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save mirrors Store.Save, persisting to SQLite instead of an in-memory
// map, and pruning to the retention bound K in the same transaction.
func (s *SQLStore) Save(workspaceID, filePath, content, editType string, now time.Time) (SaveResult, error) {
	if int64(len(content)) > s.maxBytes {
		return SaveResult{}, &ErrTooLarge{Size: len(content), Max: int(s.maxBytes)}
	}
	hash := contentHash(content)

	tx, err := s.db.Begin()
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	var lastHash, lastID string
	var lastCreated time.Time
	var lastEdit string
	row := tx.QueryRow(`SELECT id, content_hash, edit_type, created_at FROM checkpoints
		WHERE workspace_id = ? AND file_path = ? ORDER BY seq DESC LIMIT 1`, workspaceID, filePath)
	switch err := row.Scan(&lastID, &lastHash, &lastEdit, &lastCreated); {
	case err == sql.ErrNoRows:
	case err != nil:
		return SaveResult{}, fmt.Errorf("query last checkpoint: %w", err)
	case lastHash == hash:
		return SaveResult{Checkpoint: models.Checkpoint{
			ID: lastID, WorkspaceID: workspaceID, FilePath: filePath,
			Content: content, EditType: lastEdit, ContentHash: hash, CreatedAt: lastCreated,
		}, Created: false}, nil
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM checkpoints WHERE workspace_id = ? AND file_path = ?`, workspaceID, filePath).Scan(&maxSeq); err != nil {
		return SaveResult{}, fmt.Errorf("query max seq: %w", err)
	}
	nextSeq := maxSeq.Int64 + 1

	cp := models.Checkpoint{
		ID: checkpointID(), WorkspaceID: workspaceID, FilePath: filePath,
		Content: content, EditType: editType, ContentHash: hash, CreatedAt: now,
	}
	if _, err := tx.Exec(`INSERT INTO checkpoints (id, workspace_id, file_path, content, edit_type, content_hash, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, cp.ID, cp.WorkspaceID, cp.FilePath, cp.Content, cp.EditType, cp.ContentHash, cp.CreatedAt, nextSeq); err != nil {
		return SaveResult{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE workspace_id = ? AND file_path = ? AND seq <= ?`,
		workspaceID, filePath, nextSeq-int64(s.retention)); err != nil {
		return SaveResult{}, fmt.Errorf("prune checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return SaveResult{Checkpoint: cp, Created: true}, nil
}

// History returns the retained checkpoints for a file, oldest first.
func (s *SQLStore) History(workspaceID, filePath string) ([]models.Checkpoint, error) {
	rows, err := s.db.Query(`SELECT id, workspace_id, file_path, content, edit_type, content_hash, created_at
		FROM checkpoints WHERE workspace_id = ? AND file_path = ? ORDER BY seq ASC`, workspaceID, filePath)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint history: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.WorkspaceID, &cp.FilePath, &cp.Content, &cp.EditType, &cp.ContentHash, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Latest returns the most recent checkpoint for a file, if any.
func (s *SQLStore) Latest(workspaceID, filePath string) (models.Checkpoint, bool, error) {
	var cp models.Checkpoint
	row := s.db.QueryRow(`SELECT id, workspace_id, file_path, content, edit_type, content_hash, created_at
		FROM checkpoints WHERE workspace_id = ? AND file_path = ? ORDER BY seq DESC LIMIT 1`, workspaceID, filePath)
	switch err := row.Scan(&cp.ID, &cp.WorkspaceID, &cp.FilePath, &cp.Content, &cp.EditType, &cp.ContentHash, &cp.CreatedAt); {
	case err == sql.ErrNoRows:
		return models.Checkpoint{}, false, nil
	case err != nil:
		return models.Checkpoint{}, false, fmt.Errorf("query latest checkpoint: %w", err)
	default:
		return cp, true, nil
	}
}
