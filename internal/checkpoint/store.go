// Package checkpoint implements the per-file checkpoint store (C6):
// content-hash deduplicated snapshots with bounded retention, the agent's
// authoritative execution history independent of whatever checkpointing the
// external workspace service may also perform (spec.md §6).
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas2/coderagent/pkg/models"
)

// DefaultRetention is the per-file checkpoint retention bound K, flagged in
// spec.md §9 as hard-coded in the source and treated here as configuration
// (internal/config.EngineConfig.CheckpointRetention).
const DefaultRetention = 100

// DefaultMaxBytes rejects checkpoint content above this ceiling.
const DefaultMaxBytes = 5 << 20

// ErrTooLarge is returned by Save when content exceeds the store's size
// ceiling.
type ErrTooLarge struct{ Size, Max int }

func (e *ErrTooLarge) Error() string {
	return "checkpoint content too large"
}

// SaveResult reports whether Save created a new checkpoint or found the
// content already deduplicated against the most recent entry for the file.
type SaveResult struct {
	Checkpoint models.Checkpoint
	Created    bool
}

// fileKey identifies one file's checkpoint history.
type fileKey struct {
	WorkspaceID string
	FilePath    string
}

// Saver is the checkpoint-writing contract the approval gate and iteration
// driver depend on: either the in-memory Store or the SQLite-backed
// SQLStore satisfies it, so callers needing durability can swap the
// implementation without touching C6's call sites.
type Saver interface {
	Save(workspaceID, filePath, content, editType string, now time.Time) (SaveResult, error)
}

// Store is an in-memory, per-file-bounded checkpoint history. SQLStore is
// the durable variant backed by modernc.org/sqlite for processes that need
// checkpoints to survive a restart.
type Store struct {
	mu        sync.Mutex
	retention int
	maxBytes  int64
	byFile    map[fileKey][]models.Checkpoint
	seq       uint64
}

// New constructs a Store with the given retention bound K and size ceiling.
func New(retention int, maxBytes int64) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{retention: retention, maxBytes: maxBytes, byFile: make(map[fileKey][]models.Checkpoint)}
}

// Save stores content as a new checkpoint for (workspaceID, filePath,
// editType), unless it is byte-identical to the most recent checkpoint on
// file, in which case the existing checkpoint is returned with
// Created=false (spec.md P5, checkpoint idempotence).
func (s *Store) Save(workspaceID, filePath, content, editType string, now time.Time) (SaveResult, error) {
	if int64(len(content)) > s.maxBytes {
		return SaveResult{}, &ErrTooLarge{Size: len(content), Max: int(s.maxBytes)}
	}
	hash := contentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey{WorkspaceID: workspaceID, FilePath: filePath}
	history := s.byFile[key]
	if len(history) > 0 && history[len(history)-1].ContentHash == hash {
		return SaveResult{Checkpoint: history[len(history)-1], Created: false}, nil
	}

	s.seq++
	cp := models.Checkpoint{
		ID:          checkpointID(),
		WorkspaceID: workspaceID,
		FilePath:    filePath,
		Content:     content,
		EditType:    editType,
		ContentHash: hash,
		CreatedAt:   now,
	}
	history = append(history, cp)
	if over := len(history) - s.retention; over > 0 {
		history = history[over:]
	}
	s.byFile[key] = history
	return SaveResult{Checkpoint: cp, Created: true}, nil
}

// History returns the retained checkpoints for a file, oldest first.
func (s *Store) History(workspaceID, filePath string) []models.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.byFile[fileKey{WorkspaceID: workspaceID, FilePath: filePath}]
	out := make([]models.Checkpoint, len(history))
	copy(out, history)
	return out
}

// Latest returns the most recent checkpoint for a file, if any.
func (s *Store) Latest(workspaceID, filePath string) (models.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.byFile[fileKey{WorkspaceID: workspaceID, FilePath: filePath}]
	if len(history) == 0 {
		return models.Checkpoint{}, false
	}
	return history[len(history)-1], true
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// checkpointID returns a fresh UUIDv4 for checkpoint identity. Ordering and
// file addressing are handled by the byFile map and each entry's CreatedAt;
// the ID only needs to be unique, not derivable.
func checkpointID() string {
	return uuid.NewString()
}
