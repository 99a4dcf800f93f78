package checkpoint

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLStore(t *testing.T, retention int, maxBytes int64) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := OpenSQLStore(path, retention, maxBytes)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreSaveCreatesNewCheckpoint(t *testing.T) {
	s := openTestSQLStore(t, 10, 0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := s.Save("ws1", "a.go", "v1", "write", now)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !res.Created {
		t.Error("expected Created = true for the first save")
	}
	if res.Checkpoint.Content != "v1" {
		t.Errorf("Content = %q, want v1", res.Checkpoint.Content)
	}
}

func TestSQLStoreSaveDedupesIdenticalContent(t *testing.T) {
	s := openTestSQLStore(t, 10, 0)
	now := time.Now()
	first, err := s.Save("ws1", "a.go", "same", "write", now)
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	second, err := s.Save("ws1", "a.go", "same", "write", now.Add(time.Second))
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if second.Created {
		t.Error("expected Created = false for byte-identical content")
	}
	if second.Checkpoint.ID != first.Checkpoint.ID {
		t.Error("expected the deduped checkpoint to be the same as the first")
	}
}

func TestSQLStoreSaveChangedContentCreatesNew(t *testing.T) {
	s := openTestSQLStore(t, 10, 0)
	now := time.Now()
	if _, err := s.Save("ws1", "a.go", "v1", "write", now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	res, err := s.Save("ws1", "a.go", "v2", "write", now)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !res.Created {
		t.Error("expected Created = true for changed content")
	}
}

func TestSQLStoreRetentionBound(t *testing.T) {
	s := openTestSQLStore(t, 3, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		if _, err := s.Save("ws1", "a.go", content, "write", now); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	history, err := s.History("ws1", "a.go")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(History) = %d, want 3 (retention bound)", len(history))
	}
	// The oldest two saves ("a", "b") should have been pruned; the retained
	// set should be the most recent three, oldest first.
	if history[0].Content != "c" || history[2].Content != "e" {
		t.Errorf("history = %+v, want [c d e]", history)
	}
}

func TestSQLStoreLatest(t *testing.T) {
	s := openTestSQLStore(t, 10, 0)
	if _, ok, err := s.Latest("ws1", "a.go"); err != nil || ok {
		t.Fatalf("Latest before any save: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	now := time.Now()
	if _, err := s.Save("ws1", "a.go", "v1", "write", now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	latest, ok, err := s.Latest("ws1", "a.go")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok || latest.Content != "v1" {
		t.Errorf("Latest = %+v, ok=%v, want v1", latest, ok)
	}
}

func TestSQLStoreSaveTooLarge(t *testing.T) {
	s := openTestSQLStore(t, 10, 4)
	_, err := s.Save("ws1", "a.go", "way too large for the ceiling", "write", time.Now())
	if err == nil {
		t.Fatal("expected ErrTooLarge")
	}
	if _, ok := err.(*ErrTooLarge); !ok {
		t.Fatalf("got %T, want *ErrTooLarge", err)
	}
}

func TestSQLStoreFilesAreIndependent(t *testing.T) {
	s := openTestSQLStore(t, 10, 0)
	now := time.Now()
	if _, err := s.Save("ws1", "a.go", "a-content", "write", now); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if _, err := s.Save("ws1", "b.go", "b-content", "write", now); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	ha, err := s.History("ws1", "a.go")
	if err != nil {
		t.Fatalf("History a: %v", err)
	}
	hb, err := s.History("ws1", "b.go")
	if err != nil {
		t.Fatalf("History b: %v", err)
	}
	if len(ha) != 1 || len(hb) != 1 {
		t.Error("expected each file to have its own independent history")
	}
}

func TestSQLStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := OpenSQLStore(path, 10, 0)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	now := time.Now()
	if _, err := s.Save("ws1", "a.go", "persisted", "write", now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLStore(path, 10, 0)
	if err != nil {
		t.Fatalf("reopen OpenSQLStore: %v", err)
	}
	defer reopened.Close()
	latest, ok, err := reopened.Latest("ws1", "a.go")
	if err != nil {
		t.Fatalf("Latest after reopen: %v", err)
	}
	if !ok || latest.Content != "persisted" {
		t.Errorf("Latest after reopen = %+v, ok=%v, want persisted", latest, ok)
	}
}
