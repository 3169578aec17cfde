package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchemaAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	archive, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer archive.Close()

	db := archive.DB()
	if _, err := db.Exec(
		`INSERT INTO messages (id, thread_id, subject, sender, recipients, date, created_at)
		 VALUES ('m1', 'T1', 's', 'a@example.com', '[]', '2023-01-01', 0)`); err != nil {
		t.Fatalf("inserting message: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if _, err := db.Exec(
			`INSERT INTO passages (passage_id, message_id, thread_id, subject, sender, recipients, date, ordinal, text)
			 VALUES (?, 'm1', 'T1', 's', 'a@example.com', '[]', '2023-01-01', 0, 'body')`, id); err != nil {
			t.Fatalf("inserting passage: %v", err)
		}
	}

	stats, err := archive.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.MessageCount != 1 || stats.PassageCount != 2 || stats.ThreadCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestOpenReadOnlyExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	rw, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rw.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()

	if _, err := ro.DB().Exec(`INSERT INTO messages (id, thread_id, created_at) VALUES ('m1', 'T1', 0)`); err == nil {
		t.Fatalf("write succeeded on a read-only archive")
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Fatalf("expected error for missing archive")
	}
}
