package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
	"github.com/inboxlab/mailrag/pkg/storage"
)

type fixturePassage struct {
	passageID string
	messageID string
	threadID  string
	subject   string
	sender    string
	date      string
	text      string
}

// newTestArchive builds a file-backed archive with the production schema and
// the given passages in both the passages table and the FTS index.
func newTestArchive(t *testing.T, passages []fixturePassage) *storage.Archive {
	t.Helper()

	archive, err := storage.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("opening test archive: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	db := archive.DB()
	seenMessages := map[string]bool{}
	for i, p := range passages {
		if !seenMessages[p.messageID] {
			seenMessages[p.messageID] = true
			_, err := db.Exec(
				`INSERT INTO messages (id, thread_id, subject, sender, recipients, date, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, 0)`,
				p.messageID, p.threadID, p.subject, p.sender, `["me@example.com"]`, p.date)
			if err != nil {
				t.Fatalf("inserting message: %v", err)
			}
		}

		_, err := db.Exec(
			`INSERT INTO passages (passage_id, message_id, thread_id, subject, sender, recipients, date, ordinal, text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.passageID, p.messageID, p.threadID, p.subject, p.sender, `["me@example.com"]`, p.date, i, p.text)
		if err != nil {
			t.Fatalf("inserting passage: %v", err)
		}

		_, err = db.Exec(`INSERT INTO passages_fts (passage_id, text) VALUES (?, ?)`, p.passageID, p.text)
		if err != nil {
			t.Fatalf("inserting fts row: %v", err)
		}
	}

	return archive
}

func defaultFixtures() []fixturePassage {
	return []fixturePassage{
		{
			passageID: "p1", messageID: "m1", threadID: "T1",
			subject: "Re: wifi setup", sender: "anna@example.com",
			date: "2023-04-02T09:00:00Z",
			text: "the wifi password is in the router manual, second page",
		},
		{
			passageID: "p2", messageID: "m2", threadID: "T2",
			subject: "vacation photos", sender: "ben@example.com",
			date: "2023-05-10T18:30:00Z",
			text: "attaching the photos from the lake trip",
		},
		{
			passageID: "p3", messageID: "m3", threadID: "T3",
			subject: "router upgrade", sender: "isp@example.com",
			date: "2023-06-01T08:00:00Z",
			text: "your new router ships next week, password unchanged",
		},
	}
}

func TestLexicalSearchRanksMatches(t *testing.T) {
	archive := newTestArchive(t, defaultFixtures())
	s, err := NewSQLiteLexicalSearcher(archive.DB(), ragconfig.Default())
	if err != nil {
		t.Fatalf("NewSQLiteLexicalSearcher: %v", err)
	}

	hits, err := s.Search(context.Background(), "wifi password", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	// p1 matches both terms, p3 only "password"
	if hits[0].PassageID != "p1" || hits[1].PassageID != "p3" {
		t.Fatalf("hit order = %s, %s", hits[0].PassageID, hits[1].PassageID)
	}
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Fatalf("hit %d has rank %d", i, h.Rank)
		}
		if h.Score <= 0 {
			t.Fatalf("hit %s has non-positive score %v", h.PassageID, h.Score)
		}
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("scores not best-first: %v < %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].Subject != "Re: wifi setup" || hits[0].Sender != "anna@example.com" {
		t.Fatalf("metadata not populated: %+v", hits[0].Passage)
	}
	if len(hits[0].Recipients) != 1 || hits[0].Recipients[0] != "me@example.com" {
		t.Fatalf("recipients not parsed: %v", hits[0].Recipients)
	}
}

func TestLexicalSearchLimit(t *testing.T) {
	archive := newTestArchive(t, defaultFixtures())
	s, _ := NewSQLiteLexicalSearcher(archive.DB(), ragconfig.Default())

	hits, err := s.Search(context.Background(), "router password wifi photos", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want limit 1", len(hits))
	}
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	archive := newTestArchive(t, defaultFixtures())
	s, _ := NewSQLiteLexicalSearcher(archive.DB(), ragconfig.Default())

	hits, err := s.Search(context.Background(), "a ? !", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits from an empty effective query", len(hits))
	}
}

func TestLexicalSearchMissingIndex(t *testing.T) {
	archive := newTestArchive(t, nil)
	if _, err := archive.DB().Exec(`DROP TABLE passages_fts`); err != nil {
		t.Fatalf("dropping fts table: %v", err)
	}

	s, _ := NewSQLiteLexicalSearcher(archive.DB(), ragconfig.Default())
	_, err := s.Search(context.Background(), "anything", 10)
	if !errors.Is(err, ErrLexicalUnavailable) {
		t.Fatalf("err = %v, want ErrLexicalUnavailable", err)
	}
}

func TestLexicalStats(t *testing.T) {
	archive := newTestArchive(t, defaultFixtures())
	s, _ := NewSQLiteLexicalSearcher(archive.DB(), ragconfig.Default())

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.Connected || !stats.FtsAvailable {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.PassagesTotal != 3 {
		t.Fatalf("passages total = %d, want 3", stats.PassagesTotal)
	}
	if stats.FtsTable != "passages_fts" {
		t.Fatalf("fts table = %s", stats.FtsTable)
	}
}

func TestNewSQLiteLexicalSearcherRejectsBadTableName(t *testing.T) {
	cfg := ragconfig.Default()
	cfg.Database.FTSTable = "passages_fts; DROP TABLE passages"
	if _, err := NewSQLiteLexicalSearcher(nil, cfg); err == nil {
		t.Fatalf("injection-shaped table name accepted")
	}
}

func TestBuildFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"cat dog", `"cat" OR "dog"`},
		{"cat | dog", `"cat" OR "dog"`},
		{`"quoted phrase"`, `"quoted" OR "phrase"`},
		{"UPPER Case", `"upper" OR "case"`},
		{"x y", ""},
		{"", ""},
		{"wild*card col:umn", `"wildcard" OR "column"`},
	}
	for _, tc := range cases {
		if got := buildFTSQuery(tc.in); got != tc.want {
			t.Fatalf("buildFTSQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPassageStoreGetByID(t *testing.T) {
	archive := newTestArchive(t, defaultFixtures())
	store := NewSQLitePassageStore(archive.DB())

	p, err := store.GetByID(context.Background(), "p2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if p == nil || p.Subject != "vacation photos" || p.ThreadID != "T2" {
		t.Fatalf("unexpected passage: %+v", p)
	}

	missing, err := store.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing passage returned %+v", missing)
	}
}

func TestParseStringArray(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`["a@example.com","b@example.com"]`, 2},
		{`["a@example.com", 42, null, ""]`, 1},
		{``, 0},
		{`not json`, 0},
	}
	for _, tc := range cases {
		if got := parseStringArray(tc.in); len(got) != tc.want {
			t.Fatalf("parseStringArray(%q) = %v, want %d elements", tc.in, got, tc.want)
		}
	}
}
