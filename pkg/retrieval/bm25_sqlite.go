package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
)

// SQLiteLexicalSearcher implements LexicalSearcher using SQLite FTS5
type SQLiteLexicalSearcher struct {
	db       *sql.DB
	ftsTable string
}

// NewSQLiteLexicalSearcher creates a new SQLite BM25 searcher
func NewSQLiteLexicalSearcher(db *sql.DB, cfg *ragconfig.Config) (*SQLiteLexicalSearcher, error) {
	ftsTable := cfg.Database.FTSTable
	if ftsTable == "" {
		ftsTable = "passages_fts"
	}

	// Validate table name to prevent SQL injection
	if !isValidIdentifier(ftsTable) {
		return nil, fmt.Errorf("invalid FTS table name: %s", ftsTable)
	}

	return &SQLiteLexicalSearcher{
		db:       db,
		ftsTable: ftsTable,
	}, nil
}

// isValidIdentifier checks if a string is a valid SQL identifier
func isValidIdentifier(s string) bool {
	matched, _ := regexp.MatchString(`^[A-Za-z_][A-Za-z0-9_]*$`, s)
	return matched
}

// Search performs a BM25 full-text search over passages, best score first.
// Query tokenization (lowercase, whitespace split, no stemming) matches the
// tokenization used to build the index, so scores stay meaningful. A missing
// FTS table is reported as ErrLexicalUnavailable, never as a hard failure.
func (s *SQLiteLexicalSearcher) Search(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []LexicalHit{}, nil
	}

	if ok, err := s.available(ctx); err != nil {
		return nil, fmt.Errorf("checking FTS table: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: table %s not found", ErrLexicalUnavailable, s.ftsTable)
	}

	// Note: bm25() returns negative scores where more negative = better match
	sqlQuery := fmt.Sprintf(`
		SELECT
			p.passage_id,
			p.message_id,
			p.thread_id,
			p.subject,
			p.sender,
			p.recipients,
			p.date,
			p.ordinal,
			p.text,
			bm25(%s) as bm25_score
		FROM %s fts
		JOIN passages p ON p.passage_id = fts.passage_id
		WHERE %s MATCH ?
		ORDER BY bm25(%s)
		LIMIT ?
	`, s.ftsTable, s.ftsTable, s.ftsTable, s.ftsTable)

	rows, err := s.db.QueryContext(ctx, sqlQuery, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("BM25 search query: %w", err)
	}
	defer rows.Close()

	var results []LexicalHit
	rank := 0
	for rows.Next() {
		rank++
		var hit LexicalHit
		var subject, sender, date sql.NullString
		var recipientsJSON string

		err := rows.Scan(
			&hit.PassageID,
			&hit.MessageID,
			&hit.ThreadID,
			&subject,
			&sender,
			&recipientsJSON,
			&date,
			&hit.Ordinal,
			&hit.Text,
			&hit.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning BM25 result: %w", err)
		}

		hit.Subject = subject.String
		hit.Sender = sender.String
		hit.Date = date.String
		hit.Recipients = parseStringArray(recipientsJSON)
		hit.Rank = rank
		// BM25 scores are negative (lower = better match), convert to positive
		hit.Score = math.Abs(hit.Score)

		results = append(results, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating BM25 results: %w", err)
	}

	return results, nil
}

// available reports whether the FTS table exists.
func (s *SQLiteLexicalSearcher) available(ctx context.Context) (bool, error) {
	var name string
	row := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, s.ftsTable)
	if err := row.Scan(&name); err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns SQLite statistics
func (s *SQLiteLexicalSearcher) Stats(ctx context.Context) (LexicalStats, error) {
	stats := LexicalStats{
		Connected: true,
		FtsTable:  s.ftsTable,
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`)
	if err := row.Scan(&stats.PassagesTotal); err != nil {
		stats.Connected = false
		return stats, err
	}

	if ok, err := s.available(ctx); err == nil && ok {
		stats.FtsAvailable = true
	}

	return stats, nil
}

// buildFTSQuery converts user input to FTS5 query syntax.
// Uses OR between terms for broad recall.
// Examples:
//   - "cat dog"   -> "cat" OR "dog"
//   - "cat | dog" -> "cat" OR "dog"
func buildFTSQuery(query string) string {
	// Remove quotes (we'll add our own)
	query = strings.ReplaceAll(query, `"`, "")
	query = strings.ReplaceAll(query, `'`, "")
	query = strings.ReplaceAll(query, "|", " ")
	query = strings.ToLower(query)

	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		w = escapeFTSWord(w)
		if w != "" {
			quoted = append(quoted, fmt.Sprintf(`"%s"`, w))
		}
	}

	if len(quoted) == 0 {
		return ""
	}

	return strings.Join(quoted, " OR ")
}

// escapeFTSWord escapes special FTS5 characters in a word
func escapeFTSWord(word string) string {
	// FTS5 special characters: " ' ( ) * : ^
	replacer := strings.NewReplacer(
		`"`, ``,
		`'`, ``,
		`(`, ``,
		`)`, ``,
		`*`, ``,
		`:`, ``,
		`^`, ``,
	)
	return replacer.Replace(word)
}
