package retrieval

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLitePassageStore implements PassageStore using the archive database
type SQLitePassageStore struct {
	db *sql.DB
}

// NewSQLitePassageStore creates a new SQLite passage store
func NewSQLitePassageStore(db *sql.DB) *SQLitePassageStore {
	return &SQLitePassageStore{db: db}
}

// GetByID retrieves a single passage by its ID. Returns (nil, nil) when the
// passage does not exist.
func (s *SQLitePassageStore) GetByID(ctx context.Context, passageID string) (*Passage, error) {
	query := `
		SELECT
			passage_id,
			message_id,
			thread_id,
			subject,
			sender,
			recipients,
			date,
			ordinal,
			text
		FROM passages
		WHERE passage_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, passageID)

	var p Passage
	var subject, sender, date sql.NullString
	var recipientsJSON string

	err := row.Scan(
		&p.PassageID,
		&p.MessageID,
		&p.ThreadID,
		&subject,
		&sender,
		&recipientsJSON,
		&date,
		&p.Ordinal,
		&p.Text,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning passage: %w", err)
	}

	p.Subject = subject.String
	p.Sender = sender.String
	p.Date = date.String
	p.Recipients = parseStringArray(recipientsJSON)

	return &p, nil
}
