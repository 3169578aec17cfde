// mailrag-fts-setup builds (or rebuilds) the FTS5 index over the passages
// table of an existing mail archive. Run it once after ingestion, or again
// after changing the FTS table name in mailrag.yaml.
//
// Usage:
//
//	mailrag-fts-setup --db mail.db
//	mailrag-fts-setup --db mail.db --rebuild
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
	"github.com/inboxlab/mailrag/pkg/storage"
)

var (
	dbPath  = flag.String("db", "", "Path to SQLite archive (defaults to database.sqlite from config)")
	cfgPath = flag.String("config", "", "Path to mailrag.yaml (auto-detected if not specified)")
	rebuild = flag.Bool("rebuild", false, "Drop and repopulate the FTS table even if it exists")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

var validIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := ragconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		cfg = ragconfig.Default()
		log.Debug().Err(err).Msg("No config file found, using defaults")
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite archive path is empty (set -db or database.sqlite in mailrag.yaml)")
	}

	ftsTable := cfg.Database.FTSTable
	if ftsTable == "" {
		ftsTable = "passages_fts"
	}
	if !validIdentRe.MatchString(ftsTable) {
		log.Warn().Str("table", ftsTable).Msg("Invalid FTS table name, falling back to 'passages_fts'")
		ftsTable = "passages_fts"
	}

	archive, err := storage.Open(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open mail archive")
	}
	defer archive.Close()

	ctx := context.Background()
	db := archive.DB()

	if *rebuild {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ftsTable)); err != nil {
			log.Fatal().Err(err).Msg("Failed to drop FTS table")
		}
	}

	if err := createFTSTable(ctx, db, ftsTable); err != nil {
		log.Fatal().Err(err).Msg("Failed to create FTS table")
	}

	indexed, err := populateFTS(ctx, db, ftsTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to populate FTS index")
	}

	if err := verifyFTS(ctx, db, ftsTable); err != nil {
		log.Warn().Err(err).Msg("FTS verification failed")
	}

	stats, err := archive.GetStats()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read archive stats")
	}

	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("FTS5 SETUP COMPLETE")
	fmt.Println("============================================================")
	fmt.Printf("Passages in archive: %d\n", stats.PassageCount)
	fmt.Printf("Passages indexed:    %d\n", indexed)
	fmt.Printf("FTS table:           %s\n", ftsTable)
}

func createFTSTable(ctx context.Context, db *sql.DB, ftsTable string) error {
	// Tokenizer must stay in sync with the query side: unicode61 lowercases
	// and splits on non-alphanumerics with no stemming.
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
			passage_id UNINDEXED,
			text,
			tokenize = 'unicode61'
		)
	`, ftsTable))
	if err != nil {
		return fmt.Errorf("creating FTS5 table: %w", err)
	}
	return nil
}

// populateFTS loads every passage not yet present in the FTS table, in one
// transaction so a failed run leaves the index untouched.
func populateFTS(ctx context.Context, db *sql.DB, ftsTable string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (passage_id, text)
		SELECT p.passage_id, p.text
		FROM passages p
		WHERE p.passage_id NOT IN (SELECT passage_id FROM %s)
	`, ftsTable, ftsTable))
	if err != nil {
		return 0, fmt.Errorf("inserting passages: %w", err)
	}

	inserted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}

	return int(inserted), nil
}

// verifyFTS runs a smoke query to confirm bm25() works on the new table.
func verifyFTS(ctx context.Context, db *sql.DB, ftsTable string) error {
	var count int
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ftsTable))
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("counting FTS rows: %w", err)
	}

	if count > 0 {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(
			`SELECT passage_id, bm25(%s) FROM %s WHERE %s MATCH ? LIMIT 1`,
			ftsTable, ftsTable, ftsTable), `"the"`)
		if err != nil {
			return fmt.Errorf("bm25 smoke query: %w", err)
		}
		rows.Close()
	}

	log.Info().Int("rows", count).Str("table", ftsTable).Msg("FTS index verified")
	return nil
}
