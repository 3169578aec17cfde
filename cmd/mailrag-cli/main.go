// mailrag-cli searches the email archive from the terminal. It talks to the
// same backends as mailrag-server; useful for debugging ranking without the
// HTTP layer in between.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/inboxlab/mailrag/pkg/embedding"
	"github.com/inboxlab/mailrag/pkg/llm"
	"github.com/inboxlab/mailrag/pkg/ragconfig"
	"github.com/inboxlab/mailrag/pkg/retrieval"
	"github.com/inboxlab/mailrag/pkg/storage"
	"github.com/inboxlab/mailrag/pkg/util"
)

var (
	dbPath    = flag.String("db", "", "Path to SQLite archive (defaults to config)")
	cfgPath   = flag.String("config", "", "Path to mailrag.yaml (auto-detected if not specified)")
	question  = flag.String("q", "", "Question to search for")
	mode      = flag.String("mode", "hybrid", "Search mode: lexical, vector, or hybrid")
	limit     = flag.Int("limit", 0, "Final result budget (0 = config default)")
	noExpand  = flag.Bool("no-expand", false, "Disable LLM query expansion")
	showStats = flag.Bool("stats", false, "Show archive stats and exit")
	asJSON    = flag.Bool("json", false, "Print the full response as JSON")
	verbose   = flag.Bool("v", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	logLevel := zerolog.WarnLevel
	if *verbose {
		logLevel = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(logLevel)
	zerolog.SetGlobalLevel(logLevel)

	cfg, err := ragconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		cfg = ragconfig.Default()
		log.Debug().Err(err).Msg("No config file found, using defaults")
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}

	archive, err := storage.OpenReadOnly(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open mail archive")
	}
	defer archive.Close()

	if *showStats {
		stats, err := archive.GetStats()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to get stats")
		}
		fmt.Printf("Archive Statistics:\n")
		fmt.Printf("  Messages: %d\n", stats.MessageCount)
		fmt.Printf("  Passages: %d\n", stats.PassageCount)
		fmt.Printf("  Threads:  %d\n", stats.ThreadCount)
		return
	}

	if *question == "" {
		fmt.Fprintln(os.Stderr, "usage: mailrag-cli -q \"your question\" [-mode hybrid] [-limit 10]")
		os.Exit(2)
	}

	ctx := context.Background()
	apiKey := os.Getenv("OPENAI_API_KEY")

	vectors, err := retrieval.NewMilvusVectorSearcher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}

	lexical, err := retrieval.NewSQLiteLexicalSearcher(archive.DB(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create lexical searcher")
	}

	passages := retrieval.NewSQLitePassageStore(archive.DB())

	embedder := embedding.New(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    apiKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})

	var expander retrieval.Expander
	if cfg.Expansion.Enabled && !*noExpand {
		completions := llm.New(llm.Config{
			BaseURL:     cfg.Expansion.BaseURL,
			APIKey:      apiKey,
			Model:       cfg.Expansion.Model,
			Temperature: cfg.Expansion.Temperature,
			MaxTokens:   cfg.Expansion.MaxTokens,
			Timeout:     time.Duration(cfg.Expansion.TimeoutSeconds) * time.Second,
		})
		expander = retrieval.NewQueryExpander(completions, cfg)
	}

	retriever := retrieval.NewRetriever(cfg, lexical, vectors, passages, embedder, expander)
	defer retriever.Close()

	req := retrieval.SearchRequest{
		Question: retrieval.SanitizeQuestion(*question),
		Mode:     retrieval.SearchMode(*mode),
		Limit:    *limit,
	}
	if err := retrieval.ValidateSearchRequest(&req); err != nil {
		log.Fatal().Err(err).Msg("Invalid request")
	}

	resp, err := retriever.Search(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Search failed")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode response")
		}
		return
	}

	fmt.Printf("Query type: %s | expansions: %v | took %dms\n\n", resp.QueryType, resp.Expansions, resp.TookMs)
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, sp := range resp.Results {
		fmt.Printf("%2d. [%.4f] %s\n", i+1, sp.Score, sp.Subject)
		fmt.Printf("    From: %s | Date: %s | Thread: %s\n", sp.Sender, sp.Date, sp.ThreadID)
		fmt.Printf("    %s\n\n", util.Truncate(sp.Text, 200))
	}
}
