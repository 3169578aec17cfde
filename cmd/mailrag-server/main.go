// mailrag-server is the HTTP API server for email retrieval.
//
// This is the authoritative backend for all search operations. Web UI,
// CLI, and the answer-generation layer should all use this API.
//
// Endpoints:
//   - GET  /search   - Lexical/vector/hybrid passage search
//   - POST /search   - Same, with history in the JSON body
//   - GET  /passage  - Single passage lookup (citations)
//   - GET  /stats    - Index statistics
//   - GET  /health   - Health check
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/inboxlab/mailrag/pkg/embedding"
	"github.com/inboxlab/mailrag/pkg/llm"
	"github.com/inboxlab/mailrag/pkg/ragconfig"
	"github.com/inboxlab/mailrag/pkg/retrieval"
	"github.com/inboxlab/mailrag/pkg/storage"
)

var (
	addr    = flag.String("addr", ":8090", "HTTP listen address")
	dbPath  = flag.String("db", "", "Path to SQLite archive (defaults to database.sqlite from config)")
	cfgPath = flag.String("config", "", "Path to mailrag.yaml (auto-detected if not specified)")
	debug   = flag.Bool("debug", false, "Enable debug logging")
	corsAny = flag.Bool("cors-any", false, "Allow CORS from any origin (for development)")
)

func main() {
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Load configuration
	cfg, err := ragconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Str("collection", cfg.Milvus.Collection).Msg("Loaded configuration")

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite archive path is empty (set -db or database.sqlite in mailrag.yaml)")
	}

	// Open the mail archive read-only
	archive, err := storage.OpenReadOnly(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open mail archive")
	}
	defer archive.Close()
	log.Info().Str("path", sqlitePath).Msg("Connected to mail archive")

	// Create retrieval components
	ctx := context.Background()
	apiKey := os.Getenv("OPENAI_API_KEY")

	vectors, err := retrieval.NewMilvusVectorSearcher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	// Note: vectors.Close() is called by retriever.Close(), don't defer here
	log.Info().Str("address", cfg.Milvus.Address).Msg("Connected to Milvus")

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
	if cfg.Expansion.Enabled {
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

	// Create HTTP server
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if *corsAny {
			return corsMiddleware(h)
		}
		return h
	}

	mux.HandleFunc("GET /search", wrap(searchHandler(retriever)))
	mux.HandleFunc("POST /search", wrap(searchPostHandler(retriever)))
	mux.HandleFunc("GET /passage", wrap(passageHandler(retriever)))
	mux.HandleFunc("GET /stats", wrap(statsHandler(retriever)))
	mux.HandleFunc("GET /health", wrap(healthHandler(retriever)))

	// Handle OPTIONS for CORS preflight (needed for browser POST requests)
	if *corsAny {
		mux.HandleFunc("OPTIONS /search", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", *addr).Msg("Starting mailrag server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// searchHandler handles GET /search requests
func searchHandler(r *retrieval.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()

		searchReq := retrieval.SearchRequest{
			Question:     query.Get("q"),
			Mode:         retrieval.SearchMode(query.Get("mode")),
			Limit:        parseIntDefault(query.Get("limit"), 0),
			MaxPerThread: parseIntDefault(query.Get("max_per_thread"), 0),
			RrfK:         parseIntDefault(query.Get("rrf_k"), 0),
		}

		handleSearch(w, req, r, searchReq)
	}
}

// searchPostHandler handles POST /search requests (larger queries, history)
func searchPostHandler(r *retrieval.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var searchReq retrieval.SearchRequest
		if err := json.NewDecoder(req.Body).Decode(&searchReq); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		handleSearch(w, req, r, searchReq)
	}
}

func handleSearch(w http.ResponseWriter, req *http.Request, r *retrieval.Retriever, searchReq retrieval.SearchRequest) {
	searchReq.Question = retrieval.SanitizeQuestion(searchReq.Question)
	if err := retrieval.ValidateSearchRequest(&searchReq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := r.Search(req.Context(), searchReq)
	if err != nil {
		log.Error().Err(err).Str("question", searchReq.Question).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// passageHandler handles GET /passage requests
func passageHandler(r *retrieval.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := req.URL.Query().Get("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing id parameter")
			return
		}

		passage, err := r.GetPassage(req.Context(), id)
		if err != nil {
			log.Error().Err(err).Str("passage_id", id).Msg("Passage lookup failed")
			writeError(w, http.StatusInternalServerError, "passage lookup failed")
			return
		}
		if passage == nil {
			writeError(w, http.StatusNotFound, "passage not found")
			return
		}

		writeJSON(w, http.StatusOK, passage)
	}
}

// statsHandler handles GET /stats requests
func statsHandler(r *retrieval.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		stats, err := r.Stats(req.Context())
		if err != nil {
			log.Error().Err(err).Msg("Stats failed")
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

// healthHandler handles GET /health requests
func healthHandler(r *retrieval.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		health := r.Health(req.Context())

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, health)
	}
}

// loggingMiddleware logs HTTP requests with a per-request id
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}
