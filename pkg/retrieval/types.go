// Package retrieval provides hybrid search over a personal email archive,
// combining vector search (Milvus) and BM25 search (SQLite FTS5) with
// LLM-based query expansion, metadata reranking, and thread diversification.
//
// This is the authoritative backend for all search operations. CLI, web UI,
// and the answer-generation layer should all use this package.
package retrieval

import "time"

// SearchMode specifies the search strategy
type SearchMode string

const (
	ModeLexical SearchMode = "lexical" // BM25-only search (SQLite FTS5)
	ModeVector  SearchMode = "vector"  // Vector-only search (Milvus)
	ModeHybrid  SearchMode = "hybrid"  // Expanded multi-query RRF fusion of both
)

// QueryType classifies a question for weight selection. Specific queries
// (names, dates) lean lexical; conceptual queries lean semantic.
type QueryType string

const (
	QueryConceptual QueryType = "conceptual"
	QuerySpecific   QueryType = "specific"
)

// Turn is one conversational exchange supplied as disambiguation context
// to the query expander.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Question string     `json:"q"`
	Mode     SearchMode `json:"mode"`
	History  []Turn     `json:"history,omitempty"`

	// Optional overrides (use config defaults if zero)
	Limit        int `json:"limit,omitempty"`          // final result budget
	MaxPerThread int `json:"max_per_thread,omitempty"` // passages surfaced per thread
	RrfK         int `json:"rrf_k,omitempty"`
}

// Degradation records which signals were dropped for a request. All of these
// are soft failures: retrieval continues on the remaining signals.
type Degradation struct {
	Expansion bool `json:"expansion"` // expander fell back to the raw question
	Lexical   bool `json:"lexical"`   // at least one lexical query contributed nothing
	Vector    bool `json:"vector"`    // at least one vector query contributed nothing
}

// SearchResponse contains the search results and metadata
type SearchResponse struct {
	Question   string     `json:"question"`
	Mode       SearchMode `json:"mode"`
	QueryType  QueryType  `json:"query_type"`
	Expansions []string   `json:"expansions"`

	RrfK     int           `json:"rrf_k"`
	Weights  SignalWeights `json:"weights"`
	Degraded Degradation   `json:"degraded"`

	TookMs int64 `json:"took_ms"`

	// Results ordered best-first, at most the final budget, per-thread capped
	Results RetrievalResult `json:"results"`
}

// SignalWeights is the normalized lexical/vector blend used for fusion
type SignalWeights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
}

// Passage is the atomic retrievable unit: one chunk of email body text plus
// the metadata of its parent message. Owned by the index subsystem; the
// engine only reads it.
type Passage struct {
	PassageID  string   `json:"passage_id"`
	MessageID  string   `json:"message_id"`
	ThreadID   string   `json:"thread_id"`
	Subject    string   `json:"subject"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Date       string   `json:"date"` // ISO-8601
	Ordinal    int      `json:"ordinal"`
	Text       string   `json:"text"`
}

// LexicalHit is an intermediate result from a single BM25 query
type LexicalHit struct {
	Passage
	Rank  int
	Score float64 // abs(bm25()), higher = better
}

// VectorHit is an intermediate result from a single vector query
type VectorHit struct {
	Passage
	Rank     int
	Distance float64 // cosine distance in [0, 2]
}

// Similarity converts cosine distance to similarity.
func (h VectorHit) Similarity() float64 {
	return 1 - h.Distance
}

// ScoredPassage is a passage with its final score after metadata adjustment
type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}

// RetrievalResult is the ordered, thread-capped, budget-limited sequence of
// scored passages handed to the answer-generation layer. Never mutated after
// the diversifier emits it.
type RetrievalResult []ScoredPassage

// StatsResponse contains index/database statistics
type StatsResponse struct {
	Vector    VectorStats  `json:"vector"`
	Lexical   LexicalStats `json:"lexical"`
	Config    ConfigInfo   `json:"config"`
	Timestamp time.Time    `json:"timestamp"`
}

// VectorStats contains Milvus collection statistics
type VectorStats struct {
	Connected      bool   `json:"connected"`
	Collection     string `json:"collection"`
	RowCount       int64  `json:"row_count"`
	IndexType      string `json:"index_type"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
}

// LexicalStats contains SQLite database statistics
type LexicalStats struct {
	Connected     bool   `json:"connected"`
	PassagesTotal int64  `json:"passages_total"`
	FtsTable      string `json:"fts_table"`
	FtsAvailable  bool   `json:"fts_available"`
}

// ConfigInfo contains configuration metadata
type ConfigInfo struct {
	Hash       string `json:"hash"` // Config hash for change detection
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
}

// HealthResponse for /health endpoint
type HealthResponse struct {
	Status    string    `json:"status"` // "ok", "degraded", "unhealthy"
	Vector    bool      `json:"vector"`
	Lexical   bool      `json:"lexical"`
	Embedding bool      `json:"embedding"`
	Timestamp time.Time `json:"timestamp"`
}
