package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
)

// ErrLexicalUnavailable is reported by a LexicalSearcher whose backing FTS
// index has not been built. The engine treats it as zero lexical
// contribution, not as a fatal error: hybrid search degrades to
// semantic-only.
var ErrLexicalUnavailable = errors.New("lexical index unavailable")

// LexicalSearcher provides BM25 full-text search over passages
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]LexicalHit, error)
	Stats(ctx context.Context) (LexicalStats, error)
}

// VectorSearcher provides nearest-neighbor search over passage embeddings
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, limit int, ef int) ([]VectorHit, error)
	Stats(ctx context.Context) (VectorStats, error)
	Close() error
}

// Embedder generates embeddings for query text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	IsAvailable(ctx context.Context) bool
}

// Expander produces related query strings for a question
type Expander interface {
	Expand(ctx context.Context, question string, history []Turn) []string
}

// PassageStore provides passage lookup outside the index path
type PassageStore interface {
	GetByID(ctx context.Context, passageID string) (*Passage, error)
}

// Retriever is the hybrid retrieval engine: it turns a question plus
// optional conversational context into an ordered, deduplicated set of
// scored passages. It owns no persisted state; the index handles it holds
// are read-only and safe for concurrent use.
type Retriever struct {
	cfg      *ragconfig.Config
	lexical  LexicalSearcher
	vectors  VectorSearcher
	passages PassageStore
	embed    Embedder
	expander Expander
	reranker *Reranker
}

// NewRetriever creates a retriever with the given dependencies. expander
// may be nil to disable query expansion.
func NewRetriever(cfg *ragconfig.Config, lexical LexicalSearcher, vectors VectorSearcher, passages PassageStore, embed Embedder, expander Expander) *Retriever {
	return &Retriever{
		cfg:      cfg,
		lexical:  lexical,
		vectors:  vectors,
		passages: passages,
		embed:    embed,
		expander: expander,
		reranker: NewReranker(cfg),
	}
}

// Search runs the retrieval pipeline for one request. An empty candidate
// set yields an empty result, not an error; only an invalid mode or caller
// cancellation surfaces as an error.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	req = r.normalizeRequest(req)
	qt := ClassifyQuery(req.Question)

	resp := &SearchResponse{
		Question:  req.Question,
		Mode:      req.Mode,
		QueryType: qt,
		RrfK:      r.rrfK(req),
		Weights:   r.reranker.WeightsFor(qt),
	}

	var candidates map[string]fusedCandidate
	var err error

	switch req.Mode {
	case ModeHybrid:
		candidates, err = r.hybridCandidates(ctx, req, resp)
	case ModeLexical:
		candidates, err = r.lexicalCandidates(ctx, req, resp)
	case ModeVector:
		candidates, err = r.vectorOnlyCandidates(ctx, req, resp)
	default:
		return nil, fmt.Errorf("invalid search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	scored := r.reranker.Rerank(candidates, req.Question, qt)
	sortScored(scored)
	resp.Results = Diversify(scored, req.MaxPerThread, req.Limit)
	resp.TookMs = time.Since(start).Milliseconds()

	return resp, nil
}

// normalizeRequest applies defaults and clamps values
func (r *Retriever) normalizeRequest(req SearchRequest) SearchRequest {
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	if req.Limit <= 0 {
		req.Limit = r.cfg.Retrieval.FinalBudget
	}
	if req.Limit <= 0 {
		req.Limit = 10
	} else if req.Limit > 100 {
		req.Limit = 100
	}

	if req.MaxPerThread <= 0 {
		req.MaxPerThread = r.cfg.Retrieval.MaxPerThread
	}
	if req.MaxPerThread <= 0 {
		req.MaxPerThread = 1
	}

	return req
}

func (r *Retriever) rrfK(req SearchRequest) int {
	if req.RrfK > 0 {
		return req.RrfK
	}
	if r.cfg.Retrieval.RRF.K > 0 {
		return r.cfg.Retrieval.RRF.K
	}
	return 60
}

func (r *Retriever) limitPerQuery() int {
	if r.cfg.Retrieval.LimitPerQuery > 0 {
		return r.cfg.Retrieval.LimitPerQuery
	}
	return 100
}

// hybridCandidates is the full pipeline: expand the question, fan out one
// lexical and one vector query per expansion with bounded parallelism, fuse
// each expansion's rankings with RRF, and merge across expansions keeping
// the maximum fused score per passage.
//
// Each worker writes only its own slot; the merge below g.Wait is the single
// reducer, so the accumulation is race-free and the outcome is independent
// of worker completion order.
func (r *Retriever) hybridCandidates(ctx context.Context, req SearchRequest, resp *SearchResponse) (map[string]fusedCandidate, error) {
	expansions := r.expandQuestion(ctx, req, resp)
	resp.Expansions = expansions

	k := resp.RrfK
	weights := resp.Weights
	limit := r.limitPerQuery()

	lexResults := make([][]LexicalHit, len(expansions))
	vecResults := make([][]VectorHit, len(expansions))
	lexErrs := make([]error, len(expansions))
	vecErrs := make([]error, len(expansions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2 * len(expansions))

	for i, q := range expansions {
		i, q := i, q
		g.Go(func() error {
			hits, err := r.lexical.Search(gctx, q, limit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				lexErrs[i] = err
				return nil
			}
			lexResults[i] = hits
			return nil
		})

		g.Go(func() error {
			embedding, err := r.embed.Embed(gctx, q)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				vecErrs[i] = err
				return nil
			}
			hits, err := r.vectorCandidates(gctx, embedding, limit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				vecErrs[i] = err
				return nil
			}
			vecResults[i] = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]fusedCandidate)
	for i, q := range expansions {
		if lexErrs[i] != nil {
			resp.Degraded.Lexical = true
			logDegraded(lexErrs[i], "lexical", q)
		}
		if vecErrs[i] != nil {
			resp.Degraded.Vector = true
			logDegraded(vecErrs[i], "vector", q)
		}

		partial := fuseSignals(lexResults[i], vecResults[i], k, weights, r.cfg.Retrieval.CapPerExpansion)
		mergeCandidates(merged, partial)
	}

	return merged, nil
}

// lexicalCandidates is the BM25-only debug path. A missing lexical index
// degrades to an empty candidate set rather than failing.
func (r *Retriever) lexicalCandidates(ctx context.Context, req SearchRequest, resp *SearchResponse) (map[string]fusedCandidate, error) {
	resp.Expansions = []string{req.Question}

	hits, err := r.lexical.Search(ctx, req.Question, r.limitPerQuery())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp.Degraded.Lexical = true
		logDegraded(err, "lexical", req.Question)
		return map[string]fusedCandidate{}, nil
	}

	return fuseSignals(hits, nil, resp.RrfK, resp.Weights, r.cfg.Retrieval.CapPerExpansion), nil
}

// vectorOnlyCandidates is the semantic-only debug path.
func (r *Retriever) vectorOnlyCandidates(ctx context.Context, req SearchRequest, resp *SearchResponse) (map[string]fusedCandidate, error) {
	resp.Expansions = []string{req.Question}

	embedding, err := r.embed.Embed(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.vectorCandidates(ctx, embedding, r.limitPerQuery())
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return fuseSignals(nil, hits, resp.RrfK, resp.Weights, r.cfg.Retrieval.CapPerExpansion), nil
}

// vectorCandidates over-fetches by the configured multiplier, then truncates
// to the requested count.
func (r *Retriever) vectorCandidates(ctx context.Context, embedding []float32, want int) ([]VectorHit, error) {
	if want <= 0 {
		return []VectorHit{}, nil
	}

	fetchMult := r.cfg.Milvus.Search.FetchMultiplier
	if fetchMult < 1 {
		fetchMult = 1
	}

	fetchLimit := want * fetchMult
	ef := r.cfg.Milvus.Search.Ef
	if fetchLimit > ef {
		ef = fetchLimit
	}

	hits, err := r.vectors.Search(ctx, embedding, fetchLimit, ef)
	if err != nil {
		return nil, err
	}

	if len(hits) > want {
		hits = hits[:want]
	}
	return hits, nil
}

// expandQuestion runs the query expander, falling back to the raw question
// on any failure. The expander owns its own timeout and fails open.
func (r *Retriever) expandQuestion(ctx context.Context, req SearchRequest, resp *SearchResponse) []string {
	if r.expander == nil {
		return []string{req.Question}
	}

	expansions := r.expander.Expand(ctx, req.Question, req.History)
	if len(expansions) == 0 {
		expansions = []string{req.Question}
	}
	if len(expansions) == 1 {
		resp.Degraded.Expansion = true
	}
	return expansions
}

func logDegraded(err error, signal, query string) {
	evt := log.Warn()
	if errors.Is(err, ErrLexicalUnavailable) {
		// Expected until the index is built; keep it quiet
		evt = log.Debug()
	}
	evt.Err(err).Str("signal", signal).Str("query", query).Msg("signal degraded to empty")
}

// GetPassage looks up a single passage by id for citation display.
func (r *Retriever) GetPassage(ctx context.Context, passageID string) (*Passage, error) {
	if r.passages == nil {
		return nil, nil
	}
	return r.passages.GetByID(ctx, passageID)
}

// Stats returns statistics about the retrieval backends
func (r *Retriever) Stats(ctx context.Context) (*StatsResponse, error) {
	vectorStats, err := r.vectors.Stats(ctx)
	if err != nil {
		vectorStats = VectorStats{Connected: false}
	}

	lexicalStats, err := r.lexical.Stats(ctx)
	if err != nil {
		lexicalStats = LexicalStats{Connected: false}
	}

	return &StatsResponse{
		Vector:  vectorStats,
		Lexical: lexicalStats,
		Config: ConfigInfo{
			Hash:       r.cfg.Hash(),
			Collection: r.cfg.Milvus.Collection,
			Model:      r.cfg.Embedding.Model,
			Dimension:  r.cfg.Embedding.Dimension,
		},
		Timestamp: time.Now(),
	}, nil
}

// Health returns the health status
func (r *Retriever) Health(ctx context.Context) *HealthResponse {
	vectorOK := false
	lexicalOK := false
	embeddingOK := false

	if stats, err := r.vectors.Stats(ctx); err == nil && stats.Connected {
		vectorOK = true
	}
	if stats, err := r.lexical.Stats(ctx); err == nil && stats.Connected {
		lexicalOK = true
	}
	if r.embed != nil && r.embed.IsAvailable(ctx) {
		embeddingOK = true
	}

	status := "ok"
	if !vectorOK || !lexicalOK || !embeddingOK {
		status = "degraded"
	}
	if !vectorOK && !lexicalOK {
		status = "unhealthy"
	}

	return &HealthResponse{
		Status:    status,
		Vector:    vectorOK,
		Lexical:   lexicalOK,
		Embedding: embeddingOK,
		Timestamp: time.Now(),
	}
}

// Close closes all backend connections
func (r *Retriever) Close() error {
	if r.vectors != nil {
		return r.vectors.Close()
	}
	return nil
}
