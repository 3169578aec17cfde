package retrieval

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
)

type fakeLexical struct {
	hits map[string][]LexicalHit
	err  error
}

func (f *fakeLexical) Search(_ context.Context, query string, _ int) ([]LexicalHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[query], nil
}

func (f *fakeLexical) Stats(context.Context) (LexicalStats, error) {
	return LexicalStats{Connected: true, FtsAvailable: f.err == nil}, nil
}

type fakeVector struct {
	hits map[string][]VectorHit
	err  error
}

func (f *fakeVector) Search(_ context.Context, embedding []float32, limit, _ int) ([]VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits[textFromEmbedding(embedding)]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeVector) Stats(context.Context) (VectorStats, error) {
	return VectorStats{Connected: true}, nil
}

func (f *fakeVector) Close() error { return nil }

// fakeEmbedder encodes the query text byte-for-byte into the vector so
// fakeVector can route per-expansion results without real embeddings or
// shared lookup state. Stateless, so safe under the concurrent fan-out.
type fakeEmbedder struct {
	err error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float32, len(text))
	for i, b := range []byte(text) {
		vec[i] = float32(b)
	}
	return vec, nil
}

func (f *fakeEmbedder) IsAvailable(context.Context) bool { return f.err == nil }

func textFromEmbedding(embedding []float32) string {
	b := make([]byte, len(embedding))
	for i, v := range embedding {
		b[i] = byte(v)
	}
	return string(b)
}

type fakeExpander struct {
	expansions []string
}

func (f *fakeExpander) Expand(_ context.Context, question string, _ []Turn) []string {
	if len(f.expansions) == 0 {
		return []string{question}
	}
	return f.expansions
}

func passageFixture(id, thread string) Passage {
	return Passage{PassageID: id, MessageID: "m-" + id, ThreadID: thread}
}

func newTestRetriever(lex *fakeLexical, vec *fakeVector, emb *fakeEmbedder, exp Expander) *Retriever {
	cfg := ragconfig.Default()
	// No subject/sender metadata in fixtures, so reranking is a no-op and
	// scores stay pure fusion values.
	return NewRetriever(cfg, lex, vec, nil, emb, exp)
}

func TestSearchHybridMergesSignals(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{hits: map[string][]LexicalHit{
		question: {
			{Passage: passageFixture("p1", "T1")},
			{Passage: passageFixture("p2", "T2")},
		},
	}}
	vec := &fakeVector{hits: map[string][]VectorHit{
		question: {
			{Passage: passageFixture("p2", "T2")},
			{Passage: passageFixture("p3", "T3")},
		},
	}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	wantOrder := []string{"p2", "p1", "p3"}
	if len(resp.Results) != len(wantOrder) {
		t.Fatalf("got %d results, want %d", len(resp.Results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if resp.Results[i].PassageID != want {
			t.Fatalf("position %d = %s, want %s", i, resp.Results[i].PassageID, want)
		}
	}

	// p2 is rank 2 lexical and rank 1 vector at even weights
	wantScore := 0.5/62.0 + 0.5/61.0
	if got := resp.Results[0].Score; math.Abs(got-wantScore) > 1e-12 {
		t.Fatalf("top score = %v, want %v", got, wantScore)
	}
}

func TestSearchHybridMaxMergeAcrossExpansions(t *testing.T) {
	question := "hello world"
	alt := "greetings"
	p := passageFixture("p1", "T1")

	lex := &fakeLexical{hits: map[string][]LexicalHit{
		question: {{Passage: p}},
		alt:      {{Passage: p}},
	}}
	vec := &fakeVector{hits: map[string][]VectorHit{}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), &fakeExpander{expansions: []string{question, alt}})
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	// Rank 1 lexical in two expansions must not double: max-merge keeps one
	// expansion's contribution.
	want := 0.5 / 61.0
	if got := resp.Results[0].Score; math.Abs(got-want) > 1e-12 {
		t.Fatalf("merged score = %v, want max %v (not the sum)", got, want)
	}
}

func TestSearchLexicalUnavailableDegradesToVector(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{err: ErrLexicalUnavailable}
	vec := &fakeVector{hits: map[string][]VectorHit{
		question: {{Passage: passageFixture("p1", "T1")}},
	}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("unavailable lexical index must not fail the request: %v", err)
	}

	if !resp.Degraded.Lexical {
		t.Fatalf("degradation flag not set")
	}
	if len(resp.Results) != 1 || resp.Results[0].PassageID != "p1" {
		t.Fatalf("vector results lost during degradation: %+v", resp.Results)
	}
}

func TestSearchEmptyBackendsEmptyResult(t *testing.T) {
	lex := &fakeLexical{hits: map[string][]LexicalHit{}}
	vec := &fakeVector{hits: map[string][]VectorHit{}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: "anything", Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("empty candidate set must not be an error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("got %d results from empty backends", len(resp.Results))
	}
}

func TestSearchInvalidMode(t *testing.T) {
	r := newTestRetriever(&fakeLexical{}, &fakeVector{}, newFakeEmbedder(), nil)
	if _, err := r.Search(context.Background(), SearchRequest{Question: "q", Mode: "fuzzy"}); err == nil {
		t.Fatalf("invalid mode accepted")
	}
}

func TestSearchDeterministicTies(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{hits: map[string][]LexicalHit{
		question: {{Passage: passageFixture("zz", "T1")}},
	}}
	vec := &fakeVector{hits: map[string][]VectorHit{
		question: {{Passage: passageFixture("aa", "T2")}},
	}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)

	// Both passages score exactly 0.5/61; the tie must break by id, every run.
	var prev []string
	for run := 0; run < 5; run++ {
		resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeHybrid})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		var ids []string
		for _, sp := range resp.Results {
			ids = append(ids, sp.PassageID)
		}
		if prev != nil && !reflect.DeepEqual(ids, prev) {
			t.Fatalf("order changed between runs: %v vs %v", prev, ids)
		}
		prev = ids
	}
	if len(prev) != 2 || prev[0] != "aa" || prev[1] != "zz" {
		t.Fatalf("tie not broken by passage id: %v", prev)
	}
}

func TestSearchThreadCapApplied(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{hits: map[string][]LexicalHit{
		question: {
			{Passage: passageFixture("p1", "T1")},
			{Passage: passageFixture("p2", "T1")},
			{Passage: passageFixture("p3", "T2")},
		},
	}}
	vec := &fakeVector{hits: map[string][]VectorHit{}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2 (one per thread)", len(resp.Results))
	}
	if resp.Results[0].PassageID != "p1" || resp.Results[1].PassageID != "p3" {
		t.Fatalf("unexpected survivors: %s, %s", resp.Results[0].PassageID, resp.Results[1].PassageID)
	}
}

func TestSearchLexicalMode(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{hits: map[string][]LexicalHit{
		question: {{Passage: passageFixture("p1", "T1")}},
	}}
	// The vector backend must never be consulted in lexical mode.
	vec := &fakeVector{err: errors.New("vector backend called")}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeLexical})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].PassageID != "p1" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearchVectorMode(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{err: ErrLexicalUnavailable}
	vec := &fakeVector{hits: map[string][]VectorHit{
		question: {{Passage: passageFixture("p1", "T1")}},
	}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question, Mode: ModeVector})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].PassageID != "p1" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearchDefaultsApplied(t *testing.T) {
	question := "hello world"
	lex := &fakeLexical{hits: map[string][]LexicalHit{}}
	vec := &fakeVector{hits: map[string][]VectorHit{}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: question})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.Mode != ModeHybrid {
		t.Fatalf("default mode = %s, want hybrid", resp.Mode)
	}
	if resp.RrfK != 60 {
		t.Fatalf("default rrf k = %d, want 60", resp.RrfK)
	}
	if resp.QueryType != QueryConceptual {
		t.Fatalf("query type = %s, want conceptual", resp.QueryType)
	}
	if resp.Weights.Vector != 0.5 || resp.Weights.Lexical != 0.5 {
		t.Fatalf("conceptual weights = %+v, want even split", resp.Weights)
	}
}

func TestSearchSpecificQueryWeights(t *testing.T) {
	lex := &fakeLexical{hits: map[string][]LexicalHit{}}
	vec := &fakeVector{hits: map[string][]VectorHit{}}

	r := newTestRetriever(lex, vec, newFakeEmbedder(), nil)
	resp, err := r.Search(context.Background(), SearchRequest{Question: "receipts from 2019"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.QueryType != QuerySpecific {
		t.Fatalf("query type = %s, want specific", resp.QueryType)
	}
	if math.Abs(resp.Weights.Lexical-0.7) > 1e-9 {
		t.Fatalf("specific lexical weight = %v, want 0.7", resp.Weights.Lexical)
	}
}
