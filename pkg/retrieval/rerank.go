package retrieval

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
)

// stopWords are excluded from question keyword extraction. Short function
// words would otherwise dominate subject overlap on natural-language
// questions ("what did they say about...").
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "what": {},
	"when": {}, "where": {}, "who": {}, "which": {}, "with": {}, "this": {},
	"that": {}, "they": {}, "them": {}, "then": {}, "than": {}, "from": {},
	"about": {}, "did": {}, "does": {}, "were": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "there": {}, "their": {},
	"email": {}, "emails": {}, "mail": {}, "message": {}, "messages": {},
}

var (
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	datePattern     = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?\b`)
	nonWordSplitter = regexp.MustCompile(`[^\pL\pN@./-]+`)
)

// Reranker adjusts fused scores using structural signals not visible to
// either index: subject keyword overlap, sender-name match, date match,
// and a penalty for messages matching spam heuristics.
type Reranker struct {
	cfg *ragconfig.Config
}

// NewReranker creates a reranker with the given configuration.
func NewReranker(cfg *ragconfig.Config) *Reranker {
	return &Reranker{cfg: cfg}
}

// ClassifyQuery tags a question as specific or conceptual. A capitalized
// token past the first word (a probable name) or a date-like token marks it
// specific; everything else is conceptual. Classified once per request.
func ClassifyQuery(question string) QueryType {
	if yearPattern.MatchString(question) || datePattern.MatchString(question) {
		return QuerySpecific
	}
	for _, tok := range capitalizedTokens(question) {
		if tok != "" {
			return QuerySpecific
		}
	}
	return QueryConceptual
}

// WeightsFor returns the signal blend for a query type, normalized so the
// two weights sum to 1. Falls back to an even split on malformed config.
func (r *Reranker) WeightsFor(qt QueryType) SignalWeights {
	w := r.cfg.Retrieval.Weights.Conceptual
	if qt == QuerySpecific {
		w = r.cfg.Retrieval.Weights.Specific
	}

	sum := w.Vector + w.Lexical
	if sum <= 0 {
		return SignalWeights{Vector: 0.5, Lexical: 0.5}
	}
	return SignalWeights{
		Vector:  w.Vector / sum,
		Lexical: w.Lexical / sum,
	}
}

// Rerank applies the metadata adjustments to every fused candidate and
// returns scored passages, unsorted. All adjustments are additive on top of
// the fused score and independently computed per passage. The positive
// boosts are capped so a single heuristic cannot reorder results regardless
// of fused score; the spam penalty applies after the cap, keeping the
// penalized/unpenalized delta exact.
func (r *Reranker) Rerank(candidates map[string]fusedCandidate, question string, qt QueryType) []ScoredPassage {
	keywords := extractKeywords(question)
	capitalized := capitalizedTokens(question)
	years := yearKeywords(keywords)

	subjectWeight := r.cfg.Retrieval.Rerank.SubjectWeight
	if qt == QuerySpecific && r.cfg.Retrieval.Rerank.SubjectWeightSpecific > 0 {
		subjectWeight = r.cfg.Retrieval.Rerank.SubjectWeightSpecific
	}

	scored := make([]ScoredPassage, 0, len(candidates))
	for _, c := range candidates {
		boost := 0.0

		if len(keywords) > 0 {
			subject := strings.ToLower(c.passage.Subject)
			matched := 0
			for _, kw := range keywords {
				if strings.Contains(subject, kw) {
					matched++
				}
			}
			if matched > 0 {
				boost += subjectWeight * float64(matched) / float64(len(keywords))
			}
		}

		sender := strings.ToLower(c.passage.Sender)
		for _, name := range capitalized {
			if strings.Contains(sender, strings.ToLower(name)) {
				boost += r.cfg.Retrieval.Rerank.SenderBonus
				break // once, not cumulative across multiple name matches
			}
		}

		for _, year := range years {
			if strings.Contains(c.passage.Date, year) {
				boost += r.cfg.Retrieval.Rerank.YearBonus
				break
			}
		}

		if maxBoost := r.cfg.Retrieval.Rerank.BoostCap; maxBoost > 0 && boost > maxBoost {
			boost = maxBoost
		}

		score := c.score + boost
		if r.isSpam(c.passage) {
			score -= r.cfg.Spam.Penalty
		}

		scored = append(scored, ScoredPassage{Passage: c.passage, Score: score})
	}

	return scored
}

// isSpam reports whether the passage's parent message matches any configured
// spam heuristic. Patterns are exact substring containment checks against
// lowercased text; empty pattern lists mean no penalty.
func (r *Reranker) isSpam(p Passage) bool {
	subject := strings.ToLower(p.Subject)
	for _, pattern := range r.cfg.Spam.SubjectPatterns {
		if pattern != "" && strings.Contains(subject, strings.ToLower(pattern)) {
			return true
		}
	}

	sender := strings.ToLower(p.Sender)
	for _, pattern := range r.cfg.Spam.SenderPatterns {
		if pattern != "" && strings.Contains(sender, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// extractKeywords pulls the meaningful tokens out of a question: lowercase
// tokens of length >= 3 that are not stop words, plus 4-digit years and
// date-like substrings.
func extractKeywords(question string) []string {
	lower := strings.ToLower(question)

	seen := make(map[string]struct{})
	var keywords []string
	add := func(kw string) {
		if _, dup := seen[kw]; dup {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, tok := range nonWordSplitter.Split(lower, -1) {
		tok = strings.Trim(tok, "./-@")
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		add(tok)
	}

	for _, m := range datePattern.FindAllString(lower, -1) {
		add(m)
	}

	return keywords
}

// yearKeywords filters keywords down to 4-digit years.
func yearKeywords(keywords []string) []string {
	var years []string
	for _, kw := range keywords {
		if yearPattern.MatchString(kw) && len(kw) == 4 {
			years = append(years, kw)
		}
	}
	return years
}

// capitalizedTokens returns tokens of the question that start with an upper
// case letter and are longer than 2 runes, skipping the sentence-initial
// word which is capitalized regardless of being a name.
func capitalizedTokens(question string) []string {
	fields := strings.Fields(question)
	var tokens []string
	for i, f := range fields {
		if i == 0 {
			continue
		}
		f = strings.Trim(f, `.,!?"'()[]{}:;`)
		runes := []rune(f)
		if len(runes) > 2 && unicode.IsUpper(runes[0]) {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
