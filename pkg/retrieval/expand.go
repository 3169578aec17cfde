package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
	"github.com/inboxlab/mailrag/pkg/util"
)

// CompletionClient is the single free-text completion call the expander
// depends on. pkg/llm provides the production implementation.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// QueryExpander rewrites a question into a small set of related query
// strings: synonyms, abbreviation expansions, and coreference-resolved
// rewrites ("that call" -> the specific call named earlier in the
// conversation). Expansion is a quality enhancement, never a hard
// dependency: any failure degrades to the original question alone.
type QueryExpander struct {
	client CompletionClient
	cfg    *ragconfig.Config
}

// NewQueryExpander creates an expander. client may be nil, in which case
// Expand always returns just the question.
func NewQueryExpander(client CompletionClient, cfg *ragconfig.Config) *QueryExpander {
	return &QueryExpander{client: client, cfg: cfg}
}

const expanderSystemPrompt = `You generate search terms for retrieving passages from a personal email archive. Return ONLY a comma-separated list of search terms, nothing else.
Example: "password, PW, pw:, credentials, login info"`

// Expand returns 1..MaxTerms query strings. The original question is always
// present and always first. History, when non-empty, is clipped to the last
// MaxHistory turns and supplied as disambiguation context.
func (e *QueryExpander) Expand(ctx context.Context, question string, history []Turn) []string {
	if e.client == nil || !e.cfg.Expansion.Enabled {
		return []string{question}
	}

	timeout := time.Duration(e.cfg.Expansion.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := e.client.Complete(ctx, expanderSystemPrompt, e.buildPrompt(question, history))
	if err != nil {
		log.Warn().Err(err).Str("question", question).Msg("query expansion failed, using original question")
		return []string{question}
	}

	return parseExpansions(question, reply, e.maxTerms())
}

// buildPrompt assembles the expansion instruction with optional clipped
// conversation context, mirroring the wording the archive was tuned with.
func (e *QueryExpander) buildPrompt(question string, history []Turn) string {
	var sb strings.Builder

	recent := clipHistory(history, e.cfg.Expansion.MaxHistory)
	hasContext := len(recent) > 0

	sb.WriteString("Given this search query")
	if hasContext {
		sb.WriteString(" and conversation context")
	}
	sb.WriteString(`, generate 3-5 related search terms including:
- Synonyms
- Common abbreviations
- Alternative phrasings
- Related terms
- Specific names, dates, or entities mentioned in context
`)

	if hasContext {
		sb.WriteString("\nRecent conversation context:\n")
		for _, turn := range recent {
			role := "Assistant"
			if turn.Role == "user" {
				role = "User"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, util.Truncate(turn.Text, 200))
		}
	}

	fmt.Fprintf(&sb, "\nCurrent query: %q\n", question)
	sb.WriteString(`
If the query contains vague references like "that conversation", "what did we talk about", "they", etc.,
use the conversation context to identify the specific subject, person, or topic being referenced.
`)

	return sb.String()
}

func (e *QueryExpander) maxTerms() int {
	if e.cfg.Expansion.MaxTerms > 0 {
		return e.cfg.Expansion.MaxTerms
	}
	return 5
}

// clipHistory returns the last maxTurns turns (default 4, the last two
// exchanges).
func clipHistory(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 {
		maxTurns = 4
	}
	if len(history) > maxTurns {
		return history[len(history)-maxTurns:]
	}
	return history
}

// parseExpansions splits a model reply on commas, trims whitespace, drops
// empties and duplicates of the question, and caps the total (including the
// question, which always comes first).
func parseExpansions(question, reply string, maxTerms int) []string {
	expansions := []string{question}
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(question)): {}}

	for _, term := range strings.Split(reply, ",") {
		if len(expansions) >= maxTerms {
			break
		}
		term = strings.Trim(strings.TrimSpace(term), `"`)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		expansions = append(expansions, term)
	}

	return expansions
}
