package retrieval

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateSearchRequest validates search request parameters
func ValidateSearchRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return fmt.Errorf("question cannot be empty")
	}

	// Check question length (prevent very long queries)
	if len(req.Question) > 2000 {
		return fmt.Errorf("question too long (max 2000 characters)")
	}

	// Validate mode
	switch req.Mode {
	case ModeLexical, ModeVector, ModeHybrid, "":
		// Valid
	default:
		return fmt.Errorf("invalid mode: %s (must be lexical, vector, or hybrid)", req.Mode)
	}

	return nil
}

// SanitizeQuestion cleans user input for safe use
func SanitizeQuestion(question string) string {
	question = strings.TrimSpace(question)

	// Remove control characters
	var sb strings.Builder
	for _, r := range question {
		if !unicode.IsControl(r) || r == '\n' || r == '\t' {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
