package retrieval

import "encoding/json"

// parseStringArray parses a JSON array and keeps only non-empty string
// elements. Non-string elements are ignored to be tolerant of mixed-type
// arrays written by older ingestion runs.
func parseStringArray(s string) []string {
	if s == "" {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var str string
		if err := json.Unmarshal(item, &str); err == nil && str != "" {
			out = append(out, str)
		}
	}
	return out
}
