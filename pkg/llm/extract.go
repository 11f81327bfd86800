package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAnyRe  = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// ExtractJSON pulls a JSON object out of an LLM reply. Tried in order:
// a ```json fenced block, any fenced block, then the substring from the
// first '{' to the last '}'. The candidate must parse as a JSON object.
func ExtractJSON(text string) (map[string]any, error) {
	candidates := make([]string, 0, 3)

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := fencedAnyRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	var lastErr error
	for _, candidate := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &obj); err != nil {
			lastErr = err
			continue
		}
		return obj, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object found in reply")
	}
	return nil, &Error{Kind: KindParse, Provider: providerAnthropic, Cause: lastErr}
}
