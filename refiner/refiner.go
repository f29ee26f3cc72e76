// Package refiner implements the Query Refiner (C7): given a failed
// attempt's (question, grader_suggestion), produce 2-3 short search
// strings for the vector tool, falling back to a keyword heuristic on LLM
// failure (spec §4.7).
package refiner

import (
	"context"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/internal/llm"
)

const systemPrompt = `You generate 2-3 short search strings for a semantic search tool over a narrative corpus,
given a question that was answered insufficiently and a suggestion for improvement.
Target different aspects of the question, avoid stopwords, and include likely aliases or phrasings.
Return ONLY a JSON array of strings, e.g. ["A B 相遇", "A B 对话"].`

// Refine produces advisory search strings (spec §4.7: "Output is advisory
// — the controller is free to use or ignore the suggestions").
func Refine(ctx context.Context, fastLLM llms.Model, question, suggestion string) []string {
	userContent := "Question: " + question + "\nSuggestion: " + suggestion

	var out []string
	if err := llm.GenerateJSON(ctx, fastLLM, "refiner", systemPrompt, userContent, &out); err != nil || len(out) == 0 {
		return keywordFallback(question)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true, "on": true,
	"and": true, "or": true, "is": true, "are": true, "was": true, "were": true,
	"what": true, "who": true, "how": true, "why": true, "when": true, "where": true,
	"did": true, "does": true, "do": true, "it": true, "that": true, "this": true,
	"的": true, "了": true, "吗": true, "呢": true, "和": true, "与": true,
}

var wordSplitRe = regexp.MustCompile(`[\p{Han}]|[\p{L}\p{N}]+`)

// keywordFallback extracts content words (spec §4.7: "simple keyword-
// extraction heuristic on LLM failure"), treating each CJK character as
// its own token and each run of Latin/digit characters as one token, then
// groups them into 2-3 short search strings.
func keywordFallback(question string) []string {
	tokens := wordSplitRe.FindAllString(question, -1)
	var keywords []string
	for _, tok := range tokens {
		if stopwords[strings.ToLower(tok)] {
			continue
		}
		keywords = append(keywords, tok)
	}
	if len(keywords) == 0 {
		return []string{question}
	}

	groups := 2
	if len(keywords) >= 6 {
		groups = 3
	}
	return groupKeywords(keywords, groups)
}

// groupKeywords splits keywords into n roughly-even, space-joined phrases
// so the fallback still targets distinct aspects rather than one blob.
func groupKeywords(keywords []string, n int) []string {
	if n > len(keywords) {
		n = len(keywords)
	}
	if n == 0 {
		return nil
	}
	size := (len(keywords) + n - 1) / n
	out := make([]string, 0, n)
	for i := 0; i < len(keywords); i += size {
		end := i + size
		if end > len(keywords) {
			end = len(keywords)
		}
		out = append(out, strings.Join(keywords[i:end], " "))
	}
	return out
}
