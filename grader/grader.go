// Package grader implements the Answer Grader (C6): a fast-LLM JSON-mode
// scoring call with hard floors applied after parsing, plus a third call
// that distinguishes narrative mentions of "unknown" from an answer whose
// conclusion is "I don't know" (spec §4.6).
package grader

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/internal/apperr"
	"github.com/smallnest/storyoracle/internal/llm"
	"github.com/smallnest/storyoracle/reasoning"
)

// QuestionType is the grader's tag for the kind of question asked.
type QuestionType string

const (
	QuestionRelational QuestionType = "relational"
	QuestionFactual    QuestionType = "factual"
	QuestionJourney    QuestionType = "journey"
	QuestionDetail     QuestionType = "detail"
)

// Scores holds the four 0-25 sub-scores spec §4.6 names.
type Scores struct {
	ToolUsage    int `json:"tool_usage"`
	Completeness int `json:"completeness"`
	Citation     int `json:"citation"`
	Depth        int `json:"depth"`
}

// Thresholds are the hard floors applied after parsing (spec §4.6, §9 Open
// Questions: defaulting to the stricter revision, depth=15/citation=10 on
// a 0-25 scale, total=70 on a 0-100 scale).
type Thresholds struct {
	DepthFloor    int
	CitationFloor int
	TotalFloor    int
}

// DefaultThresholds is the stricter rubric named in spec §9's Open
// Questions resolution.
func DefaultThresholds() Thresholds {
	return Thresholds{DepthFloor: 15, CitationFloor: 10, TotalFloor: 70}
}

// Verdict is the grader's judgment on one answer.
type Verdict struct {
	QuestionType QuestionType
	Scores       Scores
	Score        int
	Reason       string
	Suggestion   string
	Pass         bool
	FailReason   string
}

// rawVerdict is the JSON shape the fast LLM is asked to produce.
type rawVerdict struct {
	QuestionType string `json:"question_type"`
	Scores       Scores `json:"scores"`
	Score        int    `json:"score"`
	Reason       string `json:"reason"`
	Suggestion   string `json:"suggestion"`
}

type unknownConclusionResult struct {
	IsUnknownConclusion bool `json:"is_unknown_conclusion"`
}

// Grader runs the scoring and unknown-conclusion calls.
type Grader struct {
	FastLLM    llms.Model
	Thresholds Thresholds
}

// New constructs a Grader with the default (stricter) thresholds; override
// Thresholds directly to use a looser revision from spec §9's range.
func New(fastLLM llms.Model) *Grader {
	return &Grader{FastLLM: fastLLM, Thresholds: DefaultThresholds()}
}

const gradingSystemPrompt = `You are a strict grader for answers about a narrative dialogue corpus.
Given a question, an answer, and the transcript of tool calls that produced it, score the answer.
Return ONLY a JSON object with this exact shape:
{"question_type": "relational"|"factual"|"journey"|"detail",
 "scores": {"tool_usage": 0-25, "completeness": 0-25, "citation": 0-25, "depth": 0-25},
 "score": 0-100,
 "reason": "one short sentence",
 "suggestion": "one short sentence on what to search next if this answer is insufficient"}
Depth means the answer quotes or closely paraphrases actual dialogue/narrative evidence, not a generic summary.
Citation means the answer references a specific chapter/task location for its claims.`

const unknownConclusionPrompt = `Given a question and an answer, determine whether the answer's FINAL CONCLUSION is
"I don't know" / "cannot be determined", as opposed to merely mentioning uncertainty as narrative context
(e.g. a character saying "I don't know" is not the same as the answer concluding "I don't know").
Return ONLY {"is_unknown_conclusion": true|false}.`

// Grade scores (question, answer, transcript) and applies the hard floors
// (spec §4.6). A JSON parse failure degrades to a fail verdict rather than
// propagating (§7 "LLM-output-malformed").
func (g *Grader) Grade(ctx context.Context, question, answer string, transcript []reasoning.ToolCallRecord) Verdict {
	userContent := fmt.Sprintf("Question: %s\n\nAnswer: %s\n\nTool call transcript:\n%s",
		question, answer, formatTranscript(transcript))

	var raw rawVerdict
	if err := llm.GenerateJSON(ctx, g.FastLLM, "grader", gradingSystemPrompt, userContent, &raw); err != nil {
		if _, ok := err.(*apperr.MalformedOutputError); ok {
			return Verdict{Pass: false, FailReason: "unparseable verdict", Reason: err.Error()}
		}
		return Verdict{Pass: false, FailReason: "grader call failed", Reason: err.Error()}
	}

	v := Verdict{
		QuestionType: QuestionType(raw.QuestionType),
		Scores:       raw.Scores,
		Score:        raw.Score,
		Reason:       raw.Reason,
		Suggestion:   raw.Suggestion,
	}

	if reason, ok := g.failReason(v); ok {
		v.Pass = false
		v.FailReason = reason
		return v
	}

	if g.isUnknownConclusion(ctx, question, answer) {
		v.Pass = false
		v.FailReason = "unknown conclusion"
		return v
	}

	v.Pass = true
	return v
}

// failReason checks the hard floors in the order spec §4.6 lists them.
func (g *Grader) failReason(v Verdict) (string, bool) {
	if v.Scores.Depth < g.Thresholds.DepthFloor {
		return fmt.Sprintf("depth %d below floor %d", v.Scores.Depth, g.Thresholds.DepthFloor), true
	}
	if v.Scores.Citation < g.Thresholds.CitationFloor {
		return fmt.Sprintf("citation %d below floor %d", v.Scores.Citation, g.Thresholds.CitationFloor), true
	}
	if v.Score < g.Thresholds.TotalFloor {
		return fmt.Sprintf("total %d below floor %d", v.Score, g.Thresholds.TotalFloor), true
	}
	return "", false
}

// isUnknownConclusion runs the third LLM call (spec §4.6). A call failure
// here is treated as "not an unknown conclusion" rather than failing the
// whole grade — this subcheck only ever tightens a pass into a fail, and a
// broken subcheck must not itself block every answer.
func (g *Grader) isUnknownConclusion(ctx context.Context, question, answer string) bool {
	userContent := fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer)
	var result unknownConclusionResult
	if err := llm.GenerateJSON(ctx, g.FastLLM, "grader.unknown_conclusion", unknownConclusionPrompt, userContent, &result); err != nil {
		return false
	}
	return result.IsUnknownConclusion
}

func formatTranscript(transcript []reasoning.ToolCallRecord) string {
	if len(transcript) == 0 {
		return "(no tool calls)"
	}
	var b strings.Builder
	for _, r := range transcript {
		fmt.Fprintf(&b, "- %s(%s) -> %s\n", r.Tool, r.Input, r.Output)
	}
	return b.String()
}
