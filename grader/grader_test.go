package grader

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/reasoning"
)

// scriptedGraderLLM dispatches a canned JSON response based on which
// prompt it receives, so a single fake can answer both the scoring call
// and the unknown-conclusion subcheck.
type scriptedGraderLLM struct {
	verdictJSON          string
	unknownConclusion    string
	fail                 bool
}

func (s *scriptedGraderLLM) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return "", nil
}

func (s *scriptedGraderLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if s.fail {
		return nil, assert.AnError
	}
	system := systemText(messages)
	if strings.Contains(system, "is_unknown_conclusion") {
		return contentResponse(s.unknownConclusion), nil
	}
	return contentResponse(s.verdictJSON), nil
}

func systemText(messages []llms.MessageContent) string {
	if len(messages) == 0 {
		return ""
	}
	for _, part := range messages[0].Parts {
		if tc, ok := part.(llms.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func contentResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func TestGradePassesWithGoodScores(t *testing.T) {
	llm := &scriptedGraderLLM{
		verdictJSON: `{"question_type":"factual","scores":{"tool_usage":20,"completeness":22,"citation":15,"depth":20},"score":85,"reason":"solid","suggestion":""}`,
		unknownConclusion: `{"is_unknown_conclusion": false}`,
	}
	g := New(llm)
	v := g.Grade(context.Background(), "question", "answer", nil)
	assert.True(t, v.Pass)
	assert.Empty(t, v.FailReason)
}

func TestGradeFailsOnLowDepthRegardlessOfOtherScores(t *testing.T) {
	llm := &scriptedGraderLLM{
		verdictJSON: `{"question_type":"factual","scores":{"tool_usage":25,"completeness":25,"citation":25,"depth":5},"score":95,"reason":"summary only","suggestion":"search memory"}`,
		unknownConclusion: `{"is_unknown_conclusion": false}`,
	}
	g := New(llm)
	v := g.Grade(context.Background(), "question", "answer", nil)
	assert.False(t, v.Pass)
	assert.Contains(t, v.FailReason, "depth")
}

func TestGradeFailsOnUnknownConclusionDespiteHighScores(t *testing.T) {
	llm := &scriptedGraderLLM{
		verdictJSON: `{"question_type":"factual","scores":{"tool_usage":25,"completeness":25,"citation":25,"depth":25},"score":100,"reason":"great","suggestion":""}`,
		unknownConclusion: `{"is_unknown_conclusion": true}`,
	}
	g := New(llm)
	v := g.Grade(context.Background(), "question", "she said she doesn't know", nil)
	assert.False(t, v.Pass)
	assert.Equal(t, "unknown conclusion", v.FailReason)
}

func TestGradeDegradesOnMalformedJSON(t *testing.T) {
	llm := &scriptedGraderLLM{verdictJSON: `not json at all`}
	g := New(llm)
	v := g.Grade(context.Background(), "question", "answer", []reasoning.ToolCallRecord{{Tool: "lookup_knowledge", Input: "x", Output: "y"}})
	assert.False(t, v.Pass)
	assert.Equal(t, "unparseable verdict", v.FailReason)
}
