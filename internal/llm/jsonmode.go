// Package llm holds the small LLM-call helpers shared by the grader,
// refiner and humanizer (C6/C7 and the orchestrator's humanizer pass):
// a JSON-mode call-and-parse helper adapted verbatim in shape from the
// teacher's showcases/BettaFish/query_engine/agent.go generateJSON.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/internal/apperr"
)

// GenerateJSON calls model in JSON mode with a system/user message pair and
// unmarshals the (possibly markdown-fenced) response into output. Retries
// once on a hard call failure per spec §7 "LLM-call-failure"; a successful
// call that fails to parse returns a MalformedOutputError instead (§7
// "LLM-output-malformed"), distinguishing infrastructure faults from
// schema violations for the caller's degrade-to-default policy.
func GenerateJSON(ctx context.Context, model llms.Model, site, systemPrompt, userContent string, output any) error {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userContent),
	}

	resp, err := model.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		resp, err = model.GenerateContent(ctx, messages, llms.WithJSONMode())
		if err != nil {
			return &apperr.LLMCallError{Site: site, Err: err}
		}
	}
	if len(resp.Choices) == 0 {
		return &apperr.LLMCallError{Site: site, Err: errEmptyResponse}
	}

	content := stripMarkdownFence(resp.Choices[0].Content)
	if err := json.Unmarshal([]byte(content), output); err != nil {
		return &apperr.MalformedOutputError{Site: site, Err: err}
	}
	return nil
}

var errEmptyResponse = jsonErr("empty response")

type jsonErr string

func (e jsonErr) Error() string { return string(e) }

// stripMarkdownFence removes a leading ```json/``` fence and trailing ```,
// the same cleanup the teacher's generateJSON does before unmarshaling.
func stripMarkdownFence(content string) string {
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
