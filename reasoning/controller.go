// Package reasoning implements the Reasoning Controller (C5): a tool-
// calling loop over a reasoning LLM that, per spec §4.5, does NOT use the
// provider's native function-calling (no llms.WithTools/ToolCall content
// parts, unlike the teacher's prebuilt/react_agent.go). Instead it prompts
// for and parses literal Thought/Action/Action-Input/Answer text, the same
// llms.Model.GenerateContent call shape the teacher uses, with the tool
// dispatch loop built by hand instead of delegated to a graph.StateGraph.
package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/storyoracle/internal/apperr"
	"github.com/smallnest/storyoracle/log"
)

// ToolOutputBudget caps a single tool observation fed back to the LLM
// (spec §4.5: "≈2000 chars for large outputs"). Truncation happens only at
// the end of the text, never mid-block.
const ToolOutputBudget = 2000

// VectorToolOutputBudget is the larger context budget for search_memory's
// multi-chunk narrative results (SPEC_FULL.md §4.5's "Token efficiency"
// note): a flat 2000-char cut silently drops most of a multi-chunk vector
// hit, so the vector tool gets its own, larger allowance before the LLM ever
// sees a truncated observation.
const VectorToolOutputBudget = 6000

// TraceOutputBudget is the independent, larger budget applied to the copy
// recorded for C9's trace capture, regardless of what the LLM saw.
// Grounded in _examples/original_source/src/agent/tracer.py's
// output[:6000] versus agent.py's tool_output[:2000] bookkeeping cut: the
// tracer always gets a less-truncated copy of the raw tool output, never
// the context-truncated one.
const TraceOutputBudget = 6000

// vectorToolName is the one tool catalog member whose output gets
// VectorToolOutputBudget instead of the generic ToolOutputBudget.
const vectorToolName = "search_memory"

// EventType tags a streamed Event.
type EventType string

const (
	EventReasoningDelta  EventType = "reasoning-delta"
	EventToolCallResult  EventType = "tool-call-result"
)

// Event is one item of the reasoning stream (spec §4.5, §9 "Async/
// streaming": "a stream of reasoning-delta and tool-call-result events").
type Event struct {
	Type EventType

	// Set when Type == EventReasoningDelta.
	Text string

	// Set when Type == EventToolCallResult. Output is the trace copy
	// (truncated to TraceOutputBudget), independent of and less truncated
	// than whatever the LLM itself was fed for this tool call.
	Tool   string
	Input  string
	Output string
}

// ToolCallRecord is one completed tool invocation, kept in invocation order
// for the grader's transcript and C8's history assembly.
type ToolCallRecord struct {
	Tool   string
	Input  string
	Output string
}

// Controller runs the Thought/Action/Observation loop.
type Controller struct {
	LLM           llms.Model
	Catalog       []tools.Tool
	MaxIterations int
	Logger        log.Logger

	byName map[string]tools.Tool
}

// NewController builds a Controller over the given tool catalog, in the
// order they should be declared to the LLM (spec §9 "Polymorphism": "the
// controller holds them in a name-indexed catalog").
func NewController(llm llms.Model, catalog []tools.Tool, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.NewDefaultLogger(log.LogLevelInfo)
	}
	byName := make(map[string]tools.Tool, len(catalog))
	for _, t := range catalog {
		byName[t.Name()] = t
	}
	return &Controller{LLM: llm, Catalog: catalog, MaxIterations: 12, Logger: logger, byName: byName}
}

// systemPrompt declares the tool catalog and the text protocol (spec §4.5:
// "a fixed system prompt declaring the tool catalog ... instructed to
// produce explicit Thought/Action/Action-Input/Observation traces").
func (c *Controller) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You answer questions about a narrative corpus using the tools below. " +
		"For each step, think step by step, then either call exactly one tool or give a final answer. " +
		"Use this exact format:\n\n" +
		"Thought: <your reasoning>\n" +
		"Action: <tool name>\n" +
		"Action Input: <tool input>\n\n" +
		"After receiving an Observation, continue with another Thought/Action, or, once you have " +
		"sufficient evidence, respond with:\n\n" +
		"Thought: <your reasoning>\n" +
		"Answer: <final answer, citing chapter/task evidence>\n\n" +
		"Tools:\n")
	for _, t := range c.Catalog {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return b.String()
}

// Run executes the loop against a single fresh conversation (spec §4.8
// step 3: "each retry starts fresh"). input is either the raw user
// question (attempt 1) or the structured Markdown history + task (attempts
// 2+), assembled by the orchestrator. events, if non-nil, receives a
// best-effort stream of reasoning and tool-call events; sends never block
// the pipeline (dropped when the buffer is full, matching the teacher's
// StreamingListener backpressure policy in graph/streaming.go).
func (c *Controller) Run(ctx context.Context, input string, events chan<- Event) (answer string, transcript []ToolCallRecord, err error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, c.systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}

	for iter := 0; iter < c.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return answer, transcript, &apperr.Cancelled{Stage: "reasoning"}
		default:
		}

		content, err := c.generate(ctx, messages)
		if err != nil {
			return "", transcript, err
		}
		emit(events, Event{Type: EventReasoningDelta, Text: content})
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, content))

		step := parseStep(content)
		if step.HasAnswer {
			return step.Answer, transcript, nil
		}
		if step.Action == "" {
			// No Action and no Answer: nudge the model instead of looping forever
			// on a malformed turn.
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman,
				"Observation: no Action or Answer was recognized. Respond using the exact Thought/Action/"+
					"Action Input or Thought/Answer format."))
			continue
		}

		observation, traceOutput := c.dispatch(ctx, step.Action, step.ActionInput)
		transcript = append(transcript, ToolCallRecord{Tool: step.Action, Input: step.ActionInput, Output: observation})
		emit(events, Event{Type: EventToolCallResult, Tool: step.Action, Input: step.ActionInput, Output: traceOutput})

		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, "Observation: "+observation))
	}

	c.Logger.Warn("reasoning: exhausted %d iterations without a final answer", c.MaxIterations)
	return lastReasoningText(messages), transcript, nil
}

// generate calls the reasoning LLM once, retrying a single time on failure
// (spec §7 "LLM-call-failure": "Retried once per call site; if still
// failing, aborts the current attempt").
func (c *Controller) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := c.LLM.GenerateContent(ctx, messages)
	if err != nil {
		resp, err = c.LLM.GenerateContent(ctx, messages)
		if err != nil {
			return "", &apperr.LLMCallError{Site: "reasoning", Err: err}
		}
	}
	if len(resp.Choices) == 0 {
		return "", &apperr.LLMCallError{Site: "reasoning", Err: fmt.Errorf("empty response")}
	}
	return resp.Choices[0].Content, nil
}

// dispatch executes a tool call, translating lookup/tool failures into
// observation text rather than propagating them (spec §4.5 "Failure
// modes": "tool exceptions become observations of form 'tool X failed:
// reason'"). It returns two independently truncated copies of the tool's
// raw output: the first is fed back to the LLM (and kept in the retry
// transcript), budgeted per-tool; the second is the copy handed to the
// trace recorder, truncated to the larger TraceOutputBudget regardless of
// what the LLM saw.
func (c *Controller) dispatch(ctx context.Context, name, input string) (observation, traceOutput string) {
	t, ok := c.byName[name]
	if !ok {
		msg := fmt.Sprintf("tool %s failed: unknown tool; valid tools are %s", name, strings.Join(c.toolNames(), ", "))
		return msg, msg
	}
	out, err := t.Call(ctx, input)
	if err != nil {
		msg := fmt.Sprintf("tool %s failed: %v", name, err)
		return msg, msg
	}
	budget := ToolOutputBudget
	if name == vectorToolName {
		budget = VectorToolOutputBudget
	}
	return truncateBudget(out, budget), truncateBudget(out, TraceOutputBudget)
}

func (c *Controller) toolNames() []string {
	names := make([]string, len(c.Catalog))
	for i, t := range c.Catalog {
		names[i] = t.Name()
	}
	return names
}

// truncateBudget trims s to at most n runes, cutting only at the end
// (spec §4.5: "must not silently drop content that contains dialogue
// evidence; truncations occur only at the end of a text block").
func truncateBudget(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "… [truncated]"
}

func lastReasoningText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.ChatMessageTypeAI {
			continue
		}
		for _, part := range messages[i].Parts {
			if tp, ok := part.(llms.TextContent); ok {
				return tp.Text
			}
		}
	}
	return ""
}

func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}
