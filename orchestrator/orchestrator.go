// Package orchestrator implements the Retry Orchestrator (C8) as a compiled
// graph.StateRunnable over the teacher's graph.StateGraph engine, mirroring
// the conditional-edge retry/fallback shape of prebuilt/rag.go's
// BuildConditionalRAG (rerank -> generate vs. rerank -> fallback_search ->
// generate). Here: reason -> grade -> (END | refine -> inject_context ->
// reason), then a gated humanize node before END (spec.md §4.8).
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/graph"
	"github.com/smallnest/storyoracle/grader"
	"github.com/smallnest/storyoracle/internal/apperr"
	"github.com/smallnest/storyoracle/log"
	"github.com/smallnest/storyoracle/reasoning"
	"github.com/smallnest/storyoracle/refiner"
	"github.com/smallnest/storyoracle/session"
	"github.com/smallnest/storyoracle/trace"
)

// DefaultMaxAttempts is N_max (spec.md §6: "Retry budget N_max (default 3)").
const DefaultMaxAttempts = 3

// DefaultLimitProgression is the per-attempt breadth budget (spec.md §6:
// "limit progression (default 3/5/8)").
var DefaultLimitProgression = []int{3, 5, 8}

type orchestratorErr string

func (e orchestratorErr) Error() string { return string(e) }

var errHumanizerEmptyResponse = orchestratorErr("humanizer: empty response")

const humanizeSystemPrompt = `Rewrite the following answer to remove academic-style citation markers
(e.g. "[chapter 4, task 12]", "(source: ...)") while preserving every fact and claim.
Return ONLY the rewritten text, no preamble, no JSON.`

// Result is the orchestrator's final output for one query.
type Result struct {
	Answer          string
	RawAnswer       string
	Pass            bool
	Attempts        int
	LastVerdict     grader.Verdict
	LastTranscript  []reasoning.ToolCallRecord
}

// attemptRecord is one completed attempt's summary, carried forward as
// structured context for the next attempt (spec.md §4.8 step 2).
type attemptRecord struct {
	index      int
	transcript []reasoning.ToolCallRecord
	answer     string
	verdict    grader.Verdict
	refined    []string
}

// state flows through the compiled graph's nodes.
type state struct {
	question        string
	sessionID       string
	priorTurns      []session.Turn
	attempt         int
	maxAttempts     int
	limitProgression []int
	history         []attemptRecord

	answer     string
	transcript []reasoning.ToolCallRecord
	verdict    grader.Verdict
	refined    []string

	humanized string
	pass      bool

	traceCtx *trace.Trace
	curTrace *trace.Attempt
}

// Orchestrator wires the reasoning controller, grader, and refiner into a
// retry loop with a gated humanizer pass.
type Orchestrator struct {
	Controller   *reasoning.Controller
	Grader       *grader.Grader
	FastLLM      llms.Model
	Recorder     *trace.Recorder
	Logger       log.Logger
	MaxAttempts  int
	LimitProgression []int

	// SessionStore, when set, persists the attempt-local set of tool
	// observations so it survives process restarts (spec.md §3 "Session
	// state"; §4.8 step 3: "reset at the start of each retry"). Optional —
	// a nil SessionStore just skips the scratch bookkeeping.
	SessionStore session.Store

	runnable *graph.StateRunnable
}

// New constructs an Orchestrator and compiles its retry graph.
func New(controller *reasoning.Controller, g *grader.Grader, fastLLM llms.Model, recorder *trace.Recorder, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewDefaultLogger(log.LogLevelInfo)
	}
	if recorder == nil {
		recorder = trace.NewRecorder("", logger)
	}
	o := &Orchestrator{
		Controller:       controller,
		Grader:           g,
		FastLLM:          fastLLM,
		Recorder:         recorder,
		Logger:           logger,
		MaxAttempts:      DefaultMaxAttempts,
		LimitProgression: DefaultLimitProgression,
	}
	o.runnable = o.compile()
	return o
}

func (o *Orchestrator) compile() *graph.StateRunnable {
	g := graph.NewStateGraph()

	g.AddNode("reason", "run the reasoning controller for the current attempt", o.reasonNode)
	g.AddNode("grade", "grade the current attempt's answer", o.gradeNode)
	g.AddNode("refine", "generate refined search terms for the next attempt", o.refineNode)
	g.AddNode("inject_context", "assemble the structured Markdown history for the next attempt", o.injectContextNode)
	g.AddNode("humanize", "strip citation markers from a passing answer", o.humanizeNode)

	g.SetEntryPoint("reason")
	g.AddEdge("reason", "grade")
	g.AddConditionalEdge("grade", func(ctx context.Context, st any) string {
		s := st.(*state)
		if s.verdict.Pass || s.attempt >= s.maxAttempts {
			return "humanize"
		}
		return "refine"
	})
	g.AddEdge("refine", "inject_context")
	g.AddEdge("inject_context", "reason")
	g.AddEdge("humanize", graph.END)

	runnable, err := g.Compile()
	if err != nil {
		// Only returned by Compile() when SetEntryPoint was never called,
		// which cannot happen here.
		panic(fmt.Sprintf("orchestrator: graph compile failed: %v", err))
	}
	return runnable
}

// Run answers one question end to end, retrying per spec.md §4.8.
// priorTurns is the session's conversational history so far (spec.md §3
// "Session state": "persists across turns within a session"), fed into the
// first attempt's prompt for continuity; pass nil for a session-less or
// first-turn query.
func (o *Orchestrator) Run(ctx context.Context, sessionID, question string, priorTurns []session.Turn) (Result, error) {
	maxAttempts := o.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	progression := o.LimitProgression
	if len(progression) == 0 {
		progression = DefaultLimitProgression
	}

	o.discardStaleScratch(ctx, sessionID)

	tr := o.Recorder.StartTrace(question, sessionID)

	init := &state{
		question:         question,
		sessionID:        sessionID,
		priorTurns:       priorTurns,
		attempt:          1,
		maxAttempts:      maxAttempts,
		limitProgression: progression,
		traceCtx:         tr,
	}

	cancelled := ctx.Err() != nil
	out, err := o.runnable.Invoke(ctx, init)
	if err != nil {
		if _, ok := err.(*apperr.Cancelled); ok {
			cancelled = true
		}
		o.Recorder.EndTrace(ctx, tr, cancelled)
		return Result{}, err
	}

	final := out.(*state)
	o.Recorder.EndTrace(ctx, tr, ctx.Err() != nil)

	return Result{
		Answer:         final.humanized,
		RawAnswer:      final.answer,
		Pass:           final.pass,
		Attempts:       final.attempt,
		LastVerdict:    final.verdict,
		LastTranscript: final.transcript,
	}, nil
}

func (o *Orchestrator) reasonNode(ctx context.Context, st any) (any, error) {
	s := st.(*state)

	limit := breadthLimit(s.limitProgression, s.attempt)
	s.curTrace = o.Recorder.StartAttempt(s.traceCtx, s.attempt)

	var input string
	switch {
	case s.attempt > 1:
		input = assembleRetryPrompt(s.question, s.history, limit)
	case len(s.priorTurns) > 0:
		input = assembleConversationPrompt(s.question, s.priorTurns)
	default:
		input = s.question
	}
	o.Recorder.LogContextInjection(s.curTrace, input)

	// Each retry runs a fresh controller conversation (spec.md §4.8 step 3);
	// the controller itself holds no cross-call state beyond MaxIterations.
	runner := reasoning.NewController(o.Controller.LLM, o.Controller.Catalog, o.Logger)
	runner.MaxIterations = limit

	events := make(chan reasoning.Event, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Type {
			case reasoning.EventReasoningDelta:
				o.Recorder.LogReasoningStream(s.curTrace, ev.Text)
			case reasoning.EventToolCallResult:
				o.Recorder.LogToolCall(s.curTrace, ev.Tool, ev.Input, ev.Output)
			}
		}
	}()

	answer, transcript, err := runner.Run(ctx, input, events)
	close(events)
	<-done

	if err != nil {
		o.Recorder.EndAttempt(s.curTrace, ctx.Err() != nil)
		return nil, err
	}

	s.answer = answer
	s.transcript = transcript
	o.saveScratch(ctx, s.sessionID, transcript)
	return s, nil
}

func (o *Orchestrator) gradeNode(ctx context.Context, st any) (any, error) {
	s := st.(*state)
	s.verdict = o.Grader.Grade(ctx, s.question, s.answer, s.transcript)
	o.Recorder.LogGrading(s.curTrace, s.verdict.Score, s.verdict.Pass, s.verdict.FailReason, s.verdict.Reason, s.verdict.Suggestion)
	o.Recorder.EndAttempt(s.curTrace, false)

	s.history = append(s.history, attemptRecord{
		index:      s.attempt,
		transcript: s.transcript,
		answer:     s.answer,
		verdict:    s.verdict,
	})
	return s, nil
}

func (o *Orchestrator) refineNode(ctx context.Context, st any) (any, error) {
	s := st.(*state)
	s.refined = refiner.Refine(ctx, o.FastLLM, s.question, s.verdict.Suggestion)
	o.Recorder.LogRefiner(s.curTrace, s.refined)
	if n := len(s.history); n > 0 {
		s.history[n-1].refined = s.refined
	}
	return s, nil
}

func (o *Orchestrator) injectContextNode(ctx context.Context, st any) (any, error) {
	s := st.(*state)
	s.attempt++
	// spec.md §4.8 step 3: the attempt-local scratch resets at the start of
	// each retry, before the next reasonNode call populates it afresh.
	o.resetScratch(ctx, s.sessionID)
	return s, nil
}

// discardStaleScratch warns about and clears any scratch left over from a
// previous, possibly crashed run for this session before a fresh Run starts.
func (o *Orchestrator) discardStaleScratch(ctx context.Context, sessionID string) {
	if o.SessionStore == nil {
		return
	}
	stale, err := o.SessionStore.LoadScratch(ctx, sessionID)
	if err != nil {
		o.Logger.Warn("orchestrator: failed to load scratch for session %q: %v", sessionID, err)
	} else if len(stale) > 0 {
		o.Logger.Warn("orchestrator: discarding %d stale scratch observation(s) from a prior run for session %q", len(stale), sessionID)
	}
	o.resetScratch(ctx, sessionID)
}

func (o *Orchestrator) resetScratch(ctx context.Context, sessionID string) {
	if o.SessionStore == nil {
		return
	}
	if err := o.SessionStore.ResetScratch(ctx, sessionID); err != nil {
		o.Logger.Warn("orchestrator: failed to reset scratch for session %q: %v", sessionID, err)
	}
}

func (o *Orchestrator) saveScratch(ctx context.Context, sessionID string, transcript []reasoning.ToolCallRecord) {
	if o.SessionStore == nil {
		return
	}
	observations := make([]string, len(transcript))
	for i, t := range transcript {
		observations[i] = fmt.Sprintf("%s(%s) -> %s", t.Tool, t.Input, oneLine(t.Output))
	}
	if err := o.SessionStore.SaveScratch(ctx, sessionID, observations); err != nil {
		o.Logger.Warn("orchestrator: failed to save scratch for session %q: %v", sessionID, err)
	}
}

// humanizeNode strips citation markers on a pass; a failing, budget-
// exhausted attempt returns the raw answer unchanged (spec.md §4.8 step 8).
func (o *Orchestrator) humanizeNode(ctx context.Context, st any) (any, error) {
	s := st.(*state)
	s.pass = s.verdict.Pass
	if !s.pass {
		s.humanized = s.answer
		return s, nil
	}

	humanized, err := humanize(ctx, o.FastLLM, s.answer)
	if err != nil {
		o.Logger.Warn("orchestrator: humanizer call failed, keeping raw answer: %v", err)
		humanized = s.answer
	}
	s.humanized = humanized
	return s, nil
}

func humanize(ctx context.Context, fastLLM llms.Model, answer string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, humanizeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, answer),
	}
	resp, err := fastLLM.GenerateContent(ctx, messages)
	if err != nil {
		return "", &apperr.LLMCallError{Site: "humanizer", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &apperr.LLMCallError{Site: "humanizer", Err: errHumanizerEmptyResponse}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func breadthLimit(progression []int, attempt int) int {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(progression) {
		idx = len(progression) - 1
	}
	return progression[idx]
}

// assembleConversationPrompt prepends a session's prior turns to the current
// question (spec.md §3 "Session state": conversational context must "persist
// across turns within a session" and feed the controller's input on
// subsequent turns).
func assembleConversationPrompt(question string, turns []session.Turn) string {
	var b strings.Builder
	b.WriteString("## Conversation so far\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	fmt.Fprintf(&b, "\n## Current question\n\n%s\n", question)
	return b.String()
}

// assembleRetryPrompt builds the structured Markdown history spec.md §4.8
// step 2 names: per-prior-attempt tool summaries, answer, grader scores and
// fail reason, refiner suggestions, then the current task.
func assembleRetryPrompt(question string, history []attemptRecord, limit int) string {
	var b strings.Builder
	b.WriteString("## Prior attempts\n\n")
	for _, a := range history {
		fmt.Fprintf(&b, "### Attempt %d\n", a.index)
		b.WriteString("Tools called:\n")
		if len(a.transcript) == 0 {
			b.WriteString("- (none)\n")
		}
		for _, t := range a.transcript {
			fmt.Fprintf(&b, "- %s(%s) -> %s\n", t.Tool, t.Input, oneLine(t.Output))
		}
		fmt.Fprintf(&b, "Answer: %s\n", oneLine(a.answer))
		fmt.Fprintf(&b, "Grader: score=%d pass=%t reason=%q fail_reason=%q\n", a.verdict.Score, a.verdict.Pass, a.verdict.Reason, a.verdict.FailReason)
		if len(a.refined) > 0 {
			fmt.Fprintf(&b, "Refiner suggestions: %s\n", strings.Join(a.refined, "; "))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Current task\n\n%s\n\n", question)
	b.WriteString("Do not re-call a tool with arguments that already returned the results shown above; ")
	fmt.Fprintf(&b, "you have a breadth budget of %d results per retrieval call this attempt. ", limit)
	b.WriteString("Call the memory search tool for depth where the above attempts fell short.\n")
	return b.String()
}

// oneLine reduces a possibly long, multi-line tool output to a short
// conclusion summary (spec.md §4.8: "one-line conclusion summaries, not
// full outputs").
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
