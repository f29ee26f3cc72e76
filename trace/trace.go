// Package trace implements the Trace Recorder (C9): a passive sink with
// lifecycle hooks that accumulates a tree of attempt/tool-call/reasoning
// records and serializes it to a per-query JSON file (spec §4.9). Grounded
// on graph/tracing.go's Tracer/TraceHook/TraceSpan shape, adapted from
// graph-node lifecycle events to the attempt lifecycle of this domain.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallnest/storyoracle/log"
	"github.com/smallnest/storyoracle/reasoning"
)

// ToolCallEntry is one recorded tool invocation within an attempt.
type ToolCallEntry struct {
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// ParsedStep is a post-parsed Thought/Action/Answer cycle extracted from the
// raw reasoning stream at end_attempt (spec §4.9: "post-parsed ... into
// structured thought/action lists via line-regex patterns").
type ParsedStep struct {
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Answer      string `json:"answer,omitempty"`
}

// GradingEntry records one grader verdict.
type GradingEntry struct {
	Score      int    `json:"score"`
	Pass       bool   `json:"pass"`
	FailReason string `json:"fail_reason,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// RefinerEntry records one refiner call's output.
type RefinerEntry struct {
	Suggestions []string `json:"suggestions"`
}

// Attempt is one retry-orchestrator attempt's full record.
type Attempt struct {
	Index            int             `json:"index"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          time.Time       `json:"ended_at,omitempty"`
	ContextInjection string          `json:"context_injection,omitempty"`
	ToolCalls        []ToolCallEntry `json:"tool_calls,omitempty"`
	ReasoningRaw     []string        `json:"reasoning_raw,omitempty"`
	ParsedSteps      []ParsedStep    `json:"parsed_steps,omitempty"`
	Grading          *GradingEntry   `json:"grading,omitempty"`
	Refiner          *RefinerEntry   `json:"refiner,omitempty"`
	Cancelled        bool            `json:"cancelled,omitempty"`
}

// Trace is the full record of one query's lifecycle (spec §4.9: "Accumulates
// a tree, serializes to a per-trace JSON file").
type Trace struct {
	Query     string     `json:"query"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
	Attempts  []*Attempt `json:"attempts"`
	Cancelled bool       `json:"cancelled,omitempty"`

	mu sync.Mutex
}

// Recorder writes Trace records to JSON files under Dir (spec §6: "Filename
// pattern: YYYYMMDD-HHMMSS-<6-hex>.json"). All methods are safe to call on a
// nil *Recorder (a no-op sink) so callers need not special-case "tracing
// disabled".
type Recorder struct {
	Dir    string
	Logger log.Logger
}

// NewRecorder constructs a Recorder writing under dir.
func NewRecorder(dir string, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewDefaultLogger(log.LogLevelInfo)
	}
	return &Recorder{Dir: dir, Logger: logger}
}

// StartTrace begins a new trace for one query (spec §4.9 hook: start_trace).
func (r *Recorder) StartTrace(query, sessionID string) *Trace {
	return &Trace{Query: query, SessionID: sessionID, StartedAt: time.Now()}
}

// StartAttempt begins attempt index within t (hook: start_attempt).
func (r *Recorder) StartAttempt(t *Trace, index int) *Attempt {
	if t == nil {
		return &Attempt{Index: index, StartedAt: time.Now()}
	}
	a := &Attempt{Index: index, StartedAt: time.Now()}
	t.mu.Lock()
	t.Attempts = append(t.Attempts, a)
	t.mu.Unlock()
	return a
}

// LogContextInjection records the structured prior-attempt history injected
// into this attempt's prompt (hook: log_context_injection).
func (r *Recorder) LogContextInjection(a *Attempt, context string) {
	if a == nil {
		return
	}
	a.ContextInjection = context
}

// LogToolCall records one tool invocation (hook: log_tool_call).
func (r *Recorder) LogToolCall(a *Attempt, tool, input, output string) {
	if a == nil {
		return
	}
	a.ToolCalls = append(a.ToolCalls, ToolCallEntry{
		Tool: tool, Input: input, Output: output, Timestamp: time.Now(),
	})
}

// LogReasoningStream appends one raw reasoning-LLM response to the attempt
// (hook: log_reasoning_stream). Raw text is captured as-is; structured
// parsing happens at EndAttempt.
func (r *Recorder) LogReasoningStream(a *Attempt, raw string) {
	if a == nil {
		return
	}
	a.ReasoningRaw = append(a.ReasoningRaw, raw)
}

// LogGrading records the grader verdict for this attempt (hook: log_grading).
func (r *Recorder) LogGrading(a *Attempt, score int, pass bool, failReason, reason, suggestion string) {
	if a == nil {
		return
	}
	a.Grading = &GradingEntry{Score: score, Pass: pass, FailReason: failReason, Reason: reason, Suggestion: suggestion}
}

// LogRefiner records the refiner's output suggestions (hook: log_refiner).
func (r *Recorder) LogRefiner(a *Attempt, suggestions []string) {
	if a == nil {
		return
	}
	a.Refiner = &RefinerEntry{Suggestions: suggestions}
}

// EndAttempt closes the attempt, post-parsing its raw reasoning stream into
// structured thought/action/answer steps and de-duplicating adjacent
// identical Action emissions (spec §4.9: "LLMs sometimes echo") (hook:
// end_attempt).
func (r *Recorder) EndAttempt(a *Attempt, cancelled bool) {
	if a == nil {
		return
	}
	a.EndedAt = time.Now()
	a.Cancelled = cancelled
	a.ParsedSteps = parseAndDedupe(a.ReasoningRaw)
}

// parseAndDedupe runs reasoning.ParseText over each raw response and drops a
// step whose Action+ActionInput exactly repeats the immediately preceding
// step's.
func parseAndDedupe(raw []string) []ParsedStep {
	var steps []ParsedStep
	for _, text := range raw {
		s := reasoning.ParseText(text)
		step := ParsedStep{Thought: s.Thought, Action: s.Action, ActionInput: s.ActionInput, Answer: s.Answer}
		if n := len(steps); n > 0 && step.Action != "" &&
			steps[n-1].Action == step.Action && steps[n-1].ActionInput == step.ActionInput {
			continue
		}
		steps = append(steps, step)
	}
	return steps
}

// EndTrace closes t and writes it to a JSON file under r.Dir (hook:
// end_trace). Never returns an error to a caller that ignores it in a
// defer — per spec §4.9 ("Never blocks the pipeline; exceptions in the
// recorder are logged and swallowed") the failure is logged, not
// propagated, but the return value lets callers that do care observe it.
func (r *Recorder) EndTrace(ctx context.Context, t *Trace, cancelled bool) error {
	if r == nil || t == nil {
		return nil
	}
	t.mu.Lock()
	t.EndedAt = time.Now()
	t.Cancelled = cancelled
	t.mu.Unlock()

	if err := r.write(t); err != nil {
		r.Logger.Error("trace: failed to write trace file: %v", err)
		return err
	}
	return nil
}

func (r *Recorder) write(t *Trace) error {
	if r.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}

	name, err := fileName(t.StartedAt)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	return os.WriteFile(filepath.Join(r.Dir, name), data, 0o644)
}

// fileName builds the "YYYYMMDD-HHMMSS-<6-hex>.json" pattern of spec §6.
func fileName(ts time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate trace id: %w", err)
	}
	return fmt.Sprintf("%s-%x.json", ts.Format("20060102-150405"), buf), nil
}
