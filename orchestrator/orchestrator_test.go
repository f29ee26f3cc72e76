package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/grader"
	"github.com/smallnest/storyoracle/reasoning"
	"github.com/smallnest/storyoracle/session"
	"github.com/smallnest/storyoracle/trace"
)

// fakeSessionStore is an in-memory session.Store recording scratch/reset
// calls so tests can assert the orchestrator wires them at the right
// retry boundaries, without touching SQLite or Redis.
type fakeSessionStore struct {
	mu          sync.Mutex
	scratch     map[string][]string
	resetCalls  int
	saveCalls   int
	turnsByID   map[string][]session.Turn
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{scratch: map[string][]string{}, turnsByID: map[string][]session.Turn{}}
}

func (f *fakeSessionStore) AppendTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turnsByID[sessionID] = append(f.turnsByID[sessionID], turn)
	return nil
}

func (f *fakeSessionStore) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turnsByID[sessionID], nil
}

func (f *fakeSessionStore) SaveScratch(ctx context.Context, sessionID string, observations []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	f.scratch[sessionID] = observations
	return nil
}

func (f *fakeSessionStore) LoadScratch(ctx context.Context, sessionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scratch[sessionID], nil
}

func (f *fakeSessionStore) ResetScratch(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	delete(f.scratch, sessionID)
	return nil
}

func (f *fakeSessionStore) Close() error { return nil }

// scriptedReasoningLLM returns an Answer on its first GenerateContent call,
// so the controller exits its loop in one iteration.
type scriptedReasoningLLM struct {
	answer string
	calls  int
}

func (s *scriptedReasoningLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	s.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Thought: done\nAnswer: " + s.answer}}}, nil
}

func (s *scriptedReasoningLLM) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return "", nil
}

// scriptedGradeLLM returns one canned verdict JSON per call, cycling
// through a list so each attempt can fail then pass.
type scriptedGradeLLM struct {
	verdicts []string
	calls    int
}

func (s *scriptedGradeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	system := ""
	if len(messages) > 0 {
		for _, p := range messages[0].Parts {
			if tc, ok := p.(llms.TextContent); ok {
				system = tc.Text
			}
		}
	}
	if containsUnknownConclusion(system) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: `{"is_unknown_conclusion": false}`}}}, nil
	}
	if containsRefinerPrompt(system) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: `["fallback search term"]`}}}, nil
	}
	idx := s.calls
	if idx >= len(s.verdicts) {
		idx = len(s.verdicts) - 1
	}
	s.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.verdicts[idx]}}}, nil
}

func (s *scriptedGradeLLM) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return "", nil
}

func containsUnknownConclusion(s string) bool {
	return contains(s, "is_unknown_conclusion")
}

func containsRefinerPrompt(s string) bool {
	return contains(s, "search strings")
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T, answer string, verdicts []string) (*Orchestrator, *scriptedReasoningLLM) {
	t.Helper()
	reasonLLM := &scriptedReasoningLLM{answer: answer}
	controller := reasoning.NewController(reasonLLM, nil, nil)
	fastLLM := &scriptedGradeLLM{verdicts: verdicts}
	g := grader.New(fastLLM)
	rec := trace.NewRecorder(t.TempDir(), nil)
	o := New(controller, g, fastLLM, rec, nil)
	return o, reasonLLM
}

func TestOrchestratorPassesOnFirstAttempt(t *testing.T) {
	o, _ := newTestOrchestrator(t, "Sable Concord returned via the gate.",
		[]string{`{"question_type":"factual","scores":{"tool_usage":20,"completeness":22,"citation":15,"depth":20},"score":85,"reason":"solid","suggestion":""}`})

	res, err := o.Run(context.Background(), "sess-1", "how did Sable Concord return?", nil)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Answer)
}

func TestOrchestratorRetriesThenFails(t *testing.T) {
	failing := `{"question_type":"factual","scores":{"tool_usage":5,"completeness":5,"citation":2,"depth":2},"score":10,"reason":"weak","suggestion":"search more"}`
	o, _ := newTestOrchestrator(t, "a weak answer", []string{failing, failing, failing})
	o.MaxAttempts = 2

	res, err := o.Run(context.Background(), "sess-2", "a hard question", nil)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "a weak answer", res.Answer, "a failing final attempt returns the raw answer unhumanized")
}

func TestOrchestratorPersistsScratchAcrossAttempts(t *testing.T) {
	failing := `{"question_type":"factual","scores":{"tool_usage":5,"completeness":5,"citation":2,"depth":2},"score":10,"reason":"weak","suggestion":"search more"}`
	passing := `{"question_type":"factual","scores":{"tool_usage":20,"completeness":22,"citation":15,"depth":20},"score":85,"reason":"solid","suggestion":""}`
	o, _ := newTestOrchestrator(t, "an answer", []string{failing, passing})
	store := newFakeSessionStore()
	o.SessionStore = store

	res, err := o.Run(context.Background(), "sess-3", "a question", nil)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, 2, res.Attempts)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.saveCalls, "scratch is saved once per reasoning attempt")
	assert.GreaterOrEqual(t, store.resetCalls, 2, "scratch resets at Run start and again entering the retry")
	// the final attempt's scratch entry is what's left once the run
	// completes; the scripted model calls no tools, so it holds no
	// observations.
	assert.Contains(t, store.scratch, "sess-3")
}

func TestAssembleConversationPromptIncludesPriorTurns(t *testing.T) {
	turns := []session.Turn{
		{Role: "user", Content: "who is Sable Concord?"},
		{Role: "assistant", Content: "a wandering envoy."},
	}
	got := assembleConversationPrompt("where did they go next?", turns)
	assert.Contains(t, got, "## Conversation so far")
	assert.Contains(t, got, "user: who is Sable Concord?")
	assert.Contains(t, got, "assistant: a wandering envoy.")
	assert.Contains(t, got, "## Current question")
	assert.Contains(t, got, "where did they go next?")
}
