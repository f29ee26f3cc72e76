package singletons

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/storyoracle/config"
)

type fakeLLM struct{ calls int }

func (f *fakeLLM) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return "", nil
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func TestReasoningLLMIsConstructedOnceAndCached(t *testing.T) {
	llm := &fakeLLM{}
	r := New(config.Config{}, nil)
	r.ReasoningLLMOverride = llm

	a, err := r.ReasoningLLM()
	require.NoError(t, err)
	b, err := r.ReasoningLLM()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFastLLMOverrideUsedInsteadOfRealConstruction(t *testing.T) {
	llm := &fakeLLM{}
	r := New(config.Config{FastModel: "not-a-real-model"}, nil)
	r.FastLLMOverride = llm

	got, err := r.FastLLM()
	require.NoError(t, err)
	assert.Same(t, llm, got)
}
