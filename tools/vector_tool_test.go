package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/storyoracle/internal/vectorstore"
)

type fakeEmbedder struct {
	lastText string
	calls    int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	f.calls++
	return []float32{0.1, 0.2}, nil
}

// fakeVectors simulates a store with independent round sequences for
// filtered and unfiltered queries, so tests can model both the expanding
// fetch loop (successive rounds for one filter state) and the character-
// filter fallback (switching from filtered to unfiltered) precisely.
type fakeVectors struct {
	filteredRounds   [][]vectorstore.Hit
	unfilteredRounds [][]vectorstore.Hit
	filteredCalls    int
	unfilteredCalls  int
	calls            int
}

func (f *fakeVectors) Search(ctx context.Context, vector []float32, filter vectorstore.Filter, topK uint64) ([]vectorstore.Hit, error) {
	f.calls++
	if filter.Field == "" {
		return f.round(&f.unfilteredCalls, f.unfilteredRounds), nil
	}
	return f.round(&f.filteredCalls, f.filteredRounds), nil
}

func (f *fakeVectors) round(idx *int, rounds [][]vectorstore.Hit) []vectorstore.Hit {
	i := *idx
	*idx++
	if i < len(rounds) {
		return rounds[i]
	}
	if len(rounds) == 0 {
		return nil
	}
	return rounds[len(rounds)-1]
}

func TestSearchMemoryToolDedupesByTaskEventOrdinal(t *testing.T) {
	hits := []vectorstore.Hit{
		{TaskID: "T1", Chapter: 1, EventOrdinal: 1, Text: "low score version", Score: 0.5},
		{TaskID: "T1", Chapter: 1, EventOrdinal: 1, Text: "high score version", Score: 0.9},
		{TaskID: "T2", Chapter: 1, EventOrdinal: 2, Text: "distinct event", Score: 0.8},
	}
	tool := &SearchMemoryTool{
		Resolver: &fakeResolver{},
		Embedder: &fakeEmbedder{},
		Vectors:  &fakeVectors{unfilteredRounds: [][]vectorstore.Hit{hits}},
	}

	out, err := tool.Call(context.Background(), "what happened at the ashfall | | relevance | 2")
	require.NoError(t, err)
	assert.Contains(t, out, "high score version")
	assert.NotContains(t, out, "low score version")
	assert.Contains(t, out, "distinct event")
}

func TestSearchMemoryToolExpandsFetchUntilTargetReached(t *testing.T) {
	round1 := []vectorstore.Hit{{TaskID: "T1", EventOrdinal: 1, Text: "a", Score: 0.9}}
	round2 := []vectorstore.Hit{
		{TaskID: "T1", EventOrdinal: 1, Text: "a", Score: 0.9},
		{TaskID: "T2", EventOrdinal: 1, Text: "b", Score: 0.8},
	}
	vecs := &fakeVectors{unfilteredRounds: [][]vectorstore.Hit{round1, round2}}
	tool := &SearchMemoryTool{Resolver: &fakeResolver{}, Embedder: &fakeEmbedder{}, Vectors: vecs}

	out, err := tool.Call(context.Background(), "query | | relevance | 2")
	require.NoError(t, err)
	assert.Equal(t, 2, vecs.calls)
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
}

func TestSearchMemoryToolCharacterFilterFallback(t *testing.T) {
	fallbackHit := []vectorstore.Hit{{TaskID: "T9", EventOrdinal: 1, Text: "found via fallback", Score: 0.7}}
	vecs := &fakeVectors{
		filteredRounds:   [][]vectorstore.Hit{{}},
		unfilteredRounds: [][]vectorstore.Hit{fallbackHit},
	}
	embedder := &fakeEmbedder{}
	resolver := &fakeResolver{resolved: map[string]string{"Theron": "Theron Ashgrave"}}

	tool := &SearchMemoryTool{Resolver: resolver, Embedder: embedder, Vectors: vecs}
	out, err := tool.Call(context.Background(), "what happened | Theron | relevance | 5")
	require.NoError(t, err)
	assert.Contains(t, out, "fallback used")
	assert.Contains(t, out, "found via fallback")
}

func TestSearchMemoryToolSortByTime(t *testing.T) {
	hits := []vectorstore.Hit{
		{TaskID: "T2", Chapter: 5, EventOrdinal: 1, Text: "later", Score: 0.9},
		{TaskID: "T1", Chapter: 1, EventOrdinal: 1, Text: "earlier", Score: 0.5},
	}
	vecs := &fakeVectors{unfilteredRounds: [][]vectorstore.Hit{hits}}
	tool := &SearchMemoryTool{Resolver: &fakeResolver{}, Embedder: &fakeEmbedder{}, Vectors: vecs}

	out, err := tool.Call(context.Background(), "query | | time | 2")
	require.NoError(t, err)
	earlierPos := indexOf(out, "earlier")
	laterPos := indexOf(out, "later")
	assert.Less(t, earlierPos, laterPos, "time sort should place chapter 1 before chapter 5")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
