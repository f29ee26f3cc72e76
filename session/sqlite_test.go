package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreAppendAndHistory(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteOptions{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AppendTurn(ctx, "sess-1", Turn{Role: "user", Content: "how did Sable Concord return?"}))
	require.NoError(t, s.AppendTurn(ctx, "sess-1", Turn{Role: "assistant", Content: "via the gate"}))

	turns, err := s.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestSQLiteStoreHistoryIsolatedBySession(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteOptions{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AppendTurn(ctx, "sess-a", Turn{Role: "user", Content: "a"}))
	require.NoError(t, s.AppendTurn(ctx, "sess-b", Turn{Role: "user", Content: "b"}))

	turnsA, err := s.History(ctx, "sess-a")
	require.NoError(t, err)
	require.Len(t, turnsA, 1)
	assert.Equal(t, "a", turnsA[0].Content)
}

func TestSQLiteStoreScratchSaveLoadReset(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteOptions{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveScratch(ctx, "sess-1", []string{"lookup_knowledge(Sable Concord)"}))
	got, err := s.LoadScratch(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lookup_knowledge(Sable Concord)"}, got)

	require.NoError(t, s.ResetScratch(ctx, "sess-1"))
	got, err = s.LoadScratch(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStoreLoadScratchUnknownSessionReturnsEmpty(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteOptions{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadScratch(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, got)
}
