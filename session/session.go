// Package session implements the Session Store (C10): a per-session
// conversational history plus attempt-local tool-observation scratch state
// (spec.md §3 "Session state"), as two teacher-derived backends adapted
// from store/sqlite and store/redis's CheckpointStore implementations.
package session

import (
	"context"
	"time"
)

// Turn is one exchange in a session's conversational history.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Store is the backend-agnostic interface both SQLiteStore and RedisStore
// satisfy, the same way store.CheckpointStore lets the teacher switch
// between sqlite/redis/postgres checkpoint backends transparently.
type Store interface {
	// AppendTurn records one dialogue turn in the durable session history
	// (spec.md §3: "persists across turns within a session").
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
	// History returns a session's turns in chronological order.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// SaveScratch overwrites the attempt-local tool-observation set.
	SaveScratch(ctx context.Context, sessionID string, observations []string) error
	// LoadScratch returns the current attempt-local observations.
	LoadScratch(ctx context.Context, sessionID string) ([]string, error)
	// ResetScratch clears attempt-local state (spec.md §4.8 step 3: "reset
	// at the start of each retry").
	ResetScratch(ctx context.Context, sessionID string) error

	Close() error
}
