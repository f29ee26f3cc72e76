// Package tools implements the Graph Retrieval Tools (C2), Event Retrieval
// Tool (C3) and Vector Retrieval Tool (C4): langchaingo tools.Tool-shaped
// wrappers (Name/Description/Call, the same shape as the teacher's
// tool.BraveSearch) whose Call methods render plain-text reports for the
// reasoning LLM instead of structured data, per spec §4.2-§4.4.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallnest/storyoracle/domain"
	"github.com/smallnest/storyoracle/internal/kgstore"
)

// Resolver is the subset of internal/alias.Resolver these tools need.
type Resolver interface {
	Resolve(ctx context.Context, surface string) (string, error)
	Expand(ctx context.Context, surface string) ([]string, error)
}

// GraphReader is the subset of internal/kgstore.Client the graph and event
// tools need.
type GraphReader interface {
	Lookup(ctx context.Context, entity string, relation domain.EdgeType, limit int) ([]kgstore.AdjacentEdge, error)
	ShortestPath(ctx context.Context, a, b string, maxLen int, excludeLabels []string) ([]kgstore.PathHop, []string, error)
	TrackJourney(ctx context.Context, entity string, target string) ([]kgstore.TemporalEdge, error)
	MajorEvents(ctx context.Context, entity string, eventType domain.EventType, limit int) ([]kgstore.CharacterEvent, error)
}

// regionLabels are excluded from find_connection paths so two entities that
// merely share a region don't trivially "connect" (spec §4.2).
var regionLabels = []string{"Region", "Nation"}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// LookupKnowledgeTool implements lookup_knowledge (spec §4.2).
type LookupKnowledgeTool struct {
	Resolver Resolver
	Graph    GraphReader
}

func (t *LookupKnowledgeTool) Name() string { return "lookup_knowledge" }

func (t *LookupKnowledgeTool) Description() string {
	return "Look up everything directly known about an entity (a character, organization, or location). " +
		"Input is \"entity\" or \"entity | relation\" where relation is one of the fixed relation types " +
		"(FRIEND_OF, ENEMY_OF, PARTNER_OF, FAMILY_OF, MEMBER_OF, LEADER_OF, PARTICIPATED_IN, EXPERIENCES, " +
		"MENTIONED_IN, INTERACTS_WITH) to filter to just that relation. Returns up to 10 directly adjacent facts."
}

func (t *LookupKnowledgeTool) Call(ctx context.Context, input string) (string, error) {
	entity, relation := splitArg(input)

	canon, err := t.Resolver.Resolve(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("lookup_knowledge: %w", err)
	}

	edges, err := t.Graph.Lookup(ctx, canon, domain.EdgeType(relation), 10)
	if err != nil {
		return "", fmt.Errorf("lookup_knowledge: %w", err)
	}
	if len(edges) == 0 {
		return fmt.Sprintf("No known facts about %q. Try search_memory for narrative context instead.", entity), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Known facts about %s:\n", canon)
	for _, e := range edges {
		chapterTag := ""
		if e.Chapter != nil {
			chapterTag = fmt.Sprintf(", task %s", e.TaskID)
			chapterTag = fmt.Sprintf("chapter %d%s", *e.Chapter, chapterTag)
		} else if e.TaskID != "" {
			chapterTag = fmt.Sprintf("task %s", e.TaskID)
		}
		desc := e.Description
		if desc == "" {
			desc = e.Outcome
		}
		if chapterTag != "" {
			fmt.Fprintf(&b, "[%s] -> %s (%s) [%s]: %s\n", e.Relation, e.Target, e.TargetType, chapterTag, desc)
		} else {
			fmt.Fprintf(&b, "[%s] -> %s (%s): %s\n", e.Relation, e.Target, e.TargetType, desc)
		}
	}
	return b.String(), nil
}

// FindConnectionTool implements find_connection (spec §4.2).
type FindConnectionTool struct {
	Resolver Resolver
	Graph    GraphReader
}

func (t *FindConnectionTool) Name() string { return "find_connection" }

func (t *FindConnectionTool) Description() string {
	return "Find how two entities are connected, through a path of relations of length at most 4. " +
		"Input is \"entity1 | entity2\". Returns the shortest relation path between them, if one exists."
}

func (t *FindConnectionTool) Call(ctx context.Context, input string) (string, error) {
	a, b := splitArg(input)
	if a == "" || b == "" {
		return "find_connection requires two entities separated by '|'.", nil
	}

	canonA, err := t.Resolver.Resolve(ctx, a)
	if err != nil {
		return "", fmt.Errorf("find_connection: %w", err)
	}
	canonB, err := t.Resolver.Resolve(ctx, b)
	if err != nil {
		return "", fmt.Errorf("find_connection: %w", err)
	}

	hops, nodes, err := t.Graph.ShortestPath(ctx, canonA, canonB, 4, regionLabels)
	if err != nil {
		return "", fmt.Errorf("find_connection: %w", err)
	}
	if len(hops) == 0 {
		return fmt.Sprintf("No direct connection found between %s and %s within 4 steps. "+
			"Try search_memory to look for narrative context linking them.", canonA, canonB), nil
	}

	var path strings.Builder
	path.WriteString(hops[0].From)
	for _, h := range hops {
		fmt.Fprintf(&path, " -[%s]-> %s", h.Relation, h.To)
	}

	return fmt.Sprintf("%s\nNodes along the path: %s", path.String(), strings.Join(nodes, ", ")), nil
}

// TrackJourneyTool implements track_journey (spec §4.2).
type TrackJourneyTool struct {
	Resolver Resolver
	Graph    GraphReader
}

func (t *TrackJourneyTool) Name() string { return "track_journey" }

func (t *TrackJourneyTool) Description() string {
	return "Trace everything that happened to an entity over time, in chapter order. " +
		"Input is \"entity\" or \"entity | target\" to restrict to events involving a specific other entity."
}

func (t *TrackJourneyTool) Call(ctx context.Context, input string) (string, error) {
	entity, target := splitArg(input)

	canon, err := t.Resolver.Resolve(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("track_journey: %w", err)
	}
	var canonTarget string
	if target != "" {
		canonTarget, err = t.Resolver.Resolve(ctx, target)
		if err != nil {
			return "", fmt.Errorf("track_journey: %w", err)
		}
	}

	edges, err := t.Graph.TrackJourney(ctx, canon, canonTarget)
	if err != nil {
		return "", fmt.Errorf("track_journey: %w", err)
	}
	if len(edges) == 0 {
		return fmt.Sprintf("No chronological record found for %q. Try search_memory for narrative context instead.", entity), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Journey of %s:\n", canon)
	lastChapter := -1
	for _, e := range edges {
		if e.Chapter != lastChapter {
			fmt.Fprintf(&b, "-- chapter %d --\n", e.Chapter)
			lastChapter = e.Chapter
		}
		fmt.Fprintf(&b, "[%s] -> %s (task: %s); evidence: %s\n", e.Relation, e.Target, e.TaskID, truncate(e.Evidence, 150))
	}
	return b.String(), nil
}

// GetCharacterEventsTool implements get_character_events (spec §4.3).
type GetCharacterEventsTool struct {
	Resolver Resolver
	Graph    GraphReader
}

func (t *GetCharacterEventsTool) Name() string { return "get_character_events" }

func (t *GetCharacterEventsTool) Description() string {
	return "Get the major plot events a character experienced, sorted by chapter. " +
		"Input is \"entity\" or \"entity | event_type\" where event_type is one of: " +
		joinEventTypes() + "."
}

func (t *GetCharacterEventsTool) Call(ctx context.Context, input string) (string, error) {
	entity, eventTypeRaw := splitArg(input)
	eventType := domain.EventType(strings.TrimSpace(eventTypeRaw))
	if !eventType.Valid() {
		return domain.TaxonomyHint(string(eventType)), nil
	}

	canon, err := t.Resolver.Resolve(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("get_character_events: %w", err)
	}

	events, err := t.Graph.MajorEvents(ctx, canon, eventType, 20)
	if err != nil {
		return "", fmt.Errorf("get_character_events: %w", err)
	}
	if len(events) == 0 {
		return fmt.Sprintf("No major events recorded for %q. Try search_memory for narrative context instead.", entity), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Major events for %s:\n", canon)
	for _, e := range events {
		fmt.Fprintf(&b, "[chapter %d] %s (%s) — role: %s\n  summary: %s\n  outcome: %s\n  evidence: %s\n",
			e.Chapter, e.Name, e.Type, e.Role, e.Summary, e.Outcome, truncate(e.Evidence, 100))
	}
	return b.String(), nil
}

func joinEventTypes() string {
	names := make([]string, len(domain.AllEventTypes))
	for i, t := range domain.AllEventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// splitArg splits a "first | second" tool input on the first '|'. A bare
// input with no separator returns ("first", "").
func splitArg(input string) (string, string) {
	parts := strings.SplitN(input, "|", 2)
	first := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return first, ""
	}
	return first, strings.TrimSpace(parts[1])
}

// parseLimit clamps a caller-supplied limit string into [1, max], defaulting
// to def on a parse failure or non-positive value.
func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
