package kgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallnest/storyoracle/domain"
)

// AdjacentEdge is one row of an adjacency lookup: a relation to a
// neighboring node, with the neighbor's type and any temporal properties.
type AdjacentEdge struct {
	Relation    domain.EdgeType
	Target      string
	TargetType  string
	Chapter     *int
	TaskID      string
	Description string
	Role        domain.EdgeRole
	Outcome     string
}

// FullTextHit is one row from a full-text index query, carrying enough of
// the node's properties for the Alias Resolver's preference rule (§4.1:
// non-empty alias lists outrank bare nodes at equal score).
type FullTextHit struct {
	Canonical  string
	HasAliases bool
	Score      float64
}

// escape makes a Go string safe to embed as a single-quoted Cypher string
// literal. The teacher's falkordb.go builds Cypher by string concatenation
// the same way; this only adds the quote-escaping it omitted.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// Lookup returns up to `limit` edges directly adjacent to entity, optionally
// filtered to a single relation type (spec §4.2 lookup_knowledge).
func (c *Client) Lookup(ctx context.Context, entity string, relation domain.EdgeType, limit int) ([]AdjacentEdge, error) {
	cypher := fmt.Sprintf("MATCH (n {canonical: '%s'})-[r]->(m) ", escape(entity))
	if relation != "" {
		cypher += fmt.Sprintf("WHERE type(r) = '%s' ", escape(string(relation)))
	}
	cypher += "RETURN type(r), m.canonical, labels(m)[0], r.chapter, r.task_id, r.description, r.role, r.outcome "
	cypher += fmt.Sprintf("LIMIT %d", limit)

	qr, err := c.query(ctx, cypher)
	if err != nil {
		return nil, err
	}

	edges := make([]AdjacentEdge, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) < 8 {
			continue
		}
		e := AdjacentEdge{
			Relation:    domain.EdgeType(asString(row[0])),
			Target:      asString(row[1]),
			TargetType:  asString(row[2]),
			TaskID:      asString(row[4]),
			Description: asString(row[5]),
			Role:        domain.EdgeRole(asString(row[6])),
			Outcome:     asString(row[7]),
		}
		if ch, ok := scalarInt(row[3]); ok {
			e.Chapter = &ch
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// PathHop is one edge traversed by a found connection path.
type PathHop struct {
	Relation domain.EdgeType
	From     string
	To       string
}

// ShortestPath finds an undirected path of length <= maxLen between the two
// canonicals, excluding any path that passes through a node carrying one of
// excludeLabels (spec §4.2 find_connection: region/nation nodes excluded so
// they don't trivialize every pair in the same region).
func (c *Client) ShortestPath(ctx context.Context, a, b string, maxLen int, excludeLabels []string) ([]PathHop, []string, error) {
	exclude := ""
	if len(excludeLabels) > 0 {
		conds := make([]string, len(excludeLabels))
		for i, l := range excludeLabels {
			conds[i] = fmt.Sprintf("x:%s", sanitizeLabel(l))
		}
		exclude = fmt.Sprintf(" WHERE NONE(x IN nodes(p) WHERE %s)", strings.Join(conds, " OR "))
	}

	cypher := fmt.Sprintf(
		"MATCH p = allShortestPaths((a {canonical: '%s'})-[*..%d]-(b {canonical: '%s'}))%s "+
			"RETURN [x IN nodes(p) | x.canonical], [r IN relationships(p) | type(r)] LIMIT 1",
		escape(a), maxLen, escape(b), exclude,
	)

	qr, err := c.query(ctx, cypher)
	if err != nil {
		return nil, nil, err
	}
	if len(qr.Results) == 0 || len(qr.Results[0]) < 2 {
		return nil, nil, nil
	}

	nodeNames := toStringList(qr.Results[0][0])
	relTypes := toStringList(qr.Results[0][1])

	hops := make([]PathHop, 0, len(relTypes))
	for i, rt := range relTypes {
		if i+1 >= len(nodeNames) {
			break
		}
		hops = append(hops, PathHop{Relation: domain.EdgeType(rt), From: nodeNames[i], To: nodeNames[i+1]})
	}
	return hops, nodeNames, nil
}

// TemporalEdge is one row of a journey track: an edge carrying a chapter,
// optionally restricted to a single target.
type TemporalEdge struct {
	Relation domain.EdgeType
	Target   string
	Chapter  int
	TaskID   string
	Evidence string
}

// TrackJourney returns all temporal edges emanating from entity, sorted by
// chapter then task id, optionally restricted to target (spec §4.2
// track_journey).
func (c *Client) TrackJourney(ctx context.Context, entity string, target string) ([]TemporalEdge, error) {
	cypher := fmt.Sprintf("MATCH (n {canonical: '%s'})-[r]->(m) WHERE r.chapter IS NOT NULL ", escape(entity))
	if target != "" {
		cypher += fmt.Sprintf("AND m.canonical = '%s' ", escape(target))
	}
	cypher += "RETURN type(r), m.canonical, r.chapter, r.task_id, r.description ORDER BY r.chapter ASC, r.task_id ASC"

	qr, err := c.query(ctx, cypher)
	if err != nil {
		return nil, err
	}

	edges := make([]TemporalEdge, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) < 5 {
			continue
		}
		ch, _ := scalarInt(row[2])
		edges = append(edges, TemporalEdge{
			Relation: domain.EdgeType(asString(row[0])),
			Target:   asString(row[1]),
			Chapter:  ch,
			TaskID:   asString(row[3]),
			Evidence: asString(row[4]),
		})
	}
	return edges, nil
}

// CharacterEvent is one row of a MajorEvent query joined with the
// EXPERIENCES edge that relates the character to it.
type CharacterEvent struct {
	domain.MajorEvent
	Role domain.EdgeRole
}

// MajorEvents returns up to `limit` MajorEvents the entity EXPERIENCES,
// sorted by chapter ascending, optionally filtered by event type (spec
// §4.3 get_character_events).
func (c *Client) MajorEvents(ctx context.Context, entity string, eventType domain.EventType, limit int) ([]CharacterEvent, error) {
	cypher := fmt.Sprintf("MATCH (n {canonical: '%s'})-[r:EXPERIENCES]->(e:MajorEvent) ", escape(entity))
	if eventType != "" {
		cypher += fmt.Sprintf("WHERE e.type = '%s' ", escape(string(eventType)))
	}
	cypher += "RETURN e.name, e.chapter, e.type, e.primary_character, e.task_id, e.summary, e.evidence, e.outcome, r.role "
	cypher += "ORDER BY e.chapter ASC "
	cypher += fmt.Sprintf("LIMIT %d", limit)

	qr, err := c.query(ctx, cypher)
	if err != nil {
		return nil, err
	}

	events := make([]CharacterEvent, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) < 9 {
			continue
		}
		ch, _ := scalarInt(row[1])
		events = append(events, CharacterEvent{
			MajorEvent: domain.MajorEvent{
				Name:             asString(row[0]),
				Chapter:          ch,
				Type:             domain.EventType(asString(row[2])),
				PrimaryCharacter: asString(row[3]),
				TaskID:           asString(row[4]),
				Summary:          asString(row[5]),
				Evidence:         asString(row[6]),
				Outcome:          asString(row[7]),
			},
			Role: domain.EdgeRole(asString(row[8])),
		})
	}
	return events, nil
}

// FullTextSearch queries FalkorDB's full-text index over the given node
// labels and returns the top-k hits with their relevance score (spec §4.1
// step 2, §6 "full-text index ... returning top-k with relevance scores").
func (c *Client) FullTextSearch(ctx context.Context, labels []string, text string, topK int) ([]FullTextHit, error) {
	hits := make([]FullTextHit, 0, topK)
	for _, label := range labels {
		cypher := fmt.Sprintf(
			"CALL db.idx.fulltext.queryNodes('%s', '%s') YIELD node, score "+
				"RETURN node.canonical, (node.aliases IS NOT NULL AND size(node.aliases) > 0), score "+
				"LIMIT %d",
			sanitizeLabel(label), escape(text), topK,
		)
		qr, err := c.query(ctx, cypher)
		if err != nil {
			return nil, err
		}
		for _, row := range qr.Results {
			if len(row) < 3 {
				continue
			}
			score, _ := scalarFloat(row[2])
			hits = append(hits, FullTextHit{
				Canonical:  asString(row[0]),
				HasAliases: asString(row[1]) == "true",
				Score:      score,
			})
		}
	}
	return hits, nil
}

// ChunkByKey retrieves the graph-side Chunk node matching (task_id,
// event_ordinal), used to verify the cross-store alignment round-trip law
// of spec §8: every chunk returned by search_memory must be findable here.
func (c *Client) ChunkByKey(ctx context.Context, taskID string, eventOrdinal int) (*domain.Chunk, error) {
	cypher := fmt.Sprintf(
		"MATCH (c:Chunk {task_id: '%s', event_ordinal: %d}) RETURN c.id, c.task_id, c.chapter, c.event_ordinal, c.characters",
		escape(taskID), eventOrdinal,
	)
	qr, err := c.query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	if len(qr.Results) == 0 || len(qr.Results[0]) < 5 {
		return nil, nil
	}
	row := qr.Results[0]
	ch, _ := scalarInt(row[2])
	ord, _ := scalarInt(row[3])
	return &domain.Chunk{
		ID:           asString(row[0]),
		TaskID:       asString(row[1]),
		Chapter:      ch,
		EventOrdinal: ord,
		Characters:   toStringList(row[4]),
	}, nil
}

func sanitizeLabel(l string) string {
	var b strings.Builder
	for _, r := range l {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}

func scalarInt(v any) (int, bool) {
	switch x := v.(type) {
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		i, err := strconv.Atoi(x)
		return i, err == nil
	case []byte:
		i, err := strconv.Atoi(string(x))
		return i, err == nil
	default:
		return 0, false
	}
}

func scalarFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}
