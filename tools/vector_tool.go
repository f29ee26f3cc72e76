package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallnest/storyoracle/internal/vectorstore"
)

// Embedder embeds a query string into a dense vector (spec §4.4 step 1).
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the subset of internal/vectorstore.Client the vector
// tool needs.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, filter vectorstore.Filter, topK uint64) ([]vectorstore.Hit, error)
}

// SearchMemoryTool implements search_memory (spec §4.4), the hardest read
// path: embed, filter, expanding dedup search, character-filter fallback,
// then sort and render.
type SearchMemoryTool struct {
	Resolver Resolver
	Embedder Embedder
	Vectors  VectorSearcher
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }

func (t *SearchMemoryTool) Description() string {
	return "Semantic search over narrative chunks. Input is \"query | characters | sort_by | limit\" where " +
		"characters (optional) restricts to chunks spoken by that entity, sort_by is \"relevance\" (default) or " +
		"\"time\", and limit (default 10, max 20) bounds the number of distinct events returned."
}

// searchMemoryArgs is the parsed "query | characters | sort_by | limit"
// tool input.
type searchMemoryArgs struct {
	Query      string
	Characters string
	SortBy     string
	Limit      int
}

func parseSearchMemoryArgs(input string) searchMemoryArgs {
	parts := strings.Split(input, "|")
	a := searchMemoryArgs{SortBy: "relevance", Limit: 10}
	if len(parts) > 0 {
		a.Query = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		a.Characters = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		a.SortBy = strings.TrimSpace(parts[2])
	}
	if len(parts) > 3 {
		a.Limit = parseLimit(parts[3], 10, 20)
	}
	return a
}

func (t *SearchMemoryTool) Call(ctx context.Context, input string) (string, error) {
	args := parseSearchMemoryArgs(input)
	if args.Query == "" {
		return "search_memory requires a query.", nil
	}

	target := args.Limit
	if target > 20 {
		target = 20
	}

	filter, err := t.buildFilter(ctx, args.Characters)
	if err != nil {
		return "", fmt.Errorf("search_memory: %w", err)
	}

	vec, err := t.Embedder.EmbedQuery(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search_memory: embedding query: %w", err)
	}

	deduped, err := t.expandingSearch(ctx, vec, filter, target)
	if err != nil {
		return "", fmt.Errorf("search_memory: %w", err)
	}

	fallbackUsed := false
	if len(deduped) == 0 && !filter.empty() && args.Characters != "" {
		fallbackUsed = true
		augmented := args.Characters + " " + args.Query
		vec, err = t.Embedder.EmbedQuery(ctx, augmented)
		if err != nil {
			return "", fmt.Errorf("search_memory: embedding fallback query: %w", err)
		}
		deduped, err = t.expandingSearch(ctx, vec, vectorstore.Filter{}, target)
		if err != nil {
			return "", fmt.Errorf("search_memory: fallback: %w", err)
		}
	}

	if len(deduped) == 0 {
		return fmt.Sprintf("No narrative chunks found for %q. Try lookup_knowledge or rephrasing the query.", args.Query), nil
	}

	if args.SortBy == "time" {
		sort.SliceStable(deduped, func(i, j int) bool {
			if deduped[i].Chapter != deduped[j].Chapter {
				return deduped[i].Chapter < deduped[j].Chapter
			}
			return deduped[i].EventOrdinal < deduped[j].EventOrdinal
		})
	}

	return renderHits(deduped, args.SortBy, fallbackUsed), nil
}

// buildFilter implements spec §4.4 step 2: expand the character surface
// name, then build a match-any filter over >1 expansion or a match-value
// filter for a single resolved canonical.
func (t *SearchMemoryTool) buildFilter(ctx context.Context, characters string) (vectorstore.Filter, error) {
	if characters == "" {
		return vectorstore.Filter{}, nil
	}
	names, err := t.Resolver.Expand(ctx, characters)
	if err != nil {
		return vectorstore.Filter{}, err
	}
	if len(names) > 1 {
		return vectorstore.Filter{Field: "characters", MatchAny: names}, nil
	}
	canon, err := t.Resolver.Resolve(ctx, characters)
	if err != nil {
		return vectorstore.Filter{}, err
	}
	return vectorstore.Filter{Field: "characters", MatchValue: canon}, nil
}

// expandingSearch implements spec §4.4 step 3: fetch, dedup by (task_id,
// event_ordinal) keeping the highest-scoring chunk per event, double the
// fetch size until the dedup count reaches target or fetch exceeds 8x
// target.
func (t *SearchMemoryTool) expandingSearch(ctx context.Context, vec []float32, filter vectorstore.Filter, target int) ([]vectorstore.Hit, error) {
	fetchK := uint64(target)
	if fetchK == 0 {
		fetchK = 1
	}
	maxFetch := fetchK * 8

	var deduped []vectorstore.Hit
	for {
		hits, err := t.Vectors.Search(ctx, vec, filter, fetchK)
		if err != nil {
			return nil, err
		}
		deduped = dedupeHits(hits)

		if len(deduped) >= target || fetchK > maxFetch {
			break
		}
		fetchK *= 2
	}

	if len(deduped) > target {
		deduped = deduped[:target]
	}
	return deduped, nil
}

// dedupeHits keeps the highest-scoring hit per (task_id, event_ordinal),
// preserving descending-score order for the ties that survive (spec §4.4
// step 3: "because one story event may be split across adjacent chunks").
func dedupeHits(hits []vectorstore.Hit) []vectorstore.Hit {
	best := make(map[string]vectorstore.Hit, len(hits))
	order := make([]string, 0, len(hits))
	for _, h := range hits {
		key := fmt.Sprintf("%s#%d", h.TaskID, h.EventOrdinal)
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = h
			continue
		}
		if h.Score > cur.Score {
			best[key] = h
		}
	}

	out := make([]vectorstore.Hit, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func renderHits(hits []vectorstore.Hit, sortBy string, fallbackUsed bool) string {
	var b strings.Builder
	if fallbackUsed {
		b.WriteString("(fallback used: character filter yielded nothing, re-embedded with semantic augmentation)\n")
	}
	for _, h := range hits {
		fmt.Fprintf(&b, "--- chapter %d, task %s, event #%d", h.Chapter, h.TaskID, h.EventOrdinal)
		if sortBy != "time" {
			fmt.Fprintf(&b, ", score %.4f", h.Score)
		}
		b.WriteString(" ---\n")
		b.WriteString(h.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
