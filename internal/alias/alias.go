// Package alias implements the Alias Resolver (C1): surface names map to
// canonical graph identifiers through a curated static table first, then a
// full-text fallback over the graph store (spec §4.1).
package alias

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/smallnest/storyoracle/internal/kgstore"
	"github.com/smallnest/storyoracle/log"
)

// GraphSearcher is the subset of internal/kgstore.Client that the resolver
// needs, kept narrow so tests can fake it without a live FalkorDB.
type GraphSearcher interface {
	FullTextSearch(ctx context.Context, labels []string, text string, topK int) ([]kgstore.FullTextHit, error)
}

// searchLabels are the node labels the full-text fallback queries, per
// spec §4.1 step 2.
var searchLabels = []string{"Character", "Organization"}

// Resolver resolves surface names to canonical identifiers.
type Resolver struct {
	table  atomic.Pointer[map[string]string] // lowercased surface -> canonical
	fwd    atomic.Pointer[map[string][]string] // canonical -> every known alias (incl. itself)
	graph  GraphSearcher
	logger log.Logger
}

// New constructs a Resolver backed by graph for the full-text fallback. The
// static table starts empty; call LoadTable or LoadTableFile to populate it.
func New(graph GraphSearcher, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewDefaultLogger(log.LogLevelInfo)
	}
	r := &Resolver{graph: graph, logger: logger}
	empty := map[string]string{}
	emptyFwd := map[string][]string{}
	r.table.Store(&empty)
	r.fwd.Store(&emptyFwd)
	return r
}

// aliasEntry is one row of the static table's YAML resource (§6 "Static
// alias table (path to a key-value resource)"):
//
//	canonical: "Theron Ashgrave"
//	aliases: ["Theron", "the Ashen Knight"]
type aliasEntry struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

// LoadTableFile reads a YAML alias table from path and atomically swaps it
// in. Safe to call again later for a reload (§9 "Global mutable state":
// updates are atomic swap-by-reference).
func (r *Resolver) LoadTableFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("alias: reading table %s: %w", path, err)
	}
	return r.LoadTable(data)
}

// LoadTable parses YAML bytes shaped as a list of aliasEntry and swaps the
// resolver's in-memory table in one atomic step.
func (r *Resolver) LoadTable(data []byte) error {
	var entries []aliasEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("alias: parsing table: %w", err)
	}

	table := make(map[string]string, len(entries)*2)
	fwd := make(map[string][]string, len(entries))
	for _, e := range entries {
		if e.Canonical == "" {
			continue
		}
		table[strings.ToLower(e.Canonical)] = e.Canonical
		all := append([]string{e.Canonical}, e.Aliases...)
		fwd[e.Canonical] = all
		for _, a := range e.Aliases {
			if a == "" {
				continue
			}
			table[strings.ToLower(a)] = e.Canonical
		}
	}

	r.table.Store(&table)
	r.fwd.Store(&fwd)
	r.logger.Info("alias: loaded table (%d entries)", len(entries))
	return nil
}

// Resolve maps a surface name to its canonical identifier (spec §4.1, §8
// "Alias idempotence"). Static table hits short-circuit the full-text
// fallback. When neither source resolves the name, surface is returned
// unchanged — resolution never errors on an unknown name, matching the
// read-only, best-effort nature of the core (§3 "Lifecycles").
func (r *Resolver) Resolve(ctx context.Context, surface string) (string, error) {
	if surface == "" {
		return "", nil
	}

	table := *r.table.Load()
	if canon, ok := table[strings.ToLower(surface)]; ok {
		return canon, nil
	}

	hits, err := r.graph.FullTextSearch(ctx, searchLabels, surface, 8)
	if err != nil {
		r.logger.Warn("alias: full-text fallback failed for %q: %v", surface, err)
		return surface, nil
	}
	if len(hits) == 0 {
		return surface, nil
	}

	sortByPreference(hits)
	return hits[0].Canonical, nil
}

// Expand returns every name known to resolve to the same canonical as
// surface: surface itself plus every alias on file, used by the vector tool
// to build an OR-match character filter (spec §4.1, §4.4).
func (r *Resolver) Expand(ctx context.Context, surface string) ([]string, error) {
	canon, err := r.Resolve(ctx, surface)
	if err != nil {
		return nil, err
	}
	if canon == "" {
		return nil, nil
	}

	fwd := *r.fwd.Load()
	if names, ok := fwd[canon]; ok {
		return dedupe(append([]string{surface}, names...)), nil
	}
	return dedupe([]string{surface, canon}), nil
}

// sortByPreference stably sorts full-text hits by descending score, with
// the tie-break from spec §4.1: among equal-score hits, entries carrying a
// non-empty alias list (curated seed entities) outrank bare extracted
// nodes.
func sortByPreference(hits []kgstore.FullTextHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].HasAliases && !hits[j].HasAliases
	})
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
