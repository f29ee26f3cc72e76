// Package storyoracle answers questions about a story's characters, places,
// and events by reasoning over a knowledge graph and a vector store of story
// text, grading its own answers, and retrying with injected context until it
// clears a quality bar or exhausts its attempt budget.
//
// # Package Structure
//
// domain/
// Shared value types: entities, relation and event taxonomies, edges, major
// events, chunks.
//
// internal/kgstore/
// FalkorDB-backed knowledge graph client (entities, relationships, journeys).
//
// internal/vectorstore/
// Qdrant-backed vector store client for story-text chunks.
//
// internal/embedding/
// Adapts a langchaingo embedder to the query-embedding interface the tools
// need.
//
// internal/alias/
// Resolves character/organization aliases to canonical graph node IDs, backed by an
// optional YAML table plus a graph fallback lookup.
//
// tools/
// The five-tool catalog the reasoning controller calls: lookup_knowledge,
// find_connection, track_journey, get_character_events, search_memory.
//
// reasoning/
// The ReAct-style controller: prompt, call the LLM, parse Thought/Action/
// Action Input/Answer, dispatch to a tool, repeat.
//
// grader/
// Scores a candidate answer's depth and citation coverage via a JSON-mode
// LLM call and applies pass/fail floors.
//
// refiner/
// Turns a failing grade's feedback into concrete retry suggestions.
//
// orchestrator/
// Drives the reason -> grade -> (humanize | refine -> inject_context ->
// reason) retry loop on top of the graph package's StateGraph engine, with
// an increasing tool-call breadth budget per attempt.
//
// trace/
// Records every attempt of a run (tool calls, raw reasoning, parsed steps,
// grading, refiner suggestions) to a timestamped JSON file.
//
// session/
// Persists conversational turn history and the retry scratchpad, with
// SQLite and Redis backends.
//
// config/
// Resolves environment variables (optionally loaded from a .env file) into
// the settings the singletons and orchestrator need.
//
// internal/singletons/
// Lazily constructs and caches the process-wide model clients and store
// connections, each overridable for tests.
//
// cmd/storyoracle/
// The CLI entry point wiring the above into a single question-answering run.
//
// graph/
// The underlying stateful graph execution engine the orchestrator compiles
// its retry loop onto: nodes, edges, conditional edges, cycles, tracing.
//
// log/
// Logging used across every package above.
package storyoracle // import "github.com/smallnest/storyoracle"
