// Command storyoracle is a thin CLI wiring the core library together: it
// parses a question and session ID, resolves config.Config, constructs the
// singleton clients, and prints the orchestrator's final Result. Explicitly
// NOT part of the core per spec.md §1 ("Out of scope: ... any CLI/UI").
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/storyoracle/config"
	"github.com/smallnest/storyoracle/grader"
	"github.com/smallnest/storyoracle/internal/alias"
	"github.com/smallnest/storyoracle/internal/singletons"
	langlog "github.com/smallnest/storyoracle/log"
	"github.com/smallnest/storyoracle/orchestrator"
	"github.com/smallnest/storyoracle/reasoning"
	"github.com/smallnest/storyoracle/session"
	storytools "github.com/smallnest/storyoracle/tools"
	"github.com/smallnest/storyoracle/trace"
)

func main() {
	question := flag.String("question", "", "the question to answer")
	sessionID := flag.String("session", "default", "session identifier for conversational history")
	envPath := flag.String("env", ".env", "path to a .env file (missing is not an error)")
	flag.Parse()

	if *question == "" {
		log.Fatal("storyoracle: -question is required")
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatalf("storyoracle: failed to load config: %v", err)
	}

	logger := langlog.NewDefaultLogger(langlog.LogLevelInfo)
	registry := singletons.New(cfg, logger)

	reasoningLLM, err := registry.ReasoningLLM()
	if err != nil {
		log.Fatalf("storyoracle: failed to construct reasoning model: %v", err)
	}
	fastLLM, err := registry.FastLLM()
	if err != nil {
		log.Fatalf("storyoracle: failed to construct fast model: %v", err)
	}
	embedder, err := registry.Embedder()
	if err != nil {
		log.Fatalf("storyoracle: failed to construct embedder: %v", err)
	}
	vectorStore, err := registry.VectorStore()
	if err != nil {
		log.Fatalf("storyoracle: failed to construct vector store: %v", err)
	}
	graphStore, err := registry.GraphStore()
	if err != nil {
		log.Fatalf("storyoracle: failed to construct graph store: %v", err)
	}

	resolver := alias.New(graphStore, logger)
	if cfg.AliasTablePath != "" {
		if err := resolver.LoadTableFile(cfg.AliasTablePath); err != nil {
			logger.Warn("storyoracle: failed to load alias table %q: %v", cfg.AliasTablePath, err)
		}
	}

	catalog := []tools.Tool{
		&storytools.LookupKnowledgeTool{Resolver: resolver, Graph: graphStore},
		&storytools.FindConnectionTool{Resolver: resolver, Graph: graphStore},
		&storytools.TrackJourneyTool{Resolver: resolver, Graph: graphStore},
		&storytools.GetCharacterEventsTool{Resolver: resolver, Graph: graphStore},
		&storytools.SearchMemoryTool{Resolver: resolver, Embedder: embedder, Vectors: vectorStore},
	}

	controller := reasoning.NewController(reasoningLLM, catalog, logger)
	g := grader.New(fastLLM)
	g.Thresholds = cfg.GraderThresholds
	recorder := trace.NewRecorder(cfg.TraceDir, logger)

	orch := orchestrator.New(controller, g, fastLLM, recorder, logger)
	orch.MaxAttempts = cfg.MaxAttempts
	orch.LimitProgression = cfg.LimitProgression

	var history session.Store
	switch cfg.SessionBackend {
	case "redis":
		history = session.NewRedisStore(session.RedisOptions{
			Addr: cfg.SessionRedisAddr,
			TTL:  cfg.SessionRedisTTL,
		})
	default:
		sqliteStore, err := session.NewSQLiteStore(session.SQLiteOptions{Path: cfg.SessionSQLitePath})
		if err != nil {
			log.Fatalf("storyoracle: failed to open session store: %v", err)
		}
		history = sqliteStore
	}
	defer history.Close()
	orch.SessionStore = history

	ctx := context.Background()
	priorTurns, err := history.History(ctx, *sessionID)
	if err != nil {
		logger.Warn("storyoracle: failed to load session history: %v", err)
	}

	if err := history.AppendTurn(ctx, *sessionID, session.Turn{Role: "user", Content: *question, Timestamp: time.Now()}); err != nil {
		logger.Warn("storyoracle: failed to record user turn: %v", err)
	}

	result, err := orch.Run(ctx, *sessionID, *question, priorTurns)
	if err != nil {
		log.Fatalf("storyoracle: query failed: %v", err)
	}

	if err := history.AppendTurn(ctx, *sessionID, session.Turn{Role: "assistant", Content: result.Answer, Timestamp: time.Now()}); err != nil {
		logger.Warn("storyoracle: failed to record assistant turn: %v", err)
	}

	fmt.Println(result.Answer)
	if !result.Pass {
		fmt.Println("\n[note: this answer did not meet the quality bar after all retries]")
	}
}
