// Package config resolves the environment variables of spec.md §6 (plus an
// optional .env file) into a Config struct, the same getEnv-with-default +
// godotenv.Load idiom as other_examples' tarsy/cmd/tarsy/main.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smallnest/storyoracle/grader"
	"github.com/smallnest/storyoracle/orchestrator"
)

// Config is the full set of environment-resolved settings the core needs to
// construct its singletons and orchestrator (spec.md §6 "Environment/
// configuration recognized by the core").
type Config struct {
	ReasoningModel  string
	FastModel       string
	EmbeddingModel  string
	EmbeddingDim    int

	VectorHost       string
	VectorPort       int
	VectorAPIKey     string
	VectorUseTLS     bool
	VectorCollection string

	// GraphURI is a "falkordb://host:port/graphName" connection string
	// (spec.md §6: "Graph store URI, credentials"). Credentials, where the
	// deployment's FalkorDB requires them, belong in the URI's userinfo.
	GraphURI string

	AliasTablePath string

	MaxAttempts      int
	LimitProgression []int
	GraderThresholds grader.Thresholds

	// SessionBackend selects which session.Store backend the CLI
	// constructs: "sqlite" (default) or "redis".
	SessionBackend    string
	SessionSQLitePath string
	SessionRedisAddr  string
	SessionRedisTTL   time.Duration

	TraceDir string
}

// Load reads a .env file at envPath if present (a missing file is not an
// error — the process may already have its environment set), then resolves
// Config from the environment with spec.md §6's defaults.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	return Config{
		ReasoningModel: getEnv("STORYORACLE_REASONING_MODEL", "gpt-4o"),
		FastModel:      getEnv("STORYORACLE_FAST_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv("STORYORACLE_EMBEDDING_MODEL", "bge-base-zh"),
		EmbeddingDim:   getEnvInt("STORYORACLE_EMBEDDING_DIM", 768),

		VectorHost:       getEnv("STORYORACLE_VECTOR_HOST", "localhost"),
		VectorPort:       getEnvInt("STORYORACLE_VECTOR_PORT", 6334),
		VectorAPIKey:     getEnv("STORYORACLE_VECTOR_API_KEY", ""),
		VectorUseTLS:     getEnvBool("STORYORACLE_VECTOR_TLS", false),
		VectorCollection: getEnv("STORYORACLE_VECTOR_COLLECTION", "story_chunks"),

		GraphURI: getEnv("STORYORACLE_GRAPH_URI", "falkordb://localhost:6379/story"),

		AliasTablePath: getEnv("STORYORACLE_ALIAS_TABLE", "./aliases.yaml"),

		MaxAttempts:      getEnvInt("STORYORACLE_MAX_ATTEMPTS", orchestrator.DefaultMaxAttempts),
		LimitProgression: getEnvIntList("STORYORACLE_LIMIT_PROGRESSION", orchestrator.DefaultLimitProgression),
		GraderThresholds: grader.Thresholds{
			DepthFloor:    getEnvInt("STORYORACLE_GRADER_DEPTH_FLOOR", grader.DefaultThresholds().DepthFloor),
			CitationFloor: getEnvInt("STORYORACLE_GRADER_CITATION_FLOOR", grader.DefaultThresholds().CitationFloor),
			TotalFloor:    getEnvInt("STORYORACLE_GRADER_TOTAL_FLOOR", grader.DefaultThresholds().TotalFloor),
		},

		SessionBackend:    getEnv("STORYORACLE_SESSION_BACKEND", "sqlite"),
		SessionSQLitePath: getEnv("STORYORACLE_SESSION_SQLITE_PATH", "./sessions.db"),
		SessionRedisAddr:  getEnv("STORYORACLE_SESSION_REDIS_ADDR", "localhost:6380"),
		SessionRedisTTL:   getEnvDuration("STORYORACLE_SESSION_REDIS_TTL", 30*time.Minute),

		TraceDir: getEnv("STORYORACLE_TRACE_DIR", "./traces"),
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getEnvIntList parses a comma-separated list like "3,5,8" (spec.md §6:
// "limit progression (default 3/5/8)").
func getEnvIntList(key string, def []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return def
		}
		out = append(out, n)
	}
	return out
}
