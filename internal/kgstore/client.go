// Package kgstore is the FalkorDB-backed property graph client. It adapts
// the raw GRAPH.QUERY-over-redis wire protocol (grounded on the teacher's
// rag/store/falkordb.go and falkordb_internal.go) into the domain-specific
// read operations that the Alias Resolver (C1) and Graph Retrieval Tools
// (C2/C3) need: adjacency lookup, bounded shortest path with label
// exclusion, temporal-edge tracks, MajorEvent queries, and a full-text
// index query over (name, aliases).
package kgstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/storyoracle/internal/apperr"
)

// Client is a thin wrapper over a FalkorDB graph reached through go-redis.
type Client struct {
	conn      redis.UniversalClient
	graphName string
}

// New parses a "falkordb://host:port/graphName" connection string and
// returns a connected Client. The graph defaults to "story" when the path
// is empty.
func New(connectionString string) (*Client, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("kgstore: invalid connection string: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("kgstore: connection string missing host")
	}
	graphName := strings.TrimPrefix(u.Path, "/")
	if graphName == "" {
		graphName = "story"
	}

	conn := redis.NewClient(&redis.Options{Addr: u.Host})
	return &Client{conn: conn, graphName: graphName}, nil
}

// NewWithClient wraps an already-constructed redis client, used by tests
// against miniredis and by callers sharing a connection pool.
func NewWithClient(conn redis.UniversalClient, graphName string) *Client {
	if graphName == "" {
		graphName = "story"
	}
	return &Client{conn: conn, graphName: graphName}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// QueryResult is the parsed shape of a FalkorDB GRAPH.QUERY --compact reply.
type QueryResult struct {
	Header  []string
	Results [][]any
}

// query executes a raw Cypher statement against the graph.
func (c *Client) query(ctx context.Context, cypher string) (QueryResult, error) {
	qr := QueryResult{}

	res, err := c.conn.Do(ctx, "GRAPH.QUERY", c.graphName, cypher, "--compact").Result()
	if err != nil {
		return qr, &apperr.StoreUnavailableError{Store: "falkordb", Err: err}
	}

	r, ok := res.([]any)
	if !ok {
		return qr, fmt.Errorf("kgstore: unexpected GRAPH.QUERY reply type %T", res)
	}
	if len(r) < 2 {
		return qr, fmt.Errorf("kgstore: unexpected GRAPH.QUERY reply length %d", len(r))
	}

	// [header, rows, stats] in --compact mode; header is omitted when the
	// query returns nothing (RETURN-less writes), so accept either shape.
	rowsIdx := 0
	if header, ok := r[0].([]any); ok && len(r) >= 3 {
		qr.Header = make([]string, len(header))
		for i, h := range header {
			qr.Header[i] = headerName(h)
		}
		rowsIdx = 1
	}

	if rows, ok := r[rowsIdx].([]any); ok {
		qr.Results = make([][]any, len(rows))
		for i, row := range rows {
			if vals, ok := row.([]any); ok {
				qr.Results[i] = vals
			}
		}
	}

	return qr, nil
}

// headerName renders a column header entry; FalkorDB compact headers are
// [type, name] pairs for RETURN columns.
func headerName(h any) string {
	if pair, ok := h.([]any); ok && len(pair) == 2 {
		return fmt.Sprint(pair[1])
	}
	return fmt.Sprint(h)
}
