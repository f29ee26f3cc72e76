// Package vectorstore wraps a Qdrant collection for dense-vector retrieval,
// adapted from the qdrant/go-client wiring in the Tangerg-lynx example
// (the nearest real third-party vector-store client in the corpus; the
// teacher itself never talks to a vector database).
package vectorstore

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"github.com/smallnest/storyoracle/internal/apperr"
)

// Hit is one scored point from a query, carrying the chunk payload fields
// the callers need for dedup, sort and rendering (spec §4.4).
type Hit struct {
	TaskID       string
	Chapter      int
	EventOrdinal int
	Characters   []string
	Text         string
	Score        float32
}

// Client wraps a Qdrant collection.
type Client struct {
	conn       *qdrant.Client
	collection string
}

// Config configures the Qdrant connection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// New dials a Qdrant instance and returns a Client bound to cfg.Collection.
func New(cfg Config) (*Client, error) {
	conn, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, &apperr.StoreUnavailableError{Store: "qdrant", Err: err}
	}
	return &Client{conn: conn, collection: cfg.Collection}, nil
}

// Filter is the payload filter applied to a Search call. Exactly one of
// MatchAny/MatchValue is meaningful; a zero-value Filter means no filter.
type Filter struct {
	Field      string
	MatchAny   []string
	MatchValue string
}

func (f Filter) empty() bool {
	return f.Field == "" || (len(f.MatchAny) == 0 && f.MatchValue == "")
}

func (f Filter) toQdrant() *qdrant.Filter {
	if f.empty() {
		return nil
	}
	if len(f.MatchAny) > 1 {
		return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeywords(f.Field, f.MatchAny...)}}
	}
	val := f.MatchValue
	if val == "" && len(f.MatchAny) == 1 {
		val = f.MatchAny[0]
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(f.Field, val)}}
}

// Search runs a top-k nearest-neighbor query against vector, scoped by
// filter (spec §4.4 step 3: "fetch top-k from the vector store with the
// filter").
func (c *Client) Search(ctx context.Context, vector []float32, filter Filter, topK uint64) ([]Hit, error) {
	points, err := c.conn.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter.toQdrant(),
		Limit:          &topK,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &apperr.StoreUnavailableError{Store: "qdrant", Err: err}
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPoint(p))
	}
	return hits, nil
}

func hitFromPoint(p *qdrant.ScoredPoint) Hit {
	payload := p.GetPayload()
	h := Hit{Score: p.GetScore()}
	if v, ok := payload["task_id"]; ok {
		h.TaskID = v.GetStringValue()
	}
	if v, ok := payload["chapter"]; ok {
		h.Chapter = int(v.GetIntegerValue())
	}
	if v, ok := payload["event_ordinal"]; ok {
		h.EventOrdinal = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		h.Text = v.GetStringValue()
	}
	if v, ok := payload["characters"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.GetValues() {
				h.Characters = append(h.Characters, item.GetStringValue())
			}
		}
	}
	return h
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
