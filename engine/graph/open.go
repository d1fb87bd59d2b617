package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendNeo4j  = "neo4j"
)

// Backend selects and addresses a store implementation.
type Backend struct {
	Kind     string
	URL      string
	User     string
	Password string
	Database string
}

// Open returns the store described by b. Neo4j stores are connected and
// have their constraints and indexes ensured.
func Open(ctx context.Context, b Backend, schema Schema, log *slog.Logger) (Store, error) {
	switch strings.ToLower(b.Kind) {
	case "", BackendMemory:
		return NewMemoryStore(schema), nil
	case BackendNeo4j:
		s, err := Connect(ctx, b.URL, b.User, b.Password, schema, Neo4jOpts{Database: b.Database, Logger: log})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("graph: ensure schema: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("graph: unknown backend %q", b.Kind)
	}
}
