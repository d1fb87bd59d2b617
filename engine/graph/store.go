package graph

import (
	"context"
	"iter"

	"github.com/WessleyAI/claimgraph/engine/domain"
)

// Store is a property graph with merge-upsert writes and snapshot reads.
//
// UpsertNode creates the node or merges props into it: new keys are added,
// existing keys overwritten and absent keys left untouched. The merged bag is
// published atomically. UpsertEdge fails with domain.ErrNotFound when either
// endpoint is missing. Lookup misses are domain.ErrNotFound, and transport
// failures wrap domain.ErrBackendUnavailable.
type Store interface {
	UpsertNode(ctx context.Context, label domain.Label, key string, props Props) (NodeRef, bool, error)
	FindNode(ctx context.Context, label domain.Label, key string) (Node, error)
	FindBy(ctx context.Context, label domain.Label, field string, value Value) ([]Node, error)
	UpsertEdge(ctx context.Context, typ domain.EdgeType, from, to NodeRef, props Props) (EdgeRef, bool, error)
	// ScanNodes lazily yields the label's nodes accepted by pred. Each call
	// starts a fresh scan; consumers may stop early.
	ScanNodes(ctx context.Context, label domain.Label, pred NodePredicate) iter.Seq2[Node, error]
	// Traverse follows one hop of edges of the given types (any when empty).
	Traverse(ctx context.Context, from NodeRef, types []domain.EdgeType, dir Direction) ([]Step, error)
	DropAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Neo4jStore)(nil)
)
