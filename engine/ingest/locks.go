package ingest

import (
	"hash/maphash"
	"sync"

	"github.com/WessleyAI/claimgraph/engine/graph"
)

const lockStripes = 256

// keyLocks serializes writes to the same node across workers. Distinct keys
// may share a stripe.
type keyLocks struct {
	seed    maphash.Seed
	stripes [lockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{seed: maphash.MakeSeed()}
}

// lock acquires the stripe of ref and returns its unlock func.
func (k *keyLocks) lock(ref graph.NodeRef) func() {
	h := maphash.String(k.seed, string(ref.Label)+"\x00"+ref.Key)
	mu := &k.stripes[h%lockStripes]
	mu.Lock()
	return mu.Unlock
}
