package pool

import (
	"github.com/cespare/xxhash/v2"

	"github.com/firedancer-go/pack/internal/ring"
)

const accountIndexShards = 16 // power of 2

// accountRefs is the set of arena indices that read (resp. write) a
// given account key, satisfying spec §3 invariant I2: every live
// entry appears here for every key it touches.
type accountRefs struct {
	reads  map[uint32]struct{}
	writes map[uint32]struct{}
}

// accountIndex maps account keys to their referencing transactions,
// sharded by an xxhash of the key to keep any one Go map small — the
// idiomatic Go replacement for the custom hash table the original
// pack core hand-rolls over its account footprint.
type accountIndex struct {
	shards [accountIndexShards]map[ring.AccountKey]*accountRefs
}

func newAccountIndex() *accountIndex {
	idx := &accountIndex{}
	for i := range idx.shards {
		idx.shards[i] = make(map[ring.AccountKey]*accountRefs)
	}
	return idx
}

func (idx *accountIndex) shardFor(key ring.AccountKey) map[ring.AccountKey]*accountRefs {
	h := xxhash.Sum64(key[:])
	return idx.shards[h&(accountIndexShards-1)]
}

func (idx *accountIndex) refsFor(key ring.AccountKey, create bool) *accountRefs {
	shard := idx.shardFor(key)
	refs, ok := shard[key]
	if !ok {
		if !create {
			return nil
		}
		refs = &accountRefs{reads: make(map[uint32]struct{}), writes: make(map[uint32]struct{})}
		shard[key] = refs
	}
	return refs
}

// add indexes arena index ai under every key the descriptor touches.
func (idx *accountIndex) add(ai uint32, d Descriptor) {
	for _, k := range d.ReadKeys {
		idx.refsFor(k, true).reads[ai] = struct{}{}
	}
	for _, k := range d.WriteKeys {
		idx.refsFor(k, true).writes[ai] = struct{}{}
	}
}

// remove de-indexes arena index ai, pruning empty account entries so
// the index doesn't grow unbounded with cold accounts.
func (idx *accountIndex) remove(ai uint32, d Descriptor) {
	for _, k := range d.ReadKeys {
		shard := idx.shardFor(k)
		if refs, ok := shard[k]; ok {
			delete(refs.reads, ai)
			if len(refs.reads) == 0 && len(refs.writes) == 0 {
				delete(shard, k)
			}
		}
	}
	for _, k := range d.WriteKeys {
		shard := idx.shardFor(k)
		if refs, ok := shard[k]; ok {
			delete(refs.writes, ai)
			if len(refs.reads) == 0 && len(refs.writes) == 0 {
				delete(shard, k)
			}
		}
	}
}
