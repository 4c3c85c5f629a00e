package pool

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/firedancer-go/pack/internal/ring"
)

// ErrInvariantViolation is the fatal error class of spec §7: a
// violation of I1-I3 or an impossible state transition. It is never
// handled locally; it is meant to surface all the way to the process
// boundary (spec: "no partial progress").
var ErrInvariantViolation = errors.New("pool: invariant violation")

// ErrFull is returned by Reserve when every arena slot is either
// staged or committed.
var ErrFull = errors.New("pool: at capacity")

type slotEntry struct {
	inUse   bool
	entry   Entry
	heapPos int // -1 when not currently in the heap (staged, not yet committed)
}

// Handle is a caller-owned staging area returned by Reserve. The
// caller populates Entry before calling Commit; Handle exclusively
// owns its slot until Commit or Cancel.
type Handle struct {
	idx uint32
	gen uint64 // guards against use of a stale handle after cancel/commit
	p   *Pool
}

// Entry exposes the staging entry for the caller to populate in
// place before Commit.
func (h *Handle) Entry() *Entry {
	return &h.p.arena[h.idx].entry
}

// Pool is the Priority Pool of spec §4.1. It is owned by exactly one
// goroutine (spec §5: "single-threaded and cooperative"); none of its
// methods take a lock.
type Pool struct {
	capacity int
	logger   *zap.Logger

	arena []slotEntry
	free  []uint32
	gen   []uint64 // generation counter per arena slot, bumped on reuse

	byFingerprint map[Fingerprint]uint32
	heap          priorityHeap
	accounts      *accountIndex

	size int // committed (live) entry count
}

// New constructs a Priority Pool with room for capacity pending
// transactions (spec §3 invariant I3).
func New(capacity int, logger *zap.Logger) *Pool {
	if capacity <= 0 {
		panic("pool: capacity must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		capacity:      capacity,
		logger:        logger,
		arena:         make([]slotEntry, capacity),
		free:          make([]uint32, capacity),
		gen:           make([]uint64, capacity),
		byFingerprint: make(map[Fingerprint]uint32, capacity),
		accounts:      newAccountIndex(),
	}
	p.heap.arena = p.arena
	for i := range p.arena {
		p.arena[i].heapPos = -1
		p.free[i] = uint32(capacity - 1 - i)
	}
	return p
}

// Len returns the number of committed (live) entries.
func (p *Pool) Len() int { return p.size }

// Capacity returns the pool's configured capacity.
func (p *Pool) Capacity() int { return p.capacity }

// Reserve allocates a staging slot. Returns ErrFull if every slot is
// currently staged or committed.
func (p *Pool) Reserve() (*Handle, error) {
	n := len(p.free)
	if n == 0 {
		return nil, ErrFull
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.arena[idx] = slotEntry{inUse: true, heapPos: -1}
	return &Handle{idx: idx, gen: p.gen[idx], p: p}, nil
}

// Cancel returns a reserved slot to the free pool without installing
// it (spec: used on producer overrun). reserve -> cancel must leave
// pool state unchanged (spec §8 round-trip law).
func (p *Pool) Cancel(h *Handle) {
	p.checkHandle(h)
	p.releaseSlot(h.idx)
}

func (p *Pool) releaseSlot(idx uint32) {
	p.gen[idx]++
	p.arena[idx] = slotEntry{heapPos: -1}
	p.free = append(p.free, idx)
}

func (p *Pool) checkHandle(h *Handle) {
	if h.p != p || h.gen != p.gen[h.idx] || !p.arena[h.idx].inUse {
		panic(fmt.Errorf("%w: stale or foreign pool handle", ErrInvariantViolation))
	}
}

// Commit atomically installs the staged transaction, reporting one of
// the six outcome classes spec §4.1 requires. Fingerprint collisions
// keep the higher-priority entry, ties broken by earlier IngestNS
// (spec §4.1 "Algorithm note"). ttlNS is the staleness cutoff (spec
// §3 I4's TRANSACTION_LIFETIME_NS): an entry whose PublishNS already
// precedes ingestNS-ttlNS is rejected outright rather than admitted
// and expired on the next tick. ttlNS <= 0 disables the check
// (PublishNS unknown, or no TTL configured).
func (p *Pool) Commit(h *Handle, ingestNS int64, ttlNS int64) CommitResult {
	p.checkHandle(h)
	e := &p.arena[h.idx].entry

	if len(e.Payload) == 0 || e.ComputeUnits == 0 {
		p.releaseSlot(h.idx)
		return CommitResult{Outcome: RejectedInvalid}
	}

	if ttlNS > 0 && e.PublishNS > 0 && ingestNS-e.PublishNS >= ttlNS {
		p.releaseSlot(h.idx)
		return CommitResult{Outcome: RejectedStale}
	}

	e.IngestNS = ingestNS
	e.fingerprint = FingerprintOf(e.Payload)

	if existingIdx, ok := p.byFingerprint[e.fingerprint]; ok {
		existing := &p.arena[existingIdx].entry
		if !higherPriority(e, existing) {
			p.releaseSlot(h.idx)
			return CommitResult{Outcome: RejectedDuplicateOfHigher}
		}
		evicted := existing.fingerprint
		p.removeCommitted(existingIdx)
		p.insertCommitted(h.idx)
		return CommitResult{Outcome: AcceptedReplacingLower, ReplacedFingerprint: evicted}
	}

	if p.size >= p.capacity {
		p.releaseSlot(h.idx)
		return CommitResult{Outcome: RejectedCapacity}
	}

	p.insertCommitted(h.idx)
	return CommitResult{Outcome: AcceptedNew}
}

// higherPriority breaks ties the same way the heap does, so
// replacement and scheduling agree on "better".
func higherPriority(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.IngestNS < b.IngestNS
}

func (p *Pool) insertCommitted(idx uint32) {
	e := &p.arena[idx].entry
	p.byFingerprint[e.fingerprint] = idx
	p.accounts.add(idx, e.Descriptor)
	p.heap.push(idx)
	p.size++
}

// removeCommitted removes a live entry's bookkeeping and frees its
// slot. I1/I2 must be updated together (spec: "partial failure is
// forbidden").
func (p *Pool) removeCommitted(idx uint32) {
	e := &p.arena[idx].entry
	delete(p.byFingerprint, e.fingerprint)
	p.accounts.remove(idx, e.Descriptor)
	pos := p.arena[idx].heapPos
	if pos < 0 {
		panic(fmt.Errorf("%w: committed entry missing from heap", ErrInvariantViolation))
	}
	p.heap.removeAt(pos)
	p.size--
	p.releaseSlot(idx)
}

// Remove deletes the entry with the given fingerprint, if present.
func (p *Pool) Remove(fp Fingerprint) bool {
	idx, ok := p.byFingerprint[fp]
	if !ok {
		return false
	}
	p.removeCommitted(idx)
	return true
}

// ExpireBefore removes every entry with IngestNS < tsNS (spec §3
// invariant I4, §4.1's expire_before, TTL is applied by the caller
// passing now-TRANSACTION_LIFETIME_NS) and returns how many it removed.
// There is no age-ordered index: every call scans the whole
// fingerprint map to find victims, so its cost is linear in the pool
// size, not in the number of entries removed; each removal is O(log n).
func (p *Pool) ExpireBefore(tsNS int64) int {
	var victims []Fingerprint
	for fp, idx := range p.byFingerprint {
		if p.arena[idx].entry.IngestNS < tsNS {
			victims = append(victims, fp)
		}
	}
	for _, fp := range victims {
		p.Remove(fp)
	}
	return len(victims)
}

// Filter is a predicate evaluated against a candidate entry; PeekBest
// returns the highest-priority entry for which Filter returns true.
type Filter func(e *Entry) bool

// TxRef is a read-only reference to a live pooled entry.
type TxRef struct {
	Fingerprint Fingerprint
	Entry       *Entry
}

// PeekBest returns the highest-priority entry satisfying filter,
// without removing it. Ties are broken (ingest_ts asc, fingerprint
// asc) per spec §4.2, matching the heap's own ordering exactly. Since
// the heap only orders the absolute top by priority/tie-break, and
// filter may reject entries at the top, this scans every index in the
// heap and keeps the best one that passes filter, rather than only
// inspecting h.idx[0].
func (p *Pool) PeekBest(filter Filter) (TxRef, bool) {
	found := false
	var bestEntry *Entry
	for _, idx := range p.heap.idx {
		e := &p.arena[idx].entry
		if !filter(e) {
			continue
		}
		if !found || higherPriorityTieBreak(e, bestEntry) {
			found = true
			bestEntry = e
		}
	}
	if !found {
		return TxRef{}, false
	}
	return TxRef{Fingerprint: bestEntry.fingerprint, Entry: bestEntry}, true
}

func higherPriorityTieBreak(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.IngestNS != b.IngestNS {
		return a.IngestNS < b.IngestNS
	}
	return a.fingerprint < b.fingerprint
}

// EndBlock is an advisory reset of per-block bookkeeping; it does not
// remove entries (spec §4.1).
func (p *Pool) EndBlock() {}

// AccountReaders/AccountWriters expose the conflict index for
// diagnostics and tests verifying invariant I2; ok is false if no live
// entry currently touches key.
func (p *Pool) AccountWriters(key ring.AccountKey) (map[uint32]struct{}, bool) {
	refs := p.accounts.refsFor(key, false)
	if refs == nil {
		return nil, false
	}
	return refs.writes, true
}

func (p *Pool) AccountReaders(key ring.AccountKey) (map[uint32]struct{}, bool) {
	refs := p.accounts.refsFor(key, false)
	if refs == nil {
		return nil, false
	}
	return refs.reads, true
}

// CheckInvariants verifies I1 (the fingerprint map and the heap both
// hold exactly the live entry count) and I3, and panics with
// ErrInvariantViolation if either is violated. The account index (I2)
// is not checked. Intended for use in tests and optionally in
// debug builds of the run loop; not called on every operation since
// that would defeat the point of an O(log n) pool.
func (p *Pool) CheckInvariants() {
	if len(p.byFingerprint) != p.size {
		panic(fmt.Errorf("%w: fingerprint map has %d entries, size is %d", ErrInvariantViolation, len(p.byFingerprint), p.size))
	}
	if len(p.heap.idx) != p.size {
		panic(fmt.Errorf("%w: heap has %d entries, size is %d", ErrInvariantViolation, len(p.heap.idx), p.size))
	}
	if p.size > p.capacity {
		panic(fmt.Errorf("%w: size %d exceeds capacity %d", ErrInvariantViolation, p.size, p.capacity))
	}
}
