// Package sched implements the Conflict Scheduler of spec.md §4.2:
// given the current set of in-flight microblocks across all banks, it
// selects the next best conflict-free, budget-respecting,
// vote-share-aware microblock for one bank. Grounded directly on
// _examples/original_source/src/app/fdctl/run/tiles/fd_pack.c's
// after_credit loop (the fd_pack_schedule_next_microblock /
// fd_pack_microblock_complete calls and their arguments).
package sched

import (
	"github.com/firedancer-go/pack/internal/pool"
	"github.com/firedancer-go/pack/internal/ring"
)

// footprint is the set of account keys a dispatched-but-not-yet-
// complete microblock touches, split by access mode.
type footprint struct {
	reads  []ring.AccountKey
	writes []ring.AccountKey
}

// Scheduler tracks the global in-flight conflict set (spec §3: the
// union of read/write sets of every microblock currently dispatched
// but not yet acknowledged complete, across *all* banks — conflicts
// are global, not per-bank, which is exactly why scenario 2 in spec §8
// has bank 1 receive an empty microblock while bank 0 holds a
// conflicting transaction in flight).
type Scheduler struct {
	pool     *pool.Pool
	bankCnt  int
	maxPerMB int

	// refcounted because multiple in-flight microblocks on different
	// banks may legitimately share a reader.
	writeRefs map[ring.AccountKey]int
	readRefs  map[ring.AccountKey]int

	perBank []footprint // this bank's own contribution, for precise removal on complete
}

// New constructs a scheduler bound to pool p, serving bankCnt banks,
// with at most maxPerMicroblock transactions per microblock (spec
// §6's MAX_TXN_PER_MICROBLOCK).
func New(p *pool.Pool, bankCnt int, maxPerMicroblock int) *Scheduler {
	return &Scheduler{
		pool:      p,
		bankCnt:   bankCnt,
		maxPerMB:  maxPerMicroblock,
		writeRefs: make(map[ring.AccountKey]int),
		readRefs:  make(map[ring.AccountKey]int),
		perBank:   make([]footprint, bankCnt),
	}
}

// conflictFree reports whether e's accesses are disjoint from the
// combined global in-flight set and the local set accumulated so far
// within the microblock under construction (spec §4.2).
func conflictFree(e *pool.Entry, localWrites, localReads map[ring.AccountKey]struct{}, s *Scheduler) bool {
	for _, k := range e.Descriptor.WriteKeys {
		if s.writeRefs[k] > 0 || s.readRefs[k] > 0 {
			return false
		}
		if _, ok := localWrites[k]; ok {
			return false
		}
		if _, ok := localReads[k]; ok {
			return false
		}
	}
	for _, k := range e.Descriptor.ReadKeys {
		if s.writeRefs[k] > 0 {
			return false
		}
		if _, ok := localWrites[k]; ok {
			return false
		}
	}
	return true
}

// ScheduleNext writes up to len(out) (capped by maxPerMicroblock)
// conflict-free, budget-respecting transactions into out, in
// admission order, and returns how many were selected. A count of
// zero means no admissible transaction exists right now; the caller
// is expected to retry on the next tick (spec: "never blocks").
//
// On a non-zero return, the selected transactions' account sets are
// folded into bankID's in-flight contribution.
func (s *Scheduler) ScheduleNext(bankID int, budget uint64, voteFraction float64, out []pool.Entry) int {
	limit := len(out)
	if s.maxPerMB > 0 && s.maxPerMB < limit {
		limit = s.maxPerMB
	}

	localWrites := make(map[ring.AccountKey]struct{})
	localReads := make(map[ring.AccountKey]struct{})
	selected := make(map[pool.Fingerprint]struct{})

	var remaining = budget
	votesSelected := 0
	totalSelected := 0
	count := 0

	fp := footprint{}

	for count < limit {
		filter := func(e *pool.Entry) bool {
			if e.ComputeUnits > remaining {
				return false
			}
			if _, ok := selected[e.Fingerprint()]; ok {
				return false
			}
			return conflictFree(e, localWrites, localReads, s)
		}

		wantVote := totalSelected == 0 || float64(votesSelected)/float64(maxInt(1, totalSelected)) < voteFraction

		pick, ok := pickNext(s.pool, filter, wantVote)
		if !ok {
			break
		}

		out[count] = *pick.Entry
		selected[pick.Fingerprint] = struct{}{}
		for _, k := range pick.Entry.Descriptor.WriteKeys {
			localWrites[k] = struct{}{}
			fp.writes = append(fp.writes, k)
		}
		for _, k := range pick.Entry.Descriptor.ReadKeys {
			localReads[k] = struct{}{}
			fp.reads = append(fp.reads, k)
		}
		remaining -= pick.Entry.ComputeUnits
		totalSelected++
		if pick.Entry.IsVote {
			votesSelected++
		}
		count++

		// A scheduled transaction is destroyed, not merely marked
		// in-flight (spec §3's lifecycle table): otherwise it remains
		// the pool's highest-priority candidate and gets redispatched
		// on every subsequent tick once MicroblockComplete clears its
		// account refcounts.
		s.pool.Remove(pick.Fingerprint)
	}

	if count > 0 {
		s.commitFootprint(bankID, fp)
	}
	return count
}

// pickNext tries the preferred class (vote if wantVote, else
// non-vote) first, falling back to the other class so an eligible
// transaction is never left idle just because its class wasn't
// preferred this step (spec §4.2 names the preference rule; it does
// not mandate starving the other class when the preferred one is
// empty).
func pickNext(p *pool.Pool, filter pool.Filter, wantVote bool) (pool.TxRef, bool) {
	classFilter := func(isVote bool) pool.Filter {
		return func(e *pool.Entry) bool { return e.IsVote == isVote && filter(e) }
	}
	if ref, ok := p.PeekBest(classFilter(wantVote)); ok {
		return ref, true
	}
	return p.PeekBest(classFilter(!wantVote))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Scheduler) commitFootprint(bankID int, fp footprint) {
	for _, k := range fp.writes {
		s.writeRefs[k]++
	}
	for _, k := range fp.reads {
		s.readRefs[k]++
	}
	s.perBank[bankID].writes = append(s.perBank[bankID].writes, fp.writes...)
	s.perBank[bankID].reads = append(s.perBank[bankID].reads, fp.reads...)
}

// MicroblockComplete dissolves bankID's in-flight contribution.
func (s *Scheduler) MicroblockComplete(bankID int) {
	fp := s.perBank[bankID]
	for _, k := range fp.writes {
		s.writeRefs[k]--
		if s.writeRefs[k] <= 0 {
			delete(s.writeRefs, k)
		}
	}
	for _, k := range fp.reads {
		s.readRefs[k]--
		if s.readRefs[k] <= 0 {
			delete(s.readRefs, k)
		}
	}
	s.perBank[bankID] = footprint{}
}
