package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firedancer-go/pack/internal/ring"
)

func mustReserveCommit(t *testing.T, p *Pool, payload string, priority float64, ingestNS int64, writes ...ring.AccountKey) CommitResult {
	t.Helper()
	h, err := p.Reserve()
	require.NoError(t, err)
	e := h.Entry()
	e.Payload = []byte(payload)
	e.ComputeUnits = 100
	e.Priority = priority
	e.Descriptor.WriteKeys = writes
	return p.Commit(h, ingestNS, 0)
}

func TestReserveCancelLeavesStateUnchanged(t *testing.T) {
	p := New(4, nil)
	h, err := p.Reserve()
	require.NoError(t, err)
	p.Cancel(h)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 4, len(p.free))
}

func TestCommitAcceptsNewAndEnforcesCapacity(t *testing.T) {
	p := New(2, nil)
	r1 := mustReserveCommit(t, p, "a", 1, 1)
	assert.Equal(t, AcceptedNew, r1.Outcome)
	r2 := mustReserveCommit(t, p, "b", 1, 2)
	assert.Equal(t, AcceptedNew, r2.Outcome)
	r3 := mustReserveCommit(t, p, "c", 1, 3)
	assert.Equal(t, RejectedCapacity, r3.Outcome)
	assert.Equal(t, 2, p.Len())
}

func TestCommitRejectsInvalid(t *testing.T) {
	p := New(2, nil)
	h, _ := p.Reserve()
	r := p.Commit(h, 1, 0)
	assert.Equal(t, RejectedInvalid, r.Outcome)
	assert.Equal(t, 0, p.Len())
}

func TestFingerprintCollisionKeepsHigherPriority(t *testing.T) {
	p := New(4, nil)
	h1, _ := p.Reserve()
	h1.Entry().Payload = []byte("same")
	h1.Entry().ComputeUnits = 1
	h1.Entry().Priority = 5
	p.Commit(h1, 1, 0)

	h2, _ := p.Reserve()
	h2.Entry().Payload = []byte("same")
	h2.Entry().ComputeUnits = 1
	h2.Entry().Priority = 10
	r := p.Commit(h2, 2, 0)
	require.Equal(t, AcceptedReplacingLower, r.Outcome)
	assert.Equal(t, 1, p.Len())

	ref, ok := p.PeekBest(func(*Entry) bool { return true })
	require.True(t, ok)
	assert.Equal(t, 10.0, ref.Entry.Priority)

	h3, _ := p.Reserve()
	h3.Entry().Payload = []byte("same")
	h3.Entry().ComputeUnits = 1
	h3.Entry().Priority = 1
	r2 := p.Commit(h3, 3, 0)
	assert.Equal(t, RejectedDuplicateOfHigher, r2.Outcome)
}

func TestPeekBestPrefersHighestPriority(t *testing.T) {
	p := New(8, nil)
	mustReserveCommit(t, p, "low", 1, 100)
	mustReserveCommit(t, p, "high", 10, 200)
	mustReserveCommit(t, p, "mid", 5, 50)

	ref, ok := p.PeekBest(func(*Entry) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "high", string(ref.Entry.Payload))
}

func TestExpireBeforeRemovesStaleEntries(t *testing.T) {
	p := New(8, nil)
	mustReserveCommit(t, p, "old", 1, 10)
	mustReserveCommit(t, p, "new", 1, 1000)

	removed := p.ExpireBefore(500)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, p.Len())

	ref, ok := p.PeekBest(func(*Entry) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "new", string(ref.Entry.Payload))
}

func TestExpireBeforeIsMonotoneNoOp(t *testing.T) {
	p := New(8, nil)
	mustReserveCommit(t, p, "a", 1, 10)
	p.ExpireBefore(20)
	assert.Equal(t, 0, p.Len())
	n := p.ExpireBefore(5) // t' <= t: no-op
	assert.Equal(t, 0, n)
}

func TestAccountIndexTracksWriters(t *testing.T) {
	p := New(4, nil)
	var a ring.AccountKey
	a[0] = 0xAA
	mustReserveCommit(t, p, "tx", 1, 1, a)

	writers, ok := p.AccountWriters(a)
	require.True(t, ok)
	assert.Len(t, writers, 1)

	p.Remove(FingerprintOf([]byte("tx")))
	_, ok = p.AccountWriters(a)
	assert.False(t, ok)
}

func TestPeekBestEmptyPoolIsSideEffectFree(t *testing.T) {
	p := New(4, nil)
	_, ok := p.PeekBest(func(*Entry) bool { return true })
	assert.False(t, ok)
	p.CheckInvariants()
}

func TestCapacityNeverExceeded(t *testing.T) {
	p := New(3, nil)
	for i := 0; i < 10; i++ {
		h, err := p.Reserve()
		if err != nil {
			continue
		}
		e := h.Entry()
		e.Payload = []byte{byte(i)}
		e.ComputeUnits = 1
		e.Priority = float64(i)
		p.Commit(h, int64(i), 0)
		p.CheckInvariants()
	}
	assert.LessOrEqual(t, p.Len(), p.Capacity())
}

func TestCommitRejectsStaleEntry(t *testing.T) {
	p := New(4, nil)
	h, err := p.Reserve()
	require.NoError(t, err)
	e := h.Entry()
	e.Payload = []byte("old")
	e.ComputeUnits = 1
	e.Priority = 1
	e.PublishNS = 1000
	const ttlNS = int64(60)
	r := p.Commit(h, 1000+ttlNS, ttlNS)
	assert.Equal(t, RejectedStale, r.Outcome)
	assert.Equal(t, 0, p.Len())

	h2, err := p.Reserve()
	require.NoError(t, err)
	e2 := h2.Entry()
	e2.Payload = []byte("fresh")
	e2.ComputeUnits = 1
	e2.Priority = 1
	e2.PublishNS = 1000
	r2 := p.Commit(h2, 1000+ttlNS-1, ttlNS)
	assert.Equal(t, AcceptedNew, r2.Outcome)
	assert.Equal(t, 1, p.Len())

	h3, err := p.Reserve()
	require.NoError(t, err)
	e3 := h3.Entry()
	e3.Payload = []byte("unknown-publish")
	e3.ComputeUnits = 1
	e3.Priority = 1
	r3 := p.Commit(h3, 1000+ttlNS*10, ttlNS)
	assert.Equal(t, AcceptedNew, r3.Outcome, "PublishNS unknown (zero) must not be treated as infinitely stale")
}
