// Package ring is the Go-native shape of the fragment-ring transport
// described in spec.md §6: a lock-free SPSC metadata + data cache
// pair with asynchronous overrun detection. It is grounded on
// _examples/original_source/src/tango/mcache/fd_mcache.h (the
// publish/republish-metadata handshake) and the producer/consumer
// protocol exercised in
// _examples/original_source/src/tango/test_frag_tx.c.
//
// Unlike the original, this is an in-process simulation: the "shared
// memory region" is a plain byte slice owned by one Ring value, and
// the producer/consumer race is whatever the caller's goroutines
// actually do. Ring enforces the sequence-number discipline; it does
// not allocate shared memory across process boundaries.
package ring

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is the outcome of a consumer's attempt to read a fragment.
type Status int

const (
	// NotReady means the producer has not yet published this sequence
	// number; the consumer should retry on a later tick.
	NotReady Status = iota
	// Ready means the fragment at the requested sequence number was
	// observed intact.
	Ready
	// Overrun means the producer lapped the consumer: the fragment at
	// the requested sequence number is gone, overwritten by a fragment
	// at least Depth sequence numbers ahead. The caller must discard
	// whatever it was doing with this fragment and resynchronize.
	Overrun
)

// emptySeq marks a ring slot that has never been published into,
// distinguishing "nothing here yet" from a real sequence number 0.
const emptySeq = ^uint64(0)

// Fragment is one element's metadata: a monotone sequence number, a
// signature encoding the semantic channel (spec §6), and a pointer
// (chunk index + size) into the ring's data arena.
type Fragment struct {
	Seq       uint64
	Signature uint64
	Chunk     uint32
	Size      uint32
	PublishNS int64
}

type slot struct {
	seq atomic.Uint64
	fr  Fragment
}

// Ring is a single-producer/single-consumer fragment ring: depth
// metadata slots backed by a data arena of depth*mtu bytes. Every
// fragment occupies exactly one mtu-sized arena slot; this is a
// simplification of the original's compacting dcache (which packs
// variable-length fragments), acceptable because spec §3 already
// bounds every transaction payload to a single MTU.
type Ring struct {
	ID    uuid.UUID
	Depth uint64
	mtu   uint32

	data  []byte
	slots []slot

	// producerSeq is the next sequence number this ring's sole
	// producer will assign. Not atomic: a ring has exactly one
	// producer goroutine by contract.
	producerSeq uint64
}

// New allocates a ring with the given depth (number of in-flight
// fragments retained) and mtu (maximum fragment payload size).
func New(depth int, mtu int) *Ring {
	if depth <= 0 || mtu <= 0 {
		panic("ring: depth and mtu must be positive")
	}
	r := &Ring{
		ID:    uuid.New(),
		Depth: uint64(depth),
		mtu:   uint32(mtu),
		data:  make([]byte, depth*mtu),
		slots: make([]slot, depth),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(emptySeq)
	}
	return r
}

// MTU returns the ring's fixed payload capacity.
func (r *Ring) MTU() int { return int(r.mtu) }

// NextSeq returns the sequence number the next Reserve/Publish pair
// will assign.
func (r *Ring) NextSeq() uint64 { return r.producerSeq }

// Reserve returns the producer's writable window for the next
// fragment and the chunk index identifying it. The caller must fill
// at most MTU() bytes and then call Publish with the same chunk.
func (r *Ring) Reserve() (chunk uint32, buf []byte) {
	idx := r.producerSeq % r.Depth
	start := uint32(idx) * r.mtu
	return uint32(idx), r.data[start : start+r.mtu]
}

// Publish makes the fragment written into the buffer returned by
// Reserve visible to the consumer, tagged with the given signature,
// payload size, and publish timestamp (nanoseconds, monotone host
// clock). Publish must be called with the chunk Reserve just handed
// out, in order; that ordering is the producer's sole responsibility,
// matching the original's "publish payload first, then publish
// metadata" handshake.
func (r *Ring) Publish(chunk uint32, signature uint64, size uint32, publishNS int64) uint64 {
	seq := r.producerSeq
	s := &r.slots[chunk]
	s.fr = Fragment{Seq: seq, Signature: signature, Chunk: chunk, Size: size, PublishNS: publishNS}
	s.seq.Store(seq)
	r.producerSeq++
	return seq
}

// ErrNoFragment is a sentinel some callers prefer over checking
// Status directly.
var ErrNoFragment = errors.New("ring: no fragment ready")

// Begin speculatively exposes the fragment metadata and payload bytes
// for sequence number expectSeq, without advancing any consumer-side
// bookkeeping (Ring holds no consumer cursor; the caller, typically
// internal/ingress, owns that). The returned payload slice aliases
// the ring's arena directly — per spec §9's ownership note, the
// caller must copy out of it before calling End, and must never
// retain the slice past End.
func (r *Ring) Begin(expectSeq uint64) (fr Fragment, payload []byte, status Status) {
	idx := expectSeq % r.Depth
	s := &r.slots[idx]
	seq := s.seq.Load()
	switch {
	case seq == emptySeq || seq < expectSeq:
		return Fragment{}, nil, NotReady
	case seq > expectSeq:
		return Fragment{}, nil, Overrun
	default:
		fr = s.fr
		start := uint32(idx) * r.mtu
		return fr, r.data[start : start+fr.Size], Ready
	}
}

// End re-validates that the fragment begun at expectSeq is still the
// one occupying its slot, i.e. that the producer did not lap the
// consumer while it was copying the payload out. This is the
// consumer's half of the overrun handshake (spec §6: "consumer reads
// metadata, payload, then re-reads metadata to detect overrun").
func (r *Ring) End(expectSeq uint64) Status {
	idx := expectSeq % r.Depth
	seq := r.slots[idx].seq.Load()
	if seq == expectSeq {
		return Ready
	}
	return Overrun
}
