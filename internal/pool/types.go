// Package pool implements the Priority Pool of spec.md §4.1: a
// bounded, keyed, priority-ordered collection of pending transactions
// with per-account conflict indexing and expiry. Grounded on
// internal/mempool/mempool.go's map-plus-ordered-list shape (the
// teacher's own comment flags its O(n log n) re-sort as a stand-in
// for "a min/max heap... for production", which is exactly the
// generalization this package makes) and on the arena-of-stable-
// indices representation spec.md §9 recommends.
package pool

import (
	"github.com/cespare/xxhash/v2"

	"github.com/firedancer-go/pack/internal/ring"
)

// Fingerprint uniquely identifies one pending transaction. Spec §9
// leaves its derivation unspecified beyond "opaque, unique"; this
// implementation hashes the payload with xxhash, a fast
// non-cryptographic hash that is the right tool once signature
// verification has already happened upstream (spec §1 Non-goals).
type Fingerprint uint64

// FingerprintOf derives the fingerprint of a raw payload.
func FingerprintOf(payload []byte) Fingerprint {
	return Fingerprint(xxhash.Sum64(payload))
}

// Descriptor is the parsed account-access footprint of a transaction.
type Descriptor struct {
	ReadKeys  []ring.AccountKey
	WriteKeys []ring.AccountKey
}

// Entry is one pending, pre-verified transaction. Once committed, its
// Payload and Descriptor are immutable until removal (spec §3).
type Entry struct {
	Payload      []byte
	Descriptor   Descriptor
	SignerCount  int
	ComputeUnits uint64
	Priority     float64
	IsVote       bool
	IngestNS     int64

	// PublishNS is the ring fragment's producer-side publish timestamp
	// (spec §6), distinct from IngestNS (when this core committed it).
	// Zero means the producer's publish time is unknown; Commit then
	// skips the staleness check rather than treating the entry as
	// infinitely old.
	PublishNS int64

	fingerprint Fingerprint
}

// Fingerprint returns the entry's identity key.
func (e *Entry) Fingerprint() Fingerprint { return e.fingerprint }

// Outcome classifies exactly how Commit resolved, matching the six
// metrics classes spec §4.1 requires to be reported distinctly.
type Outcome int

const (
	AcceptedNew Outcome = iota
	AcceptedReplacingLower
	RejectedDuplicateOfHigher
	RejectedStale
	RejectedInvalid
	RejectedCapacity
)

func (o Outcome) String() string {
	switch o {
	case AcceptedNew:
		return "accepted_new"
	case AcceptedReplacingLower:
		return "accepted_replacing_lower"
	case RejectedDuplicateOfHigher:
		return "rejected_duplicate_of_higher"
	case RejectedStale:
		return "rejected_stale"
	case RejectedInvalid:
		return "rejected_invalid"
	case RejectedCapacity:
		return "rejected_capacity"
	default:
		return "unknown"
	}
}

// CommitResult is the outcome of a Commit call.
type CommitResult struct {
	Outcome            Outcome
	ReplacedFingerprint Fingerprint // valid iff Outcome == AcceptedReplacingLower
}
