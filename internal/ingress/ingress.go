// Package ingress implements the Ingress Adapter of spec.md §4.5: the
// speculative copy/parse protocol that turns ring fragments into
// Priority Pool entries, with cancellation on producer overrun, and
// the interpretation of PoH control fragments. Grounded on
// _examples/original_source/src/app/fdctl/run/tiles/fd_pack.c's
// during_frag/after_frag pair and _examples/BigBossBooling-Empower1Blockchain's
// internal/p2p/peer.go read-loop shape.
package ingress

import (
	"encoding/binary"
	"errors"

	"go.uber.org/zap"

	"github.com/firedancer-go/pack/internal/leader"
	"github.com/firedancer-go/pack/internal/pool"
	"github.com/firedancer-go/pack/internal/ring"
)

// SignatureFlag distinguishes the two transaction sub-formats spec
// §4.5 names, carried as the whole of a transaction fragment's
// signature.
type SignatureFlag uint64

const (
	PreParsed SignatureFlag = 0
	Raw       SignatureFlag = 1
)

// ErrUnrecognizedFormat is returned when a transaction fragment's
// signature carries neither PreParsed nor Raw (spec §9 Open Question,
// pinned: any other value is rejected outright, counted as dropped).
var ErrUnrecognizedFormat = errors.New("ingress: unrecognized transaction sub-format")

// PktType is the control-ring subtype encoded in a control fragment's
// signature (spec §6).
type PktType uint8

const (
	PktMicroblock   PktType = 0
	PktBecameLeader PktType = 1
	PktDonePacking  PktType = 2
)

// ControlSig packs {slot, pkt_type, bank_index} into the 64-bit
// signature field spec §6 describes: the low byte carries the bank
// index, the next byte the packet type, and the remaining 48 bits the
// slot (or, for DonePacking, the microblock count — spec §6: "slot
// field in signature carries microblock_count").
type ControlSig struct {
	Slot      uint64
	PktType   PktType
	BankIndex uint8
}

const bankIndexSentinel = 0xFF

func EncodeControlSig(s ControlSig) uint64 {
	return (s.Slot << 16) | (uint64(s.PktType) << 8) | uint64(s.BankIndex)
}

func DecodeControlSig(sig uint64) ControlSig {
	return ControlSig{
		Slot:      sig >> 16,
		PktType:   PktType((sig >> 8) & 0xFF),
		BankIndex: uint8(sig & 0xFF),
	}
}

// becameLeaderWireSize is the fixed encoding of a BecameLeader record
// (spec §6): bank index (1 byte, padded), slot start ns (8 bytes, big
// endian), max microblocks (8 bytes, big endian).
const becameLeaderWireSize = 1 + 7 + 8 + 8

func decodeBecameLeader(buf []byte) (leader.BecameLeader, bool) {
	if len(buf) < becameLeaderWireSize {
		return leader.BecameLeader{}, false
	}
	bank := int(buf[0])
	start := int64(binary.BigEndian.Uint64(buf[8:16]))
	maxMB := binary.BigEndian.Uint64(buf[16:24])
	return leader.BecameLeader{Bank: bank, SlotStartNS: start, MaxMicroblocks: maxMB}, true
}

// Adapter turns ring fragments into Priority Pool entries and leader
// slot transitions. It holds no goroutines of its own; the
// orchestrator (internal/pack) drives it once per fragment per tick,
// matching spec §5's single cooperative thread.
// staged holds a reserved-but-not-yet-committed handle across the
// DuringFrag/AfterFrag boundary, mirroring fd_pack.c's ctx->cur_spot.
type staged struct {
	h      *pool.Handle
	r      *ring.Ring
	seq    uint64
	active bool
}

type Adapter struct {
	pool   *pool.Pool
	logger *zap.Logger
	ttlNS  int64 // TRANSACTION_LIFETIME_NS (spec §6); <= 0 disables the staleness check

	dropped uint64 // parse failures + unrecognized formats, for metrics
	cur     staged
}

// New constructs an Adapter backed by pool p. ttlNS is spec §6's
// TRANSACTION_LIFETIME_NS, applied at commit time against each
// fragment's producer-side publish timestamp (see pool.Entry.PublishNS);
// pass 0 to disable the staleness check.
func New(p *pool.Pool, logger *zap.Logger, ttlNS int64) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{pool: p, logger: logger, ttlNS: ttlNS}
}

// Dropped returns the running count of transaction fragments rejected
// at parse time. Overruns are not included; the adapter only logs
// them.
func (a *Adapter) Dropped() uint64 { return a.dropped }

// BeforeCredit cancels a handle left dangling by an interrupted tick:
// if the caller's loop was torn down between DuringFrag and AfterFrag
// (the only way cur_spot can survive past one tick), the reserved
// slot must be returned to the pool before fresh work starts. Grounded
// on fd_pack.c's before_credit: "If we were overrun while processing a
// frag from an in, then cur_spot is left dangling... clean it up here."
func (a *Adapter) BeforeCredit() {
	if a.cur.active {
		a.pool.Cancel(a.cur.h)
		a.cur = staged{}
	}
}

// DuringFrag runs spec §4.5 steps 2-3 against sequence number seq of
// ring r: reserve a Priority Pool handle and speculatively copy/parse
// the fragment's payload into it. It reports false when nothing was
// ready, the pool is full, or the fragment's sub-format is
// unrecognized or failed to parse (each of the latter two also
// release the reserved handle immediately, since there is nothing
// AfterFrag could usefully commit). A true return leaves a handle
// staged for AfterFrag to finish.
func (a *Adapter) DuringFrag(r *ring.Ring, seq uint64) bool {
	fr, payload, status := r.Begin(seq)
	if status != ring.Ready {
		if status == ring.Overrun {
			a.logger.Debug("transaction fragment overrun before reserve", zapUint64("seq", seq))
		}
		return false
	}

	h, err := a.pool.Reserve()
	if err != nil {
		// Pool is full; nothing to stage. The fragment is simply not
		// consumed this tick (spec §4.1 Full is the caller's signal
		// to back off, not a parse failure).
		return false
	}

	flag := SignatureFlag(fr.Signature)
	e := h.Entry()

	var parseErr error
	switch flag {
	case PreParsed:
		parseErr = decodePreParsed(payload, e)
	case Raw:
		parseErr = decodeRaw(payload, e)
	default:
		parseErr = ErrUnrecognizedFormat
	}

	if parseErr != nil {
		a.pool.Cancel(h)
		a.dropped++
		a.logger.Debug("transaction fragment parse failed", zap.Error(parseErr))
		return false
	}

	e.PublishNS = fr.PublishNS
	a.cur = staged{h: h, r: r, seq: seq, active: true}
	return true
}

// AfterFrag completes a fragment staged by a prior true-returning
// DuringFrag call: re-checks for producer overrun (spec §4.5 step 4,
// and §5's "invariant under overrun") and either commits or cancels.
// ok is false when there was nothing staged to finish, or when the
// fragment was overrun (its handle is then cancelled).
func (a *Adapter) AfterFrag(ingestNS int64) (result pool.CommitResult, ok bool) {
	if !a.cur.active {
		return pool.CommitResult{}, false
	}
	h, r, seq := a.cur.h, a.cur.r, a.cur.seq
	a.cur = staged{}

	if r.End(seq) == ring.Overrun {
		a.pool.Cancel(h)
		a.logger.Debug("transaction fragment overrun during copy", zapUint64("seq", seq))
		return pool.CommitResult{}, false
	}

	return a.pool.Commit(h, ingestNS, a.ttlNS), true
}

// ConsumeTransaction is the common case of DuringFrag immediately
// followed by AfterFrag, for callers (and tests) that don't need the
// two phases to straddle other work.
func (a *Adapter) ConsumeTransaction(r *ring.Ring, seq uint64, ingestNS int64) (pool.CommitResult, bool) {
	if !a.DuringFrag(r, seq) {
		return pool.CommitResult{}, false
	}
	return a.AfterFrag(ingestNS)
}

// ConsumeControl runs spec §4.5 step 1 plus the BecameLeader handling
// of §4.4 against sequence number seq of the control ring r. filtered
// reports a discarded non-BecameLeader subtype (spec: "If the source
// is the control ring and the subtype is not BecameLeader, discard").
// On a confirmed BecameLeader fragment the slot controller is staged
// via BeginSlot; the caller must call CommitSlot itself once it knows
// no overrun occurred (this function already performs that overrun
// recheck and reports staged=true only when safe to commit, but leaves the actual
// commit to the caller so the orchestrator can interleave it with its
// own AfterFrag phase, matching fd_pack.c's during_frag/after_frag
// split).
func (a *Adapter) ConsumeControl(r *ring.Ring, seq uint64, blockDurationNS int64, ctrl *leader.Controller) (staged bool, filtered bool) {
	fr, payload, status := r.Begin(seq)
	if status != ring.Ready {
		return false, false
	}

	cs := DecodeControlSig(fr.Signature)
	if cs.PktType != PktBecameLeader {
		return false, true
	}

	bl, ok := decodeBecameLeader(payload)
	if !ok {
		a.logger.Warn("became_leader fragment truncated", zapUint64("seq", seq))
		return false, false
	}
	bl.Slot = cs.Slot

	if r.End(seq) == ring.Overrun {
		// Per spec §9: the slot is staged but never committed; the
		// next slot-end check observes slot_end==0 and terminates on
		// the following tick. Staging happens anyway (mirroring
		// fd_pack.c latching ctx->leader_slot before the overrun can
		// even be detected), but the caller must not call CommitSlot.
		ctrl.BeginSlot(bl, blockDurationNS)
		a.logger.Warn("became_leader fragment overrun, slot will be skipped", zapUint64("seq", seq))
		return false, false
	}

	ctrl.BeginSlot(bl, blockDurationNS)
	return true, false
}

func zapUint64(key string, v uint64) zap.Field { return zap.Uint64(key, v) }
