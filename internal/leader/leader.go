// Package leader implements the Leader Slot Controller of spec.md
// §4.4: the state machine that tracks whether this validator is
// currently packing for a slot, and emits the DonePacking control
// fragment under the asymmetric rule spec §4.4 describes. Grounded on
// _examples/original_source/src/app/fdctl/run/tiles/fd_pack.c's
// leader_slot/slot_end_ns/_slot_end_ns staging fields and the
// after_credit/during_frag/after_frag handling of the PoH control
// stream.
package leader

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Phase names the controller's three states (spec §4.4). Terminating
// is transient: a single AfterCredit call observes the deadline or
// microblock-count condition, emits DonePacking if owed, and falls
// straight through to NotLeader within the same call.
type Phase int

const (
	NotLeader Phase = iota
	Leader
	Terminating
)

func (p Phase) String() string {
	switch p {
	case NotLeader:
		return "not_leader"
	case Leader:
		return "leader"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// BecameLeader is the control-fragment payload spec §6 names: an
// opaque bank identifier, the slot's start time, and the maximum
// number of microblocks the sequencer will accept for it.
type BecameLeader struct {
	Slot             uint64
	Bank             int
	SlotStartNS      int64
	MaxMicroblocks   uint64
}

// DonePacking is the control fragment this controller produces, per
// spec §4.4 and §6: emitted only on deadline termination, carrying
// the number of microblocks actually packed.
type DonePacking struct {
	Slot            uint64
	MicroblockCount uint64
}

// State is the current leader-slot state (spec §3's "Leader slot
// state" variant), exposed read-only for the orchestrator and tests.
type State struct {
	Phase           Phase
	Slot            uint64
	Bank            int
	MicroblockCount uint64
	MaxMicroblocks  uint64
	SlotEndNS       int64 // 0 while staged-but-unconfirmed; forces immediate termination if the BecameLeader fragment was overrun
}

// Controller owns the leader-slot state machine. It is not safe for
// concurrent use; like the rest of this core it is driven from a
// single cooperative loop (spec §5).
type Controller struct {
	clock  clock.Clock
	logger *zap.Logger

	state State

	// stagedEndNS holds the tentative slot_end_ns latched in
	// BeginSlot, committed into state.SlotEndNS only by CommitSlot
	// once the BecameLeader fragment is confirmed not overrun —
	// mirrors fd_pack.c's ctx->_slot_end_ns / ctx->slot_end_ns split.
	stagedEndNS int64
}

// New constructs a Controller in the NotLeader state.
func New(clk clock.Clock, logger *zap.Logger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{clock: clk, logger: logger, state: State{Phase: NotLeader}}
}

// State returns a copy of the controller's current state.
func (c *Controller) State() State { return c.state }

// BeginSlot stages a leader transition on receipt of a BecameLeader
// control fragment (spec §4.4). Per spec, slot_end is latched to 0
// until CommitSlot confirms the fragment was read without an overrun;
// an overrun before commit therefore forces the very next AfterCredit
// tick to terminate the slot immediately (spec §9, recoverable class
// "Overrun of BecameLeader fragment").
func (c *Controller) BeginSlot(bl BecameLeader, blockDurationNS int64) {
	c.state = State{
		Phase:          Leader,
		Slot:           bl.Slot,
		Bank:           bl.Bank,
		MaxMicroblocks: bl.MaxMicroblocks,
		SlotEndNS:      0,
	}
	c.stagedEndNS = bl.SlotStartNS + blockDurationNS
	c.logger.Debug("leader slot staged", zap.Uint64("slot", bl.Slot), zap.Int("bank", bl.Bank))
}

// CommitSlot confirms the most recent BeginSlot's fragment was read
// without overrun and latches the real deadline (fd_pack.c's
// after_frag: "ctx->slot_end_ns = ctx->_slot_end_ns").
func (c *Controller) CommitSlot() {
	if c.state.Phase != Leader {
		return
	}
	c.state.SlotEndNS = c.stagedEndNS
}

// CancelSlot discards a staged-but-overrun BecameLeader fragment,
// reverting straight to NotLeader without ever committing a deadline
// or emitting DonePacking — the slot is silently skipped (spec §9).
func (c *Controller) CancelSlot() {
	c.state = State{Phase: NotLeader}
	c.stagedEndNS = 0
}

// RecordMicroblock increments the packed-microblock count for the
// current slot. Callers must not call this while NotLeader.
func (c *Controller) RecordMicroblock() {
	c.state.MicroblockCount++
}

// CheckSlotEnd evaluates the two termination conditions of spec
// §4.4 against now and, if either holds, transitions to NotLeader. The
// bool reports whether a DonePacking fragment is owed, in which case
// the returned DonePacking is that fragment. It is false both while
// the slot continues and after a count termination; callers tell the
// two apart with IsLeader.
//
// Deadline termination (now >= SlotEndNS) emits DonePacking.
// Count termination (MicroblockCount >= MaxMicroblocks) does not —
// the downstream sequencer infers termination from having received
// exactly MaxMicroblocks, and an extra DonePacking here would
// terminate the *next* slot the sequencer is already waiting on
// (spec §4.4's stated rationale).
func (c *Controller) CheckSlotEnd(now time.Time) (DonePacking, bool) {
	if c.state.Phase != Leader {
		return DonePacking{}, false
	}
	nowNS := now.UnixNano()
	deadlineHit := nowNS >= c.state.SlotEndNS
	countHit := c.state.MicroblockCount >= c.state.MaxMicroblocks
	if !deadlineHit && !countHit {
		return DonePacking{}, false
	}

	done := DonePacking{Slot: c.state.Slot, MicroblockCount: c.state.MicroblockCount}
	emit := deadlineHit
	slot := c.state.Slot
	count := c.state.MicroblockCount
	c.state = State{Phase: NotLeader}
	c.stagedEndNS = 0

	if emit {
		c.logger.Info("slot ended by deadline", zap.Uint64("slot", slot), zap.Uint64("microblocks", count))
		return done, true
	}
	c.logger.Info("slot ended by microblock count, no done_packing emitted", zap.Uint64("slot", slot), zap.Uint64("microblocks", count))
	return DonePacking{}, false
}

// IsLeader reports whether the controller currently owns a slot.
func (c *Controller) IsLeader() bool { return c.state.Phase == Leader }

// Now exposes the controller's clock so callers share one wall-clock
// source with the Bank Tracker.
func (c *Controller) Now() time.Time { return c.clock.Now() }
