package leader

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockDurationNS = int64(400 * time.Millisecond)

func TestBeginSlotStagesZeroDeadlineUntilCommit(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)

	c.BeginSlot(BecameLeader{Slot: 42, Bank: 0, SlotStartNS: clk.Now().UnixNano(), MaxMicroblocks: 10}, blockDurationNS)
	require.True(t, c.IsLeader())
	assert.Equal(t, int64(0), c.State().SlotEndNS, "slot_end must stay 0 until CommitSlot")

	clk.Add(time.Millisecond)
	done, terminated := c.CheckSlotEnd(clk.Now())
	assert.True(t, terminated, "an uncommitted (zero) deadline must force immediate termination")
	assert.Equal(t, uint64(42), done.Slot)
	assert.False(t, c.IsLeader())
}

func TestCommitSlotLatchesRealDeadline(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	start := clk.Now().UnixNano()
	c.BeginSlot(BecameLeader{Slot: 1, MaxMicroblocks: 10, SlotStartNS: start}, blockDurationNS)
	c.CommitSlot()
	assert.Equal(t, start+blockDurationNS, c.State().SlotEndNS)

	_, terminated := c.CheckSlotEnd(clk.Now())
	assert.False(t, terminated, "deadline has not been reached yet")
}

func TestCancelSlotSkipsSilently(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	c.BeginSlot(BecameLeader{Slot: 1, MaxMicroblocks: 10, SlotStartNS: clk.Now().UnixNano()}, blockDurationNS)
	c.CancelSlot()
	assert.False(t, c.IsLeader())
	_, terminated := c.CheckSlotEnd(clk.Now())
	assert.False(t, terminated, "cancelled slot leaves NotLeader, nothing further to terminate")
}

// TestSingleTxSingleBankScenario mirrors spec §8 scenario 1.
func TestSingleTxSingleBankScenario(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	start := clk.Now().UnixNano()
	c.BeginSlot(BecameLeader{Slot: 42, Bank: 0, SlotStartNS: start, MaxMicroblocks: 10}, blockDurationNS)
	c.CommitSlot()

	c.RecordMicroblock()
	_, terminated := c.CheckSlotEnd(clk.Now())
	assert.False(t, terminated)

	clk.Add(400 * time.Millisecond)
	done, terminated := c.CheckSlotEnd(clk.Now())
	require.True(t, terminated)
	assert.Equal(t, uint64(1), done.MicroblockCount)
}

// TestSlotTerminationByCount mirrors spec §8 scenario 5: max_mb=3,
// three microblocks published, DonePacking must NOT be emitted.
func TestSlotTerminationByCount(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	c.BeginSlot(BecameLeader{Slot: 7, MaxMicroblocks: 3, SlotStartNS: clk.Now().UnixNano()}, blockDurationNS)
	c.CommitSlot()

	for i := 0; i < 3; i++ {
		c.RecordMicroblock()
	}
	_, emitted := c.CheckSlotEnd(clk.Now())
	require.False(t, emitted, "count>=max_mb terminates without owing DonePacking")
	assert.False(t, c.IsLeader(), "count>=max_mb must terminate")
}

func TestSlotTerminationByCountDoesNotEmitDonePacking(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	c.BeginSlot(BecameLeader{Slot: 7, MaxMicroblocks: 3, SlotStartNS: clk.Now().UnixNano()}, blockDurationNS)
	c.CommitSlot()
	for i := 0; i < 3; i++ {
		c.RecordMicroblock()
	}
	done, emitted := c.CheckSlotEnd(clk.Now())
	require.False(t, emitted, "count termination must not emit DonePacking")
	assert.Equal(t, DonePacking{}, done, "count termination must not carry an emitted DonePacking")
}

// TestSlotTerminationByDeadline mirrors spec §8 scenario 6: max_mb is
// effectively unreachable, no candidates ever dispatch, and after the
// full block duration the slot ends on the clock with count=0.
func TestSlotTerminationByDeadline(t *testing.T) {
	clk := clock.NewMock()
	c := New(clk, nil)
	start := clk.Now().UnixNano()
	c.BeginSlot(BecameLeader{Slot: 9, MaxMicroblocks: 1000, SlotStartNS: start}, blockDurationNS)
	c.CommitSlot()

	clk.Add(399 * time.Millisecond)
	_, terminated := c.CheckSlotEnd(clk.Now())
	require.False(t, terminated)

	clk.Add(time.Millisecond)
	done, terminated := c.CheckSlotEnd(clk.Now())
	require.True(t, terminated)
	assert.Equal(t, uint64(0), done.MicroblockCount)
}
