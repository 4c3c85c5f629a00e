package bank

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotReadyUntilBusyCatchesUpToExpect(t *testing.T) {
	clk := clock.NewMock()
	var current uint64
	tr := New([]BusyQuery{func() uint64 { return current }}, 2*time.Millisecond, clk)

	require.True(t, tr.IsReady(0), "no dispatch outstanding, bank must start ready")

	tr.RecordDispatch(0, 7)
	assert.False(t, tr.IsReady(0), "expect(7) != current(0): bank still busy")

	current = 7
	clk.Add(2 * time.Millisecond)
	assert.True(t, tr.IsReady(0))
}

func TestCadenceGateEnforcesMinimumInterval(t *testing.T) {
	clk := clock.NewMock()
	var current uint64
	tr := New([]BusyQuery{func() uint64 { return current }}, 2*time.Millisecond, clk)

	tr.RecordDispatch(0, 1)
	current = 1
	assert.False(t, tr.IsReady(0), "cadence not yet elapsed")

	clk.Add(time.Millisecond)
	assert.False(t, tr.IsReady(0), "still short of the 2ms floor")

	clk.Add(time.Millisecond)
	assert.True(t, tr.IsReady(0))
}

func TestIsReadyPeekDoesNotConsumeCadenceToken(t *testing.T) {
	clk := clock.NewMock()
	var current uint64
	tr := New([]BusyQuery{func() uint64 { return current }}, 2*time.Millisecond, clk)

	for i := 0; i < 5; i++ {
		assert.True(t, tr.IsReady(0), "repeated peeks must not themselves gate readiness")
	}
}

func TestMultipleBanksAreIndependentlyGated(t *testing.T) {
	clk := clock.NewMock()
	var a, b uint64
	tr := New([]BusyQuery{
		func() uint64 { return a },
		func() uint64 { return b },
	}, 2*time.Millisecond, clk)

	tr.RecordDispatch(0, 1)
	a = 1
	assert.False(t, tr.IsReady(0))
	assert.True(t, tr.IsReady(1), "bank 1 never dispatched, must remain ready")
}
