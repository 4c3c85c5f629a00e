// Package pack wires the Priority Pool, Conflict Scheduler, Bank
// Tracker, Leader Slot Controller, and Ingress Adapter into the
// single cooperative event loop spec.md §5 describes. Grounded
// directly on
// _examples/original_source/src/app/fdctl/run/tiles/fd_pack.c's four
// mux hooks (before_credit, during_frag, after_frag, after_credit) and
// its unprivileged_init wiring.
package pack

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/firedancer-go/pack/internal/bank"
	"github.com/firedancer-go/pack/internal/config"
	"github.com/firedancer-go/pack/internal/ingress"
	"github.com/firedancer-go/pack/internal/leader"
	"github.com/firedancer-go/pack/internal/metrics"
	"github.com/firedancer-go/pack/internal/pool"
	"github.com/firedancer-go/pack/internal/ring"
	"github.com/firedancer-go/pack/internal/sched"
)

// Core owns every component and drives them through the four named
// phases. It is not safe for concurrent use from more than one
// goroutine; the scheduling model is single-threaded (spec §5).
type Core struct {
	cfg     config.Config
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	pool    *pool.Pool
	sched   *sched.Scheduler
	banks   *bank.Tracker
	leader  *leader.Controller
	ingress *ingress.Adapter

	txRings      []*ring.Ring
	txSeq        []uint64
	ctrlRing     *ring.Ring
	ctrlSeq      uint64
	outRings     []*ring.Ring
	busyCounters []uint64

	pendingCtrlStaged bool
	lastExpireNS      int64
	lastDropped       uint64
}

// New constructs a Core from cfg, wiring a fresh Pool/Scheduler/
// Tracker/Controller/Adapter and the input/output rings they share.
// txRingCount is the number of transaction-producer input rings
// (spec §4.5: "N input rings"); one control ring and one output ring
// per bank are always created.
func New(cfg config.Config, txRingCount int, clk clock.Clock, logger *zap.Logger, reg prometheus.Registerer) *Core {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := pool.New(cfg.MaxPendingTransactions, logger)
	s := sched.New(p, cfg.BankTileCount, cfg.MaxTxnPerMicroblock)

	busyFns := make([]bank.BusyQuery, cfg.BankTileCount)
	busyCounters := make([]uint64, cfg.BankTileCount)
	for i := range busyFns {
		i := i
		busyFns[i] = func() uint64 { return busyCounters[i] }
	}
	bt := bank.New(busyFns, cfg.MicroblockDuration(), clk)
	lc := leader.New(clk, logger)
	ing := ingress.New(p, logger, cfg.TransactionLifetimeNS)

	txRings := make([]*ring.Ring, txRingCount)
	txSeq := make([]uint64, txRingCount)
	for i := range txRings {
		txRings[i] = ring.New(cfg.RingDepth, cfg.RingMTU)
	}
	outRings := make([]*ring.Ring, cfg.BankTileCount)
	for i := range outRings {
		outRings[i] = ring.New(cfg.RingDepth, cfg.RingMTU*cfg.MaxTxnPerMicroblock)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	return &Core{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		pool:     p,
		sched:    s,
		banks:    bt,
		leader:   lc,
		ingress:  ing,
		txRings:  txRings,
		txSeq:    txSeq,
		ctrlRing:     ring.New(cfg.RingDepth, 256),
		outRings:     outRings,
		busyCounters: busyCounters,
	}
}

// BecameLeader publishes a leader-transition control fragment into
// the control ring, for callers (typically a PoH adapter, external to
// this core) that observe slot changes out of band.
func (c *Core) BecameLeader(bl leader.BecameLeader, bank int) {
	payload := make([]byte, 24)
	payload[0] = byte(bank)
	binary.BigEndian.PutUint64(payload[8:16], uint64(bl.SlotStartNS))
	binary.BigEndian.PutUint64(payload[16:24], bl.MaxMicroblocks)
	chunk, dst := c.ctrlRing.Reserve()
	n := copy(dst, payload)
	sig := ingress.EncodeControlSig(ingress.ControlSig{Slot: bl.Slot, PktType: ingress.PktBecameLeader, BankIndex: uint8(bank)})
	c.ctrlRing.Publish(chunk, sig, uint32(n), c.clock.Now().UnixNano())
}

// TxRing exposes producer i's input ring so an external producer
// adapter can Reserve/Publish into it.
func (c *Core) TxRing(i int) *ring.Ring { return c.txRings[i] }

// OutRing exposes bank i's output ring so a bank consumer can read
// published microblocks from it.
func (c *Core) OutRing(i int) *ring.Ring { return c.outRings[i] }

// BankCurrent lets an external bank signal it has gone idle at
// sequence seq (spec §3's current[i]).
func (c *Core) BankCurrent(i int, seq uint64) { c.busyCounters[i] = seq }

// BeforeCredit recovers from a tick interrupted mid-ingest (spec §5's
// "invariant under overrun"): any dangling reserved-but-uncommitted
// pool handle is released.
func (c *Core) BeforeCredit() {
	c.ingress.BeforeCredit()
}

// DuringFrag processes exactly one fragment from transaction ring
// idx, if one is ready. It returns false when nothing was staged for
// AfterFrag; a fragment dropped at parse time is still consumed.
// Callers typically loop over all input rings once per tick.
func (c *Core) DuringFrag(idx int) bool {
	r := c.txRings[idx]
	dropped := c.ingress.Dropped()
	ok := c.ingress.DuringFrag(r, c.txSeq[idx])
	if ok || c.ingress.Dropped() != dropped {
		c.txSeq[idx]++
	}
	return ok
}

// AfterFrag completes whatever DuringFrag most recently staged.
func (c *Core) AfterFrag() {
	start := c.clock.Now()
	result, ok := c.ingress.AfterFrag(start.UnixNano())
	if c.metrics != nil {
		dropped := c.ingress.Dropped()
		if dropped > c.lastDropped {
			c.metrics.DroppedFragments.Add(float64(dropped - c.lastDropped))
			c.lastDropped = dropped
		}
	}
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveInsert(result.Outcome)
		c.metrics.InsertDurationSecs.Observe(c.clock.Now().Sub(start).Seconds())
	}
}

// DuringControlFrag processes exactly one control-ring fragment, if
// one is ready, staging a leader transition when it is a confirmed BecameLeader.
func (c *Core) DuringControlFrag() {
	if _, _, status := c.ctrlRing.Begin(c.ctrlSeq); status == ring.NotReady {
		c.pendingCtrlStaged = false
		return
	}
	staged, _ := c.ingress.ConsumeControl(c.ctrlRing, c.ctrlSeq, c.cfg.BlockDurationNS, c.leader)
	c.ctrlSeq++
	c.pendingCtrlStaged = staged
}

// AfterControlFrag commits a leader transition staged by
// DuringControlFrag, if any.
func (c *Core) AfterControlFrag() {
	if c.pendingCtrlStaged {
		c.leader.CommitSlot()
		c.pendingCtrlStaged = false
	}
}

// AfterCredit is the core's dispatch loop body, run once per tick
// (spec §5, §9's supplemented expiry timing): it checks for slot
// termination, then dispatches at most one microblock, to the first
// ready bank for which the scheduler finds admissible transactions,
// before yielding, exactly as fd_pack.c's after_credit
// "We have set burst to 1... break" comment describes.
func (c *Core) AfterCredit() {
	now := c.clock.Now()

	if done, emit := c.leader.CheckSlotEnd(now); emit {
		c.publishDonePacking(done)
	}
	if !c.leader.IsLeader() {
		return
	}

	st := c.leader.State()
	if st.MicroblockCount >= st.MaxMicroblocks {
		return
	}

	nowNS := now.UnixNano()
	cutoff := nowNS - c.cfg.TransactionLifetimeNS
	if cutoff > c.lastExpireNS {
		c.pool.ExpireBefore(cutoff)
		c.lastExpireNS = cutoff
	}

	for i := 0; i < c.cfg.BankTileCount; i++ {
		if !c.banks.IsReady(i) {
			continue
		}
		c.sched.MicroblockComplete(i)

		out := make([]pool.Entry, c.cfg.MaxTxnPerMicroblock)
		scheduleStart := c.clock.Now()
		n := c.sched.ScheduleNext(i, c.cfg.CUsPerMicroblock, c.cfg.VoteFraction, out)
		if c.metrics != nil {
			c.metrics.ScheduleDurationSecs.Observe(c.clock.Now().Sub(scheduleStart).Seconds())
		}
		if n == 0 {
			continue
		}

		seq := c.publishMicroblock(i, st.Bank, out[:n])
		c.banks.RecordDispatch(i, seq)
		c.leader.RecordMicroblock()
		if c.metrics != nil {
			c.metrics.MicroblocksPublished.WithLabelValues(strconv.Itoa(i)).Inc()
		}
		break
	}
}

func (c *Core) publishMicroblock(bankIdx, bankOpaque int, entries []pool.Entry) uint64 {
	r := c.outRings[bankIdx]
	chunk, dst := r.Reserve()
	off := 0
	off += binary.PutUvarint(dst[off:], uint64(len(entries)))
	for _, e := range entries {
		off += binary.PutUvarint(dst[off:], uint64(len(e.Payload)))
		off += copy(dst[off:], e.Payload)
	}
	dst[off] = byte(bankOpaque)
	off++
	sig := ingress.EncodeControlSig(ingress.ControlSig{Slot: 0, PktType: ingress.PktMicroblock, BankIndex: uint8(bankIdx)})
	return r.Publish(chunk, sig, uint32(off), c.clock.Now().UnixNano())
}

func (c *Core) publishDonePacking(done leader.DonePacking) {
	chunk, _ := c.ctrlRing.Reserve()
	sig := ingress.EncodeControlSig(ingress.ControlSig{Slot: done.MicroblockCount, PktType: ingress.PktDonePacking, BankIndex: 0xFF})
	c.ctrlRing.Publish(chunk, sig, 0, c.clock.Now().UnixNano())
	if c.metrics != nil {
		c.metrics.DonePackingEmitted.Inc()
	}
}

// Run drives BeforeCredit/DuringFrag/AfterFrag/AfterCredit in a busy
// poll loop until ctx is cancelled, the direct generalization of the
// teacher's (and fd_pack.c's) mux hook phases (spec §9's design note).
// idleSleep is the pause taken when a full round finds no work, since
// this is a Go goroutine rather than a CPU-pinned spin loop.
func (c *Core) Run(ctx context.Context, idleSleep time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		default:
		}

		c.BeforeCredit()
		busy := false
		for i := range c.txRings {
			if c.DuringFrag(i) {
				c.AfterFrag()
				busy = true
			}
		}
		c.DuringControlFrag()
		c.AfterControlFrag()
		c.AfterCredit()

		if !busy {
			select {
			case <-ctx.Done():
				return c.shutdown()
			case <-c.clock.After(idleSleep):
			}
		}
	}
}

// shutdown is the run loop's exit path: it returns the multierr
// combination of its cleanup steps' errors. It has no cleanup steps
// (rings and metrics are not flushed), so it always returns nil.
func (c *Core) shutdown() error {
	// No component currently owns a closeable OS resource (rings are
	// in-process byte slices); multierr.Combine still aggregates
	// rather than short-circuits if a future step (flushing metrics to
	// a pushgateway, say) is added alongside others here.
	return multierr.Combine()
}

