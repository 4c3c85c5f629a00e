// Package config holds the pack core's runtime configuration (spec
// §6's configuration table), loaded from CLI flags by cmd/packd via
// github.com/spf13/cobra/pflag the way
// _examples/BigBossBooling-Empower1Blockchain/cmd/empower1d/cli/cli.go
// wires its own flags, and defaulted from total system memory via
// github.com/pbnjay/memory the way a validator sizes its pending-pool
// capacity to the box it runs on rather than a fixed constant.
package config

import (
	"errors"
	"time"

	"github.com/pbnjay/memory"
	"github.com/spf13/pflag"
)

var (
	errBankTileCount = errors.New("config: bank_tile_count must be in [1,16]")
	errMaxPending    = errors.New("config: max_pending_transactions must be positive")
	errVoteFraction  = errors.New("config: vote_fraction must be in [0,1]")
)

const (
	defaultCUsPerMicroblock      = 1_500_000
	defaultVoteFraction          = 0.75
	defaultMicroblockDurationNS  = int64(2_000_000)
	defaultBlockDurationNS       = int64(400_000_000)
	defaultBankTileCount         = 4
	defaultTransactionLifetimeNS = int64(60_000_000_000) // spec §6's TRANSACTION_LIFETIME_NS
	defaultRingDepth             = 128
	defaultRingMTU               = 1232 // spec §3's MTU bound on a transaction payload
	// defaultMaxTxnPerMicroblock is not pinned by the retrieved source
	// sample (MAX_TXN_PER_MICROBLOCK's definition lives outside the
	// excerpted files); 128 is a conservative upper bound well above
	// what CUS_PER_MICROBLOCK's budget admits for typical transactions.
	defaultMaxTxnPerMicroblock = 128

	// bytesPerPendingSlot is a conservative per-entry footprint
	// (payload + descriptor + bookkeeping) used only to turn total
	// system memory into a sane default pool capacity; operators are
	// expected to override MaxPendingTransactions directly in
	// anything but a default deployment.
	bytesPerPendingSlot = 2048
	minDefaultCapacity  = 1 << 14
	maxDefaultCapacity  = 1 << 20
)

// Config is the fully-resolved set of options spec §6 names.
type Config struct {
	MaxPendingTransactions int
	BankTileCount          int
	CUsPerMicroblock       uint64
	VoteFraction           float64
	MicroblockDurationNS   int64
	BlockDurationNS        int64
	TransactionLifetimeNS  int64
	RingDepth              int
	RingMTU                int
	MaxTxnPerMicroblock    int
}

// Default returns a Config with every field at its spec-mandated
// default, except MaxPendingTransactions, which is sized off total
// system memory (completing the wiring the teacher's own go.mod
// declared but never exercised).
func Default() Config {
	return Config{
		MaxPendingTransactions: defaultCapacityFromMemory(),
		BankTileCount:          defaultBankTileCount,
		CUsPerMicroblock:       defaultCUsPerMicroblock,
		VoteFraction:           defaultVoteFraction,
		MicroblockDurationNS:   defaultMicroblockDurationNS,
		BlockDurationNS:        defaultBlockDurationNS,
		TransactionLifetimeNS:  defaultTransactionLifetimeNS,
		RingDepth:              defaultRingDepth,
		RingMTU:                defaultRingMTU,
		MaxTxnPerMicroblock:    defaultMaxTxnPerMicroblock,
	}
}

func defaultCapacityFromMemory() int {
	total := memory.TotalMemory()
	if total == 0 {
		return minDefaultCapacity
	}
	capacity := int(total / bytesPerPendingSlot / 8) // reserve the pool to at most ~1/8th of RAM
	if capacity < minDefaultCapacity {
		return minDefaultCapacity
	}
	if capacity > maxDefaultCapacity {
		return maxDefaultCapacity
	}
	return capacity
}

// MicroblockDuration and BlockDuration expose the nanosecond fields
// as time.Duration for callers that want Go's native clock types.
func (c Config) MicroblockDuration() time.Duration { return time.Duration(c.MicroblockDurationNS) }
func (c Config) BlockDuration() time.Duration      { return time.Duration(c.BlockDurationNS) }

// BindFlags registers every Config field onto fs, defaulted from
// Default(). cmd/packd calls this once on its root command's flag
// set, mirroring cli.go's cobra.Command construction.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	def := Default()
	fs.IntVar(&c.MaxPendingTransactions, "max-pending-transactions", def.MaxPendingTransactions, "capacity of the priority pool")
	fs.IntVar(&c.BankTileCount, "bank-tile-count", def.BankTileCount, "number of bank consumers (1-16)")
	fs.Uint64Var(&c.CUsPerMicroblock, "cus-per-microblock", def.CUsPerMicroblock, "per-microblock compute budget")
	fs.Float64Var(&c.VoteFraction, "vote-fraction", def.VoteFraction, "target vote share within a microblock")
	fs.Int64Var(&c.MicroblockDurationNS, "microblock-duration-ns", def.MicroblockDurationNS, "minimum inter-microblock spacing per bank, in nanoseconds")
	fs.Int64Var(&c.BlockDurationNS, "block-duration-ns", def.BlockDurationNS, "slot length, in nanoseconds")
	fs.Int64Var(&c.TransactionLifetimeNS, "transaction-lifetime-ns", def.TransactionLifetimeNS, "maximum age of a pooled transaction before it is rejected or expired, in nanoseconds")
	fs.IntVar(&c.RingDepth, "ring-depth", def.RingDepth, "fragment ring depth per input")
	fs.IntVar(&c.RingMTU, "ring-mtu", def.RingMTU, "maximum fragment payload size")
	fs.IntVar(&c.MaxTxnPerMicroblock, "max-txn-per-microblock", def.MaxTxnPerMicroblock, "upper bound on transactions per microblock")
}

// Validate enforces the bounds spec §6 and §3 imply.
func (c Config) Validate() error {
	if c.BankTileCount < 1 || c.BankTileCount > 16 {
		return errBankTileCount
	}
	if c.MaxPendingTransactions <= 0 {
		return errMaxPending
	}
	if c.VoteFraction < 0 || c.VoteFraction > 1 {
		return errVoteFraction
	}
	return nil
}
