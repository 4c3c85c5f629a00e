// Command packd runs the pack core as a standalone process: it wires
// config.Config from CLI flags, starts a Prometheus metrics endpoint,
// and drives internal/pack.Core.Run until an interrupt or terminate
// signal arrives. Grounded on
// _examples/BigBossBooling-Empower1Blockchain/cmd/empower1d/main.go's
// "initialize components, start background loops, wait" shape and
// cmd/empower1d/cli/cli.go's cobra.Command construction.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/firedancer-go/pack/internal/config"
	"github.com/firedancer-go/pack/internal/pack"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg         config.Config
		metricsAddr string
		txRings     int
		idleSleep   time.Duration
	)

	root := &cobra.Command{
		Use:   "packd",
		Short: "packd packs pending transactions into leader-slot microblocks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, txRings, metricsAddr, idleSleep)
		},
	}

	config.BindFlags(root.Flags(), &cfg)
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for the Prometheus /metrics endpoint")
	root.Flags().IntVar(&txRings, "tx-rings", 1, "number of transaction input rings")
	root.Flags().DurationVar(&idleSleep, "idle-sleep", time.Millisecond, "pause taken when a tick finds no work")

	return root
}

func run(ctx context.Context, cfg config.Config, txRings int, metricsAddr string, idleSleep time.Duration) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("packd: build logger: %w", err)
	}
	defer logger.Sync()

	undo, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...interface{}) { logger.Sugar().Infof(f, a...) }))
	if err != nil {
		logger.Warn("automaxprocs: failed to set GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	// The pack core is single-threaded and cooperative (spec §5); pin
	// this goroutine to its OS thread for the lifetime of core.Run so
	// the Go runtime never migrates it across a context switch.
	runtime.LockOSThread()

	reg := prometheus.NewRegistry()
	core := pack.New(cfg, txRings, nil, logger, reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("packd starting",
		zap.Int("bank_tile_count", cfg.BankTileCount),
		zap.Int("max_pending_transactions", cfg.MaxPendingTransactions),
		zap.String("metrics_addr", metricsAddr),
	)

	runErr := core.Run(runCtx, idleSleep)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}

	return runErr
}
