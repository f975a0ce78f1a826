// Command relay runs the Delivery Relay (spec.md §4.6): store-and-
// forward of TaggedCommand envelopes to nodes that may be offline when
// first addressed. Process shape follows
// original_source/backend/key-info/src/main.rs (message loop + update
// loop + SIGTERM, run concurrently until one exits or a signal lands).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/ipfs/go-log"
	"github.com/spf13/cobra"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/config"
	"github.com/justinrush/gridlock-mpc-engine/relay"
)

var logger = log.Logger("cmd/relay")

var (
	dbPath   string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Run the gridlock-mpc-engine delivery relay",
		RunE:  runRelay,
	}
	root.Flags().StringVar(&dbPath, "db-path", "", "bbolt file for undelivered updates (default: $RELAY_DB_PATH or ./relay/updates.db)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (default: $LOG_LEVEL or info)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if dbPath != "" {
		cfg.RelayDBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := log.SetLogLevel("*", cfg.LogLevel); err != nil {
		logger.Warnf("invalid log level %q: %v", cfg.LogLevel, err)
	}

	st, err := relay.OpenBoltStore(cfg.RelayDBPath)
	if err != nil {
		return fmt.Errorf("relay: open store: %w", err)
	}
	defer st.Close()

	conn := bus.NewInProc()
	r := relay.New(conn, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("relay ready, db=%s", cfg.RelayDBPath)
	err = r.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay: run: %w", err)
	}
	logger.Infof("relay shutting down")
	return nil
}
