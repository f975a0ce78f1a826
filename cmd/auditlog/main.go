// Command auditlog runs the network's audit log: it subscribes to
// every subject under bus.Root and appends each message it observes to
// a monthly rotating log file. Supplements
// original_source/backend/message-logging/src/main.rs, a third
// bus-attached process dropped from spec.md's distillation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/ipfs/go-log"
	"github.com/spf13/cobra"

	"github.com/justinrush/gridlock-mpc-engine/auditlog"
	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/config"
)

var logger = log.Logger("cmd/auditlog")

var (
	logDir   string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "auditlog",
		Short: "Record every message on the gridlock-mpc-engine bus to disk",
		RunE:  runAuditLog,
	}
	root.Flags().StringVar(&logDir, "log-dir", "", "directory for monthly message log files (default: $AUDIT_LOG_DIR or ./auditlog)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (default: $LOG_LEVEL or info)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "auditlog: %v\n", err)
		os.Exit(1)
	}
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if logDir != "" {
		cfg.AuditLogDir = logDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := log.SetLogLevel("*", cfg.LogLevel); err != nil {
		logger.Warnf("invalid log level %q: %v", cfg.LogLevel, err)
	}

	al, err := auditlog.NewLogger(cfg.AuditLogDir, time.Now())
	if err != nil {
		return fmt.Errorf("auditlog: open logger: %w", err)
	}
	defer al.Close()

	conn := bus.NewInProc()
	sub, err := conn.Subscribe(bus.Root+".>", func(_ context.Context, msg bus.Message) {
		if err := al.LogMessage(msg.Subject, msg.Payload, time.Now()); err != nil {
			logger.Errorf("write entry for %s: %v", msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("auditlog: subscribe to all messages: %w", err)
	}
	defer sub.Unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("auditlog ready, writing to %s", al.Path())
	<-ctx.Done()
	logger.Infof("auditlog shutting down")
	return nil
}
