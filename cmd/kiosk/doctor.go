package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/boothflow/internal/config"
	"github.com/imrishuroy/boothflow/internal/logger"
)

// errChecksFailed makes doctor exit non-zero without a second message.
var errChecksFailed = errors.New("one or more checks failed")

func doctorCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, the capture application and the back office",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if !runDoctor(ctx, cfg, cmd.OutOrStdout()) {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout for network checks")
	return cmd
}

func report(w io.Writer, ok bool, name, detail string) {
	mark := "ok  "
	if !ok {
		mark = "FAIL"
	}
	fmt.Fprintf(w, "[%s] %-22s %s\n", mark, name, detail)
}

// runDoctor prints one line per check and reports whether all passed.
func runDoctor(ctx context.Context, cfg *config.Config, w io.Writer) bool {
	log := logger.Discard()
	healthy := true
	check := func(ok bool, name, detail string) {
		report(w, ok, name, detail)
		healthy = healthy && ok
	}

	check(cfg.Price().IsPositive(), "service price", cfg.Price().String())
	check(cfg.Payment.ServerKey != "", "payment server key", present(cfg.Payment.ServerKey))
	fmt.Fprintf(w, "       %-22s %s\n", "payment gateway", cfg.GatewayBaseURL())

	if err := cfg.CheckCapture(); err != nil {
		check(false, "capture application", err.Error())
	} else {
		check(true, "capture application", cfg.Capture.Path)
	}
	device := newCapture(cfg, nil, log)
	running := "not running"
	if device.IsRunning(ctx) {
		running = "running"
	}
	fmt.Fprintf(w, "       %-22s %s\n", "capture process", running)

	if cfg.Backoffice.URL == "" {
		check(false, "back office", "url not set")
	} else if info, err := newBackoffice(cfg, log).GetMachineInfo(ctx, cfg.MachineID); err != nil {
		check(false, "back office", err.Error())
	} else {
		check(true, "back office", fmt.Sprintf("machine %q", info.Name))
	}

	if cfg.AWS.NotificationQueueURL == "" {
		fmt.Fprintf(w, "       %-22s %s\n", "notification relay", "disabled (direct webhook only)")
	} else {
		fmt.Fprintf(w, "       %-22s %s\n", "notification relay", cfg.AWS.NotificationQueueURL)
	}
	return healthy
}

func present(s string) string {
	if s == "" {
		return "missing"
	}
	return "set"
}
