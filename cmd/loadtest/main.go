// Command loadtest drives a running lifeboat service with generated
// passengers and verifies every response.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/lifeboat/internal/loadtest"
)

// Default configuration constants.
const (
	defaultPassengers  = 2000
	defaultBatchSize   = 100
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cfg := &loadtest.Config{}
	var logFile string
	var testTimeout time.Duration

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Load test the survival prediction API",
		SilenceUsage: true,
		Example: `  # Test with default settings
  loadtest

  # More passengers, larger batches, another host
  loadtest --passengers 50000 --batch-size 500 --url http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			closeLog, err := loadtest.SetupLogging(logFile, cfg.Verbose)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, testTimeout)
			defer cancel()

			_, err = loadtest.Run(ctx, cfg)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:8000", "base URL of the service")
	f.IntVar(&cfg.Passengers, "passengers", defaultPassengers, "number of passengers to generate")
	f.IntVar(&cfg.BatchSize, "batch-size", defaultBatchSize, "passengers per batch request, 0 skips batches")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&testTimeout, "deadline", defaultTestTimeout, "overall test deadline")
	f.StringVar(&cfg.OutputFile, "output", "", "file for the generated passengers")
	f.StringVar(&logFile, "log", "", "also write logs to this file")
	f.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	return cmd
}
