package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/lifeboat/internal/config"
	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/pkg/logger"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string

	// logToStderr keeps stdout free for command output.
	logToStderr bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "lifeboat",
		Short:        "Titanic survival prediction service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (.yaml, .yml or .json); defaults to $"+config.EnvConfigPath)

	cmd.AddCommand(newServeCmd(opts), newPredictCmd(opts), newInfoCmd(opts))
	return cmd
}

// bootstrap loads configuration and initializes the global logger.
func bootstrap(ctx context.Context, opts *rootOptions) (*config.Config, logger.Logger, error) {
	cfg, err := config.LoadFrom(ctx, opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if opts.logToStderr {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		// Logger isn't available yet.
		_, _ = os.Stderr.WriteString("invalid log_format; falling back to text: " + err.Error() + "\n")
		if err := logger.Init(); err != nil {
			return nil, nil, fmt.Errorf("init logger: %w", err)
		}
	}
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, log, nil
}

func withStderrLogs(opts *rootOptions) *rootOptions {
	o := *opts
	o.logToStderr = true
	return &o
}

// loadClassifier opens the configured model artifact.
func loadClassifier(cfg *config.Config) (classifier.Classifier, error) {
	return classifier.Load(cfg.ModelPath,
		classifier.WithFormat(cfg.ModelFormat),
		classifier.WithONNX(classifier.ONNXOptions{
			LibraryPath:       cfg.OnnxLibraryPath,
			InputName:         cfg.OnnxInputName,
			LabelOutput:       cfg.OnnxLabelOutput,
			ProbabilityOutput: cfg.OnnxProbabilityOutput,
			NEstimators:       cfg.OnnxNEstimators,
			MaxDepth:          cfg.OnnxMaxDepth,
		}),
	)
}
