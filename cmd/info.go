package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/internal/domain/prediction"
)

func newInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print metadata of the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := bootstrap(cmd.Context(), withStderrLogs(opts))
			if err != nil {
				return err
			}
			clf, err := loadClassifier(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer func() { _ = classifier.Close(clf) }()

			info, err := prediction.New(clf).Info()
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), info)
		},
	}
}
