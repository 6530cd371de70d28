package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/lifeboat/internal/adapters/http/api"
	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/internal/domain/prediction"
	"github.com/okian/lifeboat/pkg/logger"
)

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score a JSON file of passengers offline",
		Long: "Reads passengers in the /predict/batch request format (or a bare JSON array)\n" +
			"and writes the batch result as JSON. Use - for stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := bootstrap(ctx, withStderrLogs(opts))
			if err != nil {
				return err
			}

			in, closeIn, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeIn()

			passengers, err := api.DecodePassengers(in)
			if err != nil {
				return fmt.Errorf("read passengers: %w", err)
			}

			clf, err := loadClassifier(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer func() { _ = classifier.Close(clf) }()

			svc := prediction.New(clf, prediction.WithLogger(log.Named("predict")))
			res, err := svc.PredictBatch(ctx, passengers)
			if err != nil {
				return err
			}
			log.Debug(ctx, "scored passengers", logger.Int("count", res.TotalCount))

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return writeIndented(out, res)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "passengers JSON file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "result file, - for stdout")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
