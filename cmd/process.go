package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/evaluation"
	"github.com/sells-group/effort-cli/internal/notify"
	"github.com/sells-group/effort-cli/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Impute missing and cap over-limit effort values in an upload",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		sendNotify, _ := cmd.Flags().GetBool("notify")
		noModel, _ := cmd.Flags().GetBool("no-model")
		asJSON, _ := cmd.Flags().GetBool("json")
		src := modelSource{}
		src.id, _ = cmd.Flags().GetString("model-id")
		src.artifact, _ = cmd.Flags().GetString("artifact")

		ds, err := dataset.Load(ctx, file)
		if err != nil {
			return err
		}

		var opts []pipeline.Option
		if !noModel {
			explicit := src.id != "" || src.artifact != ""
			tm, err := src.load(ctx, explicit)
			if err != nil {
				if explicit {
					return err
				}
				zap.L().Warn("model registry unavailable, using fallback rules only", zap.Error(err))
			}
			if tm != nil {
				a, err := newAdapter()
				if err != nil {
					return err
				}
				opts = append(opts, pipeline.WithModel(a, tm))
			}
		}

		orch := pipeline.New(cfg, opts...)
		outcome, err := orch.Process(ctx, ds)
		if err != nil {
			return eris.Wrap(err, "process")
		}
		summary := evaluation.Summarize(ds, outcome, orch.Policy())

		if out != "" {
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
			}
			if err := dataset.Export(out, format, ds, outcome.Results); err != nil {
				return err
			}
		}

		if sendNotify {
			senders := notify.Senders(cfg.Notify)
			if len(senders) == 0 {
				return eris.New("process: --notify needs notify.n8n_webhook_url or notify.teams_webhook_url")
			}
			notes := notify.BuildNotifications(ds, outcome.Results)
			if _, err := notify.Dispatch(ctx, senders, summary, notes); err != nil {
				return err
			}
		}

		if asJSON {
			return writeJSON(os.Stdout, summary)
		}
		fmt.Print(evaluation.FormatSummary(summary))
		return nil
	},
}

func init() {
	processCmd.Flags().String("file", "", "input .csv or .xlsx file (required)")
	processCmd.Flags().String("out", "", "write the annotated dataset to this path")
	processCmd.Flags().String("format", "", "output format: csv or xlsx (default from --out extension)")
	processCmd.Flags().Bool("notify", false, "send alerts to the configured webhooks")
	processCmd.Flags().Bool("no-model", false, "use the fallback rules only")
	processCmd.Flags().Bool("json", false, "print the summary as JSON")
	processCmd.Flags().String("model-id", "", "registry model to use instead of the active one")
	processCmd.Flags().String("artifact", "", "model artifact file to use instead of the registry")
	_ = processCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(processCmd)
}
