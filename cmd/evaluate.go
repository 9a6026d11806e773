package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/evaluation"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a trained model against an upload",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		folds, _ := cmd.Flags().GetInt("folds")
		asJSON, _ := cmd.Flags().GetBool("json")
		src := modelSource{}
		src.id, _ = cmd.Flags().GetString("model-id")
		src.artifact, _ = cmd.Flags().GetString("artifact")
		if !cmd.Flags().Changed("folds") {
			folds = cfg.Model.CVFolds
		}

		ds, err := dataset.Load(ctx, file)
		if err != nil {
			return err
		}
		tm, err := src.load(ctx, true)
		if err != nil {
			return err
		}
		a, err := newAdapter()
		if err != nil {
			return err
		}
		report, err := evaluation.Evaluate(ctx, a, tm, ds, folds)
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(os.Stdout, report)
		}
		fmt.Print(evaluation.FormatReport(report))
		return nil
	},
}

func init() {
	evaluateCmd.Flags().String("file", "", "labelled .csv or .xlsx file (required)")
	evaluateCmd.Flags().Int("folds", 0, "cross-validation folds, 0 or 1 to skip (default model.cv_folds)")
	evaluateCmd.Flags().String("model-id", "", "registry model id (default active model)")
	evaluateCmd.Flags().String("artifact", "", "model artifact file")
	evaluateCmd.Flags().Bool("json", false, "print the report as JSON")
	_ = evaluateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(evaluateCmd)
}
