package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/evaluation"
	"github.com/sells-group/effort-cli/internal/regressor"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an effort model and register it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		name, _ := cmd.Flags().GetString("name")
		artifact, _ := cmd.Flags().GetString("artifact")
		noSave, _ := cmd.Flags().GetBool("no-save")
		activate, _ := cmd.Flags().GetBool("activate")
		asJSON, _ := cmd.Flags().GetBool("json")

		if cmd.Flags().Changed("backend") {
			cfg.Model.Backend, _ = cmd.Flags().GetString("backend")
		}
		if cmd.Flags().Changed("tune") {
			cfg.Model.TuneHyperparameters, _ = cmd.Flags().GetBool("tune")
		}
		if cmd.Flags().Changed("split") {
			cfg.Model.Split, _ = cmd.Flags().GetString("split")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ds, err := dataset.Load(ctx, file)
		if err != nil {
			return err
		}
		a, err := newAdapter()
		if err != nil {
			return err
		}
		tm, _, err := a.Train(ctx, ds, name)
		if err != nil {
			return err
		}

		if artifact != "" {
			if err := regressor.WriteArtifact(artifact, tm); err != nil {
				return err
			}
		}
		if !noSave {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.SaveModel(ctx, tm, activate); err != nil {
				return err
			}
		}
		zap.L().Info("train: complete", zap.String("model_id", tm.ID), zap.String("name", tm.Name))

		report := evaluation.NewReport(tm, ds, nil)
		if asJSON {
			return writeJSON(os.Stdout, report)
		}
		fmt.Print(evaluation.FormatReport(report))
		return nil
	},
}

func init() {
	trainCmd.Flags().String("file", "", "training .csv or .xlsx file (required)")
	trainCmd.Flags().String("name", "", "model name (default generated)")
	trainCmd.Flags().String("backend", "", "symmetric, depthwise, lossguide or linear")
	trainCmd.Flags().Bool("tune", false, "grid-search hyperparameters with cross-validation")
	trainCmd.Flags().String("split", "", "train/test split: random or temporal")
	trainCmd.Flags().String("artifact", "", "also write the model artifact to this path")
	trainCmd.Flags().Bool("no-save", false, "do not register the model")
	trainCmd.Flags().Bool("activate", true, "make the new model the active one")
	trainCmd.Flags().Bool("json", false, "print the report as JSON")
	_ = trainCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(trainCmd)
}
