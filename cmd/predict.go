package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/model"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Print raw model estimates for every row of an upload",
	Long:  "Applies a trained model to every row. Fails when the upload's feature schema differs from the model's.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		src := modelSource{}
		src.id, _ = cmd.Flags().GetString("model-id")
		src.artifact, _ = cmd.Flags().GetString("artifact")

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
		preds, err := a.Predict(ctx, tm, ds)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrapf(err, "predict: create %s", out)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		return writePredictions(w, ds, preds)
	},
}

func writePredictions(w io.Writer, ds *model.Dataset, preds []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", model.ColEffort, "predicted"}); err != nil {
		return eris.Wrap(err, "predict: write header")
	}
	for i, r := range ds.Records {
		effort := ""
		if r.Effort != nil {
			effort = strconv.FormatFloat(*r.Effort, 'f', -1, 64)
		}
		rec := []string{strconv.Itoa(r.Row), effort, strconv.FormatFloat(preds[i], 'f', 4, 64)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "predict: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "predict: flush")
}

func init() {
	predictCmd.Flags().String("file", "", "input .csv or .xlsx file (required)")
	predictCmd.Flags().String("out", "", "write predictions as CSV to this path (default stdout)")
	predictCmd.Flags().String("model-id", "", "registry model id (default active model)")
	predictCmd.Flags().String("artifact", "", "model artifact file")
	_ = predictCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(predictCmd)
}
