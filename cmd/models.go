package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/effort-cli/internal/store"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model registry",
}

// -- models list --

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		models, err := st.ListModels(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "models list")
		}
		if len(models) == 0 {
			fmt.Fprintln(os.Stderr, "No models found.")
			return nil
		}
		formatModelsList(os.Stdout, models)
		return nil
	},
}

func formatModelsList(w io.Writer, models []store.ModelInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVE\tID\tNAME\tBACKEND\tTEST RMSE\tTEST R²\tTRAINED")
	for _, m := range models {
		active := ""
		if m.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%.4f\t%s\n",
			active, m.ID, m.Name, m.Backend,
			m.Metrics.Test.RMSE, m.Metrics.Test.R2,
			m.TrainedAt.Local().Format(time.DateTime),
		)
	}
	tw.Flush() //nolint:errcheck
}

// -- models activate --

var modelsActivateCmd = &cobra.Command{
	Use:   "activate <model-id>",
	Short: "Make a model the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ActivateModel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Activated %s\n", args[0])
		return nil
	},
}

// -- models delete --

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <model-id>",
	Short: "Remove a model from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteModel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %s\n", args[0])
		return nil
	},
}

// -- models stats --

var modelsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

func formatStats(w io.Writer, s *store.Stats) {
	fmt.Fprintf(w, "Models: %d\n", s.Total)
	active := s.ActiveID
	if active == "" {
		active = "(none)"
	}
	fmt.Fprintf(w, "Active: %s\n", active)
	if s.LastTrainedAt != nil {
		fmt.Fprintf(w, "Last trained: %s\n", s.LastTrainedAt.Local().Format(time.DateTime))
	}
	for backend, n := range s.ByBackend {
		fmt.Fprintf(w, "  %s: %d\n", backend, n)
	}
}

func init() {
	modelsListCmd.Flags().Int("limit", 20, "maximum models to list")
	modelsCmd.AddCommand(modelsListCmd, modelsActivateCmd, modelsDeleteCmd, modelsStatsCmd)
	rootCmd.AddCommand(modelsCmd)
}
