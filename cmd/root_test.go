package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/regressor"
	"github.com/sells-group/effort-cli/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"process", "train", "predict", "evaluate", "models", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "effort-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestModelsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range modelsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "activate", "delete", "stats"} {
		assert.True(t, names[name], "expected models subcommand %q not found", name)
	}
}

func TestCommandFlags(t *testing.T) {
	for _, tc := range []struct {
		cmd  string
		flag string
		def  string
	}{
		{"process", "file", ""},
		{"process", "no-model", "false"},
		{"train", "activate", "true"},
		{"train", "backend", ""},
		{"evaluate", "folds", "0"},
		{"predict", "artifact", ""},
		{"serve", "port", "0"},
	} {
		c, _, err := rootCmd.Find([]string{tc.cmd})
		require.NoError(t, err)
		f := c.Flags().Lookup(tc.flag)
		require.NotNil(t, f, "%s --%s", tc.cmd, tc.flag)
		assert.Equal(t, tc.def, f.DefValue, "%s --%s", tc.cmd, tc.flag)
	}
}

func TestWritePredictions(t *testing.T) {
	ds := &model.Dataset{Records: []model.Record{
		{Row: 0, Effort: model.Float(5)},
		{Row: 1},
	}}
	var buf bytes.Buffer
	require.NoError(t, writePredictions(&buf, ds, []float64{4.5, 7.25}))
	assert.Equal(t, "row,effortExpense,predicted\n0,5,4.5000\n1,,7.2500\n", buf.String())
}

func TestFormatModelsList(t *testing.T) {
	var buf bytes.Buffer
	formatModelsList(&buf, []store.ModelInfo{
		{ID: "m1", Name: "first", Backend: regressor.KindLinear, Active: true, TrainedAt: time.Now()},
		{ID: "m2", Name: "second", Backend: regressor.KindSymmetric, TrainedAt: time.Now()},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "BACKEND")
	assert.True(t, strings.HasPrefix(lines[1], "*"))
	assert.Contains(t, lines[2], "symmetric")
}

func TestFormatStats(t *testing.T) {
	var buf bytes.Buffer
	formatStats(&buf, &store.Stats{Total: 2, ByBackend: map[string]int{"linear": 2}})
	assert.Contains(t, buf.String(), "Models: 2")
	assert.Contains(t, buf.String(), "Active: (none)")
	assert.Contains(t, buf.String(), "linear: 2")
}

func TestProcessCommand_FallbackOnly(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("effortExpense,msg_JobTitle\n20,A\n,A\n35,B\n18,B\n"), 0o600))
	t.Setenv("EFFORT_LOG_LEVEL", "error")

	rootCmd.SetArgs([]string{"process", "--file", in, "--no-model", "--out", out})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	ds, err := dataset.Load(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, 4, ds.Len())
	assert.Equal(t, "imputed_missing", ds.Records[1].Extra[dataset.ColStatus])
	assert.Equal(t, "30", ds.Records[2].Extra[dataset.ColFinal])
	assert.Equal(t, "fallback_rule_1", ds.Records[2].Extra[dataset.ColSource])
}

func TestProcessCommand_NoRegistryLeavesDatabaseUncreated(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	registry := filepath.Join(dir, "effort.db")
	require.NoError(t, os.WriteFile(in, []byte("effortExpense,msg_JobTitle\n12,A\n,A\n"), 0o600))
	t.Setenv("EFFORT_LOG_LEVEL", "error")
	t.Setenv("EFFORT_STORE_DRIVER", "sqlite")
	t.Setenv("EFFORT_STORE_DATABASE_URL", registry)

	rootCmd.SetArgs([]string{"process", "--file", in, "--no-model=false", "--out", out})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	_, err := os.Stat(registry)
	assert.True(t, os.IsNotExist(err))

	ds, err := dataset.Load(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, "12", ds.Records[1].Extra[dataset.ColFinal])
}
