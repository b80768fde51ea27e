package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lifespan/core/model"
	infrastore "github.com/kilianp07/lifespan/infra/store"
)

// scenario writes a sqlite scenario and a config pointing at it.
func scenario(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "scenario.db")
	st, err := infrastore.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	years := []int{2020, 2025, 2030, 2035, 2040}
	dur := map[int]int{}
	for _, y := range years {
		dur[y] = 5
	}
	require.NoError(t, st.SetHorizon(ctx, years, dur))
	require.NoError(t, st.DefineParameter(ctx, model.Schema{Name: "technical_lifetime", Kind: model.OneAxis}))
	require.NoError(t, st.DefineParameter(ctx, model.Schema{Name: "capacity_factor", Kind: model.TwoAxis}))
	var lt, cf []model.Row
	for _, v := range []int{2020, 2025, 2030} {
		lt = append(lt, model.Row{Node: "n1", Technology: "coal", Vintage: v, Value: 10, Unit: "y"})
		for i, a := range []int{v, v + 5, v + 10} {
			cf = append(cf, model.Row{Node: "n1", Technology: "coal", Vintage: v, Activity: a, Value: 1 - 0.1*float64(i), Unit: "-"})
		}
	}
	require.NoError(t, st.Seed(ctx, "technical_lifetime", lt))
	require.NoError(t, st.Seed(ctx, "capacity_factor", cf))
	require.NoError(t, st.Close())

	cfgPath = filepath.Join(dir, "config.yaml")
	data := "store:\n  type: sqlite\n  conf:\n    path: " + dbPath + "\nrespace:\n  parameters: [capacity_factor]\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTableCommand(t *testing.T) {
	cfg, _ := scenario(t)
	out, err := execute(t, "-c", cfg, "table", "technical_lifetime", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "node,technology,year_vtg,value,unit", lines[0])
	assert.Equal(t, "n1,coal,2020,10,y", lines[1])
}

func TestRespaceCommand(t *testing.T) {
	cfg, db := scenario(t)
	exp := filepath.Join(t.TempDir(), "changes.csv")
	out, err := execute(t, "-c", cfg, "respace", "-t", "coal", "--lifetime", "20",
		"--from", "2020", "--to", "2020", "--preserve", "--export", exp)
	require.NoError(t, err)
	assert.Contains(t, out, "commit")
	assert.Contains(t, out, "capacity_factor")

	data, err := os.ReadFile(exp)
	require.NoError(t, err)
	assert.Contains(t, string(data), "capacity_factor,add,n1,coal,,2020,2035")

	st, err := infrastore.NewSQLiteStore(db)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	commits, err := st.Commits(context.Background())
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}
