package app

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lifespan/config"
	"github.com/kilianp07/lifespan/core/lifetime"
	"github.com/kilianp07/lifespan/core/logger"
	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/core/model"
	"github.com/kilianp07/lifespan/core/respace"
	corestore "github.com/kilianp07/lifespan/core/store"
	"github.com/kilianp07/lifespan/core/validate"
	"github.com/kilianp07/lifespan/infra/audit"
	infrastore "github.com/kilianp07/lifespan/infra/store"
)

type recordingSink struct {
	mu          sync.Mutex
	respace     []coremetrics.RespaceEvent
	validations []coremetrics.ValidationEvent
	runs        []coremetrics.RunEvent
}

func (r *recordingSink) RecordRespace(ev []coremetrics.RespaceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.respace = append(r.respace, ev...)
	return nil
}

func (r *recordingSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, ev)
	return nil
}

func (r *recordingSink) RecordRun(ev coremetrics.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, ev)
	return nil
}

var (
	lifetimeSchema = model.Schema{Name: "technical_lifetime", Kind: model.OneAxis}
	capSchema      = model.Schema{Name: "capacity_factor", Kind: model.TwoAxis}
	costSchema     = model.Schema{Name: "var_cost", Kind: model.TwoAxis}
	invSchema      = model.Schema{Name: "inv_cost", Kind: model.OneAxis}
)

func grid(node string, vintage int, vals map[int]float64) []model.Row {
	var rows []model.Row
	for a, v := range vals {
		rows = append(rows, model.Row{Node: node, Technology: "coal", Vintage: vintage, Activity: a, Value: v, Unit: "-"})
	}
	return rows
}

// seed builds a five-yearly 2020-2040 horizon with coal at n1 whose three
// vintages live ten years.
func seed(t *testing.T) *infrastore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	years := []int{2020, 2025, 2030, 2035, 2040}
	dur := map[int]int{}
	for _, y := range years {
		dur[y] = 5
	}
	require.NoError(t, st.SetHorizon(ctx, years, dur))
	for _, sc := range []model.Schema{lifetimeSchema, capSchema, costSchema, invSchema} {
		require.NoError(t, st.DefineParameter(ctx, sc))
	}
	require.NoError(t, st.Seed(ctx, "technical_lifetime", []model.Row{
		{Node: "n1", Technology: "coal", Vintage: 2020, Value: 10, Unit: "y"},
		{Node: "n1", Technology: "coal", Vintage: 2025, Value: 10, Unit: "y"},
		{Node: "n1", Technology: "coal", Vintage: 2030, Value: 10, Unit: "y"},
	}))
	var rows []model.Row
	rows = append(rows, grid("n1", 2020, map[int]float64{2020: 1.0, 2025: 0.9, 2030: 0.8})...)
	rows = append(rows, grid("n1", 2025, map[int]float64{2025: 0.9, 2030: 0.8, 2035: 0.7})...)
	rows = append(rows, grid("n1", 2030, map[int]float64{2030: 0.8, 2035: 0.7, 2040: 0.6})...)
	require.NoError(t, st.Seed(ctx, "capacity_factor", rows))
	require.NoError(t, st.Seed(ctx, "inv_cost", []model.Row{
		{Node: "n1", Technology: "coal", Vintage: 2020, Value: 100, Unit: "$"},
		{Node: "n1", Technology: "coal", Vintage: 2025, Value: 90, Unit: "$"},
		{Node: "n1", Technology: "coal", Vintage: 2030, Value: 80, Unit: "$"},
	}))
	return st
}

func newService(st corestore.Store, sink coremetrics.Sink, aud audit.Store, params ...string) *Service {
	return NewWithOptions(Options{
		Store:   st,
		Sink:    sink,
		Audit:   aud,
		Respace: config.RespaceConfig{Parameters: params, Workers: 2},
		Logger:  logger.NopLogger{},
	})
}

func value(t *testing.T, st corestore.Store, name string, vintage, activity int) (float64, bool) {
	t.Helper()
	p, err := st.ParameterTable(context.Background(), name, corestore.Filter{})
	require.NoError(t, err)
	g := p.(*model.GridTable)
	s := g.Get(model.NewDims("n1", "coal"), vintage)
	if s == nil {
		return 0, false
	}
	return s.Get(activity)
}

func TestRun_ExtendsLifetime(t *testing.T) {
	st := seed(t)
	sink := &recordingSink{}
	aud, err := audit.NewJSONLStore(filepath.Join(t.TempDir(), "audit.jsonl"), audit.Options{})
	require.NoError(t, err)
	svc := newService(st, sink, aud, "capacity_factor")
	defer func() { _ = svc.Close() }()

	lt := 20.0
	sum, err := svc.Run(context.Background(), Job{
		Technology: "coal",
		Lifetime:   &lt,
		Range:      lifetime.Range{From: 2020, To: 2020},
		Preserve:   true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sum.CommitID)
	assert.Equal(t, []string{"n1"}, sum.Nodes)
	assert.Empty(t, sum.Failed())

	commits := st.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "update lifetime of coal (run "+sum.RunID+")", commits[0].Message)

	v35, ok := value(t, st, "capacity_factor", 2020, 2035)
	require.True(t, ok)
	assert.InDelta(t, 0.7, v35, 1e-9)
	v40, ok := value(t, st, "capacity_factor", 2020, 2040)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v40, 1e-9)

	p, err := st.ParameterTable(context.Background(), "technical_lifetime", corestore.Filter{})
	require.NoError(t, err)
	got, _ := p.(*model.VintageTable).Get(model.NewDims("n1", "coal")).Get(2020)
	assert.Equal(t, 20.0, got)

	cap := sum.Results["capacity_factor"]
	require.NotNil(t, cap)
	assert.Len(t, cap.Added, 2)
	assert.Empty(t, cap.Removed)
	require.Len(t, cap.Reports, 1)
	assert.True(t, cap.Reports[0].Clean())

	require.Len(t, sink.respace, 1)
	assert.Equal(t, coremetrics.OutcomeApplied, sink.respace[0].Outcome)
	assert.Equal(t, 2, sink.respace[0].Added)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, sum.CommitID, sink.runs[0].CommitID)
	require.Len(t, sink.validations, 1)

	recs, err := aud.Query(context.Background(), audit.Query{Technology: "coal"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sum.RunID, recs[0].RunID)
	assert.Equal(t, "applied", recs[0].Results["capacity_factor"].Outcome)
	assert.Equal(t, "applied", recs[0].Results["technical_lifetime"].Outcome)
}

func TestRun_Idempotent(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor", "inv_cost")
	lt := 20.0
	job := Job{Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, Preserve: true}
	_, err := svc.Run(context.Background(), job)
	require.NoError(t, err)

	sum, err := svc.Run(context.Background(), job)
	require.NoError(t, err)
	for _, name := range sum.Names() {
		assert.False(t, sum.Results[name].Changed(), name)
	}
	assert.Empty(t, sum.CommitID)
	assert.Len(t, st.Commits(), 1)
}

func TestRun_DryRun(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor")
	lt := 20.0
	sum, err := svc.Run(context.Background(), Job{
		Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, DryRun: true, Preserve: true,
	})
	require.NoError(t, err)
	assert.Empty(t, sum.CommitID)
	assert.True(t, sum.Results["capacity_factor"].Changed())
	assert.Empty(t, st.Commits())
	_, ok := value(t, st, "capacity_factor", 2020, 2035)
	assert.False(t, ok)
}

func TestRun_PublishesProgress(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor", "inv_cost")
	ch := svc.Progress()
	lt := 20.0
	_, err := svc.Run(context.Background(), Job{
		Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, DryRun: true, Preserve: true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	params := map[string]coremetrics.Outcome{}
	for ev := range ch {
		assert.Equal(t, "n1", ev.Node)
		params[ev.Param] = ev.Outcome
	}
	assert.Equal(t, coremetrics.OutcomeApplied, params["capacity_factor"])
	assert.Contains(t, params, "inv_cost")
}

func TestRun_SkipsNodesWithoutLifetime(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor")
	lt := 20.0
	sum, err := svc.Run(context.Background(), Job{
		Technology: "coal", Nodes: []string{"n1", "n2"}, Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, Preserve: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, sum.Nodes)
	require.Contains(t, sum.Skipped, "n2")
	assert.True(t, errors.Is(sum.Skipped["n2"], lifetime.ErrMissingBaseData))
}

func TestRun_DropsRowsOutsideWindow(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor")
	lt := 20.0
	sum, err := svc.Run(context.Background(), Job{
		Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020},
	})
	require.NoError(t, err)
	cap := sum.Results["capacity_factor"]
	assert.Len(t, cap.Removed, 6)
	_, ok := value(t, st, "capacity_factor", 2025, 2025)
	assert.False(t, ok)
	_, ok = value(t, st, "capacity_factor", 2020, 2040)
	assert.True(t, ok)
}

func TestRun_MissingBaseData(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor")
	_, err := svc.Run(context.Background(), Job{Technology: "coal", Nodes: []string{"n9"}})
	assert.True(t, errors.Is(err, lifetime.ErrMissingBaseData), "got %v", err)

	_, err = svc.Run(context.Background(), Job{Technology: "gas"})
	assert.True(t, errors.Is(err, lifetime.ErrMissingBaseData), "got %v", err)
}

func TestRun_DropsFailedTable(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, "var_cost",
		grid("n1", 2020, map[int]float64{2020: 1, 2025: math.NaN(), 2030: math.NaN()})))
	sink := &recordingSink{}
	svc := newService(st, sink, nil, "capacity_factor", "var_cost")
	lt := 20.0
	sum, err := svc.Run(ctx, Job{Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, Preserve: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"var_cost"}, sum.Failed())
	assert.True(t, errors.Is(sum.Results["var_cost"].Errors["n1"], respace.ErrNonConvergence))
	assert.NotEmpty(t, sum.CommitID)

	_, ok := value(t, st, "capacity_factor", 2020, 2040)
	assert.True(t, ok)
	_, ok = value(t, st, "var_cost", 2020, 2035)
	assert.False(t, ok)

	var failed int
	for _, ev := range sink.respace {
		if ev.Param == "var_cost" && ev.Outcome == coremetrics.OutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRun_AllTablesFail(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, "var_cost",
		grid("n1", 2020, map[int]float64{2020: 1, 2025: math.NaN(), 2030: math.NaN()})))
	svc := newService(st, nil, nil, "var_cost")
	lt := 20.0
	sum, err := svc.Run(ctx, Job{Technology: "coal", Lifetime: &lt, Range: lifetime.Range{From: 2020, To: 2020}, Preserve: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, respace.ErrNonConvergence))
	require.NotNil(t, sum)
	assert.Empty(t, sum.CommitID)
	assert.Empty(t, st.Commits())
}

func TestRunHorizon(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil, "capacity_factor", "inv_cost")
	sums, err := svc.RunHorizon(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	sum := sums[0]
	assert.Equal(t, "coal", sum.Technology)

	// 2035 and 2040 join the lifetime table by copying the nearest vintage.
	p, err := st.ParameterTable(context.Background(), "technical_lifetime", corestore.Filter{})
	require.NoError(t, err)
	s := p.(*model.VintageTable).Get(model.NewDims("n1", "coal"))
	assert.Equal(t, []int{2020, 2025, 2030, 2035, 2040}, s.Years())

	for _, v := range []int{2035, 2040} {
		_, ok := value(t, st, "capacity_factor", v, v)
		assert.True(t, ok, "vintage %d synthesized", v)
	}
}

func TestAudit(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, "capacity_factor",
		grid("n1", 2030, map[int]float64{2045: 0.5})))
	sink := &recordingSink{}
	svc := newService(st, sink, nil, "capacity_factor", "inv_cost")

	res, err := svc.Audit(ctx, AuditJob{Technology: "coal", Node: "n1"})
	require.NoError(t, err)
	require.Len(t, res.Reports, 2)
	var capRep *validate.Report
	for _, r := range res.Reports {
		if r.Param == "capacity_factor" {
			capRep = r
		}
	}
	require.NotNil(t, capRep)
	require.Len(t, capRep.Extra, 1)
	assert.Equal(t, 2045, capRep.Extra[0].Activity)
	assert.Empty(t, res.CommitID)
	_, ok := value(t, st, "capacity_factor", 2030, 2045)
	assert.True(t, ok, "audit without repair leaves the store untouched")
	assert.Len(t, sink.validations, 2)

	res, err = svc.Audit(ctx, AuditJob{Technology: "coal", Node: "n1", Repair: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommitID)
	_, ok = value(t, st, "capacity_factor", 2030, 2045)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(st.Commits()[0].Message, "repair grids of coal at n1"))
}

func TestAudit_FailedRepairDiscardsStagedRows(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, "capacity_factor",
		grid("n1", 2030, map[int]float64{2045: 0.5})))
	svc := newService(st, nil, nil)

	_, err := svc.Audit(ctx, AuditJob{
		Technology: "coal",
		Node:       "n1",
		Parameters: []string{"capacity_factor", "no_such_param"},
		Repair:     true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, corestore.ErrUnknownParameter))
	assert.Empty(t, st.Commits())

	require.NoError(t, st.AddRows(ctx, "inv_cost", []model.Row{
		{Node: "n1", Technology: "coal", Vintage: 2035, Value: 75, Unit: "$"},
	}))
	_, err = st.Commit(ctx, "unrelated")
	require.NoError(t, err)
	_, ok := value(t, st, "capacity_factor", 2030, 2045)
	assert.True(t, ok, "repair of a failed audit must not reach a later commit")
}

func TestAudit_SingleAxisInconsistency(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, "inv_cost", []model.Row{
		{Node: "n1", Technology: "coal", Vintage: 2040, Value: 70, Unit: "$"},
	}))
	svc := newService(st, nil, nil, "inv_cost")
	res, err := svc.Audit(ctx, AuditJob{Technology: "coal", Node: "n1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, validate.ErrGridInconsistency))
	require.Len(t, res.Reports, 1)
	require.Len(t, res.Reports[0].Extra, 1)
	assert.Equal(t, 2040, res.Reports[0].Extra[0].Vintage)
}

func TestRetirement(t *testing.T) {
	st := seed(t)
	svc := newService(st, nil, nil)
	ret, h, err := svc.Retirement(context.Background(), "coal", "n1")
	require.NoError(t, err)
	assert.Equal(t, 2040, h.Last())
	assert.Equal(t, lifetime.Retirement{Year: 2030}, ret[2020])
	assert.Equal(t, lifetime.Retirement{Year: 2040}, ret[2030])
}
