package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/lifespan/core/curve"
	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/lifetime"
	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/core/model"
	"github.com/kilianp07/lifespan/core/respace"
	corestore "github.com/kilianp07/lifespan/core/store"
	"github.com/kilianp07/lifespan/core/validate"
	"github.com/kilianp07/lifespan/infra/audit"
	inframetrics "github.com/kilianp07/lifespan/infra/metrics"
)

// Job describes one lifetime update.
type Job struct {
	Technology string
	// Nodes restricts the update. Empty means every node with lifetime rows.
	Nodes []string
	// Lifetime overwrites the lifetime of every vintage in Range when set.
	Lifetime *float64
	// Range is the vintage range to update. The zero value is the full horizon.
	Range lifetime.Range
	// Parameters overrides the configured parameter list.
	Parameters []string
	// Preserve keeps observations outside the operating windows.
	Preserve bool
	DryRun   bool
}

// ParamResult is the replacement of one parameter table.
type ParamResult struct {
	Name string
	Kind model.Kind
	// Table holds the respaced observations of every processed pair.
	Table       model.Param
	Removed     []model.Row
	Added       []model.Row
	Diagnostics []respace.Diagnostic
	Reports     []*validate.Report
	Passes      int
	// Errors is keyed by node. Any error drops the table from the commit.
	Errors map[string]error
}

// Failed reports whether the table was dropped from the commit.
func (r *ParamResult) Failed() bool { return len(r.Errors) > 0 }

// Changed reports whether the table has rows to write.
func (r *ParamResult) Changed() bool { return len(r.Removed) > 0 || len(r.Added) > 0 }

func (r *ParamResult) outcome() coremetrics.Outcome {
	switch {
	case r.Failed():
		return coremetrics.OutcomeFailed
	case r.Changed():
		return coremetrics.OutcomeApplied
	default:
		return coremetrics.OutcomeUnchanged
	}
}

// Summary is the result of a run: the per-parameter replacement tables plus
// bookkeeping.
type Summary struct {
	RunID      string
	CommitID   string
	Technology string
	Lifetime   *float64
	DryRun     bool
	// Nodes lists the nodes that were updated.
	Nodes    []string
	Skipped  map[string]error
	Results  map[string]*ParamResult
	Duration time.Duration

	events      []coremetrics.RespaceEvent
	validations []coremetrics.ValidationEvent
}

// Names returns the result names in sorted order.
func (s *Summary) Names() []string {
	names := make([]string, 0, len(s.Results))
	for n := range s.Results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Failed returns the names of the tables dropped from the commit.
func (s *Summary) Failed() []string {
	var out []string
	for _, n := range s.Names() {
		if s.Results[n].Failed() {
			out = append(out, n)
		}
	}
	return out
}

// Run updates the lifetime of a technology and respaces every configured
// parameter accordingly. Nodes without lifetime rows are skipped. A table
// that fails to respace or validate is left out of the commit; when every
// table fails nothing is written and an error is returned.
func (s *Service) Run(ctx context.Context, job Job) (*Summary, error) {
	start := time.Now()
	if job.Technology == "" {
		return nil, fmt.Errorf("technology is required")
	}
	h, err := s.Horizon(ctx)
	if err != nil {
		return nil, err
	}
	boundary, err := lifetime.ParseBoundary(s.cfg.Boundary)
	if err != nil {
		return nil, err
	}
	nodes := job.Nodes
	if len(nodes) == 0 {
		if nodes, err = s.nodesOf(ctx, job.Technology); err != nil {
			return nil, err
		}
	}
	lt, err := s.lifetimeTable(ctx, job.Technology, nodes)
	if err != nil {
		return nil, err
	}
	window := job.Range
	if window.IsZero() {
		window = lifetime.Range{From: h.First(), To: h.Last()}
	}
	sum := &Summary{
		RunID:      uuid.NewString(),
		Technology: job.Technology,
		Lifetime:   job.Lifetime,
		DryRun:     job.DryRun,
		Skipped:    map[string]error{},
		Results:    map[string]*ParamResult{},
	}
	s.log.Infof("run %s: %s at %d nodes, vintages %d-%d", sum.RunID, job.Technology, len(nodes), window.From, window.To)

	out, err := lifetime.NewUpdater(h, boundary, s.log).Update(lt, lifetime.Request{
		Technology: job.Technology,
		Nodes:      nodes,
		Lifetime:   job.Lifetime,
		Range:      window,
	})
	if out != nil {
		for node, e := range out.Skipped {
			sum.Skipped[node] = e
		}
	}
	if err != nil {
		s.finish(ctx, sum, start)
		return sum, err
	}
	for node := range out.Nodes {
		sum.Nodes = append(sum.Nodes, node)
	}
	sort.Strings(sum.Nodes)

	ltName := s.cfg.LifetimeParameter
	ltRes := &ParamResult{Name: ltName, Kind: model.OneAxis, Table: out.Table, Errors: map[string]error{}}
	ltRes.Removed, ltRes.Added = model.Diff(lt, out.Table, model.DefaultTolerance)
	sum.Results[ltName] = ltRes

	params := job.Parameters
	if len(params) == 0 {
		params = s.cfg.Parameters
	}
	tables := make(map[string]model.Param, len(params))
	for _, name := range params {
		p, err := s.store.ParameterTable(ctx, name, corestore.Filter{Nodes: sum.Nodes, Technologies: []string{job.Technology}})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		tables[name] = p
		sum.Results[name] = &ParamResult{Name: name, Kind: p.Schema().Kind, Errors: map[string]error{}}
	}

	if err := s.respaceNodes(ctx, h, sum, out, window, params, tables, job.Preserve); err != nil {
		return nil, err
	}
	if len(params) > 0 && len(sum.Failed()) == len(params) {
		var errs []error
		for _, name := range params {
			for node, e := range sum.Results[name].Errors {
				errs = append(errs, fmt.Errorf("%s at %s: %w", name, node, e))
			}
		}
		s.finish(ctx, sum, start)
		return sum, fmt.Errorf("every parameter failed, nothing written: %w", errors.Join(errs...))
	}
	for _, name := range sum.Failed() {
		s.log.Errorf("run %s: %s dropped from commit: %d nodes failed", sum.RunID, name, len(sum.Results[name].Errors))
	}

	if !job.DryRun && s.changed(sum) {
		if err := s.write(ctx, sum); err != nil {
			if derr := s.store.Discard(ctx); derr != nil {
				s.log.Errorf("discard: %v", derr)
			}
			s.finish(ctx, sum, start)
			return sum, err
		}
		id, err := s.store.Commit(ctx, fmt.Sprintf("update lifetime of %s (run %s)", job.Technology, sum.RunID))
		if err != nil {
			s.finish(ctx, sum, start)
			return sum, fmt.Errorf("commit: %w", err)
		}
		sum.CommitID = id
		s.log.Infof("run %s: committed %s", sum.RunID, id)
	}
	s.finish(ctx, sum, start)
	return sum, nil
}

// respaceNodes processes every updated node in parallel, bounded by the
// configured worker count. Tables are read-only; results are merged under a
// lock.
func (s *Service) respaceNodes(ctx context.Context, h *horizon.Matrix, sum *Summary, out *lifetime.Outcome,
	window lifetime.Range, params []string, tables map[string]model.Param, preserve bool) error {
	if len(params) == 0 {
		return nil
	}
	cfg := respace.DefaultConfig()
	cfg.DampingFactor = s.cfg.Damping()
	cfg.Preserve = s.cfg.Preserve || preserve
	rsp := respace.New(h, cfg, s.log)
	val := validate.New(h, cfg.DampingFactor, s.log)
	oracle := func(node, tech string) ([]model.Pair, error) { return s.store.ValidPairs(ctx, node, tech) }

	var mu sync.Mutex
	pieces := map[string][]model.Param{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, node := range sum.Nodes {
		node := node
		plan := respace.PlanFor(sum.Technology, window, out.Nodes[node])
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, name := range params {
				res, rep, err := s.respacePair(rsp, val, tables[name], plan, cfg.Preserve, oracle)
				now := time.Now()
				mu.Lock()
				pr := sum.Results[name]
				ev := coremetrics.RespaceEvent{
					RunID: sum.RunID, Param: name, Kind: pr.Kind.String(),
					Node: node, Technology: sum.Technology, Time: now,
				}
				if rep != nil {
					pr.Reports = append(pr.Reports, rep)
					sum.validations = append(sum.validations, validationEvent(sum.RunID, rep, now))
				}
				if err != nil {
					pr.Errors[node] = err
					ev.Outcome = coremetrics.OutcomeFailed
				} else {
					pr.Removed = append(pr.Removed, res.Removed...)
					pr.Added = append(pr.Added, res.Added...)
					pr.Diagnostics = append(pr.Diagnostics, res.Diagnostics...)
					pr.Passes = max(pr.Passes, res.Passes)
					pieces[name] = append(pieces[name], res.Param)
					ev.Outcome = coremetrics.OutcomeUnchanged
					if res.Changed() {
						ev.Outcome = coremetrics.OutcomeApplied
					}
					ev.Added, ev.Removed, ev.Passes = len(res.Added), len(res.Removed), res.Passes
					ev.Diagnostics = countDiagnostics(res.Diagnostics)
				}
				sum.events = append(sum.events, ev)
				mu.Unlock()
				s.progress.Publish(ev)
				if err != nil {
					s.log.Errorf("%s %s/%s: %v", name, node, sum.Technology, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range params {
		pr := sum.Results[name]
		sortRows(pr.Removed)
		sortRows(pr.Added)
		var rows []model.Row
		for _, p := range pieces[name] {
			rows = append(rows, p.Rows()...)
		}
		table, err := model.FromRows(tables[name].Schema(), rows)
		if err != nil {
			return fmt.Errorf("merge %s: %w", name, err)
		}
		pr.Table = table
		if pr.Failed() {
			for i := range sum.events {
				if sum.events[i].Param == name {
					sum.events[i].Outcome = coremetrics.OutcomeFailed
				}
			}
		}
	}
	for node := range sum.Skipped {
		for _, name := range params {
			sum.events = append(sum.events, coremetrics.RespaceEvent{
				RunID: sum.RunID, Param: name, Kind: sum.Results[name].Kind.String(),
				Node: node, Technology: sum.Technology, Outcome: coremetrics.OutcomeSkipped, Time: time.Now(),
			})
		}
	}
	return nil
}

// respacePair respaces one table for one pair and, for two-axis tables,
// repairs the result against the retirement windows. Points left missing or
// extra after repair are a grid inconsistency. Without preservation only the
// vintages of the window are checked, since the others were dropped.
func (s *Service) respacePair(rsp *respace.Respacer, val *validate.Validator, p model.Param, plan respace.Plan,
	preserve bool, oracle validate.Oracle) (*respace.Result, *validate.Report, error) {
	res, err := rsp.Respace(p, plan)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := res.Param.(*model.GridTable); !ok || !s.cfg.ValidateGrids() {
		return res, nil, nil
	}
	ret := plan.Retirement
	if !preserve {
		ret = lifetime.RetirementMap{}
		for v, r := range plan.Retirement {
			if plan.Window.Contains(v) {
				ret[v] = r
			}
		}
	}
	rep, err := val.Validate(res.Param, plan.Node, plan.Technology, ret, oracle)
	if err != nil {
		return nil, rep, err
	}
	if !rep.Clean() {
		return nil, rep, fmt.Errorf("%w: %s %s/%s has %d missing and %d extra points after repair",
			validate.ErrGridInconsistency, rep.Param, plan.Node, plan.Technology,
			len(rep.RemainingMissing), len(rep.RemainingExtra))
	}
	if len(rep.Removed) > 0 || len(rep.Added) > 0 {
		res.Param = rep.Repaired
		res.Removed, res.Added = model.Diff(p.Select(plan.Node, plan.Technology), rep.Repaired, model.DefaultTolerance)
	}
	return res, rep, nil
}

func (s *Service) changed(sum *Summary) bool {
	for _, pr := range sum.Results {
		if !pr.Failed() && pr.Changed() {
			return true
		}
	}
	return false
}

// write stages the replacement rows of every table that did not fail.
func (s *Service) write(ctx context.Context, sum *Summary) error {
	for _, name := range sum.Names() {
		pr := sum.Results[name]
		if pr.Failed() || !pr.Changed() {
			continue
		}
		if len(pr.Removed) > 0 {
			if err := s.store.RemoveRows(ctx, name, pr.Removed); err != nil {
				return fmt.Errorf("remove %s rows: %w", name, err)
			}
		}
		if len(pr.Added) > 0 {
			if err := s.store.AddRows(ctx, name, pr.Added); err != nil {
				return fmt.Errorf("add %s rows: %w", name, err)
			}
		}
	}
	return nil
}

// finish records metrics and appends the audit record. Failures here are
// logged only.
func (s *Service) finish(ctx context.Context, sum *Summary, start time.Time) {
	sum.Duration = time.Since(start)
	if err := s.sink.RecordRespace(sum.events); err != nil {
		s.log.Warnf("record respace metrics: %v", err)
	}
	for _, ev := range sum.validations {
		s.recordValidation(ev)
	}
	if rec, ok := s.sink.(coremetrics.RunRecorder); ok {
		failed := 0
		for _, pr := range sum.Results {
			failed += len(pr.Errors)
		}
		ev := coremetrics.RunEvent{
			RunID: sum.RunID, Technology: sum.Technology, Nodes: len(sum.Nodes),
			Skipped: len(sum.Skipped), Failed: failed, CommitID: sum.CommitID,
			Duration: sum.Duration, Time: time.Now(),
		}
		if err := rec.RecordRun(ev); err != nil {
			s.log.Warnf("record run metrics: %v", err)
		}
	}
	if s.textfile != "" {
		if err := inframetrics.WriteTextfile(s.textfile, prometheus.DefaultGatherer); err != nil {
			s.log.Warnf("write metrics textfile: %v", err)
		}
	}
	if err := s.audit.Append(ctx, auditRecord(sum)); err != nil {
		s.log.Warnf("append audit record: %v", err)
	}
}

func (s *Service) recordValidation(ev coremetrics.ValidationEvent) {
	rec, ok := s.sink.(coremetrics.ValidationRecorder)
	if !ok {
		return
	}
	if err := rec.RecordValidation(ev); err != nil {
		s.log.Warnf("record validation metrics: %v", err)
	}
}

func auditRecord(sum *Summary) audit.Record {
	rec := audit.Record{
		RunID:      sum.RunID,
		Timestamp:  time.Now().UTC(),
		Technology: sum.Technology,
		Nodes:      sum.Nodes,
		Lifetime:   sum.Lifetime,
		DryRun:     sum.DryRun,
		CommitID:   sum.CommitID,
		Results:    map[string]audit.ParamResult{},
	}
	for node := range sum.Skipped {
		rec.Skipped = append(rec.Skipped, node)
	}
	sort.Strings(rec.Skipped)
	for name, pr := range sum.Results {
		r := audit.ParamResult{Outcome: string(pr.outcome()), Added: len(pr.Added), Removed: len(pr.Removed)}
		var msgs []string
		for node, e := range pr.Errors {
			msgs = append(msgs, node+": "+e.Error())
		}
		sort.Strings(msgs)
		r.Error = strings.Join(msgs, "; ")
		for _, d := range pr.Diagnostics {
			r.Diagnostics = append(r.Diagnostics, d.String())
		}
		rec.Results[name] = r
	}
	return rec
}

func validationEvent(runID string, rep *validate.Report, now time.Time) coremetrics.ValidationEvent {
	return coremetrics.ValidationEvent{
		RunID:            runID,
		Param:            rep.Param,
		Node:             rep.Node,
		Technology:       rep.Technology,
		Missing:          len(rep.Missing),
		Extra:            len(rep.Extra),
		RemainingMissing: len(rep.RemainingMissing),
		RemainingExtra:   len(rep.RemainingExtra),
		Time:             now,
	}
}

func countDiagnostics(diags []respace.Diagnostic) map[string]int {
	if len(diags) == 0 {
		return nil
	}
	out := map[string]int{}
	for _, d := range diags {
		switch {
		case errors.Is(d.Err, curve.ErrSignFlipAnomaly):
			out["sign_flip"]++
		case errors.Is(d.Err, curve.ErrInsufficientReferencePoints):
			out["insufficient_reference_points"]++
		default:
			out["other"]++
		}
	}
	return out
}

func sortRows(rows []model.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		if a.Technology != b.Technology {
			return a.Technology < b.Technology
		}
		if ae, be := strings.Join(a.Extra, ","), strings.Join(b.Extra, ","); ae != be {
			return ae < be
		}
		if a.Vintage != b.Vintage {
			return a.Vintage < b.Vintage
		}
		if a.Activity != b.Activity {
			return a.Activity < b.Activity
		}
		return a.Relation < b.Relation
	})
}
