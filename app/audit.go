package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/lifespan/core/model"
	corestore "github.com/kilianp07/lifespan/core/store"
	"github.com/kilianp07/lifespan/core/validate"
)

// AuditJob selects the tables checked by Audit.
type AuditJob struct {
	Technology string
	Node       string
	// Parameters overrides the configured parameter list.
	Parameters []string
	// Repair writes back the validator's repairs of two-axis tables.
	Repair bool
}

// AuditResult gathers the validator reports of one audit.
type AuditResult struct {
	RunID    string
	CommitID string
	Reports  []*validate.Report
}

// Audit runs the consistency validator against the stored tables of a node
// and technology without respacing them. Single-axis mismatches are
// returned as a joined ErrGridInconsistency alongside the reports.
func (s *Service) Audit(ctx context.Context, job AuditJob) (res *AuditResult, err error) {
	ret, h, err := s.Retirement(ctx, job.Technology, job.Node)
	if err != nil {
		return nil, err
	}
	params := job.Parameters
	if len(params) == 0 {
		params = s.cfg.Parameters
	}
	res = &AuditResult{RunID: uuid.NewString()}
	val := validate.New(h, s.cfg.Damping(), s.log)
	oracle := func(node, tech string) ([]model.Pair, error) { return s.store.ValidPairs(ctx, node, tech) }
	var (
		errs    []error
		changed bool
	)
	// Repairs staged before a failure must not leak into a later commit.
	defer func() {
		if err != nil && changed && !errors.Is(err, validate.ErrGridInconsistency) {
			_ = s.store.Discard(ctx)
		}
	}()
	for _, name := range params {
		p, err := s.store.ParameterTable(ctx, name, corestore.Filter{Nodes: []string{job.Node}, Technologies: []string{job.Technology}})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		rep, err := val.Validate(p, job.Node, job.Technology, ret, oracle)
		if rep != nil {
			res.Reports = append(res.Reports, rep)
			s.recordValidation(validationEvent(res.RunID, rep, time.Now()))
		}
		if err != nil {
			if !errors.Is(err, validate.ErrGridInconsistency) {
				return res, err
			}
			errs = append(errs, err)
			continue
		}
		if !job.Repair || (len(rep.Removed) == 0 && len(rep.Added) == 0) {
			continue
		}
		if len(rep.Removed) > 0 {
			if err := s.store.RemoveRows(ctx, name, rep.Removed); err != nil {
				changed = true
				return res, fmt.Errorf("remove %s rows: %w", name, err)
			}
		}
		if len(rep.Added) > 0 {
			if err := s.store.AddRows(ctx, name, rep.Added); err != nil {
				changed = true
				return res, fmt.Errorf("add %s rows: %w", name, err)
			}
		}
		changed = true
	}
	if changed {
		id, err := s.store.Commit(ctx, fmt.Sprintf("repair grids of %s at %s (run %s)", job.Technology, job.Node, res.RunID))
		if err != nil {
			return res, fmt.Errorf("commit: %w", err)
		}
		res.CommitID = id
	}
	return res, errors.Join(errs...)
}
