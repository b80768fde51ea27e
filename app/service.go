package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/lifespan/config"
	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/lifetime"
	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/core/model"
	corestore "github.com/kilianp07/lifespan/core/store"
	"github.com/kilianp07/lifespan/infra/audit"
	"github.com/kilianp07/lifespan/infra/logger"
	infrastore "github.com/kilianp07/lifespan/infra/store"
	"github.com/kilianp07/lifespan/internal/eventbus"
)

// Service orchestrates lifetime updates, grid respacing and validation
// against a scenario store.
type Service struct {
	store    corestore.Store
	sink     coremetrics.Sink
	audit    audit.Store
	cfg      config.RespaceConfig
	textfile string
	log      logger.Logger
	progress *eventbus.Bus[coremetrics.RespaceEvent]
}

// Options wires a Service from already built dependencies. Nil fields fall
// back to no-op implementations.
type Options struct {
	Store    corestore.Store
	Sink     coremetrics.Sink
	Audit    audit.Store
	Respace  config.RespaceConfig
	Textfile string
	Logger   logger.Logger
}

// NewWithOptions creates a Service from explicit dependencies.
func NewWithOptions(o Options) *Service {
	o.Respace.SetDefaults()
	if o.Sink == nil {
		o.Sink = coremetrics.NopSink{}
	}
	if o.Audit == nil {
		o.Audit = audit.NopStore{}
	}
	if o.Logger == nil {
		o.Logger = logger.New("service")
	}
	return &Service{
		store:    o.Store,
		sink:     o.Sink,
		audit:    o.Audit,
		cfg:      o.Respace,
		textfile: o.Textfile,
		log:      o.Logger,
		progress: eventbus.New[coremetrics.RespaceEvent](),
	}
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	st, err := infrastore.Open(cfg.Store.Module())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	var aud audit.Store = audit.NopStore{}
	if cfg.Audit.Path != "" {
		aud, err = audit.NewJSONLStore(cfg.Audit.Path, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}
	return NewWithOptions(Options{
		Store:    st,
		Sink:     sink,
		Audit:    aud,
		Respace:  cfg.Respace,
		Textfile: cfg.Metrics.Textfile,
	}), nil
}

// Progress subscribes to per-pair respacing events. The channel is closed by
// Unsubscribe or Close; events are dropped while it is full.
func (s *Service) Progress() <-chan coremetrics.RespaceEvent {
	return s.progress.Subscribe(0)
}

// Unsubscribe stops delivery to a channel returned by Progress.
func (s *Service) Unsubscribe(ch <-chan coremetrics.RespaceEvent) { s.progress.Unsubscribe(ch) }

// Store returns the underlying scenario store.
func (s *Service) Store() corestore.Store { return s.store }

// Horizon builds the duration matrix from the store.
func (s *Service) Horizon(ctx context.Context) (*horizon.Matrix, error) {
	years, err := s.store.YearSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("year set: %w", err)
	}
	durations, err := s.store.DurationPeriod(ctx)
	if err != nil {
		return nil, fmt.Errorf("duration period: %w", err)
	}
	return horizon.Build(years, durations)
}

// Retirement returns the retirement map of tech at node under the current
// lifetime table.
func (s *Service) Retirement(ctx context.Context, tech, node string) (lifetime.RetirementMap, *horizon.Matrix, error) {
	h, err := s.Horizon(ctx)
	if err != nil {
		return nil, nil, err
	}
	b, err := lifetime.ParseBoundary(s.cfg.Boundary)
	if err != nil {
		return nil, nil, err
	}
	lt, err := s.lifetimeTable(ctx, tech, []string{node})
	if err != nil {
		return nil, nil, err
	}
	ret, err := lifetime.NewUpdater(h, b, s.log).Retirements(lt, node, tech)
	if err != nil {
		return nil, nil, err
	}
	return ret, h, nil
}

func (s *Service) lifetimeTable(ctx context.Context, tech string, nodes []string) (*model.VintageTable, error) {
	name := s.cfg.LifetimeParameter
	p, err := s.store.ParameterTable(ctx, name, corestore.Filter{Nodes: nodes, Technologies: []string{tech}})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	t, ok := p.(*model.VintageTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s, want %s", model.ErrUnknownKind, name, p.Schema().Kind, model.OneAxis)
	}
	return t, nil
}

// nodesOf lists the nodes with lifetime rows for tech.
func (s *Service) nodesOf(ctx context.Context, tech string) ([]string, error) {
	dims, err := s.store.Technologies(ctx, s.cfg.LifetimeParameter)
	if err != nil {
		return nil, err
	}
	var nodes []string
	for _, d := range dims {
		if d.Technology == tech {
			nodes = append(nodes, d.Node)
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s has no lifetime rows", lifetime.ErrMissingBaseData, tech)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// RunHorizon reapplies the current lifetimes of every technology over the
// full horizon, typically after the year set or period durations changed.
// Each technology is committed separately; failures are joined and do not
// stop the remaining technologies.
func (s *Service) RunHorizon(ctx context.Context, dryRun bool) ([]*Summary, error) {
	dims, err := s.store.Technologies(ctx, s.cfg.LifetimeParameter)
	if err != nil {
		return nil, err
	}
	byTech := map[string][]string{}
	var techs []string
	for _, d := range dims {
		if _, ok := byTech[d.Technology]; !ok {
			techs = append(techs, d.Technology)
		}
		byTech[d.Technology] = append(byTech[d.Technology], d.Node)
	}
	sort.Strings(techs)
	var (
		out  []*Summary
		errs []error
	)
	for _, tech := range techs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := s.Run(ctx, Job{Technology: tech, Nodes: byTech[tech], DryRun: dryRun})
		if sum != nil {
			out = append(out, sum)
		}
		if err != nil {
			s.log.Errorf("horizon run %s: %v", tech, err)
			errs = append(errs, fmt.Errorf("%s: %w", tech, err))
		}
	}
	return out, errors.Join(errs...)
}

// Close releases the store and the audit log and ends progress delivery.
func (s *Service) Close() error {
	s.progress.Close()
	return errors.Join(s.store.Close(), s.audit.Close())
}
