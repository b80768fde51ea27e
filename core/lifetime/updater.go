package lifetime

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/logger"
	"github.com/kilianp07/lifespan/core/model"
)

var (
	// ErrMissingBaseData means a technology has no lifetime rows at a node.
	// It is recoverable: the caller skips that node.
	ErrMissingBaseData = errors.New("missing base data")
	// ErrInvalidLifetime rejects non-positive or NaN lifetimes.
	ErrInvalidLifetime = errors.New("invalid lifetime")
	// ErrInvalidRange rejects a reversed vintage range.
	ErrInvalidRange = errors.New("invalid vintage range")
)

// Range is a closed interval of vintage years.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool { return r.From == 0 && r.To == 0 }

// Contains reports whether y lies in the range.
func (r Range) Contains(y int) bool { return y >= r.From && y <= r.To }

// Request describes one lifetime update.
type Request struct {
	Technology string
	Nodes      []string
	// Lifetime overwrites every vintage in Range when set.
	Lifetime *float64
	Range    Range
}

// NodeOutcome is the result of the update at one node.
type NodeOutcome struct {
	Node string
	// Introduced lists vintages of the range that had no lifetime row.
	Introduced []int
	// Previous holds the lifetimes before the update.
	Previous map[int]float64
	// Lifetimes holds the lifetimes after the update.
	Lifetimes  map[int]float64
	Retirement RetirementMap
}

// MaxIncrease returns the largest lifetime increase over vintages that
// existed before the update.
func (o *NodeOutcome) MaxIncrease() float64 {
	var inc float64
	for v, prev := range o.Previous {
		if d := o.Lifetimes[v] - prev; d > inc {
			inc = d
		}
	}
	return inc
}

// Outcome gathers the updated table and the per-node results.
type Outcome struct {
	Table   *model.VintageTable
	Nodes   map[string]*NodeOutcome
	Skipped map[string]error
}

// Updater rewrites the lifetime table of a technology and derives the
// retirement years of its vintages.
type Updater struct {
	horizon  *horizon.Matrix
	boundary Boundary
	log      logger.Logger
}

// NewUpdater returns an Updater. A nil logger disables logging.
func NewUpdater(h *horizon.Matrix, b Boundary, log logger.Logger) *Updater {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Updater{horizon: h, boundary: b, log: log}
}

// Update applies req to a copy of table. Nodes without lifetime rows are
// reported in Outcome.Skipped; ErrMissingBaseData is returned only when every
// requested node was skipped.
func (u *Updater) Update(table *model.VintageTable, req Request) (*Outcome, error) {
	if req.Range.From > req.Range.To {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, req.Range.From, req.Range.To)
	}
	if req.Lifetime != nil && !(*req.Lifetime > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLifetime, *req.Lifetime)
	}
	out := &Outcome{
		Table:   table.Clone().(*model.VintageTable),
		Nodes:   map[string]*NodeOutcome{},
		Skipped: map[string]error{},
	}
	for _, node := range req.Nodes {
		res, err := u.updateNode(out.Table, node, req)
		if err != nil {
			if errors.Is(err, ErrMissingBaseData) {
				u.log.Warnf("skip %s at %s: %v", req.Technology, node, err)
				out.Skipped[node] = err
				continue
			}
			return nil, err
		}
		out.Nodes[node] = res
	}
	if len(req.Nodes) > 0 && len(out.Nodes) == 0 {
		return out, fmt.Errorf("%w: %s has no lifetime rows at any requested node", ErrMissingBaseData, req.Technology)
	}
	return out, nil
}

func (u *Updater) updateNode(t *model.VintageTable, node string, req Request) (*NodeOutcome, error) {
	d := model.NewDims(node, req.Technology)
	s := t.Get(d)
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrMissingBaseData, req.Technology, node)
	}
	res := &NodeOutcome{Node: node, Previous: map[int]float64{}, Lifetimes: map[int]float64{}}
	for _, p := range s.Points() {
		res.Previous[p.Year] = p.Value
	}
	known := s.Clone()
	for _, v := range u.horizon.Between(req.Range.From, req.Range.To) {
		if s.Has(v) {
			if req.Lifetime != nil {
				s.Set(v, *req.Lifetime)
			}
			continue
		}
		val := nearestValue(known, v)
		if req.Lifetime != nil {
			val = *req.Lifetime
		}
		s.Set(v, val)
		res.Introduced = append(res.Introduced, v)
	}
	slices.Sort(res.Introduced)
	res.Retirement = RetirementMap{}
	for _, p := range s.Points() {
		res.Lifetimes[p.Year] = p.Value
		if !u.horizon.Contains(p.Year) {
			u.log.Debugf("%s at %s: vintage %d outside horizon, no retirement derived", req.Technology, node, p.Year)
			continue
		}
		r, err := Retire(u.horizon, p.Year, p.Value, u.boundary)
		if err != nil {
			return nil, fmt.Errorf("%s at %s: %w", req.Technology, node, err)
		}
		res.Retirement[p.Year] = r
	}
	if len(res.Introduced) > 0 {
		u.log.Infof("%s at %s: introduced vintages %v", req.Technology, node, res.Introduced)
	}
	return res, nil
}

// Retirements derives the retirement map of one node without changing the
// lifetime table.
func (u *Updater) Retirements(table *model.VintageTable, node, tech string) (RetirementMap, error) {
	s := table.Get(model.NewDims(node, tech))
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrMissingBaseData, tech, node)
	}
	m := RetirementMap{}
	for _, p := range s.Points() {
		if !u.horizon.Contains(p.Year) {
			continue
		}
		r, err := Retire(u.horizon, p.Year, p.Value, u.boundary)
		if err != nil {
			return nil, err
		}
		m[p.Year] = r
	}
	return m, nil
}

// nearestValue copies the lifetime of the closest known vintage; ties go to
// the earlier one.
func nearestValue(known *model.Series, v int) float64 {
	pts := known.Nearest(v, 1)
	return pts[0].Value
}
