package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateKey is returned when two rows share the full key tuple.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrDimensionMismatch is returned when a row does not carry exactly the
	// dimensions declared by its schema.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrUnknownKind is returned for an unsupported parameter kind.
	ErrUnknownKind = errors.New("unknown parameter kind")
)

// Kind tags the axis layout of a parameter.
type Kind int

const (
	KindUnknown Kind = iota
	// OneAxis parameters are indexed by vintage year only.
	OneAxis
	// TwoAxis parameters are indexed by vintage and activity year.
	TwoAxis
	// RelationAxis parameters are indexed by relation and activity year and
	// are not bound to a vintage lifetime window.
	RelationAxis
)

func (k Kind) String() string {
	switch k {
	case OneAxis:
		return "one_axis"
	case TwoAxis:
		return "two_axis"
	case RelationAxis:
		return "relation_axis"
	default:
		return "unknown"
	}
}

// ParseKind converts the textual form produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "one_axis":
		return OneAxis, nil
	case "two_axis":
		return TwoAxis, nil
	case "relation_axis":
		return RelationAxis, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Schema describes a parameter table.
type Schema struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Extra lists the non-time dimensions beyond node and technology, in
	// storage order (e.g. mode, commodity, level).
	Extra []string `json:"extra"`
	// VintageSpecific marks parameters whose values vary with the vintage
	// rather than the activity year.
	VintageSpecific bool `json:"vintage_specific"`
}

const extraSep = "\x1f"

// Dims holds the non-time dimensions of an observation. It is comparable and
// used as the map key of every table.
type Dims struct {
	Node       string
	Technology string
	Extra      string
}

// NewDims joins extra dimension values into a Dims key.
func NewDims(node, tech string, extra ...string) Dims {
	return Dims{Node: node, Technology: tech, Extra: strings.Join(extra, extraSep)}
}

// ExtraValues splits the extra dimensions back into their values.
func (d Dims) ExtraValues() []string {
	if d.Extra == "" {
		return nil
	}
	return strings.Split(d.Extra, extraSep)
}

func (d Dims) String() string {
	if d.Extra == "" {
		return d.Node + "/" + d.Technology
	}
	return d.Node + "/" + d.Technology + "/" + strings.ReplaceAll(d.Extra, extraSep, "/")
}

func (d Dims) less(o Dims) bool {
	if d.Node != o.Node {
		return d.Node < o.Node
	}
	if d.Technology != o.Technology {
		return d.Technology < o.Technology
	}
	return d.Extra < o.Extra
}

// Row is the flat one-row-per-observation form exchanged with the store.
// Vintage is unused for RelationAxis, Activity and Relation are unused for
// OneAxis, and Relation is only used by RelationAxis.
type Row struct {
	Node       string   `json:"node"`
	Technology string   `json:"technology"`
	Extra      []string `json:"extra,omitempty"`
	Vintage    int      `json:"year_vtg,omitempty"`
	Activity   int      `json:"year_act,omitempty"`
	Relation   int      `json:"year_rel,omitempty"`
	Value      float64  `json:"value"`
	Unit       string   `json:"unit"`
}

// Dims returns the non-time dimensions of the row.
func (r Row) Dims() Dims { return NewDims(r.Node, r.Technology, r.Extra...) }

// Pair is one (vintage, activity) grid point.
type Pair struct {
	Vintage  int `json:"year_vtg"`
	Activity int `json:"year_act"`
}

// Param is implemented by VintageTable, GridTable and RelationTable.
type Param interface {
	Schema() Schema
	// Rows flattens the table in deterministic key order.
	Rows() []Row
	// Len returns the number of observations.
	Len() int
	// Select returns the observations of a single node and technology.
	Select(node, tech string) Param
	Clone() Param
	sealed()
}

// FromRows builds the table variant matching schema.Kind. Duplicate keys and
// rows with the wrong number of extra dimensions are rejected.
func FromRows(schema Schema, rows []Row) (Param, error) {
	for _, r := range rows {
		if len(r.Extra) != len(schema.Extra) {
			return nil, fmt.Errorf("%w: %s expects %d extra dims, row %s has %d",
				ErrDimensionMismatch, schema.Name, len(schema.Extra), r.Dims(), len(r.Extra))
		}
	}
	switch schema.Kind {
	case OneAxis:
		return vintageFromRows(schema, rows)
	case TwoAxis:
		return gridFromRows(schema, rows)
	case RelationAxis:
		return relationFromRows(schema, rows)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, schema.Kind)
}

// Empty returns a table of the schema's kind without observations.
func Empty(schema Schema) (Param, error) { return FromRows(schema, nil) }
