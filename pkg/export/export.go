// Package export writes parameter rows and change sets as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilianp07/lifespan/core/model"
)

// Format is an output encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, JSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// FormatOf picks the format from a file extension, defaulting to CSV.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSON
	}
	return CSV
}

// Op tags a change.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Change is one row added to or removed from a parameter.
type Change struct {
	Param string
	Op    Op
	Row   model.Row
}

// Changes pairs removed and added rows of param, removals first.
func Changes(param string, removed, added []model.Row) []Change {
	out := make([]Change, 0, len(removed)+len(added))
	for _, r := range removed {
		out = append(out, Change{Param: param, Op: OpRemove, Row: r})
	}
	for _, r := range added {
		out = append(out, Change{Param: param, Op: OpAdd, Row: r})
	}
	return out
}

// jsonRow carries non-finite values as strings.
type jsonRow struct {
	Param      string            `json:"param,omitempty"`
	Op         Op                `json:"op,omitempty"`
	Node       string            `json:"node"`
	Technology string            `json:"technology"`
	Extra      map[string]string `json:"extra,omitempty"`
	Vintage    int               `json:"year_vtg,omitempty"`
	Activity   int               `json:"year_act,omitempty"`
	Relation   int               `json:"year_rel,omitempty"`
	Value      any               `json:"value"`
	Unit       string            `json:"unit"`
}

func toJSON(schema model.Schema, r model.Row) jsonRow {
	out := jsonRow{
		Node: r.Node, Technology: r.Technology,
		Vintage: r.Vintage, Activity: r.Activity, Relation: r.Relation,
		Value: r.Value, Unit: r.Unit,
	}
	if math.IsInf(r.Value, 0) || math.IsNaN(r.Value) {
		out.Value = formatValue(r.Value)
	}
	if len(r.Extra) > 0 {
		out.Extra = map[string]string{}
		for i, v := range r.Extra {
			out.Extra[extraName(schema, i)] = v
		}
	}
	return out
}

func extraName(schema model.Schema, i int) string {
	if i < len(schema.Extra) {
		return schema.Extra[i]
	}
	return "dim" + strconv.Itoa(i)
}

func formatValue(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// timeColumns returns the year columns of a kind in storage order.
func timeColumns(k model.Kind) []string {
	switch k {
	case model.OneAxis:
		return []string{"year_vtg"}
	case model.RelationAxis:
		return []string{"year_rel", "year_act"}
	}
	return []string{"year_vtg", "year_act"}
}

func timeValues(k model.Kind, r model.Row) []string {
	switch k {
	case model.OneAxis:
		return []string{strconv.Itoa(r.Vintage)}
	case model.RelationAxis:
		return []string{strconv.Itoa(r.Relation), strconv.Itoa(r.Activity)}
	}
	return []string{strconv.Itoa(r.Vintage), strconv.Itoa(r.Activity)}
}

// WriteRows writes the rows of one parameter. CSV output has one column per
// dimension of the schema.
func WriteRows(w io.Writer, f Format, schema model.Schema, rows []model.Row) error {
	if f == JSON {
		out := make([]jsonRow, len(rows))
		for i, r := range rows {
			out[i] = toJSON(schema, r)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	cw := csv.NewWriter(w)
	header := append([]string{"node", "technology"}, schema.Extra...)
	header = append(header, timeColumns(schema.Kind)...)
	if err := cw.Write(append(header, "value", "unit")); err != nil {
		return err
	}
	for _, r := range rows {
		rec := append([]string{r.Node, r.Technology}, r.Extra...)
		rec = append(rec, timeValues(schema.Kind, r)...)
		if err := cw.Write(append(rec, formatValue(r.Value), r.Unit)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChanges writes a change set spanning several parameters. Extra
// dimensions are joined with "|" in CSV output.
func WriteChanges(w io.Writer, f Format, changes []Change) error {
	if f == JSON {
		out := make([]jsonRow, len(changes))
		for i, c := range changes {
			out[i] = toJSON(model.Schema{}, c.Row)
			out[i].Param, out[i].Op = c.Param, c.Op
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"param", "op", "node", "technology", "extra", "year_vtg", "year_act", "year_rel", "value", "unit"}); err != nil {
		return err
	}
	for _, c := range changes {
		r := c.Row
		rec := []string{
			c.Param, string(c.Op), r.Node, r.Technology, strings.Join(r.Extra, "|"),
			strconv.Itoa(r.Vintage), strconv.Itoa(r.Activity), strconv.Itoa(r.Relation),
			formatValue(r.Value), r.Unit,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
