// Package workbook is the artifact-building collaborator: it assembles a
// formula-driven financial model, applies targeted corrections, and renders
// the result as an .xlsx file.
package workbook

import (
	"fmt"
	"maps"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

// Sheet names.
const (
	Cover       = "COVER"
	Assumptions = "ASSUMPTIONS"
	Dashboard   = "DASHBOARD"
	Scenarios   = "SCENARIOS"
	Comps       = "COMPS"
)

// RequiredSheets are present in every workbook.
var RequiredSheets = []string{Cover, Assumptions, Dashboard}

// ModelSheets lists the sheets each model type must carry.
var ModelSheets = map[finance.ModelType][]string{
	finance.DCF:            {"DCF", "WACC"},
	finance.LBO:            {"LBO", "DEBT"},
	finance.ThreeStatement: {"IS", "BS", "CF"},
	finance.FPA:            {"BUDGET", "VARIANCE"},
}

// DefaultFreeze is the top-left cell of the scrollable pane on model sheets.
const DefaultFreeze = "C5"

// Cell holds either a literal value or a formula (without the leading '=').
type Cell struct {
	Value   any    `json:"value,omitempty"`
	Formula string `json:"formula,omitempty"`
	Input   bool   `json:"input,omitempty"`
	Styled  bool   `json:"styled,omitempty"`
}

type ChartSeries struct {
	Name       string
	Categories string
	Values     string
}

type Chart struct {
	Anchor string
	Title  string
	Series []ChartSeries
}

type Sheet struct {
	Name          string
	Model         bool
	ShowGridLines bool
	Freeze        string
	Cells         map[string]*Cell
	Charts        []Chart
}

func newSheet(name string, model bool) *Sheet {
	return &Sheet{Name: name, Model: model, Cells: make(map[string]*Cell)}
}

func (s *Sheet) Set(ref string, c *Cell) { s.Cells[ref] = c }

func (s *Sheet) Get(ref string) (*Cell, bool) {
	c, ok := s.Cells[ref]
	return c, ok
}

// Refs returns cell references in row-major order.
func (s *Sheet) Refs() []string {
	refs := make([]string, 0, len(s.Cells))
	for ref := range s.Cells {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		ci, ri, _ := excelize.CellNameToCoordinates(refs[i])
		cj, rj, _ := excelize.CellNameToCoordinates(refs[j])
		if ri != rj {
			return ri < rj
		}
		return ci < cj
	})
	return refs
}

func (s *Sheet) clone() *Sheet {
	out := *s
	out.Cells = make(map[string]*Cell, len(s.Cells))
	for ref, c := range s.Cells {
		cc := *c
		out.Cells[ref] = &cc
	}
	out.Charts = make([]Chart, len(s.Charts))
	for i, ch := range s.Charts {
		ch.Series = append([]ChartSeries(nil), ch.Series...)
		out.Charts[i] = ch
	}
	return &out
}

// Workbook is the in-memory model the builder produces and QA inspects.
type Workbook struct {
	Model    finance.ModelType
	Company  string
	Revision int

	sheets []*Sheet
	req    *Request
	consts int
}

func New(model finance.ModelType, company string) *Workbook {
	return &Workbook{Model: model, Company: company}
}

// AddSheet appends a sheet, replacing any sheet with the same name in place.
func (w *Workbook) AddSheet(name string, model bool) *Sheet {
	sh := newSheet(name, model)
	for i, existing := range w.sheets {
		if existing.Name == name {
			w.sheets[i] = sh
			return sh
		}
	}
	w.sheets = append(w.sheets, sh)
	return sh
}

func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	for _, sh := range w.sheets {
		if sh.Name == name {
			return sh, true
		}
	}
	return nil, false
}

func (w *Workbook) RemoveSheet(name string) {
	for i, sh := range w.sheets {
		if sh.Name == name {
			w.sheets = append(w.sheets[:i], w.sheets[i+1:]...)
			return
		}
	}
}

func (w *Workbook) Sheets() []*Sheet { return w.sheets }

func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, sh := range w.sheets {
		names[i] = sh.Name
	}
	return names
}

// HasPeers reports whether the source data carried a peer set.
func (w *Workbook) HasPeers() bool {
	return w.req != nil && len(w.req.Company.Peers) > 0
}

func (w *Workbook) Clone() *Workbook {
	out := *w
	out.sheets = make([]*Sheet, len(w.sheets))
	for i, sh := range w.sheets {
		out.sheets[i] = sh.clone()
	}
	return &out
}

// FileName is the download name, e.g. Infosys_Ltd_DCF_Model.xlsx.
func (w *Workbook) FileName() string {
	return fmt.Sprintf("%s_%s_Model.xlsx", sanitize(w.Company), sanitize(w.Model.Label()))
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Request is the input of a build.
type Request struct {
	Model     finance.ModelType
	Company   finance.CompanyData
	Scenarios finance.ScenarioSet
	Overrides map[string]float64
}

func (r Request) clone() *Request {
	out := r
	out.Company = *r.Company.Clone()
	out.Scenarios = *r.Scenarios.Clone()
	out.Overrides = maps.Clone(r.Overrides)
	return &out
}
