// Package qa audits a workbook against a fixed structural checklist.
package qa

import (
	"fmt"
	"slices"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

// Check is one named validation. It returns the locations that fail it.
type Check struct {
	ID  string
	Run func(wb *workbook.Workbook) []finance.Issue
}

// Result is the outcome of one audit pass.
type Result struct {
	Total  int
	Passed int
	Failed []string
	Issues []finance.Issue
}

// OK reports whether every check passed.
func (r Result) OK() bool { return r.Passed == r.Total }

// Checklist runs its checks in a fixed order.
type Checklist struct {
	checks []Check
}

func NewChecklist(checks ...Check) *Checklist {
	return &Checklist{checks: checks}
}

// Default is the ten-check audit applied to every delivered workbook.
func Default() *Checklist {
	return NewChecklist(
		Check{finance.CheckFormulaIntegrity, formulaIntegrity},
		Check{finance.CheckNoHardcodes, noHardcodes},
		Check{finance.CheckRequiredSheets, requiredSheets},
		Check{finance.CheckModelSheets, modelSheets},
		Check{finance.CheckCharts, charts},
		Check{finance.CheckGridlines, gridlines},
		Check{finance.CheckFreezePanes, freezePanes},
		Check{finance.CheckInputStyling, inputStyling},
		Check{finance.CheckScenarioSheet, scenarioSheet},
		Check{finance.CheckCompsSheet, compsSheet},
	)
}

func (c *Checklist) Len() int { return len(c.checks) }

func (c *Checklist) Audit(wb *workbook.Workbook) Result {
	res := Result{Total: len(c.checks)}
	for _, check := range c.checks {
		issues := check.Run(wb)
		if len(issues) == 0 {
			res.Passed++
			continue
		}
		res.Failed = append(res.Failed, check.ID)
		for _, is := range issues {
			is.Check = check.ID
			res.Issues = append(res.Issues, is)
		}
	}
	return res
}

func formulaIntegrity(wb *workbook.Workbook) []finance.Issue {
	names := wb.SheetNames()
	var out []finance.Issue
	for _, sh := range wb.Sheets() {
		for _, ref := range sh.Refs() {
			f := sh.Cells[ref].Formula
			if f == "" {
				continue
			}
			for _, tok := range workbook.BrokenTokens(f) {
				out = append(out, finance.Issue{Sheet: sh.Name, Cell: ref, Detail: "broken reference " + tok})
			}
			for _, target := range workbook.SheetRefs(f) {
				if !slices.Contains(names, target) {
					out = append(out, finance.Issue{Sheet: sh.Name, Cell: ref, Detail: "references missing sheet " + target})
				}
			}
		}
	}
	return out
}

func noHardcodes(wb *workbook.Workbook) []finance.Issue {
	var out []finance.Issue
	for _, sh := range wb.Sheets() {
		for _, ref := range sh.Refs() {
			f := sh.Cells[ref].Formula
			if f == "" {
				continue
			}
			if lits := workbook.Literals(f); len(lits) > 0 {
				out = append(out, finance.Issue{Sheet: sh.Name, Cell: ref, Detail: fmt.Sprintf("hardcoded %s in =%s", lits[0].Text, f)})
			}
		}
	}
	return out
}

func missing(wb *workbook.Workbook, want []string) []finance.Issue {
	var out []finance.Issue
	for _, name := range want {
		if _, ok := wb.Sheet(name); !ok {
			out = append(out, finance.Issue{Sheet: name, Detail: name + " sheet missing"})
		}
	}
	return out
}

func requiredSheets(wb *workbook.Workbook) []finance.Issue {
	return missing(wb, workbook.RequiredSheets)
}

func modelSheets(wb *workbook.Workbook) []finance.Issue {
	return missing(wb, workbook.ModelSheets[wb.Model])
}

func scenarioSheet(wb *workbook.Workbook) []finance.Issue {
	return missing(wb, []string{workbook.Scenarios})
}

func compsSheet(wb *workbook.Workbook) []finance.Issue {
	if !wb.HasPeers() {
		return nil
	}
	return missing(wb, []string{workbook.Comps})
}

func charts(wb *workbook.Workbook) []finance.Issue {
	sh, ok := wb.Sheet(workbook.Dashboard)
	if !ok {
		return []finance.Issue{{Sheet: workbook.Dashboard, Detail: "no dashboard to carry a chart"}}
	}
	if len(sh.Charts) == 0 {
		return []finance.Issue{{Sheet: sh.Name, Detail: "dashboard has no chart"}}
	}
	var out []finance.Issue
	for _, ch := range sh.Charts {
		if ch.Title == "" || len(ch.Series) == 0 {
			out = append(out, finance.Issue{Sheet: sh.Name, Cell: ch.Anchor, Detail: "chart needs a title and at least one series"})
		}
	}
	return out
}

func gridlines(wb *workbook.Workbook) []finance.Issue {
	var out []finance.Issue
	for _, sh := range wb.Sheets() {
		if sh.ShowGridLines {
			out = append(out, finance.Issue{Sheet: sh.Name, Detail: "gridlines visible"})
		}
	}
	return out
}

func freezePanes(wb *workbook.Workbook) []finance.Issue {
	var out []finance.Issue
	for _, sh := range wb.Sheets() {
		if sh.Model && sh.Freeze == "" {
			out = append(out, finance.Issue{Sheet: sh.Name, Detail: "panes not frozen"})
		}
	}
	return out
}

func inputStyling(wb *workbook.Workbook) []finance.Issue {
	var out []finance.Issue
	for _, sh := range wb.Sheets() {
		for _, ref := range sh.Refs() {
			c := sh.Cells[ref]
			if c.Input && !c.Styled {
				out = append(out, finance.Issue{Sheet: sh.Name, Cell: ref, Detail: "input not styled"})
			}
		}
	}
	return out
}
