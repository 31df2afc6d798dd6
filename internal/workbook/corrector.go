package workbook

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

// Correct returns a revised copy of wb with targeted fixes for issues.
// Issues it cannot repair (broken references) are left for the next audit
// to report again. wb itself is never modified.
func (b *Builder) Correct(ctx context.Context, wb *Workbook, issues []finance.Issue) (*Workbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := wb.Clone()
	out.Revision++

	byCheck := make(map[string][]finance.Issue)
	for _, is := range issues {
		byCheck[is.Check] = append(byCheck[is.Check], is)
	}

	// Structural repairs first so the presentation passes see new sheets.
	if _, ok := byCheck[finance.CheckRequiredSheets]; ok {
		restoreRequired(out)
	}
	if _, ok := byCheck[finance.CheckModelSheets]; ok {
		restoreModelSheets(out)
	}
	if _, ok := byCheck[finance.CheckScenarioSheet]; ok {
		writeScenarios(out)
	}
	if _, ok := byCheck[finance.CheckCompsSheet]; ok && out.HasPeers() {
		writeComps(out)
	}
	if _, ok := byCheck[finance.CheckCharts]; ok {
		restoreCharts(out)
	}
	if found, ok := byCheck[finance.CheckNoHardcodes]; ok {
		if err := extractLiterals(out, found); err != nil {
			return nil, err
		}
	}
	if _, ok := byCheck[finance.CheckInputStyling]; ok {
		for _, sh := range out.sheets {
			for _, c := range sh.Cells {
				if c.Input {
					c.Styled = true
				}
			}
		}
	}
	if _, ok := byCheck[finance.CheckGridlines]; ok {
		for _, sh := range out.sheets {
			sh.ShowGridLines = false
		}
	}
	if _, ok := byCheck[finance.CheckFreezePanes]; ok {
		for _, sh := range out.sheets {
			if sh.Model && sh.Freeze == "" {
				sh.Freeze = DefaultFreeze
			}
		}
	}
	return out, nil
}

func restoreRequired(wb *Workbook) {
	if _, ok := wb.Sheet(Cover); !ok && wb.req != nil {
		writeCover(wb)
	}
	if _, ok := wb.Sheet(Assumptions); !ok && wb.req != nil {
		writeAssumptions(wb)
	}
	if _, ok := wb.Sheet(Dashboard); !ok {
		writeDashboard(wb)
	}
}

func restoreModelSheets(wb *Workbook) {
	for _, name := range ModelSheets[wb.Model] {
		if _, ok := wb.Sheet(name); !ok {
			writeModelSheet(wb, name)
		}
	}
}

func restoreCharts(wb *Workbook) {
	sh, ok := wb.Sheet(Dashboard)
	if !ok {
		writeDashboard(wb)
		return
	}
	if len(sh.Charts) == 0 {
		sh.Charts = []Chart{defaultChart(wb)}
		return
	}
	def := defaultChart(wb)
	for i := range sh.Charts {
		if sh.Charts[i].Title == "" {
			sh.Charts[i].Title = def.Title
		}
		if len(sh.Charts[i].Series) == 0 {
			sh.Charts[i].Series = slices.Clone(def.Series)
		}
	}
}

// extractLiterals moves each flagged constant into a labelled input cell on
// ASSUMPTIONS and rewrites the formula to reference it.
func extractLiterals(wb *Workbook, issues []finance.Issue) error {
	assumptions, ok := wb.Sheet(Assumptions)
	if !ok {
		return fmt.Errorf("extract literals: %s sheet missing", Assumptions)
	}
	for _, is := range issues {
		sh, ok := wb.Sheet(is.Sheet)
		if !ok || sh == assumptions {
			continue
		}
		c, ok := sh.Get(is.Cell)
		if !ok || c.Formula == "" {
			continue
		}
		spans := Literals(c.Formula)
		f := c.Formula
		for i := len(spans) - 1; i >= 0; i-- {
			sp := spans[i]
			v, err := strconv.ParseFloat(sp.Text, 64)
			if err != nil {
				continue
			}
			row := firstConstant + wb.consts
			wb.consts++
			assumptions.Set(fmt.Sprintf("A%d", row), text(fmt.Sprintf("%s!%s constant", sh.Name, is.Cell)))
			assumptions.Set(fmt.Sprintf("C%d", row), input(v))
			f = f[:sp.Start] + fmt.Sprintf("%s!$C$%d", Assumptions, row) + f[sp.End:]
		}
		c.Formula = f
	}
	return nil
}
