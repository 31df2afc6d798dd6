package workbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

var ErrNoHistory = errors.New("company has no financial history")

// Layout of the ASSUMPTIONS sheet. Driver rows carry Bear/Base/Bull in B:D
// and the selected value in E; input rows carry a single value in C.
const (
	selectorCell  = "$C$2"
	firstDriver   = 5
	firstInput    = 15
	firstConstant = 60
)

var drivers = append(append([]string(nil), finance.GrowthDrivers...),
	finance.DriverEBITDAMargin, finance.DriverTerminalGrowth, finance.DriverExitMultiple)

var inputs = []string{
	finance.BaseRevenue, finance.BaseEBITDA, finance.TotalDebt, finance.CashBalance,
	finance.NetDebt, finance.SharesOut, finance.MarketCap,
	finance.TaxRate, finance.DAPct, finance.CapexPct, finance.DaysInYear,
	finance.RiskFree, finance.EquityRisk, finance.Beta, finance.CostOfDebt,
	finance.EntryMultiple, finance.SeniorLeverage, finance.SubLeverage, finance.SeniorRate, finance.SubRate,
	finance.DSO, finance.DIO, finance.DPO,
	finance.Q1Weight, finance.Q2Weight, finance.Q3Weight, finance.Q4Weight,
}

var years = []string{"C", "D", "E", "F", "G"}

func driverRow(key string) int {
	for i, k := range drivers {
		if k == key {
			return firstDriver + i
		}
	}
	panic("workbook: unknown driver " + key)
}

func inputRow(key string) int {
	for i, k := range inputs {
		if k == key {
			return firstInput + i
		}
	}
	panic("workbook: unknown input " + key)
}

// sel references the scenario-selected value of a driver.
func sel(key string) string { return fmt.Sprintf("%s!$E$%d", Assumptions, driverRow(key)) }

// in references a single-valued assumption.
func in(key string) string { return fmt.Sprintf("%s!$C$%d", Assumptions, inputRow(key)) }

func prev(i int) string {
	if i == 0 {
		return "B"
	}
	return years[i-1]
}

func text(s string) *Cell               { return &Cell{Value: s} }
func num(v float64) *Cell              { return &Cell{Value: v} }
func input(v float64) *Cell            { return &Cell{Value: v, Input: true, Styled: true} }
func formula(f string, a ...any) *Cell { return &Cell{Formula: fmt.Sprintf(f, a...)} }

// Builder turns a confirmed plan into a workbook. It is stateless.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build assembles the full workbook for req.
func (b *Builder) Build(ctx context.Context, req Request) (*Workbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Model.Valid() {
		return nil, fmt.Errorf("%w: %q", finance.ErrInvalidModel, req.Model)
	}
	if req.Company.Years() == 0 {
		return nil, ErrNoHistory
	}

	r := req.clone()
	applyOverrides(r)

	wb := New(r.Model, r.Company.Name)
	wb.req = r
	writeCover(wb)
	writeAssumptions(wb)
	for _, name := range ModelSheets[r.Model] {
		writeModelSheet(wb, name)
	}
	writeScenarios(wb)
	if len(r.Company.Peers) > 0 {
		writeComps(wb)
	}
	writeDashboard(wb)
	return wb, nil
}

// applyOverrides folds confirmation overrides into the plan. A driver key
// moves the whole Bear/Base/Bull band so Base lands on the override and the
// band keeps its width; anything else replaces an assumption.
func applyOverrides(r *Request) {
	set := &r.Scenarios
	for _, sc := range []*finance.Scenario{&set.Bear, &set.Base, &set.Bull} {
		if sc.Values == nil {
			sc.Values = make(map[string]float64)
		}
	}
	if set.Assumptions == nil {
		set.Assumptions = make(map[string]float64)
	}
	for k, v := range r.Overrides {
		if !isDriver(k) {
			set.Assumptions[k] = v
			continue
		}
		shift := v - set.Base.Values[k]
		set.Bear.Values[k] += shift
		set.Base.Values[k] = v
		set.Bull.Values[k] += shift
	}
}

// Overridable reports whether key names a driver or an input the builder
// writes, i.e. whether a confirmation may override it.
func Overridable(key string) bool {
	if isDriver(key) {
		return true
	}
	for _, k := range inputs {
		if k == key {
			return true
		}
	}
	return false
}

// finish applies the presentation rules every sheet shares.
func finish(sh *Sheet) {
	sh.ShowGridLines = false
	if sh.Model {
		sh.Freeze = DefaultFreeze
	}
}

func yearHeader(sh *Sheet) {
	sh.Set("A4", text("Year"))
	sh.Set("B4", text("Base"))
	for i, col := range years {
		sh.Set(col+"4", num(float64(i+1)))
	}
}

func writeCover(wb *Workbook) {
	sh := wb.AddSheet(Cover, false)
	r := wb.req
	sh.Set("A1", text(r.Company.Name))
	sh.Set("A3", text(r.Model.Label()+" model"))
	sh.Set("A4", text(fmt.Sprintf("Ticker: %s", r.Company.Ticker)))
	sh.Set("A5", text(fmt.Sprintf("Currency: %s (%s)", r.Company.Currency, r.Company.Unit)))
	sh.Set("A6", text(fmt.Sprintf("Source: %s", r.Company.Source)))
	sh.Set("A8", text("Blue cells on ASSUMPTIONS are inputs; every other figure is a formula."))
	for i, note := range r.Scenarios.Notes {
		sh.Set(fmt.Sprintf("A%d", 10+i), text(note))
	}
	finish(sh)
}

func writeAssumptions(wb *Workbook) {
	sh := wb.AddSheet(Assumptions, true)
	r := wb.req
	s := r.Scenarios

	sh.Set("A1", text("Assumptions"))
	sh.Set("A2", text("Scenario (1=Bear, 2=Base, 3=Bull)"))
	sh.Set("C2", input(2))
	sh.Set("A4", text("Driver"))
	sh.Set("B4", text(string(finance.Bear)))
	sh.Set("C4", text(string(finance.Base)))
	sh.Set("D4", text(string(finance.Bull)))
	sh.Set("E4", text("Selected"))
	for _, key := range drivers {
		row := driverRow(key)
		sh.Set(fmt.Sprintf("A%d", row), text(key))
		sh.Set(fmt.Sprintf("B%d", row), input(s.Bear.Values[key]))
		sh.Set(fmt.Sprintf("C%d", row), input(s.Base.Values[key]))
		sh.Set(fmt.Sprintf("D%d", row), input(s.Bull.Values[key]))
		sh.Set(fmt.Sprintf("E%d", row), formula("CHOOSE(%s,B%d,C%d,D%d)", selectorCell, row, row, row))
	}

	sh.Set(fmt.Sprintf("A%d", firstInput-1), text("Inputs"))
	values := inputValues(r)
	for _, key := range inputs {
		row := inputRow(key)
		sh.Set(fmt.Sprintf("A%d", row), text(key))
		sh.Set(fmt.Sprintf("C%d", row), input(values[key]))
	}
	sh.Set(fmt.Sprintf("A%d", firstConstant-1), text("Extracted constants"))
	finish(sh)
}

// inputValues fills the company facts the plan does not carry itself.
func inputValues(r *Request) map[string]float64 {
	c := r.Company
	out := map[string]float64{
		finance.TotalDebt:   c.TotalDebt,
		finance.CashBalance: c.Cash,
		finance.NetDebt:     c.NetDebt(),
		finance.SharesOut:   c.SharesOut,
		finance.MarketCap:   c.MarketCap,
		finance.Beta:        c.Beta,
	}
	if len(c.Revenue) > 0 {
		out[finance.BaseRevenue] = c.Revenue[0]
	}
	if len(c.EBITDA) > 0 {
		out[finance.BaseEBITDA] = c.EBITDA[0]
	}
	for k, v := range r.Scenarios.Assumptions {
		out[k] = v
	}
	return out
}

func writeModelSheet(wb *Workbook, name string) {
	sh := wb.AddSheet(name, true)
	switch name {
	case "DCF":
		writeDCF(sh)
	case "WACC":
		writeWACC(sh)
	case "LBO":
		writeLBO(sh)
	case "DEBT":
		writeDebt(sh)
	case "IS":
		writeIS(sh)
	case "BS":
		writeBS(sh)
	case "CF":
		writeCF(sh)
	case "BUDGET":
		writeBudget(sh)
	case "VARIANCE":
		writeVariance(sh)
	}
	finish(sh)
}

func labels(sh *Sheet, rows map[int]string) {
	for row, label := range rows {
		sh.Set(fmt.Sprintf("A%d", row), text(label))
	}
}

func writeDCF(sh *Sheet) {
	sh.Set("A1", text("Discounted cash flow"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Revenue", 6: "EBITDA", 7: "D&A", 8: "EBIT", 9: "Taxes", 10: "Capex",
		11: "Unlevered free cash flow", 12: "Discount factor", 13: "PV of FCF",
		15: "Sum of PV", 16: "Terminal value", 17: "PV of terminal value",
		18: "Enterprise value", 19: "Net debt", 20: "Equity value", 21: "Value per share",
		22: "Enterprise value (exit multiple)",
	})
	sh.Set("B5", formula("%s", in(finance.BaseRevenue)))
	sh.Set("B6", formula("%s", in(finance.BaseEBITDA)))
	for i, c := range years {
		sh.Set(c+"5", formula("%s5*(1+%s)", prev(i), sel(finance.GrowthDrivers[i])))
		sh.Set(c+"6", formula("%s5*%s", c, sel(finance.DriverEBITDAMargin)))
		sh.Set(c+"7", formula("%s5*%s", c, in(finance.DAPct)))
		sh.Set(c+"8", formula("%s6-%s7", c, c))
		sh.Set(c+"9", formula("MAX(0,%s8*%s)", c, in(finance.TaxRate)))
		sh.Set(c+"10", formula("%s5*%s", c, in(finance.CapexPct)))
		sh.Set(c+"11", formula("%s8-%s9+%s7-%s10", c, c, c, c))
		sh.Set(c+"12", formula("1/(1+WACC!$C$9)^%s$4", c))
		sh.Set(c+"13", formula("%s11*%s12", c, c))
	}
	sh.Set("C15", formula("SUM(C13:G13)"))
	sh.Set("C16", formula("G11*(1+%s)/(WACC!$C$9-%s)", sel(finance.DriverTerminalGrowth), sel(finance.DriverTerminalGrowth)))
	sh.Set("C17", formula("C16*G12"))
	sh.Set("C18", formula("C15+C17"))
	sh.Set("C19", formula("%s", in(finance.NetDebt)))
	sh.Set("C20", formula("C18-C19"))
	sh.Set("C21", formula("IF(%s=0,0,C20/%s)", in(finance.SharesOut), in(finance.SharesOut)))
	sh.Set("C22", formula("G6*%s*G12", sel(finance.DriverExitMultiple)))
}

func writeWACC(sh *Sheet) {
	sh.Set("A1", text("Weighted average cost of capital"))
	labels(sh, map[int]string{
		5: "Cost of equity", 6: "After-tax cost of debt", 7: "Equity weight", 8: "Debt weight", 9: "WACC",
	})
	mcap, debt := in(finance.MarketCap), in(finance.TotalDebt)
	sh.Set("C5", formula("%s+%s*%s", in(finance.RiskFree), in(finance.Beta), in(finance.EquityRisk)))
	sh.Set("C6", formula("%s*(1-%s)", in(finance.CostOfDebt), in(finance.TaxRate)))
	sh.Set("C7", formula("IF(%s+%s=0,1,%s/(%s+%s))", mcap, debt, mcap, mcap, debt))
	sh.Set("C8", formula("1-C7"))
	sh.Set("C9", formula("C5*C7+C6*C8"))
}

func writeLBO(sh *Sheet) {
	sh.Set("A1", text("Leveraged buyout"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Entry EBITDA", 6: "Entry enterprise value", 7: "Senior debt", 8: "Subordinated debt", 9: "Sponsor equity",
		12: "Revenue", 13: "EBITDA", 14: "Capex", 15: "Interest", 16: "Taxes", 17: "Cash available for debt paydown",
		19: "Exit enterprise value", 20: "Debt at exit", 21: "Exit equity", 22: "MOIC", 23: "IRR",
	})
	sh.Set("B5", formula("%s", in(finance.BaseEBITDA)))
	sh.Set("B6", formula("B5*%s", in(finance.EntryMultiple)))
	sh.Set("B7", formula("B5*%s", in(finance.SeniorLeverage)))
	sh.Set("B8", formula("B5*%s", in(finance.SubLeverage)))
	sh.Set("B9", formula("B6-B7-B8"))

	sh.Set("B12", formula("%s", in(finance.BaseRevenue)))
	for i, c := range years {
		sh.Set(c+"12", formula("%s12*(1+%s)", prev(i), sel(finance.GrowthDrivers[i])))
		sh.Set(c+"13", formula("%s12*%s", c, sel(finance.DriverEBITDAMargin)))
		sh.Set(c+"14", formula("%s12*%s", c, in(finance.CapexPct)))
		sh.Set(c+"15", formula("DEBT!%s7", c))
		sh.Set(c+"16", formula("MAX(0,(%s13-%s12*%s-%s15)*%s)", c, c, in(finance.DAPct), c, in(finance.TaxRate)))
		sh.Set(c+"17", formula("%s13-%s14-%s15-%s16", c, c, c, c))
	}
	sh.Set("B19", formula("G13*%s", sel(finance.DriverExitMultiple)))
	sh.Set("B20", formula("DEBT!G10"))
	sh.Set("B21", formula("B19-B20"))
	sh.Set("B22", formula("IF(B9=0,0,B21/B9)"))
	sh.Set("B23", formula("IF(B22<=0,0,B22^(1/$G$4)-1)"))
}

func writeDebt(sh *Sheet) {
	sh.Set("A1", text("Debt schedule"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Opening senior", 6: "Opening subordinated", 7: "Interest",
		8: "Closing senior", 9: "Closing subordinated", 10: "Closing total debt",
	})
	for i, c := range years {
		if i == 0 {
			sh.Set(c+"5", formula("LBO!$B$7"))
			sh.Set(c+"6", formula("LBO!$B$8"))
		} else {
			sh.Set(c+"5", formula("%s8", prev(i)))
			sh.Set(c+"6", formula("%s9", prev(i)))
		}
		sh.Set(c+"7", formula("%s5*%s+%s6*%s", c, in(finance.SeniorRate), c, in(finance.SubRate)))
		sh.Set(c+"8", formula("MAX(0,%s5-MAX(0,LBO!%s17))", c, c))
		sh.Set(c+"9", formula("MAX(0,%s6-MAX(0,MAX(0,LBO!%s17)-%s5))", c, c, c))
		sh.Set(c+"10", formula("%s8+%s9", c, c))
	}
}

func writeIS(sh *Sheet) {
	sh.Set("A1", text("Income statement"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Revenue", 6: "EBITDA", 7: "D&A", 8: "EBIT", 9: "Interest", 10: "Pre-tax income", 11: "Taxes", 12: "Net income",
	})
	sh.Set("B5", formula("%s", in(finance.BaseRevenue)))
	sh.Set("B6", formula("%s", in(finance.BaseEBITDA)))
	for i, c := range years {
		sh.Set(c+"5", formula("%s5*(1+%s)", prev(i), sel(finance.GrowthDrivers[i])))
		sh.Set(c+"6", formula("%s5*%s", c, sel(finance.DriverEBITDAMargin)))
		sh.Set(c+"7", formula("%s5*%s", c, in(finance.DAPct)))
		sh.Set(c+"8", formula("%s6-%s7", c, c))
		sh.Set(c+"9", formula("%s*%s", in(finance.TotalDebt), in(finance.CostOfDebt)))
		sh.Set(c+"10", formula("%s8-%s9", c, c))
		sh.Set(c+"11", formula("MAX(0,%s10*%s)", c, in(finance.TaxRate)))
		sh.Set(c+"12", formula("%s10-%s11", c, c))
	}
}

func writeBS(sh *Sheet) {
	sh.Set("A1", text("Balance sheet"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Receivables", 6: "Inventory", 7: "Payables", 8: "Net working capital", 9: "Debt", 10: "Cash",
	})
	days := in(finance.DaysInYear)
	for i, c := range append([]string{"B"}, years...) {
		src := "IS!" + c
		sh.Set(c+"5", formula("%s5*%s/%s", src, in(finance.DSO), days))
		sh.Set(c+"6", formula("(%s5-%s6)*%s/%s", src, src, in(finance.DIO), days))
		sh.Set(c+"7", formula("(%s5-%s6)*%s/%s", src, src, in(finance.DPO), days))
		sh.Set(c+"8", formula("%s5+%s6-%s7", c, c, c))
		sh.Set(c+"9", formula("%s", in(finance.TotalDebt)))
		if i == 0 {
			sh.Set(c+"10", formula("%s", in(finance.CashBalance)))
			continue
		}
		sh.Set(c+"10", formula("%s10+CF!%s10", prev(i-1), c))
	}
}

func writeCF(sh *Sheet) {
	sh.Set("A1", text("Cash flow statement"))
	yearHeader(sh)
	labels(sh, map[int]string{
		5: "Net income", 6: "D&A", 7: "Change in working capital", 8: "Cash from operations", 9: "Capex", 10: "Net cash flow",
	})
	for i, c := range years {
		sh.Set(c+"5", formula("IS!%s12", c))
		sh.Set(c+"6", formula("IS!%s7", c))
		sh.Set(c+"7", formula("BS!%s8-BS!%s8", c, prev(i)))
		sh.Set(c+"8", formula("%s5+%s6-%s7", c, c, c))
		sh.Set(c+"9", formula("IS!%s5*%s", c, in(finance.CapexPct)))
		sh.Set(c+"10", formula("%s8-%s9", c, c))
	}
}

var quarters = []string{"C", "D", "E", "F"}

var quarterWeights = []string{finance.Q1Weight, finance.Q2Weight, finance.Q3Weight, finance.Q4Weight}

func writeBudget(sh *Sheet) {
	sh.Set("A1", text("Annual budget"))
	sh.Set("A4", text("Quarter"))
	for i, c := range quarters {
		sh.Set(c+"4", num(float64(i+1)))
	}
	sh.Set("G4", text("FY"))
	labels(sh, map[int]string{5: "Revenue", 6: "EBITDA", 7: "Operating costs"})
	for i, c := range quarters {
		sh.Set(c+"5", formula("%s*(1+%s)*%s", in(finance.BaseRevenue), sel(finance.DriverGrowthY1), in(quarterWeights[i])))
		sh.Set(c+"6", formula("%s5*%s", c, sel(finance.DriverEBITDAMargin)))
		sh.Set(c+"7", formula("%s5-%s6", c, c))
	}
	for _, row := range []int{5, 6, 7} {
		sh.Set(fmt.Sprintf("G%d", row), formula("SUM(C%d:F%d)", row, row))
	}
}

func writeVariance(sh *Sheet) {
	sh.Set("A1", text("Budget vs actual"))
	sh.Set("A4", text("Quarter"))
	for i, c := range quarters {
		sh.Set(c+"4", num(float64(i+1)))
	}
	labels(sh, map[int]string{
		5: "Budget revenue", 6: "Actual revenue", 7: "Variance", 8: "Variance %",
		10: "Budget EBITDA", 11: "Actual EBITDA", 12: "Variance", 13: "Variance %",
	})
	for _, block := range []struct{ top, src int }{{5, 5}, {10, 6}} {
		for _, c := range quarters {
			b, a, v, p := block.top, block.top+1, block.top+2, block.top+3
			sh.Set(fmt.Sprintf("%s%d", c, b), formula("BUDGET!%s%d", c, block.src))
			sh.Set(fmt.Sprintf("%s%d", c, a), input(0))
			sh.Set(fmt.Sprintf("%s%d", c, v), formula("%s%d-%s%d", c, a, c, b))
			sh.Set(fmt.Sprintf("%s%d", c, p), formula("IF(%s%d=0,0,%s%d/%s%d)", c, b, c, v, c, b))
		}
	}
}

func writeScenarios(wb *Workbook) {
	sh := wb.AddSheet(Scenarios, false)
	sh.Set("A1", text("Scenarios"))
	sh.Set("A2", text("Active scenario"))
	sh.Set("B2", formula("%s!%s", Assumptions, selectorCell))
	sh.Set("A4", text("Driver"))
	sh.Set("B4", text(string(finance.Bear)))
	sh.Set("C4", text(string(finance.Base)))
	sh.Set("D4", text(string(finance.Bull)))
	for i, key := range drivers {
		row := firstDriver + i
		src := driverRow(key)
		sh.Set(fmt.Sprintf("A%d", row), text(key))
		for _, c := range []string{"B", "C", "D"} {
			sh.Set(fmt.Sprintf("%s%d", c, row), formula("%s!%s%d", Assumptions, c, src))
		}
	}
	notes := 5 + len(drivers) + 2
	if wb.req != nil {
		for i, note := range wb.req.Scenarios.Notes {
			sh.Set(fmt.Sprintf("A%d", notes+i), text(note))
		}
	}
	finish(sh)
}

func writeComps(wb *Workbook) {
	sh := wb.AddSheet(Comps, false)
	sh.Set("A1", text("Comparable companies"))
	for c, h := range map[string]string{"A": "Company", "B": "Ticker", "C": "Market cap", "D": "EV/EBITDA", "E": "P/E", "F": "EBITDA margin"} {
		sh.Set(c+"4", text(h))
	}
	var peers []finance.Peer
	if wb.req != nil {
		peers = wb.req.Company.Peers
	}
	row := 5
	for _, p := range peers {
		sh.Set(fmt.Sprintf("A%d", row), text(p.Name))
		sh.Set(fmt.Sprintf("B%d", row), text(p.Ticker))
		sh.Set(fmt.Sprintf("C%d", row), input(p.MarketCap))
		sh.Set(fmt.Sprintf("D%d", row), input(p.EVEBITDA))
		sh.Set(fmt.Sprintf("E%d", row), input(p.PE))
		sh.Set(fmt.Sprintf("F%d", row), input(p.EBITDAMargin))
		row++
	}
	if row > 5 {
		sh.Set(fmt.Sprintf("A%d", row+1), text("Median"))
		for _, c := range []string{"C", "D", "E", "F"} {
			sh.Set(fmt.Sprintf("%s%d", c, row+1), formula("MEDIAN(%s5:%s%d)", c, c, row-1))
		}
	}
	finish(sh)
}

// dashboardSource names the sheet and rows the dashboard charts for a model.
type dashboardSource struct {
	sheet        string
	revenue      int
	ebitda       int
	cols         []string
	headlineRefs [][2]string
}

func sourceFor(model finance.ModelType) dashboardSource {
	switch model {
	case finance.LBO:
		return dashboardSource{"LBO", 12, 13, years, [][2]string{
			{"Entry enterprise value", "LBO!B6"}, {"Exit equity", "LBO!B21"}, {"MOIC", "LBO!B22"}, {"IRR", "LBO!B23"},
		}}
	case finance.ThreeStatement:
		return dashboardSource{"IS", 5, 6, years, [][2]string{
			{"Net income (year 5)", "IS!G12"}, {"Closing cash (year 5)", "BS!G10"}, {"Net working capital (year 5)", "BS!G8"},
		}}
	case finance.FPA:
		return dashboardSource{"BUDGET", 5, 6, quarters, [][2]string{
			{"Budget revenue", "BUDGET!G5"}, {"Budget EBITDA", "BUDGET!G6"},
		}}
	}
	return dashboardSource{"DCF", 5, 6, years, [][2]string{
		{"Enterprise value", "DCF!C18"}, {"Equity value", "DCF!C20"}, {"Value per share", "DCF!C21"}, {"WACC", "WACC!C9"},
	}}
}

func writeDashboard(wb *Workbook) {
	sh := wb.AddSheet(Dashboard, false)
	src := sourceFor(wb.Model)
	sh.Set("A1", text(wb.Company+" dashboard"))
	sh.Set("A5", text("Period"))
	sh.Set("A6", text("Revenue"))
	sh.Set("A7", text("EBITDA"))
	for _, c := range src.cols {
		sh.Set(c+"5", formula("%s!%s4", src.sheet, c))
		sh.Set(c+"6", formula("%s!%s%d", src.sheet, c, src.revenue))
		sh.Set(c+"7", formula("%s!%s%d", src.sheet, c, src.ebitda))
	}
	for i, h := range src.headlineRefs {
		sh.Set(fmt.Sprintf("A%d", 10+i), text(h[0]))
		sh.Set(fmt.Sprintf("C%d", 10+i), formula("%s", h[1]))
	}
	sh.Charts = []Chart{defaultChart(wb)}
	finish(sh)
}

func defaultChart(wb *Workbook) Chart {
	src := sourceFor(wb.Model)
	first, last := src.cols[0], src.cols[len(src.cols)-1]
	cats := fmt.Sprintf("%s!$%s$5:$%s$5", Dashboard, first, last)
	return Chart{
		Anchor: "B16",
		Title:  wb.Company + " revenue and EBITDA",
		Series: []ChartSeries{
			{Name: "Revenue", Categories: cats, Values: fmt.Sprintf("%s!$%s$6:$%s$6", Dashboard, first, last)},
			{Name: "EBITDA", Categories: cats, Values: fmt.Sprintf("%s!$%s$7:$%s$7", Dashboard, first, last)},
		},
	}
}
