package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
)

// MinHistory is the shortest history a trend is estimated from.
const MinHistory = 3

const (
	defaultGrowth = 0.08
	defaultMargin = 0.22
	minGrowth     = -0.10
	maxGrowth     = 0.40
	minMargin     = 0.05
	maxMargin     = 0.60

	growthBandPct   = 0.30
	growthBandFloor = 0.01
	marginBand      = 0.02
	terminalBand    = 0.005
	exitBand        = 1.0

	lboExitMultiple = 9.5
	defaultBeta     = 1.1
)

var decay = []float64{1, 0.95, 0.9, 0.85, 0.8}

// Planning derives Bull/Base/Bear driver sets from the company history.
// It never fails the group: short histories fall back to canonical defaults.
type Planning struct{}

func NewPlanning() *Planning { return &Planning{} }

func (p *Planning) Name() string { return "planning" }

func (p *Planning) Run(_ context.Context, in *Snapshot, log Emitter) (Patch, error) {
	s := in.Session
	if s.Company == nil || s.Recommendation == nil {
		return Patch{}, Fatal(finance.Internal, errors.New("planning needs company data and a recommendation"))
	}
	emitf(log, logbus.Thinking, "Estimating drivers from %d years of history", s.Company.Years())

	set := Plan(*s.Company, s.Recommendation.Type)
	if set.UsedDefaults {
		metrics.Errors.WithLabelValues(p.Name(), string(finance.InsufficientHistory)).Inc()
		emitf(log, logbus.Warning, "%s: %d of %d years available; using default bands",
			finance.InsufficientHistory, s.Company.Years(), MinHistory)
	}
	for _, m := range set.Missing {
		emitf(log, logbus.Info, "Missing %s; see scenario notes", m)
	}

	base := set.Base.Values
	emitf(log, logbus.Success, "Base case: %.1f%% growth, %.1f%% EBITDA margin, %.1f%% terminal growth",
		base[finance.DriverGrowthY1]*100, base[finance.DriverEBITDAMargin]*100, base[finance.DriverTerminalGrowth]*100)
	return Patch{Scenarios: &set}, nil
}

// Plan computes the scenario set for c. Every driver satisfies Bear <= Base <= Bull.
func Plan(c finance.CompanyData, model finance.ModelType) finance.ScenarioSet {
	set := finance.ScenarioSet{Assumptions: assumptionsFor(c, model)}

	growth, margin := defaultGrowth, defaultMargin
	if c.Years() >= MinHistory {
		if g, ok := finance.CAGR(c.Revenue[:c.Years()]); ok {
			growth = finance.Clamp(g, minGrowth, maxGrowth)
			set.Notes = append(set.Notes, fmt.Sprintf("Revenue growth starts at the %d-year CAGR of %.1f%% and decelerates.", c.Years()-1, growth*100))
		} else {
			set.Notes = append(set.Notes, fmt.Sprintf("Revenue CAGR undefined; growth defaults to %.0f%%.", defaultGrowth*100))
		}
		if ms := finance.Margins(c); len(ms) > 0 {
			margin = finance.Clamp(finance.Mean(ms), minMargin, maxMargin)
			set.Notes = append(set.Notes, fmt.Sprintf("EBITDA margin is the %d-year average of %.1f%%.", len(ms), margin*100))
		}
	} else {
		set.UsedDefaults = true
		set.Notes = append(set.Notes, fmt.Sprintf("History shorter than %d years; canonical growth of %.0f%% and margin of %.0f%% used.",
			MinHistory, defaultGrowth*100, defaultMargin*100))
	}

	terminal := 0.025
	if c.Currency == "INR" {
		terminal = 0.055
	}
	exit := finance.Clamp(margin*60+6, 6, 30)
	if model == finance.LBO {
		exit = lboExitMultiple
	}

	base := map[string]float64{
		finance.DriverEBITDAMargin:   margin,
		finance.DriverTerminalGrowth: terminal,
		finance.DriverExitMultiple:   exit,
	}
	for i, key := range finance.GrowthDrivers {
		base[key] = growth * decay[i]
	}

	bands := map[string]float64{
		finance.DriverEBITDAMargin:   marginBand,
		finance.DriverTerminalGrowth: terminalBand,
		finance.DriverExitMultiple:   exitBand,
	}
	for _, key := range finance.GrowthDrivers {
		bands[key] = math.Max(math.Abs(base[key])*growthBandPct, growthBandFloor)
	}

	bull := make(map[string]float64, len(base))
	bear := make(map[string]float64, len(base))
	for k, v := range base {
		bull[k] = v + bands[k]
		bear[k] = v - bands[k]
	}
	set.Base = finance.Scenario{Name: finance.Base, Values: base}
	set.Bull = finance.Scenario{Name: finance.Bull, Values: bull}
	set.Bear = finance.Scenario{Name: finance.Bear, Values: bear}

	set.Missing, set.Notes = missingFields(c, set.Notes)
	return set
}

func missingFields(c finance.CompanyData, notes []string) ([]string, []string) {
	var missing []string
	if c.Beta == 0 {
		missing = append(missing, "beta")
		notes = append(notes, fmt.Sprintf("Beta unavailable; %.1f assumed.", defaultBeta))
	}
	if c.SharesOut == 0 {
		missing = append(missing, "shares_out")
		notes = append(notes, "Shares outstanding unavailable; per-share value reads 0.")
	}
	if c.TotalDebt == 0 && c.Cash == 0 {
		missing = append(missing, "net_debt")
		notes = append(notes, "Debt and cash unavailable; net debt assumed 0.")
	}
	return missing, notes
}

func assumptionsFor(c finance.CompanyData, model finance.ModelType) map[string]float64 {
	inr := c.Currency == "INR"
	pick := func(in, other float64) float64 {
		if inr {
			return in
		}
		return other
	}

	a := map[string]float64{
		finance.TaxRate:    pick(0.25, 0.21),
		finance.DAPct:      0.04,
		finance.CapexPct:   capexPct(c),
		finance.DaysInYear: 365,
		finance.CostOfDebt: pick(0.09, 0.06),
	}
	switch model {
	case finance.DCF:
		beta := c.Beta
		if beta == 0 {
			beta = defaultBeta
		}
		a[finance.RiskFree] = pick(0.07, 0.043)
		a[finance.EquityRisk] = pick(0.06, 0.055)
		a[finance.Beta] = beta
	case finance.LBO:
		a[finance.EntryMultiple] = 8.5
		a[finance.SeniorLeverage] = 4
		a[finance.SubLeverage] = 1.5
		a[finance.SeniorRate] = pick(0.10, 0.08)
		a[finance.SubRate] = pick(0.13, 0.11)
	case finance.ThreeStatement:
		a[finance.DSO] = 45
		a[finance.DIO] = 60
		a[finance.DPO] = 30
	case finance.FPA:
		a[finance.Q1Weight] = 0.22
		a[finance.Q2Weight] = 0.24
		a[finance.Q3Weight] = 0.26
		a[finance.Q4Weight] = 0.28
	}
	return a
}

// capexPct is the average capex/revenue ratio, 5% when capex is not reported.
func capexPct(c finance.CompanyData) float64 {
	var ratios []float64
	for i, cx := range c.Capex {
		if i < len(c.Revenue) && c.Revenue[i] > 0 {
			ratios = append(ratios, math.Abs(cx)/c.Revenue[i])
		}
	}
	if len(ratios) == 0 {
		return 0.05
	}
	return finance.Clamp(finance.Mean(ratios), 0, 0.5)
}
