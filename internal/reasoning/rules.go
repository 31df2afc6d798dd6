package reasoning

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

// Thresholds for the deterministic selection rules.
const (
	highLeverage    = 3.0
	lowLeverage     = 2.0
	stableSpreadMax = 0.10
	RulesEngine     = "rules"
)

// Rules is the deterministic reasoner used as fallback and as an engine in
// its own right when no model server is configured.
type Rules struct{}

func (Rules) Name() string { return RulesEngine }

// Classify applies the selection rules: high leverage -> LBO; stable cash
// flow with low leverage -> DCF; otherwise ThreeStatement.
func Classify(m finance.KeyMetrics, c finance.CompanyData) finance.ModelType {
	switch {
	case m.DebtToEBITDA > highLeverage:
		return finance.LBO
	case len(c.EBITDA) > 0 && c.EBITDA[0] > 0 && m.MarginSpread <= stableSpreadMax && m.DebtToEBITDA <= lowLeverage:
		return finance.DCF
	}
	return finance.ThreeStatement
}

func (Rules) Recommend(_ context.Context, c finance.CompanyData, hint finance.ModelType) (*finance.Recommendation, error) {
	m := finance.Metrics(c)
	mt := Classify(m, c)
	confidence := "medium"
	if hint.Valid() {
		if hint == mt {
			confidence = "high"
		}
		mt = hint
	}
	return &finance.Recommendation{
		Type:       mt,
		Narrative:  Narrate(mt, m, c),
		Metrics:    m,
		Confidence: confidence,
		Source:     RulesEngine,
	}, nil
}

func (Rules) Ask(_ context.Context, question string, c *finance.CompanyData) (string, error) {
	if c == nil {
		return "No company has been researched in this session yet. Submit a research request first.", nil
	}
	m := finance.Metrics(*c)
	return fmt.Sprintf("%s (%s): revenue CAGR %.1f%%, average EBITDA margin %.1f%%, debt/EBITDA %s, net debt %.0f %s %s. "+
		"Ask a model-backed engine for a narrative answer to %q.",
		c.Name, c.Ticker, m.RevenueCAGR*100, m.AvgEBITDAMargin*100, leverage(m.DebtToEBITDA),
		c.NetDebt(), c.Currency, c.Unit, question), nil
}

// Narrate explains a model choice in analyst language.
func Narrate(mt finance.ModelType, m finance.KeyMetrics, c finance.CompanyData) string {
	var b strings.Builder
	switch mt {
	case finance.DCF:
		fmt.Fprintf(&b, "%s converts earnings to cash predictably: EBITDA margins held within %.1fpp around %.1f%% and leverage is %s. ",
			c.Name, m.MarginSpread*100, m.AvgEBITDAMargin*100, leverage(m.DebtToEBITDA))
		b.WriteString("Intrinsic value is best captured by discounting projected free cash flow.")
	case finance.LBO:
		fmt.Fprintf(&b, "%s carries debt of %s EBITDA, so returns depend on the capital structure. ",
			c.Name, leverage(m.DebtToEBITDA))
		b.WriteString("An LBO model tests debt paydown capacity and sponsor returns under entry and exit multiples.")
	case finance.FPA:
		fmt.Fprintf(&b, "An FP&A model gives %s a quarterly operating plan with budget-versus-actual tracking. ", c.Name)
		fmt.Fprintf(&b, "Revenue has compounded at %.1f%% a year.", m.RevenueCAGR*100)
	default:
		fmt.Fprintf(&b, "%s shows margin swings of %.1fpp and leverage of %s, so cash flows are not yet stable enough for a standalone DCF. ",
			c.Name, m.MarginSpread*100, leverage(m.DebtToEBITDA))
		b.WriteString("A linked three-statement model shows how operations flow through the balance sheet and cash flow.")
	}
	return b.String()
}

func leverage(x float64) string {
	if math.IsInf(x, 1) {
		return "n/m (negative EBITDA)"
	}
	return fmt.Sprintf("%.1fx", x)
}
