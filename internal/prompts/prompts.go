package prompts

import (
	"fmt"
	"strings"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

const AnalystSystem = "You are a CFA charterholder and senior equity analyst. " +
	"You choose the financial model best suited to a company and explain the choice in plain language. " +
	"Respond only with JSON."

const ChatSystem = "You are a CFA charterholder answering questions about a company's financials. " +
	"Be concise, cite the numbers you were given, and say so when data is missing."

// Recommendation asks for a model choice as JSON:
// {"model_type": "...", "reasoning": "...", "confidence": "high|medium|low"}.
func Recommendation(c finance.CompanyData, m finance.KeyMetrics, hint finance.ModelType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s), sector %s, currency %s, figures in %s.\n", c.Name, c.Ticker, orNA(c.Sector), c.Currency, c.Unit)
	b.WriteString(Facts(c))
	fmt.Fprintf(&b, "Revenue CAGR: %.1f%%. Average EBITDA margin: %.1f%%. Margin spread: %.1fpp. Debt/EBITDA: %.2fx.\n",
		m.RevenueCAGR*100, m.AvgEBITDAMargin*100, m.MarginSpread*100, m.DebtToEBITDA)
	if hint != "" {
		fmt.Fprintf(&b, "The user asked for a %s model; prefer it unless clearly unsuitable.\n", hint.Label())
	}
	b.WriteString("Choose one of DCF, LBO, ThreeStatement, FPA. ")
	b.WriteString(`Reply as {"model_type": "...", "reasoning": "two or three sentences", "confidence": "high|medium|low"}.`)
	return b.String()
}

// Question wraps a user question with the company context, if any.
func Question(question string, c *finance.CompanyData) string {
	if c == nil {
		return question
	}
	return fmt.Sprintf("Context for %s (%s, figures in %s %s):\n%s\nQuestion: %s",
		c.Name, c.Ticker, c.Currency, c.Unit, Facts(*c), question)
}

// Facts renders the fact lines shared by every analyst prompt.
func Facts(c finance.CompanyData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market cap: %.0f. Total debt: %.0f. Cash: %.0f. Beta: %.2f.\n", c.MarketCap, c.TotalDebt, c.Cash, c.Beta)
	fmt.Fprintf(&b, "Revenue (latest first): %s\n", joinSeries(c.Revenue))
	fmt.Fprintf(&b, "EBITDA (latest first): %s\n", joinSeries(c.EBITDA))
	if len(c.Peers) > 0 {
		names := make([]string, 0, len(c.Peers))
		for _, p := range c.Peers {
			names = append(names, p.Name)
		}
		fmt.Fprintf(&b, "Peers: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}

func joinSeries(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.0f", x)
	}
	return strings.Join(parts, ", ")
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
