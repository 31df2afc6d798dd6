package finance

import "math"

// CAGR computes compound growth between the oldest and newest points of a
// most-recent-first series. ok is false when fewer than two positive points exist.
func CAGR(series []float64) (float64, bool) {
	if len(series) < 2 {
		return 0, false
	}
	latest, oldest := series[0], series[len(series)-1]
	if latest <= 0 || oldest <= 0 {
		return 0, false
	}
	periods := float64(len(series) - 1)
	return math.Pow(latest/oldest, 1/periods) - 1, true
}

// Margins returns EBITDA/revenue per year, skipping years with no revenue.
func Margins(c CompanyData) []float64 {
	n := c.Years()
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if c.Revenue[i] <= 0 {
			continue
		}
		out = append(out, c.EBITDA[i]/c.Revenue[i])
	}
	return out
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Spread is max-min of xs.
func Spread(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return hi - lo
}

// DebtToEBITDA uses the latest EBITDA. Non-positive EBITDA with debt
// outstanding reads as infinitely levered.
func DebtToEBITDA(c CompanyData) float64 {
	if len(c.EBITDA) == 0 || c.EBITDA[0] <= 0 {
		if c.TotalDebt > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return c.TotalDebt / c.EBITDA[0]
}

// Metrics derives the key ratios used by analysis and planning.
func Metrics(c CompanyData) KeyMetrics {
	margins := Margins(c)
	cagr, _ := CAGR(c.Revenue)
	return KeyMetrics{
		RevenueCAGR:     cagr,
		AvgEBITDAMargin: Mean(margins),
		DebtToEBITDA:    DebtToEBITDA(c),
		MarginSpread:    Spread(margins),
	}
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
