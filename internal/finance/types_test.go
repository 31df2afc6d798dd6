package finance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelType(t *testing.T) {
	cases := []struct {
		in   string
		want ModelType
	}{
		{"DCF", DCF},
		{"dcf", DCF},
		{"LBO", LBO},
		{"3-Statement", ThreeStatement},
		{"three statement", ThreeStatement},
		{"ThreeStatement", ThreeStatement},
		{"FP&A", FPA},
		{"fpa", FPA},
	}
	for _, tc := range cases {
		got, err := ParseModelType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseModelType("black-scholes")
	assert.ErrorIs(t, err, ErrInvalidModel)
	assert.False(t, ModelType("").Valid())
	assert.Equal(t, "3-Statement", ThreeStatement.Label())
}

func TestCAGR(t *testing.T) {
	got, ok := CAGR([]float64{121, 110, 100})
	require.True(t, ok)
	assert.InDelta(t, 0.10, got, 1e-9)

	_, ok = CAGR([]float64{100})
	assert.False(t, ok)
	_, ok = CAGR([]float64{100, 0})
	assert.False(t, ok)
}

func TestMetrics(t *testing.T) {
	c := CompanyData{
		Revenue:   []float64{200, 180, 160},
		EBITDA:    []float64{50, 45, 40},
		TotalDebt: 100,
	}
	m := Metrics(c)
	assert.InDelta(t, 0.25, m.AvgEBITDAMargin, 1e-9)
	assert.InDelta(t, 2.0, m.DebtToEBITDA, 1e-9)
	assert.InDelta(t, 0.0, m.MarginSpread, 1e-9)

	c.EBITDA[0] = -5
	assert.True(t, math.IsInf(DebtToEBITDA(c), 1))
}

func TestScenarioSetOrderedAndClone(t *testing.T) {
	s := &ScenarioSet{
		Bull: Scenario{Name: Bull, Values: map[string]float64{DriverEBITDAMargin: 0.27}},
		Base: Scenario{Name: Base, Values: map[string]float64{DriverEBITDAMargin: 0.25}},
		Bear: Scenario{Name: Bear, Values: map[string]float64{DriverEBITDAMargin: 0.23}},
	}
	assert.True(t, s.Ordered())

	c := s.Clone()
	c.Bull.Values[DriverEBITDAMargin] = 0.1
	assert.False(t, c.Ordered())
	assert.True(t, s.Ordered(), "clone must not alias the original maps")
}
