package workbook

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

func request(model finance.ModelType, peers bool) Request {
	c := finance.CompanyData{
		Name: "Infosys Ltd", Ticker: "INFY.NS", Currency: "INR", Unit: "Cr", Source: "fixtures",
		MarketCap: 600000, TotalDebt: 8000, Cash: 30000, SharesOut: 415,
		Revenue: []float64{153670, 146767, 121641}, EBITDA: []float64{37000, 35000, 30000},
	}
	if peers {
		c.Peers = []finance.Peer{
			{Name: "TCS", Ticker: "TCS.NS", MarketCap: 1300000, EVEBITDA: 22, PE: 30, EBITDAMargin: 0.27},
			{Name: "Wipro", Ticker: "WIPRO.NS", MarketCap: 250000, EVEBITDA: 14, PE: 22, EBITDAMargin: 0.2},
		}
	}
	values := func(g float64) map[string]float64 {
		return map[string]float64{
			finance.DriverGrowthY1: g, finance.DriverGrowthY2: g, finance.DriverGrowthY3: g,
			finance.DriverGrowthY4: g, finance.DriverGrowthY5: g, finance.DriverEBITDAMargin: 0.24,
			finance.DriverTerminalGrowth: 0.05, finance.DriverExitMultiple: 20,
		}
	}
	return Request{
		Model:   model,
		Company: c,
		Scenarios: finance.ScenarioSet{
			Bear:        finance.Scenario{Name: finance.Bear, Values: values(0.05)},
			Base:        finance.Scenario{Name: finance.Base, Values: values(0.08)},
			Bull:        finance.Scenario{Name: finance.Bull, Values: values(0.11)},
			Assumptions: map[string]float64{finance.TaxRate: 0.25, finance.DaysInYear: 365},
			Notes:       []string{"Growth from 3-year CAGR."},
		},
	}
}

func TestBuildSheetsPerModel(t *testing.T) {
	b := NewBuilder()
	for model, sheets := range ModelSheets {
		wb, err := b.Build(context.Background(), request(model, true))
		require.NoError(t, err, model)
		names := wb.SheetNames()
		for _, want := range append(append([]string{}, RequiredSheets...), sheets...) {
			assert.Contains(t, names, want, model)
		}
		assert.Contains(t, names, Scenarios)
		assert.Contains(t, names, Comps)
		for _, sh := range wb.Sheets() {
			assert.False(t, sh.ShowGridLines, sh.Name)
			if sh.Model {
				assert.Equal(t, DefaultFreeze, sh.Freeze, sh.Name)
			}
		}
	}
}

func TestBuildWithoutPeersOmitsComps(t *testing.T) {
	wb, err := NewBuilder().Build(context.Background(), request(finance.DCF, false))
	require.NoError(t, err)
	_, ok := wb.Sheet(Comps)
	assert.False(t, ok)
	assert.False(t, wb.HasPeers())
}

func TestBuildFormulasCarryNoLiterals(t *testing.T) {
	b := NewBuilder()
	for model := range ModelSheets {
		wb, err := b.Build(context.Background(), request(model, true))
		require.NoError(t, err)
		for _, sh := range wb.Sheets() {
			for ref, c := range sh.Cells {
				if c.Formula == "" {
					continue
				}
				assert.Empty(t, Literals(c.Formula), "%s!%s %s", sh.Name, ref, c.Formula)
				for _, name := range SheetRefs(c.Formula) {
					_, ok := wb.Sheet(name)
					assert.True(t, ok, "%s!%s references missing sheet %s", sh.Name, ref, name)
				}
				if c.Input {
					assert.True(t, c.Styled)
				}
			}
		}
	}
}

func TestBuildRejectsBadRequests(t *testing.T) {
	b := NewBuilder()
	req := request(finance.DCF, false)
	req.Model = "Monte Carlo"
	_, err := b.Build(context.Background(), req)
	assert.ErrorIs(t, err, finance.ErrInvalidModel)

	req = request(finance.DCF, false)
	req.Company.Revenue = nil
	_, err = b.Build(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestOverridesReplaceBaseAndAssumptions(t *testing.T) {
	req := request(finance.DCF, false)
	req.Overrides = map[string]float64{finance.DriverGrowthY1: 0.15, finance.TaxRate: 0.3}
	wb, err := NewBuilder().Build(context.Background(), req)
	require.NoError(t, err)

	sh, _ := wb.Sheet(Assumptions)
	bear, _ := sh.Get("B5")
	base, _ := sh.Get("C5")
	bull, _ := sh.Get("D5")
	assert.Equal(t, 0.15, base.Value)
	assert.InDelta(t, 0.12, bear.Value.(float64), 1e-9)
	assert.InDelta(t, 0.18, bull.Value.(float64), 1e-9)
	c, _ := sh.Get("C" + strconv.Itoa(firstDriver+1))
	assert.Equal(t, 0.08, c.Value, "other drivers keep their plan value")
	c, _ = sh.Get("C" + strconv.Itoa(inputRow(finance.TaxRate)))
	assert.Equal(t, 0.3, c.Value)
	// the caller's plan is untouched
	assert.Equal(t, 0.08, req.Scenarios.Base.Values[finance.DriverGrowthY1])
	assert.Equal(t, 0.11, req.Scenarios.Bull.Values[finance.DriverGrowthY1])
}

func TestOverridable(t *testing.T) {
	assert.True(t, Overridable(finance.DriverGrowthY1))
	assert.True(t, Overridable(finance.TaxRate))
	assert.False(t, Overridable("growth_y9"))
	assert.False(t, Overridable(""))
}

func TestLiterals(t *testing.T) {
	cases := []struct {
		formula string
		want    []string
	}{
		{"C5*(1+ASSUMPTIONS!$E$5)", nil},
		{"C5*1.08", []string{"1.08"}},
		{"IF(B22<=0,0,B22^(1/$G$4)-1)", nil},
		{"SUM(C13:G13)*0.25+365", []string{"0.25", "365"}},
		{`IF(A1="x 12",0,A1)`, nil},
		{"'My Sheet 2'!C4*3", []string{"3"}},
	}
	for _, tc := range cases {
		var got []string
		for _, sp := range Literals(tc.formula) {
			got = append(got, sp.Text)
		}
		assert.Equal(t, tc.want, got, tc.formula)
	}
	assert.Equal(t, []string{"My Sheet 2", "WACC"}, SheetRefs("'My Sheet 2'!C4*WACC!$C$9"))
	assert.Equal(t, []string{"#REF!"}, BrokenTokens("A1+#REF!"))
}

func TestCorrectRepairsWithoutMutatingInput(t *testing.T) {
	b := NewBuilder()
	wb, err := b.Build(context.Background(), request(finance.DCF, true))
	require.NoError(t, err)

	broken := wb.Clone()
	broken.RemoveSheet("WACC")
	dash, _ := broken.Sheet(Dashboard)
	dash.Charts = nil
	dash.ShowGridLines = true
	dcf, _ := broken.Sheet("DCF")
	dcf.Freeze = ""
	dcf.Set("H5", &Cell{Formula: "G5*1.08"})

	fixed, err := b.Correct(context.Background(), broken, []finance.Issue{
		{Check: finance.CheckModelSheets, Detail: "WACC missing"},
		{Check: finance.CheckCharts, Sheet: Dashboard},
		{Check: finance.CheckGridlines, Sheet: Dashboard},
		{Check: finance.CheckFreezePanes, Sheet: "DCF"},
		{Check: finance.CheckNoHardcodes, Sheet: "DCF", Cell: "H5"},
	})
	require.NoError(t, err)
	assert.Equal(t, broken.Revision+1, fixed.Revision)

	_, ok := fixed.Sheet("WACC")
	assert.True(t, ok)
	fd, _ := fixed.Sheet(Dashboard)
	require.Len(t, fd.Charts, 1)
	assert.NotEmpty(t, fd.Charts[0].Title)
	assert.False(t, fd.ShowGridLines)
	fdcf, _ := fixed.Sheet("DCF")
	assert.Equal(t, DefaultFreeze, fdcf.Freeze)
	h5, _ := fdcf.Get("H5")
	assert.Equal(t, "G5*ASSUMPTIONS!$C$60", h5.Formula)
	fa, _ := fixed.Sheet(Assumptions)
	k, _ := fa.Get("C60")
	assert.Equal(t, 1.08, k.Value)
	assert.True(t, k.Styled)

	// the input revision is unchanged
	_, ok = broken.Sheet("WACC")
	assert.False(t, ok)
	h5, _ = dcf.Get("H5")
	assert.Equal(t, "G5*1.08", h5.Formula)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Infosys_Ltd_DCF_Model.xlsx", New(finance.DCF, "Infosys Ltd").FileName())
	assert.Equal(t, "Apple_Inc__3-Statement_Model.xlsx", New(finance.ThreeStatement, "Apple Inc.").FileName())
}

func TestRender(t *testing.T) {
	wb, err := NewBuilder().Build(context.Background(), request(finance.LBO, true))
	require.NoError(t, err)
	data, err := Render(wb)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, wb.SheetNames(), f.GetSheetList())
	got, err := f.GetCellFormula("LBO", "B6")
	require.NoError(t, err)
	assert.Equal(t, "B5*ASSUMPTIONS!$C$"+strconv.Itoa(inputRow(finance.EntryMultiple)), got)
}
