package finance

// Assumption keys shared by planning and the workbook builder.
const (
	BaseRevenue = "base_revenue"
	BaseEBITDA  = "base_ebitda"
	TotalDebt   = "total_debt"
	CashBalance = "cash"
	NetDebt     = "net_debt"
	SharesOut   = "shares_out"
	MarketCap   = "market_cap"

	TaxRate    = "tax_rate"
	DAPct      = "da_pct"
	CapexPct   = "capex_pct"
	DaysInYear = "days_in_year"

	RiskFree   = "risk_free"
	EquityRisk = "equity_risk_premium"
	Beta       = "beta"
	CostOfDebt = "cost_of_debt"

	EntryMultiple  = "entry_multiple"
	SeniorLeverage = "senior_leverage"
	SubLeverage    = "sub_leverage"
	SeniorRate     = "senior_rate"
	SubRate        = "sub_rate"

	DSO = "dso"
	DIO = "dio"
	DPO = "dpo"

	Q1Weight = "q1_weight"
	Q2Weight = "q2_weight"
	Q3Weight = "q3_weight"
	Q4Weight = "q4_weight"
)

// QA check identifiers.
const (
	CheckFormulaIntegrity = "formula_integrity"
	CheckNoHardcodes      = "no_hardcoded_literals"
	CheckRequiredSheets   = "required_sheets"
	CheckModelSheets      = "model_sheets"
	CheckCharts           = "charts_present"
	CheckGridlines        = "gridlines_hidden"
	CheckFreezePanes      = "panes_frozen"
	CheckInputStyling     = "input_styling"
	CheckScenarioSheet    = "scenarios_sheet"
	CheckCompsSheet       = "comps_sheet"
)
