package finance

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// ModelType is the kind of financial model a session builds.
type ModelType string

const (
	DCF            ModelType = "DCF"
	LBO            ModelType = "LBO"
	ThreeStatement ModelType = "ThreeStatement"
	FPA            ModelType = "FPA"
)

var ErrInvalidModel = errors.New("invalid model type")

// ParseModelType accepts the canonical names plus the labels users type
// ("3-Statement", "three statement", "FP&A").
func ParseModelType(s string) (ModelType, error) {
	key := strings.ToLower(s)
	key = strings.NewReplacer(" ", "", "-", "", "_", "", "&", "").Replace(key)
	switch key {
	case "dcf":
		return DCF, nil
	case "lbo":
		return LBO, nil
	case "3statement", "threestatement":
		return ThreeStatement, nil
	case "fpa", "fpanda":
		return FPA, nil
	}
	return "", ErrInvalidModel
}

func (m ModelType) Valid() bool {
	switch m {
	case DCF, LBO, ThreeStatement, FPA:
		return true
	}
	return false
}

// Label is the display name used in file names and narratives.
func (m ModelType) Label() string {
	switch m {
	case ThreeStatement:
		return "3-Statement"
	case FPA:
		return "FP&A"
	}
	return string(m)
}

// ErrorKind classifies pipeline failures and locally recovered conditions.
type ErrorKind string

const (
	DataUnavailable     ErrorKind = "DataUnavailable"
	ReasoningTimeout    ErrorKind = "ReasoningTimeout"
	ReasoningError      ErrorKind = "ReasoningError"
	InsufficientHistory ErrorKind = "InsufficientHistory"
	BuildError          ErrorKind = "BuildError"
	QAUnresolved        ErrorKind = "QAUnresolved"
	Internal            ErrorKind = "Internal"
)

// Peer is one comparable company.
type Peer struct {
	Name         string  `json:"name" yaml:"name"`
	Ticker       string  `json:"ticker" yaml:"ticker"`
	MarketCap    float64 `json:"marketCap" yaml:"market_cap"`
	EVEBITDA     float64 `json:"evEbitda" yaml:"ev_ebitda"`
	PE           float64 `json:"pe" yaml:"pe"`
	EBITDAMargin float64 `json:"ebitdaMargin" yaml:"ebitda_margin"`
}

// CompanyData is the normalized fact set produced by Research. Histories are
// most-recent-first and expressed in Unit (Cr for INR, M otherwise).
type CompanyData struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Sector   string `json:"sector,omitempty"`
	Region   string `json:"region,omitempty"`
	Currency string `json:"currency"`
	Unit     string `json:"unit"`
	Source   string `json:"source"`

	MarketCap float64 `json:"marketCap"`
	Price     float64 `json:"price"`
	Beta      float64 `json:"beta,omitempty"`
	PE        float64 `json:"pe,omitempty"`
	TotalDebt float64 `json:"totalDebt"`
	Cash      float64 `json:"cash"`
	SharesOut float64 `json:"sharesOut,omitempty"`

	Revenue           []float64 `json:"revenue"`
	EBITDA            []float64 `json:"ebitda"`
	NetIncome         []float64 `json:"netIncome,omitempty"`
	OperatingCashFlow []float64 `json:"operatingCashFlow,omitempty"`
	Capex             []float64 `json:"capex,omitempty"`

	Peers          []Peer    `json:"peers,omitempty"`
	RequestedModel ModelType `json:"requestedModel,omitempty"`
}

func (c CompanyData) NetDebt() float64 { return c.TotalDebt - c.Cash }

// Years is the usable history length (revenue and EBITDA both present).
func (c CompanyData) Years() int {
	return min(len(c.Revenue), len(c.EBITDA))
}

func (c *CompanyData) Clone() *CompanyData {
	if c == nil {
		return nil
	}
	out := *c
	out.Revenue = slices.Clone(c.Revenue)
	out.EBITDA = slices.Clone(c.EBITDA)
	out.NetIncome = slices.Clone(c.NetIncome)
	out.OperatingCashFlow = slices.Clone(c.OperatingCashFlow)
	out.Capex = slices.Clone(c.Capex)
	out.Peers = slices.Clone(c.Peers)
	return &out
}

// KeyMetrics are the ratios the recommendation was based on.
type KeyMetrics struct {
	RevenueCAGR     float64 `json:"revenueCagr"`
	AvgEBITDAMargin float64 `json:"avgEbitdaMargin"`
	DebtToEBITDA    float64 `json:"debtToEbitda"`
	MarginSpread    float64 `json:"marginSpread"`
}

// Recommendation is the Analysis stage output.
type Recommendation struct {
	Type       ModelType  `json:"type"`
	Narrative  string     `json:"narrative"`
	Metrics    KeyMetrics `json:"keyMetrics"`
	Confidence string     `json:"confidence"`
	Source     string     `json:"source"`
}

func (r *Recommendation) Clone() *Recommendation {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

type ScenarioName string

const (
	Bull ScenarioName = "Bull"
	Base ScenarioName = "Base"
	Bear ScenarioName = "Bear"
)

// Driver keys perturbed across scenarios.
const (
	DriverGrowthY1       = "revenue_growth_y1"
	DriverGrowthY2       = "revenue_growth_y2"
	DriverGrowthY3       = "revenue_growth_y3"
	DriverGrowthY4       = "revenue_growth_y4"
	DriverGrowthY5       = "revenue_growth_y5"
	DriverEBITDAMargin   = "ebitda_margin"
	DriverTerminalGrowth = "terminal_growth"
	DriverExitMultiple   = "exit_multiple"
)

// GrowthDrivers lists the five projection-year growth keys in order.
var GrowthDrivers = []string{DriverGrowthY1, DriverGrowthY2, DriverGrowthY3, DriverGrowthY4, DriverGrowthY5}

// Scenario is one named set of driver values.
type Scenario struct {
	Name   ScenarioName       `json:"name"`
	Values map[string]float64 `json:"values"`
}

// ScenarioSet is the Planning stage output. Assumptions hold model-specific
// inputs that are not perturbed (tax rate, leverage, working-capital days).
type ScenarioSet struct {
	Bull         Scenario           `json:"bull"`
	Base         Scenario           `json:"base"`
	Bear         Scenario           `json:"bear"`
	Assumptions  map[string]float64 `json:"assumptions"`
	Notes        []string           `json:"notes,omitempty"`
	Missing      []string           `json:"missing,omitempty"`
	UsedDefaults bool               `json:"usedDefaults"`
}

func (s *ScenarioSet) Clone() *ScenarioSet {
	if s == nil {
		return nil
	}
	out := *s
	out.Bull = Scenario{Name: s.Bull.Name, Values: maps.Clone(s.Bull.Values)}
	out.Base = Scenario{Name: s.Base.Name, Values: maps.Clone(s.Base.Values)}
	out.Bear = Scenario{Name: s.Bear.Name, Values: maps.Clone(s.Bear.Values)}
	out.Assumptions = maps.Clone(s.Assumptions)
	out.Notes = slices.Clone(s.Notes)
	out.Missing = slices.Clone(s.Missing)
	return &out
}

// Ordered reports whether Bear <= Base <= Bull holds for every driver.
func (s *ScenarioSet) Ordered() bool {
	for k, base := range s.Base.Values {
		bull, okBull := s.Bull.Values[k]
		bear, okBear := s.Bear.Values[k]
		if !okBull || !okBear {
			return false
		}
		if bear > base || base > bull {
			return false
		}
	}
	return true
}

// Issue is one failed QA check location.
type Issue struct {
	Check  string `json:"check"`
	Sheet  string `json:"sheet,omitempty"`
	Cell   string `json:"cell,omitempty"`
	Detail string `json:"detail"`
}

// QAReport is the audit result attached to a delivered artifact.
type QAReport struct {
	ChecksTotal  int      `json:"checksTotal"`
	ChecksPassed int      `json:"checksPassed"`
	Attempts     int      `json:"correctionAttempts"`
	Issues       []Issue  `json:"issues,omitempty"`
	Fixed        []string `json:"fixed,omitempty"`
}

func (r *QAReport) Unresolved() bool { return r != nil && r.ChecksPassed < r.ChecksTotal }

func (r *QAReport) Clone() *QAReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Issues = slices.Clone(r.Issues)
	out.Fixed = slices.Clone(r.Fixed)
	return &out
}
