package datasource

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

//go:embed data/fixtures.yaml
var defaultFixtures []byte

type fixtureCompany struct {
	Name              string    `yaml:"name"`
	Sector            string    `yaml:"sector"`
	Currency          string    `yaml:"currency"`
	MarketCap         float64   `yaml:"market_cap"`
	Price             float64   `yaml:"price"`
	Beta              float64   `yaml:"beta"`
	PE                float64   `yaml:"pe"`
	TotalDebt         float64   `yaml:"total_debt"`
	Cash              float64   `yaml:"cash"`
	SharesOut         float64   `yaml:"shares_out"`
	Revenue           []float64 `yaml:"revenue"`
	EBITDA            []float64 `yaml:"ebitda"`
	NetIncome         []float64 `yaml:"net_income"`
	OperatingCashFlow []float64 `yaml:"operating_cash_flow"`
	Capex             []float64 `yaml:"capex"`
}

// FixtureProvider serves statements from a YAML dataset already expressed in
// reporting units. It backs offline runs and acts as the secondary source.
type FixtureProvider struct {
	companies map[string]fixtureCompany
}

// LoadFixtures reads a fixture file, or the embedded dataset when path is empty.
func LoadFixtures(path string) (*FixtureProvider, error) {
	data := defaultFixtures
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixtures: %w", err)
		}
		data = b
	}
	var f struct {
		Companies map[string]fixtureCompany `yaml:"companies"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	companies := make(map[string]fixtureCompany, len(f.Companies))
	for k, v := range f.Companies {
		companies[strings.ToUpper(k)] = v
	}
	return &FixtureProvider{companies: companies}, nil
}

func (p *FixtureProvider) Name() string { return "fixtures" }

func (p *FixtureProvider) Fetch(ctx context.Context, id Identity) (*finance.CompanyData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fc, ok := p.companies[strings.ToUpper(id.Ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Ticker)
	}
	currency := fc.Currency
	if currency == "" {
		currency = id.Currency
	}
	unit, _ := normalize(currency)
	sector := fc.Sector
	if sector == "" {
		sector = id.Sector
	}
	data := &finance.CompanyData{
		Name:              fc.Name,
		Ticker:            strings.ToUpper(id.Ticker),
		Sector:            sector,
		Region:            id.Region,
		Currency:          currency,
		Unit:              unit,
		Source:            p.Name(),
		MarketCap:         fc.MarketCap,
		Price:             fc.Price,
		Beta:              fc.Beta,
		PE:                fc.PE,
		TotalDebt:         fc.TotalDebt,
		Cash:              fc.Cash,
		SharesOut:         fc.SharesOut,
		Revenue:           fc.Revenue,
		EBITDA:            fc.EBITDA,
		NetIncome:         fc.NetIncome,
		OperatingCashFlow: fc.OperatingCashFlow,
		Capex:             fc.Capex,
	}
	return data.Clone(), nil
}
