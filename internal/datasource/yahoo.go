package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

const yahooModules = "price,summaryDetail,financialData,defaultKeyStatistics,assetProfile,incomeStatementHistory,cashflowStatementHistory"

// YahooProvider reads the quoteSummary endpoint.
type YahooProvider struct {
	baseURL string
	client  *http.Client
}

func NewYahooProvider(baseURL string, client *http.Client) *YahooProvider {
	return &YahooProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *YahooProvider) Name() string { return "yahoo" }

func (p *YahooProvider) Fetch(ctx context.Context, id Identity) (*finance.CompanyData, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s", p.baseURL, url.PathEscape(id.Ticker), yahooModules)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; finmodel-orchestrator)")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("yahoo do: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("yahoo read: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Ticker)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("yahoo status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("yahoo status %d", resp.StatusCode)
	}
	return parseQuoteSummary(body, id)
}

func parseQuoteSummary(body []byte, id Identity) (*finance.CompanyData, error) {
	if !gjson.ValidBytes(body) {
		return nil, Transient(fmt.Errorf("yahoo: malformed payload"))
	}
	root := gjson.GetBytes(body, "quoteSummary")
	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotFound, id.Ticker, e.Get("description").String())
	}
	r := root.Get("result.0")
	if !r.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Ticker)
	}

	currency := r.Get("price.currency").String()
	if currency == "" {
		currency = id.Currency
	}
	unit, div := normalize(currency)

	income := r.Get("incomeStatementHistory.incomeStatementHistory")
	cash := r.Get("cashflowStatementHistory.cashflowStatements")
	revenue := series(income, "totalRevenue.raw")
	ebit := series(income, "ebit.raw")
	depreciation := series(cash, "depreciation.raw")
	if len(revenue) == 0 {
		return nil, fmt.Errorf("%w: %s has no income statement", ErrNotFound, id.Ticker)
	}

	ebitda := make([]float64, len(ebit))
	for i := range ebit {
		ebitda[i] = ebit[i]
		if i < len(depreciation) {
			ebitda[i] += depreciation[i]
		}
	}
	capex := series(cash, "capitalExpenditures.raw")
	for i := range capex {
		capex[i] = -capex[i]
	}

	name := r.Get("price.longName").String()
	if name == "" {
		name = id.Name
	}
	sector := r.Get("assetProfile.sector").String()
	if sector == "" {
		sector = id.Sector
	}

	return &finance.CompanyData{
		Name:              name,
		Ticker:            strings.ToUpper(id.Ticker),
		Sector:            sector,
		Region:            id.Region,
		Currency:          currency,
		Unit:              unit,
		Source:            "yahoo",
		MarketCap:         r.Get("price.marketCap.raw").Float() / div,
		Price:             r.Get("price.regularMarketPrice.raw").Float(),
		Beta:              r.Get("summaryDetail.beta.raw").Float(),
		PE:                r.Get("summaryDetail.trailingPE.raw").Float(),
		TotalDebt:         r.Get("financialData.totalDebt.raw").Float() / div,
		Cash:              r.Get("financialData.totalCash.raw").Float() / div,
		SharesOut:         r.Get("defaultKeyStatistics.sharesOutstanding.raw").Float() / div,
		Revenue:           scale(revenue, div),
		EBITDA:            scale(ebitda, div),
		NetIncome:         scale(series(income, "netIncome.raw"), div),
		OperatingCashFlow: scale(series(cash, "totalCashFromOperatingActivities.raw"), div),
		Capex:             scale(capex, div),
	}, nil
}

// series collects path from each element of an array result, most recent first.
func series(arr gjson.Result, path string) []float64 {
	var out []float64
	arr.ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.Get(path).Float())
		return true
	})
	return out
}
