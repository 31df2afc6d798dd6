package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

func TestParseQuery(t *testing.T) {
	cases := []struct {
		in      string
		company string
		hint    finance.ModelType
	}{
		{"Analyse Infosys and build a DCF model", "Infosys", finance.DCF},
		{"Build a DCF model for Apple", "Apple", finance.DCF},
		{"tesla valuation", "tesla", ""},
		{"Carnival LBO model", "Carnival", finance.LBO},
		{"build a 3-statement model for Coca Cola", "Coca Cola", finance.ThreeStatement},
		{"  Microsoft.  ", "Microsoft", ""},
		{"research tata motors", "tata motors", ""},
	}
	for _, tc := range cases {
		q := ParseQuery(tc.in)
		assert.Equal(t, tc.company, q.Company, tc.in)
		assert.Equal(t, tc.hint, q.Hint, tc.in)
	}
}

func TestCatalogResolve(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	id, ok := c.Resolve("Infosys")
	require.True(t, ok)
	assert.Equal(t, "INFY.NS", id.Ticker)
	assert.Len(t, id.Peers, MaxPeers)

	id, ok = c.Resolve("tata motors ltd")
	require.True(t, ok)
	assert.Equal(t, "TATAMOTORS.NS", id.Ticker)

	id, ok = c.Resolve("aapl")
	require.True(t, ok)
	assert.Equal(t, "AAPL", id.Ticker)

	id, ok = c.Resolve("ZZQX.NS")
	require.True(t, ok, "ticker-shaped tokens resolve for a direct fetch")
	assert.Equal(t, "INR", id.Currency)
	assert.NotEmpty(t, id.Peers)

	_, ok = c.Resolve("some company that does not exist")
	assert.False(t, ok)
	_, ok = c.Resolve("")
	assert.False(t, ok)
}

func TestParseCatalogRejectsMissingTicker(t *testing.T) {
	_, err := ParseCatalog([]byte("companies:\n  - name: Nameless\n"))
	assert.Error(t, err)
}

func TestFixtureProvider(t *testing.T) {
	p, err := LoadFixtures("")
	require.NoError(t, err)

	data, err := p.Fetch(context.Background(), Identity{Ticker: "infy.ns", Region: "IN"})
	require.NoError(t, err)
	assert.Equal(t, "Cr", data.Unit)
	assert.GreaterOrEqual(t, data.Years(), 3)

	data.Revenue[0] = -1
	again, err := p.Fetch(context.Background(), Identity{Ticker: "INFY.NS"})
	require.NoError(t, err)
	assert.Positive(t, again.Revenue[0])

	_, err = p.Fetch(context.Background(), Identity{Ticker: "NOPE"})
	assert.ErrorIs(t, err, ErrNotFound)
}

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(n int32) (*finance.CompanyData, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(context.Context, Identity) (*finance.CompanyData, error) {
	n := s.calls.Add(1)
	return s.fn(n)
}

func TestChainRetriesTransientThenFallsThrough(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(int32) (*finance.CompanyData, error) {
		return nil, Transient(errors.New("503"))
	}}
	secondary := &stubProvider{name: "secondary", fn: func(int32) (*finance.CompanyData, error) {
		return &finance.CompanyData{Name: "Acme", Source: "secondary"}, nil
	}}
	chain := NewChain(3, time.Millisecond, primary, secondary)

	data, err := chain.Fetch(context.Background(), Identity{Ticker: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", data.Source)
	assert.Equal(t, int32(3), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestChainNotFoundIsNotRetried(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(int32) (*finance.CompanyData, error) {
		return nil, ErrNotFound
	}}
	secondary := &stubProvider{name: "secondary", fn: func(int32) (*finance.CompanyData, error) {
		return nil, ErrNotFound
	}}
	chain := NewChain(3, time.Millisecond, primary, secondary)

	_, err := chain.Fetch(context.Background(), Identity{Ticker: "GHOST"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, "primary>secondary", chain.Name())
}

func TestChainRecoversAfterTransient(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(n int32) (*finance.CompanyData, error) {
		if n < 2 {
			return nil, Transient(errors.New("timeout"))
		}
		return &finance.CompanyData{Source: "primary"}, nil
	}}
	data, err := NewChain(3, time.Millisecond, primary).Fetch(context.Background(), Identity{Ticker: "X"})
	require.NoError(t, err)
	assert.Equal(t, "primary", data.Source)
}

const quoteSummary = `{"quoteSummary":{"result":[{
  "price":{"longName":"Acme Corp","currency":"USD","marketCap":{"raw":5000000000},"regularMarketPrice":{"raw":42.5}},
  "summaryDetail":{"beta":{"raw":1.3},"trailingPE":{"raw":18}},
  "financialData":{"totalDebt":{"raw":800000000},"totalCash":{"raw":200000000}},
  "defaultKeyStatistics":{"sharesOutstanding":{"raw":120000000}},
  "assetProfile":{"sector":"Industrials"},
  "incomeStatementHistory":{"incomeStatementHistory":[
    {"totalRevenue":{"raw":2000000000},"ebit":{"raw":300000000},"netIncome":{"raw":200000000}},
    {"totalRevenue":{"raw":1800000000},"ebit":{"raw":260000000},"netIncome":{"raw":180000000}},
    {"totalRevenue":{"raw":1600000000},"ebit":{"raw":220000000},"netIncome":{"raw":150000000}}]},
  "cashflowStatementHistory":{"cashflowStatements":[
    {"depreciation":{"raw":100000000},"capitalExpenditures":{"raw":-90000000},"totalCashFromOperatingActivities":{"raw":350000000}},
    {"depreciation":{"raw":90000000},"capitalExpenditures":{"raw":-80000000},"totalCashFromOperatingActivities":{"raw":300000000}},
    {"depreciation":{"raw":80000000},"capitalExpenditures":{"raw":-70000000},"totalCashFromOperatingActivities":{"raw":260000000}}]}
}],"error":null}}`

func TestYahooProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v10/finance/quoteSummary/ACME":
			w.Write([]byte(quoteSummary))
		case "/v10/finance/quoteSummary/BUSY":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewYahooProvider(srv.URL, srv.Client())
	data, err := p.Fetch(context.Background(), Identity{Ticker: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", data.Name)
	assert.Equal(t, "M", data.Unit)
	assert.InDelta(t, 5000, data.MarketCap, 1e-6)
	assert.Equal(t, []float64{2000, 1800, 1600}, data.Revenue)
	assert.Equal(t, []float64{400, 350, 300}, data.EBITDA)
	assert.Equal(t, []float64{90, 80, 70}, data.Capex)

	_, err = p.Fetch(context.Background(), Identity{Ticker: "BUSY"})
	assert.True(t, IsTransient(err))

	_, err = p.Fetch(context.Background(), Identity{Ticker: "GONE"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedProvider(t *testing.T) {
	src := &stubProvider{name: "src", fn: func(int32) (*finance.CompanyData, error) {
		return &finance.CompanyData{Name: "Acme"}, nil
	}}
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	cached := NewCached(src, cache, time.Minute)

	for range 3 {
		data, err := cached.Fetch(context.Background(), Identity{Ticker: "acme"})
		require.NoError(t, err)
		assert.Equal(t, "Acme", data.Name)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := cached.Fetch(context.Background(), Identity{Ticker: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}
