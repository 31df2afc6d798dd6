package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/datasource"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
)

// Resolver maps a company string to an identity.
type Resolver interface {
	Resolve(company string) (datasource.Identity, bool)
	Lookup(ticker string) (datasource.Identity, bool)
}

// Research resolves the requested company and gathers its facts and peers.
type Research struct {
	catalog         Resolver
	source          datasource.Provider
	peerConcurrency int
}

func NewResearch(catalog Resolver, source datasource.Provider, peerConcurrency int) *Research {
	if peerConcurrency <= 0 {
		peerConcurrency = 4
	}
	return &Research{catalog: catalog, source: source, peerConcurrency: peerConcurrency}
}

func (r *Research) Name() string { return "research" }

func (r *Research) Run(ctx context.Context, in *Snapshot, log Emitter) (Patch, error) {
	q := datasource.ParseQuery(in.Session.Query)
	emitf(log, logbus.Thinking, "Identifying the company in %q", in.Session.Query)

	id, ok := r.catalog.Resolve(q.Company)
	if !ok {
		return Patch{}, Fatal(finance.DataUnavailable, fmt.Errorf("no company matches %q", q.Company))
	}
	emitf(log, logbus.Info, "Resolved %s (%s)", id.Name, id.Ticker)

	emitf(log, logbus.Thinking, "Fetching financials for %s via %s", id.Ticker, r.source.Name())
	data, err := r.source.Fetch(ctx, id)
	if err != nil {
		if datasource.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return Patch{}, Retry(finance.DataUnavailable, err)
		}
		return Patch{}, Fatal(finance.DataUnavailable, err)
	}
	if data.Years() == 0 {
		return Patch{}, Fatal(finance.DataUnavailable, fmt.Errorf("%s returned no revenue or EBITDA history", id.Ticker))
	}
	data.RequestedModel = q.Hint
	if q.Hint != "" {
		emitf(log, logbus.Info, "Noted requested model: %s", q.Hint.Label())
	}

	data.Peers = r.peers(ctx, id, log)
	emitf(log, logbus.Success, "Collected %d years of financials for %s from %s and %d peers",
		data.Years(), data.Name, data.Source, len(data.Peers))
	return Patch{Company: data}, nil
}

// peers fetches the peer set concurrently. A failed peer is skipped with a
// warning; peer failures never fail the stage.
func (r *Research) peers(ctx context.Context, id datasource.Identity, log Emitter) []finance.Peer {
	tickers := id.Peers
	if len(tickers) > datasource.MaxPeers {
		tickers = tickers[:datasource.MaxPeers]
	}
	if len(tickers) == 0 {
		return nil
	}

	found := make([]*finance.Peer, len(tickers))
	var g errgroup.Group
	g.SetLimit(r.peerConcurrency)
	for i, ticker := range tickers {
		g.Go(func() error {
			peerID, ok := r.catalog.Lookup(ticker)
			if !ok {
				peerID = datasource.Identity{Ticker: ticker, Name: ticker}
			}
			data, err := r.source.Fetch(ctx, peerID)
			if err != nil {
				emitf(log, logbus.Warning, "Skipping peer %s: %v", ticker, err)
				return nil
			}
			p := peerOf(data)
			found[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	out := make([]finance.Peer, 0, len(found))
	for _, p := range found {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func peerOf(c *finance.CompanyData) finance.Peer {
	p := finance.Peer{Name: c.Name, Ticker: c.Ticker, MarketCap: c.MarketCap, PE: c.PE}
	if len(c.EBITDA) > 0 && c.EBITDA[0] > 0 {
		p.EVEBITDA = (c.MarketCap + c.NetDebt()) / c.EBITDA[0]
		if len(c.Revenue) > 0 && c.Revenue[0] > 0 {
			p.EBITDAMargin = c.EBITDA[0] / c.Revenue[0]
		}
	}
	if p.PE == 0 && len(c.NetIncome) > 0 && c.NetIncome[0] > 0 {
		p.PE = c.MarketCap / c.NetIncome[0]
	}
	return p
}
