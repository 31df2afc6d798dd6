package datasource

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var defaultCatalog []byte

// MaxPeers is the fixed size of a company's peer set.
const MaxPeers = 5

// Identity is a resolved company ready to be fetched.
type Identity struct {
	Ticker   string   `yaml:"ticker"`
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Sector   string   `yaml:"sector"`
	Region   string   `yaml:"region"`
	Currency string   `yaml:"currency"`
	Peers    []string `yaml:"peers"`
}

// Catalog maps names, aliases and tickers to identities.
type Catalog struct {
	byTicker map[string]Identity
	aliases  []aliasEntry
	defaults map[string][]string
}

type aliasEntry struct {
	alias  string
	ticker string
}

type catalogFile struct {
	Companies    []Identity          `yaml:"companies"`
	DefaultPeers map[string][]string `yaml:"default_peers"`
}

// LoadCatalog reads a catalog file, or the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := &Catalog{byTicker: make(map[string]Identity, len(f.Companies)), defaults: f.DefaultPeers}
	for _, id := range f.Companies {
		if id.Ticker == "" {
			return nil, fmt.Errorf("catalog entry %q has no ticker", id.Name)
		}
		id.Ticker = strings.ToUpper(id.Ticker)
		if len(id.Peers) > MaxPeers {
			id.Peers = id.Peers[:MaxPeers]
		}
		c.byTicker[id.Ticker] = id
		c.aliases = append(c.aliases, aliasEntry{alias: strings.ToLower(id.Name), ticker: id.Ticker})
		for _, a := range id.Aliases {
			c.aliases = append(c.aliases, aliasEntry{alias: strings.ToLower(a), ticker: id.Ticker})
		}
	}
	// longest alias first so "tata motors" wins over "tata"
	sort.SliceStable(c.aliases, func(i, j int) bool { return len(c.aliases[i].alias) > len(c.aliases[j].alias) })
	return c, nil
}

var tickerShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9&]{0,9}([.-][A-Za-z]{1,3})?$`)

// Resolve finds the identity named by a company string: exact alias, then an
// alias contained in the text, then a ticker-shaped token.
func (c *Catalog) Resolve(company string) (Identity, bool) {
	name := strings.ToLower(strings.TrimSpace(company))
	if name == "" {
		return Identity{}, false
	}
	for _, a := range c.aliases {
		if a.alias == name {
			return c.withPeers(c.byTicker[a.ticker]), true
		}
	}
	for _, a := range c.aliases {
		if containsWord(name, []string{a.alias}) {
			return c.withPeers(c.byTicker[a.ticker]), true
		}
	}
	if id, ok := c.byTicker[strings.ToUpper(name)]; ok {
		return c.withPeers(id), true
	}
	if tickerShape.MatchString(company) && !strings.Contains(company, " ") {
		ticker := strings.ToUpper(company)
		return c.withPeers(Identity{Ticker: ticker, Name: ticker, Region: regionOf(ticker), Currency: currencyOf(ticker)}), true
	}
	return Identity{}, false
}

// Lookup returns the catalog identity for a ticker.
func (c *Catalog) Lookup(ticker string) (Identity, bool) {
	id, ok := c.byTicker[strings.ToUpper(ticker)]
	return id, ok
}

func (c *Catalog) withPeers(id Identity) Identity {
	if len(id.Peers) > 0 {
		return id
	}
	region := id.Region
	if region == "" {
		region = regionOf(id.Ticker)
	}
	for _, p := range c.defaults[region] {
		if p != id.Ticker && len(id.Peers) < MaxPeers {
			id.Peers = append(id.Peers, p)
		}
	}
	return id
}

func regionOf(ticker string) string {
	if strings.HasSuffix(ticker, ".NS") || strings.HasSuffix(ticker, ".BO") {
		return "IN"
	}
	return "US"
}

func currencyOf(ticker string) string {
	if regionOf(ticker) == "IN" {
		return "INR"
	}
	return "USD"
}
