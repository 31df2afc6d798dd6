package datasource

import (
	"sort"
	"strings"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
)

// Query is a parsed free-text company request.
type Query struct {
	Company string
	Hint    finance.ModelType
}

var queryPrefixes = sortedByLen([]string{
	"analyse ", "analyze ", "research ", "value ", "tell me about ", "what about ",
	"give me a dcf for ", "give me an lbo for ", "give me ", "show me ",
	"build a dcf model for ", "build dcf model for ", "build a dcf for ", "build dcf for ",
	"build an lbo for ", "build a lbo for ", "build lbo for ", "build an lbo model for ",
	"build a 3-statement model for ", "build a 3-statement for ", "build 3-statement for ",
	"build a fpa for ", "build fpa for ", "build an fp&a model for ",
	"build a model for ", "build model for ", "create a model for ", "create dcf for ",
	"dcf for ", "lbo for ", "model for ", "analyse and build ",
})

var querySuffixes = sortedByLen([]string{
	" dcf model", " lbo model", " 3-statement model", " three statement model",
	" fpa model", " fp&a model", " model", " analysis", " valuation",
	" dcf", " lbo", " 3-statement", " fp&a", " fpa",
})

// connectors start a trailing instruction that is not part of the company name.
var connectors = []string{" and build", " and create", " and make", " and give", " and prepare", " then build"}

var hints = []struct {
	words []string
	model finance.ModelType
}{
	{[]string{"dcf", "discounted cash flow"}, finance.DCF},
	{[]string{"lbo", "leveraged buyout", "buyout"}, finance.LBO},
	{[]string{"3-statement", "three statement", "three-statement", "3 statement"}, finance.ThreeStatement},
	{[]string{"fp&a", "fpa", "budget", "forecast"}, finance.FPA},
}

func sortedByLen(xs []string) []string {
	sort.SliceStable(xs, func(i, j int) bool { return len(xs[i]) > len(xs[j]) })
	return xs
}

// ParseQuery extracts the company name and any requested model type from text.
func ParseQuery(text string) Query {
	q := strings.TrimSpace(text)
	q = strings.TrimRight(q, ".!?")
	lower := strings.ToLower(q)

	var hint finance.ModelType
	for _, h := range hints {
		if containsWord(lower, h.words) {
			hint = h.model
			break
		}
	}

	for _, p := range queryPrefixes {
		if strings.HasPrefix(lower, p) {
			q = strings.TrimSpace(q[len(p):])
			lower = strings.ToLower(q)
			break
		}
	}
	for _, c := range connectors {
		if i := strings.Index(lower, c); i > 0 {
			q = strings.TrimSpace(q[:i])
			lower = strings.ToLower(q)
		}
	}
	for trimmed := true; trimmed; {
		trimmed = false
		for _, s := range querySuffixes {
			if strings.HasSuffix(lower, s) && len(lower) > len(s) {
				q = strings.TrimSpace(q[:len(q)-len(s)])
				lower = strings.ToLower(q)
				trimmed = true
				break
			}
		}
	}
	return Query{Company: q, Hint: hint}
}

func containsWord(text string, words []string) bool {
	fields := " " + strings.NewReplacer(",", " ", ".", " ", "(", " ", ")", " ").Replace(text) + " "
	for _, w := range words {
		if strings.Contains(fields, " "+w+" ") {
			return true
		}
	}
	return false
}
