package workbook

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	stringLit = regexp.MustCompile(`"[^"]*"`)
	sheetRef  = regexp.MustCompile(`(?:'[^']+'|[A-Za-z_][A-Za-z0-9_.]*)!`)
	funcName  = regexp.MustCompile(`[A-Z][A-Z0-9.]*\(`)
	cellRef   = regexp.MustCompile(`\$?[A-Z]{1,3}\$?[0-9]+`)
	number    = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?`)
)

// ErrorTokens are spreadsheet error values that mark a broken formula.
var ErrorTokens = []string{"#REF!", "#DIV/0!", "#NAME?", "#VALUE!", "#N/A", "#NUM!"}

// Span locates a numeric literal inside a formula.
type Span struct {
	Start, End int
	Text       string
}

func blank(s string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(s, func(m string) string { return strings.Repeat(" ", len(m)) })
}

// Literals returns the numeric constants baked into formula, ignoring cell
// references, sheet names, function names, string literals, and the neutral
// constants 0 and 1.
func Literals(formula string) []Span {
	masked := blank(formula, stringLit)
	masked = blank(masked, sheetRef)
	masked = blank(masked, funcName)
	masked = blank(masked, cellRef)

	var out []Span
	for _, loc := range number.FindAllStringIndex(masked, -1) {
		text := formula[loc[0]:loc[1]]
		v, err := strconv.ParseFloat(text, 64)
		if err == nil && (v == 0 || v == 1) {
			continue
		}
		out = append(out, Span{Start: loc[0], End: loc[1], Text: text})
	}
	return out
}

// SheetRefs returns the sheet names a formula references.
func SheetRefs(formula string) []string {
	masked := blank(formula, stringLit)
	var out []string
	for _, loc := range sheetRef.FindAllStringIndex(masked, -1) {
		name := formula[loc[0] : loc[1]-1]
		out = append(out, strings.Trim(name, "'"))
	}
	return out
}

// BrokenTokens returns the error values present in formula.
func BrokenTokens(formula string) []string {
	var out []string
	upper := strings.ToUpper(formula)
	for _, tok := range ErrorTokens {
		if strings.Contains(upper, tok) {
			out = append(out, tok)
		}
	}
	return out
}
