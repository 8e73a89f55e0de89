package cache

import (
	"strings"

	"github.com/gobwas/glob"
)

// Selector classification decides the TTL tier at insertion time. Form
// inputs, counters, and live status text go stale far faster than structural
// chrome (headers, navigation), so a single TTL would either return stale
// identifiers or cache nothing useful.
//
// The heuristics are ordered; the first match wins and the result is fixed
// for the lifetime of the entry.

type heuristic struct {
	name  string
	match func(selector string) bool
}

func globMatch(pattern string) func(string) bool {
	g := glob.MustCompile(pattern)
	return g.Match
}

var dynamicHeuristics = []heuristic{
	// Attribute-driven selectors usually target stateful widgets.
	{"attribute-selector", func(s string) bool { return strings.Contains(s, "[") }},

	// Form controls: values and validity change constantly.
	{"form-control", globMatch(`*{input,select,textarea,button}*`)},

	// Status, loading and counter class names.
	{"status-class", globMatch(`*.{status,loading,counter,spinner,progress,badge}*`)},

	// Ids naming lists, tables or feeds whose rows churn.
	{"collection-id", globMatch(`*#*{list,table,grid,feed}*`)},

	// Explicitly "live" content.
	{"live-class", globMatch(`*.{live,realtime,real-time,ticker}*`)},
}

// classify reports whether a selector targets dynamic content and which
// heuristic decided it. The default is static.
func classify(selector string) (dynamic bool, rule string) {
	s := strings.ToLower(selector)
	for _, h := range dynamicHeuristics {
		if h.match(s) {
			return true, h.name
		}
	}
	return false, ""
}
