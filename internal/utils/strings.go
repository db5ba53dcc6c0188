// Package utils holds small helpers shared across packages.
package utils

import "strings"

// ParseList splits a comma-separated list into trimmed values, dropping
// empty entries and later duplicates. Returns nil when nothing is left.
func ParseList(s string) []string {
	return parseList(s, strings.TrimSpace)
}

// ParseSymbols is ParseList for tickers: values are upper-cased before
// duplicates are removed, so "aapl,AAPL" yields one symbol.
func ParseSymbols(s string) []string {
	return parseList(s, func(v string) string {
		return strings.ToUpper(strings.TrimSpace(v))
	})
}

func parseList(s string, normalise func(string) string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, field := range strings.Split(s, ",") {
		v := normalise(field)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
