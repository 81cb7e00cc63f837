package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Quote suffixes stripped from pair-style symbols ("LABUSDT" -> "LAB").
// Longer suffixes come first so "USDT" wins over "USD".
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "FDUSD", "USD", "WBNB", "WETH"}

// NormalizeSymbol upper-cases a symbol and strips a trailing quote suffix.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "$")
	for _, q := range quoteSuffixes {
		if s == q {
			return s
		}
	}
	for _, q := range quoteSuffixes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}

// SymbolSet is a set of normalized token symbols.
type SymbolSet map[string]struct{}

// NewSymbolSet builds a set from raw symbols.
func NewSymbolSet(symbols ...string) SymbolSet {
	set := make(SymbolSet, len(symbols))
	for _, s := range symbols {
		if n := NormalizeSymbol(s); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// ParseSymbolSet parses a stored list field. Both a JSON array
// (`["CAKE","LABUSDT"]`) and a comma separated string ("CAKE, LAB") are accepted.
func ParseSymbolSet(raw string) SymbolSet {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return SymbolSet{}
	}
	if strings.HasPrefix(raw, "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return NewSymbolSet(items...)
		}
		raw = strings.Trim(raw, "[]")
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return NewSymbolSet(parts...)
}

// Contains reports whether the normalized symbol is in the set.
func (s SymbolSet) Contains(symbol string) bool {
	_, ok := s[NormalizeSymbol(symbol)]
	return ok
}

// Empty reports whether the set has no members.
func (s SymbolSet) Empty() bool {
	return len(s) == 0
}

// Slice returns the members in sorted order.
func (s SymbolSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String encodes the set as a JSON array, the canonical stored form.
func (s SymbolSet) String() string {
	b, _ := json.Marshal(s.Slice())
	return string(b)
}
