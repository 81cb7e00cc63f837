package domain

import (
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"LABUSDT", "LAB"},
		{"labusdt", "LAB"},
		{" cake ", "CAKE"},
		{"$PEPE", "PEPE"},
		{"BTCUSDC", "BTC"},
		{"ETHUSD", "ETH"},
		{"USDT", "USDT"},
		{"BUSD", "BUSD"},
		{"TOKENWBNB", "TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeSymbol(tt.in); got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSymbolSet(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["CAKE","LABUSDT"]`, []string{"CAKE", "LAB"}},
		{"comma string", "cake, lab , ", []string{"CAKE", "LAB"}},
		{"quoted comma string", `"cake","doge"`, []string{"CAKE", "DOGE"}},
		{"empty", "", []string{}},
		{"null", "null", []string{}},
		{"empty array", "[]", []string{}},
		{"broken json falls back", `[CAKE, LAB`, []string{"CAKE", "LAB"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSymbolSet(tt.raw).Slice()
			if len(got) != len(tt.want) {
				t.Fatalf("ParseSymbolSet(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseSymbolSet(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSymbolSet_RoundTrip(t *testing.T) {
	set := NewSymbolSet("labusdt", "CAKE")
	if !set.Contains("LAB") || !set.Contains("LABUSDT") {
		t.Fatalf("expected LAB in set, got %v", set.Slice())
	}

	parsed := ParseSymbolSet(set.String())
	if len(parsed) != 2 || !parsed.Contains("CAKE") {
		t.Errorf("round trip lost members: %v", parsed.Slice())
	}
}

func TestSignal_ResolvedSource(t *testing.T) {
	tests := []struct {
		id     string
		source SignalSource
		want   SignalSource
	}{
		{"tg_123", "", SourceTelegram},
		{"kol_9", "", SourceTwitterKOL},
		{"ca_0xabc", "", SourceMeme},
		{"range_5", "", SourceRange},
		{"fusion_1", "", SourceFusion},
		{"sig-42", "", SourceAnalyzer},
		{"tg_123", "meme", SourceMeme},
	}

	for _, tt := range tests {
		s := &Signal{ID: tt.id, Source: tt.source}
		if got := s.ResolvedSource(); got != tt.want {
			t.Errorf("ResolvedSource(%q, %q) = %s, want %s", tt.id, tt.source, got, tt.want)
		}
	}
}

func TestSignal_BandAndExpiry(t *testing.T) {
	now := time.Now()
	s := &Signal{EntryMin: 1.00, EntryMax: 1.10, ExpiresAt: now.Add(time.Minute)}

	if s.InBand(0.95) || !s.InBand(1.00) || !s.InBand(1.05) || !s.InBand(1.10) || s.InBand(1.11) {
		t.Error("InBand boundaries are inclusive")
	}
	if s.Expired(now) {
		t.Error("signal should not be expired yet")
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Error("signal should be expired at ExpiresAt")
	}
	if (&Signal{}).Expired(now) {
		t.Error("zero ExpiresAt never expires")
	}
}

func TestSignalType_IsEntry(t *testing.T) {
	for _, st := range []SignalType{"LONG", "BUY", "long"} {
		if !st.IsEntry() {
			t.Errorf("%s should be an entry", st)
		}
	}
	for _, st := range []SignalType{"SHORT", "SELL", ""} {
		if st.IsEntry() {
			t.Errorf("%s should not be an entry", st)
		}
	}
}
