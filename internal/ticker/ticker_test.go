package ticker

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"AAPL":      "AAPL",
		" msft ":    "MSFT",
		"brk.b":     "BRK.B",
		"^GSPC":     "^GSPC",
		"EURUSD=X":  "EURUSD=X",
		"nse:infy":  "NSE:INFY",
		"M&M":       "M&M",
		"BF-B":      "BF-B",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"AA PL",
		".AAPL",
		"AAPL$",
		"THIS-SYMBOL-IS-MUCH-TOO-LONG",
	}
	for _, in := range tests {
		_, err := Normalize(in)
		if err == nil {
			t.Errorf("expected error for %q", in)
			continue
		}
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", in, err)
		}
	}
}

func TestSplit(t *testing.T) {
	ex, sym := Split("NSE:INFY")
	if ex != "NSE" || sym != "INFY" {
		t.Errorf("Split(NSE:INFY) = %q, %q", ex, sym)
	}
	ex, sym = Split("AAPL")
	if ex != "" || sym != "AAPL" {
		t.Errorf("Split(AAPL) = %q, %q", ex, sym)
	}
}
