package money

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

func TestLookup_CaseInsensitive(t *testing.T) {
	c, err := Lookup(" usd ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Code != "USD" || c.BaseUnit != 100 {
		t.Errorf("unexpected currency: %+v", c)
	}
}

func TestLookup_Unsupported(t *testing.T) {
	_, err := Lookup("XTS")
	if err == nil {
		t.Fatal("expected error for unknown code")
	}
	if !apperr.IsKind(err, apperr.KindUnsupportedCurrency) {
		t.Errorf("expected UnsupportedCurrency, got %v", apperr.KindOf(err))
	}
}

func TestToStorage_Rounding(t *testing.T) {
	cases := []struct {
		display string
		code    string
		want    int64
	}{
		{"10.00", "USD", 1000},
		{"10.005", "USD", 1001},
		{"10.004", "USD", 1000},
		{"-10.005", "USD", -1001},
		{"0.01", "USD", 1},
		{"1500", "JPY", 1500},
		{"1500.4", "JPY", 1500},
		{"1500.5", "UGX", 1501},
	}
	for _, tc := range cases {
		d, _ := decimal.NewFromString(tc.display)
		got, err := ToStorage(d, tc.code)
		if err != nil {
			t.Fatalf("ToStorage(%s %s): %v", tc.display, tc.code, err)
		}
		if got != tc.want {
			t.Errorf("ToStorage(%s %s) = %d, want %d", tc.display, tc.code, got, tc.want)
		}
	}
}

func TestToStorage_UnsupportedCurrency(t *testing.T) {
	_, err := ToStorage(decimal.NewFromInt(1), "ABC")
	if !apperr.IsKind(err, apperr.KindUnsupportedCurrency) {
		t.Errorf("expected UnsupportedCurrency, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, display := range []string{"0", "0.01", "19.99", "123456.78", "-5.50"} {
		d, _ := decimal.NewFromString(display)
		units, err := ToStorage(d, "EUR")
		if err != nil {
			t.Fatalf("ToStorage(%s): %v", display, err)
		}
		back, err := ToDisplay(units, "EUR")
		if err != nil {
			t.Fatalf("ToDisplay(%d): %v", units, err)
		}
		if !back.Equal(d) {
			t.Errorf("round trip %s -> %d -> %s", display, units, back)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(150050, "USD"); got != "$1500.50" {
		t.Errorf("Format USD = %q", got)
	}
	if got := Format(1500, "JPY"); got != "¥1500" {
		t.Errorf("Format JPY = %q", got)
	}
	if got := Format(5, "GBP"); got != "£0.05" {
		t.Errorf("Format GBP = %q", got)
	}
}

func TestTolerance(t *testing.T) {
	if Tolerance("USD") != 1 {
		t.Error("expected tolerance 1 for USD")
	}
	if Tolerance("JPY") != 0 {
		t.Error("expected tolerance 0 for JPY")
	}
	if Tolerance("bogus") != 0 {
		t.Error("expected tolerance 0 for unknown code")
	}
}
