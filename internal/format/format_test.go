package format

import (
	"testing"

	"github.com/shopspring/decimal"

	"marketwatch/internal/storage"
)

func TestPercentChange(t *testing.T) {
	got, ok := PercentChange(decimal.NewFromInt(200), decimal.NewFromInt(250))
	if !ok || !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25%%, got %s ok=%v", got, ok)
	}
	if _, ok := PercentChange(decimal.Zero, decimal.NewFromInt(1)); ok {
		t.Fatal("zero base must not produce a change")
	}
}

func TestCompact(t *testing.T) {
	cases := map[string]string{
		"999":           "999.00",
		"1500":          "1.50K",
		"2500000":       "2.50M",
		"-3200000000":   "-3.20B",
		"4100000000000": "4.10T",
	}
	for in, want := range cases {
		if got := Compact(decimal.RequireFromString(in)); got != want {
			t.Fatalf("Compact(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestSuggestTarget(t *testing.T) {
	price := decimal.NewFromInt(100)
	if got := SuggestTarget(price, storage.ConditionAbove); !got.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("above suggestion should be +5%%, got %s", got)
	}
	if got := SuggestTarget(price, storage.ConditionBelow); !got.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("below suggestion should be -5%%, got %s", got)
	}
}

func TestSignedPercent(t *testing.T) {
	if got := SignedPercent(decimal.RequireFromString("1.234")); got != "+1.23%" {
		t.Fatalf("unexpected %s", got)
	}
	if got := SignedPercent(decimal.RequireFromString("-0.5")); got != "-0.50%" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestDownsample(t *testing.T) {
	idx := Downsample(10, 4)
	if len(idx) != 4 || idx[0] != 0 || idx[3] != 9 {
		t.Fatalf("unexpected indices %v", idx)
	}
	if got := Downsample(3, 10); len(got) != 3 {
		t.Fatalf("short input should be kept whole, got %v", got)
	}
	if got := Downsample(5, 1); len(got) != 1 || got[0] != 4 {
		t.Fatalf("single point should be the latest, got %v", got)
	}
	if Downsample(0, 5) != nil {
		t.Fatal("empty input yields nil")
	}
}
