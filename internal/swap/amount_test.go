package swap

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePositiveDecimal(t *testing.T) {
	for _, input := range []string{"abc", "-1", "0", "", "  ", "1.2.3"} {
		if _, err := ParsePositiveDecimal(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
	for _, input := range []string{"10", "0.5", "100.25", " 3 "} {
		if _, err := ParsePositiveDecimal(input); err != nil {
			t.Fatalf("expected %q to be accepted: %v", input, err)
		}
	}
}

func TestParseSlippagePercent(t *testing.T) {
	for _, input := range []string{"0", "-5", "150", "abc"} {
		if _, err := ParseSlippagePercent(input); err == nil {
			t.Fatalf("expected slippage %q to be rejected", input)
		}
	}

	fraction, err := ParseSlippagePercent("5")
	if err != nil {
		t.Fatalf("parse slippage: %v", err)
	}
	if fraction != 0.05 {
		t.Fatalf("expected 0.05, got %v", fraction)
	}

	fraction, err = ParseSlippagePercent("100")
	if err != nil {
		t.Fatalf("100 is inside the valid range: %v", err)
	}
	if fraction != 1 {
		t.Fatalf("expected 1, got %v", fraction)
	}
}

func TestToBaseUnits(t *testing.T) {
	units, err := ToBaseUnits(decimal.RequireFromString("1.5"), 18)
	if err != nil {
		t.Fatalf("to base units: %v", err)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if units.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, units)
	}

	// 超出代币精度的输入拒绝而不是静默截断。
	if _, err := ToBaseUnits(decimal.RequireFromString("0.1234567"), 6); err == nil {
		t.Fatalf("expected precision overflow to be rejected")
	}

	units, err = ToBaseUnits(decimal.RequireFromString("0.123456"), 6)
	if err != nil {
		t.Fatalf("exact precision must pass: %v", err)
	}
	if units.Int64() != 123456 {
		t.Fatalf("expected 123456, got %s", units)
	}
}

func TestFromBaseUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FromBaseUnits(v, 18); got != "1.5" {
		t.Fatalf("expected 1.5, got %s", got)
	}
	if got := FromBaseUnits(nil, 18); got != "0" {
		t.Fatalf("expected 0 for nil, got %s", got)
	}
}

func TestApplySlippage(t *testing.T) {
	expected := big.NewInt(10000)
	if got := ApplySlippage(expected, 0.05); got.Int64() != 9500 {
		t.Fatalf("expected 9500, got %s", got)
	}
	if got := ApplySlippage(expected, 1); got.Sign() != 0 {
		t.Fatalf("full slippage means zero minimum, got %s", got)
	}
	if got := ApplySlippage(nil, 0.05); got.Sign() != 0 {
		t.Fatalf("nil expected must yield zero, got %s", got)
	}
	// 1.5% 在 float64 下是 0.014999…，必须按 150 个基点生效而不是 149。
	if got := ApplySlippage(expected, 0.015); got.Int64() != 9850 {
		t.Fatalf("expected 9850 for 1.5%% slippage, got %s", got)
	}
	if got := ApplySlippage(expected, 0.003); got.Int64() != 9970 {
		t.Fatalf("expected 9970 for 0.3%% slippage, got %s", got)
	}
}
