package analytics

import "testing"

func TestFeeEstimateExactTariff(t *testing.T) {
	t.Parallel()
	got := runOp(t, "fee_estimate", `{"trade_value": 100000, "broker_pct": 0.05, "exchange_pct": 0.01}`)
	wantFloat(t, got, "trade_value", 100000)
	wantFloat(t, got, "total_pct", 0.06)
	wantFloat(t, got, "fee", 60)
	wantFloat(t, got, "roundtrip_fee", 120)
}

func TestFeeEstimateRange(t *testing.T) {
	t.Parallel()
	got := runOp(t, "fee_estimate", `{"trade_value": 100000}`)
	wantFloat(t, got, "min_pct", 0.02)
	wantFloat(t, got, "max_pct", 0.0425)
	wantFloat(t, got, "fee_min", 20)
	wantFloat(t, got, "fee_max", 42.5)
	wantFloat(t, got, "roundtrip_fee_min", 40)
	wantFloat(t, got, "roundtrip_fee_max", 85)
	wantFloat(t, got, "roundtrip_pct_min", 0.04)
	wantFloat(t, got, "roundtrip_pct_max", 0.085)
	if _, ok := got["note"].(string); !ok {
		t.Fatalf("note = %v, want range estimate note", got["note"])
	}
}

func TestFeeEstimateCustomRanges(t *testing.T) {
	t.Parallel()
	got := runOp(t, "fee_estimate", `{
		"trade_value": 10000,
		"broker_pct_range": [0.1, 0.2],
		"exchange_pct_range": [0, 0.1],
		"roundtrip": false
	}`)
	wantFloat(t, got, "min_pct", 0.1)
	wantFloat(t, got, "max_pct", 0.3)
	wantFloat(t, got, "fee_min", 10)
	wantFloat(t, got, "fee_max", 30)
	for _, key := range []string{"roundtrip_fee_min", "roundtrip_fee_max", "roundtrip_pct_min", "roundtrip_pct_max"} {
		if _, ok := got[key]; ok {
			t.Fatalf("%s present with roundtrip disabled", key)
		}
	}
}

func TestFeeEstimateRoundsToKopecks(t *testing.T) {
	t.Parallel()
	// 1234.56 * 0.0425% = 0.5246880; kopeck rounding keeps two digits.
	got := runOp(t, "fee_estimate", `{"trade_value": 1234.56}`)
	wantFloat(t, got, "fee_max", 0.52)
}

func TestFeeEstimateValidation(t *testing.T) {
	t.Parallel()
	wantDomainError(t, runOp(t, "fee_estimate", `{}`), "trade_value required")

	if _, err := Run("fee_estimate", []byte(`{"trade_value": 1, "broker_pct_range": [0.5]}`)); err == nil {
		t.Fatal("expected error for a one-element range")
	}
}

func TestFortsFeeEstimateExactTariff(t *testing.T) {
	t.Parallel()
	got := runOp(t, "forts_fee_estimate", `{"contracts": 10, "broker_fee_rub": 2, "exchange_fee_rub": 3}`)
	wantFloat(t, got, "contracts", 10)
	wantFloat(t, got, "per_contract", 5)
	wantFloat(t, got, "total", 50)
	wantFloat(t, got, "roundtrip_total", 100)
}

func TestFortsFeeEstimateRange(t *testing.T) {
	t.Parallel()
	got := runOp(t, "forts_fee_estimate", `{"contracts": 10}`)
	wantFloat(t, got, "per_contract_min", 3)
	wantFloat(t, got, "per_contract_max", 15)
	wantFloat(t, got, "total_min", 30)
	wantFloat(t, got, "total_max", 150)
	wantFloat(t, got, "roundtrip_total_min", 60)
	wantFloat(t, got, "roundtrip_total_max", 300)
	if _, ok := got["note"].(string); !ok {
		t.Fatalf("note = %v, want range estimate note", got["note"])
	}
}

func TestFortsFeeEstimateRoundtripOff(t *testing.T) {
	t.Parallel()
	got := runOp(t, "forts_fee_estimate", `{"contracts": 1, "broker_fee_rub": 1, "exchange_fee_rub": 1, "roundtrip": false}`)
	if _, ok := got["roundtrip_total"]; ok {
		t.Fatal("roundtrip_total present with roundtrip disabled")
	}
}

func TestFortsFeeEstimateValidation(t *testing.T) {
	t.Parallel()
	wantDomainError(t, runOp(t, "forts_fee_estimate", `{}`), "contracts required")
}

func TestFXStorageCost(t *testing.T) {
	t.Parallel()
	got := runOp(t, "fx_storage_cost", `{"amount": 365000}`)
	wantFloat(t, got, "amount", 365000)
	wantFloat(t, got, "annual_pct", 12)
	if got["days"] != 1 {
		t.Fatalf("days = %v, want default 1", got["days"])
	}
	wantFloat(t, got, "daily_cost", 120)
	wantFloat(t, got, "total_cost", 120)
}

func TestFXStorageCostMultiDay(t *testing.T) {
	t.Parallel()
	got := runOp(t, "fx_storage_cost", `{"amount": 365000, "annual_pct": 6, "days": 10}`)
	wantFloat(t, got, "daily_cost", 60)
	wantFloat(t, got, "total_cost", 600)
	if got["days"] != 10 {
		t.Fatalf("days = %v, want 10", got["days"])
	}
}

func TestFXStorageCostValidation(t *testing.T) {
	t.Parallel()
	wantDomainError(t, runOp(t, "fx_storage_cost", `{}`), "amount required")
}
