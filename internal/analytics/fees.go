package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// roundMoney rounds to kopecks, half to even.
func roundMoney(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).RoundBank(2).Float64()
	return f
}

func pctRange(r []float64, def [2]float64) ([2]float64, error) {
	if r == nil {
		return def, nil
	}
	if len(r) < 2 {
		return [2]float64{}, fmt.Errorf("range needs [min, max], got %d values", len(r))
	}
	return [2]float64{r[0], r[1]}, nil
}

func runFeeEstimate(payload []byte) (map[string]any, error) {
	var req struct {
		TradeValue       *float64  `json:"trade_value"`
		BrokerPct        *float64  `json:"broker_pct"`
		ExchangePct      *float64  `json:"exchange_pct"`
		BrokerPctRange   []float64 `json:"broker_pct_range"`
		ExchangePctRange []float64 `json:"exchange_pct_range"`
		Roundtrip        *bool     `json:"roundtrip"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.TradeValue == nil {
		return map[string]any{"error": "trade_value required"}, nil
	}
	tradeValue := *req.TradeValue
	roundtrip := req.Roundtrip == nil || *req.Roundtrip

	// Exact tariff given: a single number comes out.
	if req.BrokerPct != nil && req.ExchangePct != nil {
		totalPct := *req.BrokerPct + *req.ExchangePct
		fee := roundMoney(tradeValue * totalPct / 100)
		result := map[string]any{
			"trade_value": tradeValue,
			"total_pct":   totalPct,
			"fee":         fee,
		}
		if roundtrip {
			result["roundtrip_fee"] = roundMoney(fee * 2)
		}
		return result, nil
	}

	// Otherwise estimate from the tariff ranges.
	brokerRange, err := pctRange(req.BrokerPctRange, [2]float64{0.01, 0.03})
	if err != nil {
		return nil, fmt.Errorf("broker_pct_range: %w", err)
	}
	exchangeRange, err := pctRange(req.ExchangePctRange, [2]float64{0.01, 0.0125})
	if err != nil {
		return nil, fmt.Errorf("exchange_pct_range: %w", err)
	}

	minPct := brokerRange[0] + exchangeRange[0]
	maxPct := brokerRange[1] + exchangeRange[1]
	feeMin := roundMoney(tradeValue * minPct / 100)
	feeMax := roundMoney(tradeValue * maxPct / 100)

	result := map[string]any{
		"trade_value": tradeValue,
		"min_pct":     minPct,
		"max_pct":     maxPct,
		"fee_min":     feeMin,
		"fee_max":     feeMax,
		"note":        "оценка по диапазону комиссий; реальные комиссии зависят от тарифа и оборота",
	}
	if roundtrip {
		result["roundtrip_fee_min"] = roundMoney(feeMin * 2)
		result["roundtrip_fee_max"] = roundMoney(feeMax * 2)
		result["roundtrip_pct_min"] = minPct * 2
		result["roundtrip_pct_max"] = maxPct * 2
	}
	return result, nil
}

func runFortsFeeEstimate(payload []byte) (map[string]any, error) {
	var req struct {
		Contracts        *float64  `json:"contracts"`
		BrokerFeeRub     *float64  `json:"broker_fee_rub"`
		ExchangeFeeRub   *float64  `json:"exchange_fee_rub"`
		BrokerFeeRange   []float64 `json:"broker_fee_rub_range"`
		ExchangeFeeRange []float64 `json:"exchange_fee_rub_range"`
		Roundtrip        *bool     `json:"roundtrip"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Contracts == nil {
		return map[string]any{"error": "contracts required"}, nil
	}
	contracts := *req.Contracts
	roundtrip := req.Roundtrip == nil || *req.Roundtrip

	if req.BrokerFeeRub != nil && req.ExchangeFeeRub != nil {
		perContract := *req.BrokerFeeRub + *req.ExchangeFeeRub
		total := perContract * contracts
		result := map[string]any{
			"contracts":    contracts,
			"per_contract": perContract,
			"total":        total,
		}
		if roundtrip {
			result["roundtrip_total"] = total * 2
		}
		return result, nil
	}

	brokerRange, err := pctRange(req.BrokerFeeRange, [2]float64{1, 10})
	if err != nil {
		return nil, fmt.Errorf("broker_fee_rub_range: %w", err)
	}
	exchangeRange, err := pctRange(req.ExchangeFeeRange, [2]float64{2, 5})
	if err != nil {
		return nil, fmt.Errorf("exchange_fee_rub_range: %w", err)
	}

	perMin := brokerRange[0] + exchangeRange[0]
	perMax := brokerRange[1] + exchangeRange[1]
	totalMin := perMin * contracts
	totalMax := perMax * contracts

	result := map[string]any{
		"contracts":        contracts,
		"per_contract_min": perMin,
		"per_contract_max": perMax,
		"total_min":        totalMin,
		"total_max":        totalMax,
		"note":             "оценка по диапазону комиссий на контракт",
	}
	if roundtrip {
		result["roundtrip_total_min"] = totalMin * 2
		result["roundtrip_total_max"] = totalMax * 2
	}
	return result, nil
}

func runFXStorageCost(payload []byte) (map[string]any, error) {
	var req struct {
		Amount    *float64 `json:"amount"`
		AnnualPct *float64 `json:"annual_pct"`
		Days      *int     `json:"days"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Amount == nil {
		return map[string]any{"error": "amount required"}, nil
	}
	annualPct := 12.0
	if req.AnnualPct != nil {
		annualPct = *req.AnnualPct
	}
	days := 1
	if req.Days != nil {
		days = *req.Days
	}

	dailyCost := *req.Amount * annualPct / 100 / 365

	return map[string]any{
		"amount":     *req.Amount,
		"annual_pct": annualPct,
		"days":       days,
		"daily_cost": dailyCost,
		"total_cost": dailyCost * float64(days),
	}, nil
}
