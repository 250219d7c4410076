package analytics

import (
	"encoding/json"
	"fmt"
	"math"
)

// ohlcvPayload covers the inputs shared by the series indicators. Bars
// arrive either as flat arrays or nested under "series" with singular or
// plural keys; pick resolves that.
type ohlcvPayload struct {
	Series  map[string][]float64 `json:"series"`
	Values  []float64            `json:"values"`
	Highs   []float64            `json:"highs"`
	Lows    []float64            `json:"lows"`
	Closes  []float64            `json:"closes"`
	Prices  []float64            `json:"prices"`
	Volumes []float64            `json:"volumes"`
	Period  *int                 `json:"period"`
}

// periodOr resolves the optional period: absent means the default, an
// explicit value is taken as-is (so zero still fails validation).
func (p *ohlcvPayload) periodOr(def int) int {
	if p.Period == nil {
		return def
	}
	return *p.Period
}

func (p *ohlcvPayload) pick(direct []float64, keys ...string) []float64 {
	if len(direct) > 0 {
		return direct
	}
	for _, key := range keys {
		if v := p.Series[key]; len(v) > 0 {
			return v
		}
	}
	return nil
}

func decode(payload []byte, dst any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var acc float64
	for _, v := range values {
		d := v - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(values)))
}

// linearSlope fits values against their indexes by least squares.
func linearSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := mean(values)
	var num, den float64
	for i, v := range values {
		dx := float64(i) - xMean
		num += dx * (v - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// emaOver returns the final exponential moving average, seeded with the
// simple average of the first period values.
func emaOver(values []float64, period int) float64 {
	k := 2 / float64(period+1)
	current := mean(values[:period])
	for _, v := range values[period:] {
		current = v*k + current*(1-k)
	}
	return current
}

// trueRanges computes the TR sequence over aligned OHLC arrays.
func trueRanges(highs, lows, closes []float64) []float64 {
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	if len(closes) < n {
		n = len(closes)
	}
	var trs []float64
	for i := 1; i < n; i++ {
		tr := highs[i] - lows[i]
		if d := math.Abs(highs[i] - closes[i-1]); d > tr {
			tr = d
		}
		if d := math.Abs(lows[i] - closes[i-1]); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}
	return trs
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func runSMA(payload []byte) (map[string]any, error) {
	var req struct {
		Values []float64 `json:"values"`
		Period int       `json:"period"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(req.Values) < req.Period {
		return map[string]any{"error": "not enough values", "needed": req.Period, "got": len(req.Values)}, nil
	}

	series := make([]float64, 0, len(req.Values)-req.Period+1)
	windowSum := 0.0
	for _, v := range req.Values[:req.Period] {
		windowSum += v
	}
	series = append(series, windowSum/float64(req.Period))
	for i := req.Period; i < len(req.Values); i++ {
		windowSum += req.Values[i] - req.Values[i-req.Period]
		series = append(series, windowSum/float64(req.Period))
	}

	return map[string]any{
		"period": req.Period,
		"count":  len(req.Values),
		"sma":    series[len(series)-1],
		"series": series,
	}, nil
}

func runEMA(payload []byte) (map[string]any, error) {
	var req struct {
		Values []float64 `json:"values"`
		Period int       `json:"period"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(req.Values) < req.Period {
		return map[string]any{"error": "not enough values", "needed": req.Period, "got": len(req.Values)}, nil
	}

	k := 2 / float64(req.Period+1)
	ema := mean(req.Values[:req.Period])
	series := []float64{ema}
	for _, v := range req.Values[req.Period:] {
		ema = v*k + ema*(1-k)
		series = append(series, ema)
	}

	return map[string]any{
		"period": req.Period,
		"count":  len(req.Values),
		"ema":    series[len(series)-1],
		"series": series,
	}, nil
}

func runEMACrossover(payload []byte) (map[string]any, error) {
	var req struct {
		Values []float64 `json:"values"`
		Fast   *int      `json:"fast"`
		Slow   *int      `json:"slow"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	fast, slow := 12, 26
	if req.Fast != nil {
		fast = *req.Fast
	}
	if req.Slow != nil {
		slow = *req.Slow
	}
	if fast <= 0 || slow <= 0 {
		return map[string]any{"error": "fast/slow must be > 0"}, nil
	}
	longest := fast
	if slow > longest {
		longest = slow
	}
	if len(req.Values) < longest+1 {
		return map[string]any{"error": "not enough values", "needed": longest + 1}, nil
	}

	fastEMA := emaOver(req.Values, fast)
	slowEMA := emaOver(req.Values, slow)
	fastPrev := emaOver(req.Values[:len(req.Values)-1], fast)
	slowPrev := emaOver(req.Values[:len(req.Values)-1], slow)

	crossUp := fastPrev <= slowPrev && fastEMA > slowEMA
	crossDown := fastPrev >= slowPrev && fastEMA < slowEMA

	signal := "neutral"
	switch {
	case crossUp:
		signal = "bullish_cross"
	case crossDown:
		signal = "bearish_cross"
	case fastEMA > slowEMA:
		signal = "bullish"
	case fastEMA < slowEMA:
		signal = "bearish"
	}

	return map[string]any{
		"fast":       fast,
		"slow":       slow,
		"fast_ema":   fastEMA,
		"slow_ema":   slowEMA,
		"signal":     signal,
		"cross_up":   crossUp,
		"cross_down": crossDown,
	}, nil
}

func runRSI(payload []byte) (map[string]any, error) {
	var req struct {
		Values []float64 `json:"values"`
		Period int       `json:"period"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(req.Values) <= req.Period {
		return map[string]any{"error": "not enough values", "needed": req.Period + 1, "got": len(req.Values)}, nil
	}

	period := req.Period
	deltas := make([]float64, 0, len(req.Values)-1)
	for i := 1; i < len(req.Values); i++ {
		deltas = append(deltas, req.Values[i]-req.Values[i-1])
	}
	gains := make([]float64, len(deltas))
	losses := make([]float64, len(deltas))
	for i, d := range deltas {
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])

	var series []float64
	for i := period; i < len(deltas); i++ {
		if i > period {
			avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		}
		rsi := 100.0
		if avgLoss != 0 {
			rs := avgGain / avgLoss
			rsi = 100 - (100 / (1 + rs))
		}
		series = append(series, rsi)
	}

	var last any
	if len(series) > 0 {
		last = series[len(series)-1]
	}
	return map[string]any{
		"period": period,
		"count":  len(req.Values),
		"rsi":    last,
		"series": series,
	}, nil
}

func runATR(payload []byte) (map[string]any, error) {
	var req ohlcvPayload
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	highs := req.pick(req.Highs, "high", "highs")
	lows := req.pick(req.Lows, "low", "lows")
	closes := req.pick(req.Closes, "close", "closes")
	period := req.periodOr(14)

	if len(highs) == 0 || len(lows) == 0 || len(closes) == 0 {
		return map[string]any{"error": "highs, lows, closes required"}, nil
	}
	if period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return map[string]any{"error": "not enough values", "needed": period + 1}, nil
	}

	trs := trueRanges(highs, lows, closes)
	window := trs[len(trs)-period:]

	return map[string]any{
		"period":  period,
		"atr":     mean(window),
		"last_tr": window[len(window)-1],
	}, nil
}

func runBollingerBands(payload []byte) (map[string]any, error) {
	var req struct {
		Values  []float64 `json:"values"`
		Period  *int      `json:"period"`
		StdMult *float64  `json:"std_mult"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	period := 20
	if req.Period != nil {
		period = *req.Period
	}
	stdMult := 2.0
	if req.StdMult != nil {
		stdMult = *req.StdMult
	}
	if period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(req.Values) < period {
		return map[string]any{"error": "not enough values", "needed": period}, nil
	}

	window := req.Values[len(req.Values)-period:]
	mid := mean(window)
	std := stddev(window)

	upper := mid + stdMult*std
	lower := mid - stdMult*std
	last := req.Values[len(req.Values)-1]

	zscore := 0.0
	if std != 0 {
		zscore = (last - mid) / std
	}
	bandwidth := 0.0
	if mid != 0 {
		bandwidth = (upper - lower) / mid
	}

	return map[string]any{
		"period":    period,
		"std_mult":  stdMult,
		"mid":       mid,
		"upper":     upper,
		"lower":     lower,
		"last":      last,
		"zscore":    zscore,
		"bandwidth": bandwidth,
	}, nil
}

func runDonchian(payload []byte) (map[string]any, error) {
	var req ohlcvPayload
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	highs := req.pick(req.Highs, "high", "highs")
	lows := req.pick(req.Lows, "low", "lows")
	closes := req.pick(req.Closes, "close", "closes")
	period := req.periodOr(20)

	if len(highs) == 0 || len(lows) == 0 {
		return map[string]any{"error": "highs and lows required"}, nil
	}
	if period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(highs) < period || len(lows) < period {
		return map[string]any{"error": "not enough values", "needed": period}, nil
	}

	upper := highs[len(highs)-period]
	for _, v := range highs[len(highs)-period:] {
		if v > upper {
			upper = v
		}
	}
	lower := lows[len(lows)-period]
	for _, v := range lows[len(lows)-period:] {
		if v < lower {
			lower = v
		}
	}

	var lastClose any
	var breakout any
	if len(closes) > 0 {
		last := closes[len(closes)-1]
		lastClose = last
		switch {
		case last > upper:
			breakout = "up"
		case last < lower:
			breakout = "down"
		default:
			breakout = "none"
		}
	}

	return map[string]any{
		"period":     period,
		"upper":      upper,
		"lower":      lower,
		"mid":        (upper + lower) / 2,
		"last_close": lastClose,
		"breakout":   breakout,
	}, nil
}

func runVWAP(payload []byte) (map[string]any, error) {
	var req ohlcvPayload
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	prices := req.pick(req.Prices, "close", "prices")
	volumes := req.pick(req.Volumes, "volume", "volumes")

	if len(prices) == 0 || len(volumes) == 0 {
		return map[string]any{"error": "prices and volumes required"}, nil
	}
	if len(prices) != len(volumes) {
		return map[string]any{"error": "prices and volumes length mismatch"}, nil
	}

	var totalVol, weighted float64
	for i := range prices {
		totalVol += volumes[i]
		weighted += prices[i] * volumes[i]
	}
	if totalVol == 0 {
		return map[string]any{"error": "total volume is zero"}, nil
	}

	return map[string]any{
		"vwap":         weighted / totalVol,
		"total_volume": totalVol,
	}, nil
}

func runZScore(payload []byte) (map[string]any, error) {
	var req struct {
		Values []float64 `json:"values"`
		Period *int      `json:"period"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	period := 20
	if req.Period != nil {
		period = *req.Period
	}
	if period <= 0 {
		return map[string]any{"error": "period must be > 0"}, nil
	}
	if len(req.Values) < period {
		return map[string]any{"error": "not enough values", "needed": period}, nil
	}

	window := req.Values[len(req.Values)-period:]
	m := mean(window)
	std := stddev(window)
	last := req.Values[len(req.Values)-1]
	z := 0.0
	if std != 0 {
		z = (last - m) / std
	}

	return map[string]any{
		"period": period,
		"mean":   m,
		"std":    std,
		"last":   last,
		"zscore": z,
	}, nil
}
