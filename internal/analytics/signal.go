package analytics

import "math"

// signalSeries is the aligned bar history for the signal scorer. All
// arrays are trimmed to the shortest provided length so indexes line up.
type signalSeries struct {
	closes  []float64
	opens   []float64
	highs   []float64
	lows    []float64
	volumes []float64
	count   int
}

func prepareSignalSeries(series map[string][]float64) *signalSeries {
	pick := func(keys ...string) []float64 {
		for _, key := range keys {
			if v := series[key]; len(v) > 0 {
				return v
			}
		}
		return nil
	}
	closes := pick("close", "closes", "values")
	opens := pick("open", "opens")
	highs := pick("high", "highs")
	lows := pick("low", "lows")
	volumes := pick("volume", "volumes")

	n := len(closes)
	for _, arr := range [][]float64{opens, highs, lows, volumes} {
		if len(arr) > 0 && len(arr) < n {
			n = len(arr)
		}
	}
	if n <= 0 {
		return nil
	}
	tail := func(arr []float64) []float64 {
		if len(arr) == 0 {
			return nil
		}
		return arr[len(arr)-n:]
	}
	return &signalSeries{
		closes:  tail(closes),
		opens:   tail(opens),
		highs:   tail(highs),
		lows:    tail(lows),
		volumes: tail(volumes),
		count:   n,
	}
}

// smoothedRSI is Wilder's RSI over the full history.
func smoothedRSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) <= period {
		return 0, false
	}
	var gains, losses float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses += -delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		avgGain = (avgGain*float64(period-1) + math.Max(delta, 0)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + math.Max(-delta, 0)) / float64(period)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

func windowATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 || len(highs) < period+1 {
		return 0, false
	}
	trs := trueRanges(highs, lows, closes)
	if len(trs) < period {
		return 0, false
	}
	return mean(trs[len(trs)-period:]), true
}

type signalOrderBook struct {
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	BidVolume *float64     `json:"bidVolume"`
	AskVolume *float64     `json:"askVolume"`
}

func runSignalScore(payload []byte) (map[string]any, error) {
	var req struct {
		Series    map[string][]float64 `json:"series"`
		OrderBook *signalOrderBook     `json:"orderbook"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	series := prepareSignalSeries(req.Series)
	if series == nil {
		return map[string]any{"error": "series is empty"}, nil
	}

	closes := series.closes
	highs := series.highs
	if len(highs) == 0 {
		highs = closes
	}
	lows := series.lows
	if len(lows) == 0 {
		lows = closes
	}
	volumes := series.volumes
	n := series.count

	if n < 10 {
		return map[string]any{"error": "not enough bars", "got": n, "needed": 10}, nil
	}

	last := closes[n-1]
	prev := closes[n-2]
	ret1 := safeDiv(last-prev, prev)
	ret5 := ret1
	if n >= 6 {
		ret5 = safeDiv(last-closes[n-6], closes[n-6])
	}

	slope := linearSlope(closes)
	slopePct := safeDiv(slope, mean(closes))
	priceStd := stddev(closes)
	trendStrength := safeDiv(math.Abs(slope), priceStd+1e-9)

	rsiPeriod := 14
	if n-1 < rsiPeriod {
		rsiPeriod = n - 1
	}
	rsiVal, ok := smoothedRSI(closes, rsiPeriod)
	if !ok {
		rsiVal = 50
	}
	rsiOver := clamp01((rsiVal - 70) / 30)
	rsiUnder := clamp01((30 - rsiVal) / 30)
	rsiExtreme := math.Max(rsiOver, rsiUnder)

	zVal := 0.0
	if priceStd > 0 {
		zVal = (last - mean(closes)) / priceStd
	}
	zExtreme := clamp01(math.Abs(zVal) / 2.5)

	bollMid, bollStd := mean(closes), priceStd
	if n >= 20 {
		bollMid = mean(closes[n-20:])
		bollStd = stddev(closes[n-20:])
	}
	bollDenom := 1.0
	if bollStd != 0 {
		bollDenom = bollStd * 2
	}
	bollPos := safeDiv(last-bollMid, bollDenom)

	atrPeriod := 14
	if n-1 < atrPeriod {
		atrPeriod = n - 1
	}
	atrVal, _ := windowATR(highs, lows, closes, atrPeriod)
	atrPct := safeDiv(atrVal, last)

	shortVol, longVol := priceStd, priceStd
	if n >= 20 {
		shortVol = stddev(closes[n-20:])
	}
	if n >= 60 {
		longVol = stddev(closes[n-60:])
	}
	volRatio := safeDiv(shortVol, longVol+1e-9)

	donchianPeriod := 20
	if n < 20 {
		donchianPeriod = n / 2
		if donchianPeriod < 5 {
			donchianPeriod = 5
		}
	}
	dHigh := highs[len(highs)-donchianPeriod]
	for _, v := range highs[len(highs)-donchianPeriod:] {
		if v > dHigh {
			dHigh = v
		}
	}
	dLow := lows[len(lows)-donchianPeriod]
	for _, v := range lows[len(lows)-donchianPeriod:] {
		if v < dLow {
			dLow = v
		}
	}
	breakoutUp := last >= dHigh
	breakoutDown := last <= dLow

	var volSpike any
	if len(volumes) > 0 {
		avgVol := mean(volumes)
		if n >= 20 {
			avgVol = mean(volumes[len(volumes)-20:])
		}
		volSpike = safeDiv(volumes[len(volumes)-1], avgVol+1e-9)
	}

	var imbalance, spread, bestBid, bestAsk any
	if ob := req.OrderBook; ob != nil {
		var bb, ba *float64
		if len(ob.Bids) > 0 {
			bb = ob.Bids[0].Price
		}
		if len(ob.Asks) > 0 {
			ba = ob.Asks[0].Price
		}
		bestBid, bestAsk = anyFloat(bb), anyFloat(ba)
		if bb != nil && ba != nil {
			spread = *ba - *bb
		}
		if ob.BidVolume != nil && ob.AskVolume != nil {
			if total := *ob.BidVolume + *ob.AskVolume; total != 0 {
				imbalance = (*ob.BidVolume - *ob.AskVolume) / total
			}
		}
	}

	trendScore := clamp01(trendStrength / 2)
	meanRevScore := clamp01((zExtreme + rsiExtreme + clamp01(math.Abs(bollPos))) / 3)

	breakoutScore := 0.0
	if breakoutUp || breakoutDown {
		breakoutScore += 0.7
	}
	if volRatio > 1.2 {
		breakoutScore += clamp((volRatio-1.2)/1.5, 0, 0.3)
	}
	breakoutScore = clamp01(breakoutScore)

	divergence := 0.0
	longRet := safeDiv(last-closes[n-10], closes[n-10])
	if (ret5 > 0 && longRet < 0) || (ret5 < 0 && longRet > 0) {
		divergence = 0.4
	}
	reversalScore := clamp01(rsiExtreme*(1-trendScore) + divergence)

	rangeScore := clamp01((1 - trendStrength) * (1 - breakoutScore*0.5))

	orderflowScore := 0.0
	if imb, ok := imbalance.(float64); ok {
		orderflowScore = clamp01(math.Abs(imb) / 0.5)
	}

	scores := map[string]float64{
		"trend":          trendScore,
		"mean_reversion": meanRevScore,
		"breakout":       breakoutScore,
		"reversal":       reversalScore,
		"range":          rangeScore,
		"orderflow":      orderflowScore,
	}
	var total float64
	for _, v := range scores {
		total += v
	}
	probs := make(map[string]float64, len(scores))
	for k, v := range scores {
		if total <= 0 {
			probs[k] = 1 / float64(len(scores))
		} else {
			probs[k] = v / total
		}
	}

	dirUp := math.Max(0, slopePct) + math.Max(0, ret5)
	dirDown := math.Max(0, -slopePct) + math.Max(0, -ret5)
	if imb, ok := imbalance.(float64); ok {
		dirUp += math.Max(0, imb)
		dirDown += math.Max(0, -imb)
	}
	dirSide := rangeScore + (1 - clamp01(math.Abs(slopePct)*5))

	direction := map[string]float64{"up": 0.33, "down": 0.33, "sideways": 0.34}
	if dirTotal := dirUp + dirDown + dirSide; dirTotal > 0 {
		direction = map[string]float64{
			"up":       dirUp / dirTotal,
			"down":     dirDown / dirTotal,
			"sideways": dirSide / dirTotal,
		}
	}

	features := map[string]any{
		"count":               n,
		"close":               last,
		"return_1":            ret1,
		"return_5":            ret5,
		"slope":               slope,
		"slope_pct":           slopePct,
		"trend_strength":      trendStrength,
		"rsi":                 rsiVal,
		"zscore":              zVal,
		"boll_pos":            bollPos,
		"atr":                 atrVal,
		"atr_pct":             atrPct,
		"vol_ratio":           volRatio,
		"donchian_high":       dHigh,
		"donchian_low":        dLow,
		"breakout_up":         breakoutUp,
		"breakout_down":       breakoutDown,
		"volume_spike":        volSpike,
		"orderbook_imbalance": imbalance,
		"spread":              spread,
		"best_bid":            bestBid,
		"best_ask":            bestAsk,
	}

	return map[string]any{
		"model":     "heuristic-v1",
		"probs":     probs,
		"direction": direction,
		"features":  features,
	}, nil
}
