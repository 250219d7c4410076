package analytics

import "math"

func runRegimeDetector(payload []byte) (map[string]any, error) {
	var req ohlcvPayload
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	closes := req.pick(req.Closes, "close", "closes")
	highs := req.pick(req.Highs, "high", "highs")
	lows := req.pick(req.Lows, "low", "lows")
	period := req.periodOr(50)

	if len(closes) == 0 {
		return map[string]any{"error": "closes required"}, nil
	}
	if period <= 5 {
		return map[string]any{"error": "period must be > 5"}, nil
	}
	if len(closes) < period {
		return map[string]any{"error": "not enough values", "needed": period}, nil
	}

	window := closes[len(closes)-period:]
	meanPrice := mean(window)
	slope := linearSlope(window)
	slopeNorm := safeDiv(slope, meanPrice)

	volNorm := 0.0
	if len(highs) >= period && len(lows) >= period {
		atrPeriod := period - 1
		if atrPeriod > 14 {
			atrPeriod = 14
		}
		trs := trueRanges(highs[len(highs)-period:], lows[len(lows)-period:], window)
		if len(trs) > atrPeriod {
			trs = trs[len(trs)-atrPeriod:]
		}
		volNorm = safeDiv(mean(trs), meanPrice)
	}

	var regime, style string
	absSlope := math.Abs(slopeNorm)
	switch {
	case absSlope > 0.001 && volNorm < 0.01:
		regime = "trend_down"
		if slopeNorm > 0 {
			regime = "trend_up"
		}
		style = "trend"
	case absSlope < 0.0005 && volNorm < 0.008:
		regime, style = "range", "mean_reversion"
	case volNorm >= 0.012:
		regime, style = "volatile", "breakout"
	default:
		regime, style = "mixed", "neutral"
	}

	return map[string]any{
		"period":          period,
		"mean_price":      meanPrice,
		"slope":           slope,
		"slope_norm":      slopeNorm,
		"vol_norm":        volNorm,
		"regime":          regime,
		"suggested_style": style,
	}, nil
}
