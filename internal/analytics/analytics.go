// Package analytics implements the research operations shipped with the
// worker: technical indicators, order book measures, fee estimators, and
// the exchange session calendar. Every operation takes a JSON payload
// and returns a JSON-shaped map.
//
// Two failure channels exist on purpose: malformed payloads and unknown
// operations return a Go error, while domain validation problems (bad
// period, short series) are reported in-band as {"error": ...} maps,
// matching what downstream consumers already parse.
package analytics

import (
	"fmt"
	"sort"
)

type opFunc func(payload []byte) (map[string]any, error)

var ops = map[string]opFunc{
	"sma":                 runSMA,
	"ema":                 runEMA,
	"ema_crossover":       runEMACrossover,
	"rsi":                 runRSI,
	"atr":                 runATR,
	"bollinger_bands":     runBollingerBands,
	"donchian":            runDonchian,
	"vwap":                runVWAP,
	"zscore":              runZScore,
	"orderbook_imbalance": runOrderBookImbalance,
	"regime_detector":     runRegimeDetector,
	"signal_score":        runSignalScore,
	"fee_estimate":        runFeeEstimate,
	"forts_fee_estimate":  runFortsFeeEstimate,
	"fx_storage_cost":     runFXStorageCost,
	"session_status":      runSessionStatus,
	"slippage_risk":       runSlippageRisk,
}

// Run dispatches one operation by its wire name.
func Run(name string, payload []byte) (map[string]any, error) {
	op, ok := ops[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	return op(payload)
}

// Known reports whether name is a registered operation.
func Known(name string) bool {
	_, ok := ops[name]
	return ok
}

// Names returns the registered operation names, sorted.
func Names() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
