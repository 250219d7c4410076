package analytics

// priceLevel is one side entry of an L2 book. Price stays a pointer:
// upstream frames omit it on empty levels.
type priceLevel struct {
	Price    *float64 `json:"price"`
	Quantity float64  `json:"quantity"`
}

func runOrderBookImbalance(payload []byte) (map[string]any, error) {
	var req struct {
		Bids  []priceLevel `json:"bids"`
		Asks  []priceLevel `json:"asks"`
		Depth *int         `json:"depth"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	depth := 5
	if req.Depth != nil {
		depth = *req.Depth
	}

	bids := req.Bids
	asks := req.Asks
	if depth >= 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}

	var bidVol, askVol float64
	for _, level := range bids {
		bidVol += level.Quantity
	}
	for _, level := range asks {
		askVol += level.Quantity
	}

	var imbalance any
	if total := bidVol + askVol; total > 0 {
		imbalance = (bidVol - askVol) / total
	}

	var bestBid, bestAsk *float64
	if len(bids) > 0 {
		bestBid = bids[0].Price
	}
	if len(asks) > 0 {
		bestAsk = asks[0].Price
	}

	var spread, spreadPct any
	if bestBid != nil && bestAsk != nil {
		s := *bestAsk - *bestBid
		spread = s
		if *bestAsk != 0 {
			spreadPct = s / *bestAsk * 100
		}
	}

	return map[string]any{
		"depth":      depth,
		"bid_volume": bidVol,
		"ask_volume": askVol,
		"imbalance":  imbalance,
		"best_bid":   anyFloat(bestBid),
		"best_ask":   anyFloat(bestAsk),
		"spread":     spread,
		"spread_pct": spreadPct,
	}, nil
}

// anyFloat unwraps an optional float for a JSON-shaped map, keeping
// explicit null for the absent case.
func anyFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func runSlippageRisk(payload []byte) (map[string]any, error) {
	var req struct {
		OrderSize float64  `json:"order_size"`
		Bid       *float64 `json:"bid"`
		Ask       *float64 `json:"ask"`
		TopBidQty float64  `json:"top_bid_qty"`
		TopAskQty float64  `json:"top_ask_qty"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Bid == nil || req.Ask == nil {
		return map[string]any{"error": "bid and ask required"}, nil
	}
	if req.OrderSize <= 0 {
		return map[string]any{"error": "order_size must be > 0"}, nil
	}

	spread := *req.Ask - *req.Bid
	var spreadPct any
	if *req.Ask != 0 {
		spreadPct = spread / *req.Ask * 100
	}

	minTop := req.TopBidQty
	if req.TopAskQty < minTop {
		minTop = req.TopAskQty
	}
	depthRisk := "high"
	switch {
	case req.OrderSize <= minTop:
		depthRisk = "low"
	case req.OrderSize <= req.TopBidQty+req.TopAskQty:
		depthRisk = "medium"
	}

	spreadRisk := "unknown"
	if pct, ok := spreadPct.(float64); ok {
		switch {
		case pct < 0.05:
			spreadRisk = "low"
		case pct < 0.2:
			spreadRisk = "medium"
		default:
			spreadRisk = "high"
		}
	}

	overall := "medium"
	if depthRisk == "high" || spreadRisk == "high" {
		overall = "high"
	} else if depthRisk == "low" && spreadRisk == "low" {
		overall = "low"
	}

	return map[string]any{
		"order_size":  req.OrderSize,
		"spread":      spread,
		"spread_pct":  spreadPct,
		"depth_risk":  depthRisk,
		"spread_risk": spreadRisk,
		"risk":        overall,
	}, nil
}
