package risk

// TrailingStop ratchets a stop price upward behind the highest price
// observed since entry. The stop never moves down.
type TrailingStop struct {
	EntryPrice   float64
	TrailingPct  float64
	HighestPrice float64
	StopPrice    float64
}

// NewTrailingStop creates a trailing stop anchored at the entry price.
func NewTrailingStop(entryPrice, trailingPct float64) *TrailingStop {
	return &TrailingStop{
		EntryPrice:   entryPrice,
		TrailingPct:  trailingPct,
		HighestPrice: entryPrice,
		StopPrice:    entryPrice * (1 - trailingPct/100),
	}
}

// UpdatePrice advances the high-water mark. A price below the current high
// leaves both the high and the stop untouched.
func (ts *TrailingStop) UpdatePrice(price float64) {
	if price > ts.HighestPrice {
		ts.HighestPrice = price
		ts.StopPrice = price * (1 - ts.TrailingPct/100)
	}
}

// IsTriggered reports whether the given price has fallen to or below the stop.
func (ts *TrailingStop) IsTriggered(price float64) bool {
	return price <= ts.StopPrice
}
