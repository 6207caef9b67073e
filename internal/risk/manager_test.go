package risk

import (
	"math"
	"strings"
	"testing"
)

func TestTrailingStopProgression(t *testing.T) {
	ts := NewTrailingStop(10_000, 5.0)

	steps := []struct {
		price    float64
		wantHigh float64
		wantStop float64
	}{
		{11_000, 11_000, 10_450},
		{12_000, 12_000, 11_400},
		{11_500, 12_000, 11_400}, // pullback must not lower the stop
	}

	if ts.StopPrice != 9_500 {
		t.Fatalf("initial stop = %v, want 9500", ts.StopPrice)
	}
	for _, s := range steps {
		ts.UpdatePrice(s.price)
		if ts.HighestPrice != s.wantHigh {
			t.Errorf("after %v: high = %v, want %v", s.price, ts.HighestPrice, s.wantHigh)
		}
		if math.Abs(ts.StopPrice-s.wantStop) > 1e-6 {
			t.Errorf("after %v: stop = %v, want %v", s.price, ts.StopPrice, s.wantStop)
		}
	}

	if !ts.IsTriggered(11_400) {
		t.Error("price at the stop must trigger")
	}
	if ts.IsTriggered(11_401) {
		t.Error("price above the stop must not trigger")
	}
}

func TestTrailingStopMonotonic(t *testing.T) {
	ts := NewTrailingStop(1_000, 3.0)
	prices := []float64{990, 1_050, 1_020, 1_100, 900, 1_200, 1_150}

	prevHigh, prevStop := ts.HighestPrice, ts.StopPrice
	for _, p := range prices {
		ts.UpdatePrice(p)
		if ts.HighestPrice < prevHigh {
			t.Fatalf("high decreased: %v -> %v", prevHigh, ts.HighestPrice)
		}
		if ts.StopPrice < prevStop {
			t.Fatalf("stop decreased: %v -> %v", prevStop, ts.StopPrice)
		}
		if ts.HighestPrice < ts.EntryPrice {
			t.Fatalf("high %v fell below entry %v", ts.HighestPrice, ts.EntryPrice)
		}
		prevHigh, prevStop = ts.HighestPrice, ts.StopPrice
	}
}

func TestCheckPosition(t *testing.T) {
	m := NewManager(nil)

	tests := []struct {
		name    string
		entry   float64
		current float64
		want    Action
	}{
		{"zero entry is defensive hold", 0, 100, ActionHold},
		{"stop loss at -5%", 100, 95, ActionStopLoss},
		{"stop loss past -5%", 100, 90, ActionStopLoss},
		{"take profit at +10%", 100, 110, ActionTakeProfit},
		{"take profit past +10%", 100, 120, ActionTakeProfit},
		{"inside limits holds", 100, 102, ActionHold},
		{"small loss holds", 100, 97, ActionHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.CheckPosition(tt.entry, tt.current, nil)
			if got.Action != tt.want {
				t.Errorf("action = %s, want %s (reason %q)", got.Action, tt.want, got.Reason)
			}
		})
	}
}

func TestCheckPositionStopLossPriority(t *testing.T) {
	// Degenerate config where both thresholds fire at once: capital
	// preservation wins.
	m := NewManager(&Config{
		StopLossPct:    5.0, // nonsense on purpose: any gain >= 5% "stops out"
		TakeProfitPct:  5.0,
		DailyLossLimit: -10,
		MaxStocks:      10,
	})

	got := m.CheckPosition(100, 105, nil)
	if got.Action != ActionStopLoss {
		t.Errorf("action = %s, want STOP_LOSS when both thresholds fire", got.Action)
	}
}

func TestCheckPositionTrailingStop(t *testing.T) {
	m := NewManager(nil)

	ts := NewTrailingStop(10_000, 5.0)
	ts.UpdatePrice(12_000) // stop moves to 11,400

	got := m.CheckPosition(10_000, 11_000, ts)
	if got.Action != ActionTrailingStop {
		t.Fatalf("action = %s, want TRAILING_STOP", got.Action)
	}
	if got.TriggerPrice != 11_400 {
		t.Errorf("trigger price = %v, want 11400", got.TriggerPrice)
	}

	// Disabled trailing stops never trigger regardless of state.
	disabled := DefaultConfig()
	disabled.TrailingStopEnabled = false
	got = NewManager(disabled).CheckPosition(10_000, 11_000, ts)
	if got.Action != ActionHold {
		t.Errorf("action = %s, want HOLD with trailing disabled", got.Action)
	}
}

func TestCheckPositionOverrides(t *testing.T) {
	m := NewManager(nil)
	stop := 9_800.0
	target := 10_300.0
	ov := &Override{StopLossPrice: &stop, TargetPrice: &target}

	got := m.CheckPositionWithOverride(10_000, 9_790, nil, ov)
	if got.Action != ActionStopLoss {
		t.Errorf("action = %s, want STOP_LOSS from absolute override", got.Action)
	}
	got = m.CheckPositionWithOverride(10_000, 10_350, nil, ov)
	if got.Action != ActionTakeProfit {
		t.Errorf("action = %s, want TAKE_PROFIT from absolute override", got.Action)
	}
	got = m.CheckPositionWithOverride(10_000, 10_000, nil, ov)
	if got.Action != ActionHold {
		t.Errorf("action = %s, want HOLD between override levels", got.Action)
	}
}

func TestCanOpenPosition(t *testing.T) {
	m := NewManager(nil)

	tests := []struct {
		name       string
		investment float64
		positions  int
		dailyPnL   float64
		want       bool
		wantReason string
	}{
		{"allowed", 500_000, 3, -2.0, true, ""},
		{"daily loss halt", 100, 0, -10.0, false, "daily loss limit"},
		{"halt beats other checks", 99_999_999, 99, -15.0, false, "daily loss limit"},
		{"over per-stock limit", 1_000_001, 0, 0, false, "per-stock limit"},
		{"max stocks reached", 500_000, 10, 0, false, "max positions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := m.CanOpenPosition(tt.investment, tt.positions, tt.dailyPnL)
			if allowed != tt.want {
				t.Fatalf("allowed = %v, want %v (reason %q)", allowed, tt.want, reason)
			}
			if tt.wantReason != "" && !strings.Contains(reason, tt.wantReason) {
				t.Errorf("reason = %q, want substring %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCalculatePositionSize(t *testing.T) {
	m := NewManager(nil)

	tests := []struct {
		name    string
		capital float64
		price   float64
		want    int
	}{
		// 2% of 10M = 200k risk; / 0.05 stop ratio = 4M; capped at 1M; / 50k = 20
		{"capped by per-stock limit", 10_000_000, 50_000, 20},
		// 2% of 1M = 20k; / 0.05 = 400k; / 10k = 40
		{"risk bound", 1_000_000, 10_000, 40},
		{"zero price", 1_000_000, 0, 0},
		{"negative capital", -1, 10_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.CalculatePositionSize(tt.capital, tt.price)
			if got != tt.want {
				t.Errorf("size = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPositionSizeNeverExceedsPerStockLimit(t *testing.T) {
	m := NewManager(nil)
	prices := []float64{100, 999, 5_000, 37_500, 100_000, 1_234_567}
	capitals := []float64{10_000, 1_000_000, 50_000_000, 1_000_000_000}

	for _, capital := range capitals {
		for _, price := range prices {
			qty := m.CalculatePositionSize(capital, price)
			if float64(qty)*price > m.Config().MaxInvestmentPerStock {
				t.Errorf("capital %v price %v: %d shares cost %v, over limit",
					capital, price, qty, float64(qty)*price)
			}
		}
	}
}

func TestZeroStopLossSubstitutesDefaultRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPct = 0
	m := NewManager(cfg)

	// 2% of 1M = 20k; substituted 0.05 ratio -> 400k; / 10k = 40
	if got := m.CalculatePositionSize(1_000_000, 10_000); got != 40 {
		t.Errorf("size = %d, want 40", got)
	}
}
